// Package token issues and checks the single-use dispense tokens presented to the tap gateway.
//
// A token is base64url(payload JSON) "." base64url(HMAC-SHA256(payload JSON, secret)),
// both segments unpadded.
package token

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

const (
	// DefaultValidity is the lifetime of a token unless configured otherwise.
	DefaultValidity = 90 * time.Second
	// DefaultTapID is used when the kiosk drives a single tap.
	DefaultTapID = 1

	nonceSize = 16
)

var (
	// ErrMalformed indicates a token that is not two base64url segments around a JSON payload.
	ErrMalformed = errors.New("malformed token")
	// ErrSignatureInvalid indicates a signature that does not match the payload and secret.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

var encoding = base64.RawURLEncoding

// Payload is the signed content of a token. Field order is the wire order.
type Payload struct {
	SaleID     string `json:"sale_id"`
	BeverageID string `json:"beverage_id"`
	VolumeML   int    `json:"volume_ml"`
	TapID      int    `json:"tap_id"`
	Timestamp  int64  `json:"timestamp"`
	Nonce      string `json:"nonce"`
}

// Token is a freshly issued dispense credential.
type Token struct {
	Value     string
	Payload   Payload
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Option customizes a Generator.
type Option func(*Generator)

// WithValidity sets the token lifetime.
func WithValidity(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.validity = d
		}
	}
}

// WithTapID sets the tap identifier embedded in every payload.
func WithTapID(id int) Option {
	return func(g *Generator) {
		if id > 0 {
			g.tapID = id
		}
	}
}

// WithClock sets the time source for timestamps and expiry.
func WithClock(clock state.Clock) Option {
	return func(g *Generator) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithRandom sets the nonce source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.random = r
		}
	}
}

// Generator signs dispense tokens with a shared secret.
type Generator struct {
	secret   []byte
	validity time.Duration
	tapID    int
	clock    state.Clock
	random   io.Reader
	method   *jwt.SigningMethodHMAC
}

// NewGenerator creates a Generator for secret.
func NewGenerator(secret string, opts ...Option) (*Generator, error) {
	if secret == "" {
		return nil, apperrors.NewValidationError("token signing secret is empty")
	}

	g := &Generator{
		secret:   []byte(secret),
		validity: DefaultValidity,
		tapID:    DefaultTapID,
		clock:    state.SystemClock,
		random:   rand.Reader,
		method:   jwt.SigningMethodHS256,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Generate issues a token for a registered sale. A missing signing primitive or
// random source fails with a CryptoUnavailable error.
func (g *Generator) Generate(saleID, beverageID string, volumeML int) (*Token, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(g.random, nonce); err != nil {
		return nil, apperrors.NewCryptoUnavailableError(fmt.Errorf("read nonce: %w", err))
	}

	now := g.clock.Now().UTC()
	payload := Payload{
		SaleID:     saleID,
		BeverageID: beverageID,
		VolumeML:   volumeML,
		TapID:      g.tapID,
		Timestamp:  now.Unix(),
		Nonce:      hex.EncodeToString(nonce),
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	signature, err := g.method.Sign(string(raw), g.secret)
	if err != nil {
		return nil, apperrors.NewCryptoUnavailableError(err)
	}

	return &Token{
		Value:     encoding.EncodeToString(raw) + "." + encoding.EncodeToString(signature),
		Payload:   payload,
		ExpiresAt: now.Add(g.validity),
	}, nil
}

// Verify checks the token signature against the generator's secret and returns its payload.
func (g *Generator) Verify(value string) (Payload, error) {
	raw, signature, err := split(value)
	if err != nil {
		return Payload{}, err
	}

	if err := g.method.Verify(string(raw), signature, g.secret); err != nil {
		if errors.Is(err, jwt.ErrHashUnavailable) {
			return Payload{}, apperrors.NewCryptoUnavailableError(err)
		}
		return Payload{}, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	return decodePayload(raw)
}

// Parse decodes the payload without checking the signature.
func Parse(value string) (Payload, error) {
	raw, _, err := split(value)
	if err != nil {
		return Payload{}, err
	}

	return decodePayload(raw)
}

func split(value string) (payload, signature []byte, err error) {
	head, tail, ok := strings.Cut(value, ".")
	if !ok || head == "" || tail == "" || strings.Contains(tail, ".") {
		return nil, nil, ErrMalformed
	}

	payload, err = encoding.DecodeString(head)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: payload: %w", ErrMalformed, err)
	}

	signature, err = encoding.DecodeString(tail)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: signature: %w", ErrMalformed, err)
	}

	return payload, signature, nil
}

func encodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode token payload: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return p, nil
}
