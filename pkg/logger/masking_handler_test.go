package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskingHandler_MasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewJSONHandler(&buf, nil)))

	log.With("api_key", "abc").Info("token saved",
		"token", "eyJzYWxlX2lkIjoxfQ.c2ln",
		"sale_id", "SALE_1",
		slog.Group("request", slog.String("Authorization", "Bearer x"), slog.String("path", "/edge/authorize")),
	)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, Masked, record["token"])
	assert.Equal(t, Masked, record["api_key"])
	assert.Equal(t, "SALE_1", record["sale_id"])

	request, ok := record["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Masked, request["Authorization"])
	assert.Equal(t, "/edge/authorize", request["path"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
