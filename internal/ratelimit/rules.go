package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/pour-kiosk/pkg/config"
)

// Rule is a sliding-window limit applied to one key.
type Rule struct {
	Limit  int
	Window time.Duration
}

// RuleFrom converts a configured rule.
func RuleFrom(cfg config.RateLimitRule) Rule {
	return Rule{Limit: cfg.Limit, Window: cfg.Window}
}

// Enabled reports whether the rule limits anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Allow checks key against the rule. A disabled rule or a nil limiter always allows;
// limiter failures other than ErrLimitExceeded fail open.
func Allow(ctx context.Context, limiter Limiter, key string, rule Rule) bool {
	if limiter == nil || !rule.Enabled() {
		return true
	}

	result, err := limiter.Check(ctx, key, rule.Limit, rule.Window)
	if errors.Is(err, ErrLimitExceeded) {
		return false
	}
	if err != nil || result == nil {
		return true
	}
	return result.Allowed
}
