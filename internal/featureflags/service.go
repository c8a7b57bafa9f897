package featureflags

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LoyaltyRules gates every loyalty mutation, including queued ones at apply time.
const LoyaltyRules = "loyalty_rules"

type store interface {
	Get(ctx context.Context, key string) (string, error)
	FlagKey(tenantID, flag string) string
}

// Service resolves tenant feature flags from redis overrides, falling back to
// the configured defaults.
type Service struct {
	store    store
	defaults map[string]bool
}

// NewService builds a flag resolver. Flags listed in defaults are on unless overridden.
func NewService(s store, defaults []string) (*Service, error) {
	if s == nil {
		return nil, errors.New("flag store required")
	}
	enabled := make(map[string]bool, len(defaults))
	for _, flag := range defaults {
		flag = strings.TrimSpace(flag)
		if flag != "" {
			enabled[flag] = true
		}
	}
	return &Service{store: s, defaults: enabled}, nil
}

// IsEnabled reports whether key is on for the tenant. Lookup errors are
// returned with a false value so callers fail closed.
func (s *Service) IsEnabled(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	raw, err := s.store.Get(ctx, s.store.FlagKey(tenantID.String(), key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.defaults[key], nil
		}
		return false, fmt.Errorf("read flag %s: %w", key, err)
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("parse flag %s value %q: %w", key, raw, err)
	}
	return enabled, nil
}
