package offline

import (
	"time"

	"github.com/angelmondragon/possync-backend/pkg/config"
)

// Policy holds the retry and expiry limits of the queue state machine.
type Policy struct {
	ReplayWindow              time.Duration
	MaxRetryAttempts          int
	InitialBackoff            time.Duration
	MaxBackoff                time.Duration
	ProlongedOfflineThreshold time.Duration
}

// DefaultPolicy returns the production limits.
func DefaultPolicy() Policy {
	return Policy{
		ReplayWindow:              72 * time.Hour,
		MaxRetryAttempts:          5,
		InitialBackoff:            time.Second,
		MaxBackoff:                30 * time.Second,
		ProlongedOfflineThreshold: 30 * time.Minute,
	}
}

// PolicyFromConfig maps the offline config section, keeping defaults for unset values.
func PolicyFromConfig(cfg config.OfflineConfig) Policy {
	p := DefaultPolicy()
	if cfg.ReplayWindow > 0 {
		p.ReplayWindow = cfg.ReplayWindow
	}
	if cfg.MaxRetryAttempts > 0 {
		p.MaxRetryAttempts = cfg.MaxRetryAttempts
	}
	if cfg.InitialBackoff > 0 {
		p.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.ProlongedOfflineThreshold > 0 {
		p.ProlongedOfflineThreshold = cfg.ProlongedOfflineThreshold
	}
	return p
}

// Backoff returns min(MaxBackoff, InitialBackoff * 2^(retryCount-1)).
func (p Policy) Backoff(retryCount int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < retryCount; i++ {
		if delay >= p.MaxBackoff {
			break
		}
		delay *= 2
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
