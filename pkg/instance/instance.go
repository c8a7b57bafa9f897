package instance

import (
	"os"

	"github.com/angelmondragon/possync-backend/pkg/env"
)

// GetID returns the process instance identifier used in logs and lock
// owners: POSSYNC_INSTANCE_ID, then the platform dyno name, then the hostname.
func GetID() string {
	if id := env.First("POSSYNC_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
