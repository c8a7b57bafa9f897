package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Offline      OfflineConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Offline.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"POSSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"POSSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"POSSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"POSSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"POSSYNC_SERVICE_KIND" default:"api"`
	// MetricsAddr exposes /metrics from the workers; empty disables it.
	MetricsAddr string `envconfig:"POSSYNC_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"POSSYNC_DB_DSN"`
	Driver string `envconfig:"POSSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"POSSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"POSSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"POSSYNC_DB_USER"`
	LegacyPassword string `envconfig:"POSSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"POSSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"POSSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"POSSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POSSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POSSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POSSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this; zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"POSSYNC_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

// IsSQLite reports whether the sqlite dialect was requested.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"POSSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"POSSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"POSSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"POSSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"POSSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"POSSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"POSSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"POSSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"POSSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// OfflineConfig tunes the offline queue state machine.
type OfflineConfig struct {
	ReplayWindow              time.Duration `envconfig:"POSSYNC_OFFLINE_REPLAY_WINDOW" default:"72h"`
	MaxRetryAttempts          int           `envconfig:"POSSYNC_OFFLINE_MAX_RETRY_ATTEMPTS" default:"5"`
	InitialBackoff            time.Duration `envconfig:"POSSYNC_OFFLINE_INITIAL_BACKOFF" default:"1s"`
	MaxBackoff                time.Duration `envconfig:"POSSYNC_OFFLINE_MAX_BACKOFF" default:"30s"`
	ProlongedOfflineThreshold time.Duration `envconfig:"POSSYNC_OFFLINE_PROLONGED_THRESHOLD" default:"30m"`
	IdempotencyRetention      time.Duration `envconfig:"POSSYNC_OFFLINE_IDEMPOTENCY_RETENTION" default:"168h"`
	SweepInterval             time.Duration `envconfig:"POSSYNC_OFFLINE_SWEEP_INTERVAL" default:"1m"`
	SweepLockTTL              time.Duration `envconfig:"POSSYNC_OFFLINE_SWEEP_LOCK_TTL" default:"5m"`
}

// IdempotencyTTL is how long a committed key must stay visible: the replay
// window plus the configured retention margin.
func (o OfflineConfig) IdempotencyTTL() time.Duration {
	return o.ReplayWindow + o.IdempotencyRetention
}

func (o OfflineConfig) validate() error {
	if o.ReplayWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvOfflineReplayWindow)
	}
	if o.MaxRetryAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvOfflineMaxRetries)
	}
	if o.InitialBackoff <= 0 || o.MaxBackoff < o.InitialBackoff {
		return fmt.Errorf("offline backoff bounds invalid: initial=%s max=%s", o.InitialBackoff, o.MaxBackoff)
	}
	return nil
}

type FeatureFlagsConfig struct {
	AutoMigrate  bool     `envconfig:"POSSYNC_AUTO_MIGRATE" default:"false"`
	DefaultFlags []string `envconfig:"POSSYNC_FEATURE_DEFAULTS" default:"loyalty_rules"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"POSSYNC_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"POSSYNC_PUBSUB_DOMAIN_TOPIC" default:"ps-domain-events"`
	AlertTopic  string `envconfig:"POSSYNC_PUBSUB_ALERT_TOPIC" default:"ps-offline-alerts"`
	// OrderByBranch keys messages by tenant and branch so subscribers see a
	// branch's events in the order they were committed.
	OrderByBranch bool `envconfig:"POSSYNC_PUBSUB_ORDER_BY_BRANCH" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"POSSYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"POSSYNC_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"POSSYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// Retention applies to published rows only.
	Retention time.Duration `envconfig:"POSSYNC_OUTBOX_RETENTION" default:"720h"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"POSSYNC_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
