package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "POSSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "POSSYNC_APP_ENV"
	EnvPort     = "POSSYNC_APP_PORT"
	EnvDBDSN    = "POSSYNC_DB_DSN"
	EnvDBDriver = "POSSYNC_DB_DRIVER"
	EnvDBHost   = "POSSYNC_DB_HOST"
	EnvDBUser   = "POSSYNC_DB_USER"
	EnvDBName   = "POSSYNC_DB_NAME"
	EnvRedisURL = "POSSYNC_REDIS_URL"

	EnvOfflineReplayWindow = "POSSYNC_OFFLINE_REPLAY_WINDOW"
	EnvOfflineMaxRetries   = "POSSYNC_OFFLINE_MAX_RETRY_ATTEMPTS"
	EnvOfflineMaxBackoff   = "POSSYNC_OFFLINE_MAX_BACKOFF"
	EnvFeatureDefaults     = "POSSYNC_FEATURE_DEFAULTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
