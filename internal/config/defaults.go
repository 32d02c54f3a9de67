package config

const (
	defaultConfigPath     = "~/.config/voicegrade/config.toml"
	projectConfigName     = "voicegrade.toml"
	defaultStateDir       = "~/.local/share/voicegrade"
	defaultLogDir         = "~/.local/share/voicegrade/logs"
	defaultLocalRoot      = "~/.local/share/voicegrade/store"
	defaultTokenCachePath = "~/.local/share/voicegrade/token.json"
	defaultAuditPath      = "~/.local/share/voicegrade/audit.db"
	defaultStoreRoot      = "/evaluations"

	defaultAPIURL                = "https://api.dropboxapi.com"
	defaultContentURL            = "https://content.dropboxapi.com"
	defaultTokenURL              = "https://api.dropboxapi.com/oauth2/token"
	defaultRetryAttempts         = 3
	defaultRetryBaseDelayMillis  = 200
	defaultRetryMaxDelayMillis   = 2000
	defaultAttemptTimeoutSeconds = 30
	defaultMoveSettleMillis      = 1000
	defaultMaxSaveAttempts       = 5
	defaultFetchConcurrency      = 8
	defaultSafetyMarginSeconds   = 300
	defaultTokenTimeoutSeconds   = 15

	defaultPageSize    = 50
	defaultMaxPageSize = 500
	defaultAPIBind     = "127.0.0.1:7520"
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"
)

// Store backends.
const (
	BackendDropbox = "dropbox"
	BackendLocal   = "local"
)

// Secret environment variables.
const (
	EnvClientID     = "VOICEGRADE_CLIENT_ID"
	EnvClientSecret = "VOICEGRADE_CLIENT_SECRET"
	EnvRefreshToken = "VOICEGRADE_REFRESH_TOKEN"
	EnvAPIToken     = "VOICEGRADE_API_TOKEN"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Store: Store{
			Backend:               BackendDropbox,
			Root:                  defaultStoreRoot,
			APIURL:                defaultAPIURL,
			ContentURL:            defaultContentURL,
			LocalRoot:             defaultLocalRoot,
			RetryAttempts:         defaultRetryAttempts,
			RetryBaseDelayMillis:  defaultRetryBaseDelayMillis,
			RetryMaxDelayMillis:   defaultRetryMaxDelayMillis,
			AttemptTimeoutSeconds: defaultAttemptTimeoutSeconds,
			MoveSettleMillis:      defaultMoveSettleMillis,
			MaxSaveAttempts:       defaultMaxSaveAttempts,
			FetchConcurrency:      defaultFetchConcurrency,
		},
		Auth: Auth{
			TokenURL:              defaultTokenURL,
			SafetyMarginSeconds:   defaultSafetyMarginSeconds,
			RequestTimeoutSeconds: defaultTokenTimeoutSeconds,
			TokenCachePath:        defaultTokenCachePath,
		},
		Listing: Listing{
			DefaultPageSize: defaultPageSize,
			MaxPageSize:     defaultMaxPageSize,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Audit: Audit{
			Enabled: true,
			Path:    defaultAuditPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
