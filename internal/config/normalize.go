package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"voicegrade/internal/scoring"
)

func (c *Config) normalize(env secretEnv) error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeAuth(env); err != nil {
		return err
	}
	c.normalizeListing()
	c.normalizeAPI(env)
	if err := c.normalizeAudit(); err != nil {
		return err
	}
	c.normalizeLogging()
	return c.normalizeRubrics()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendDropbox
	}
	c.Store.Root = path.Clean("/" + strings.ReplaceAll(strings.TrimSpace(c.Store.Root), "\\", "/"))
	if c.Store.Root == "/" {
		c.Store.Root = defaultStoreRoot
	}
	c.Store.APIURL = strings.TrimRight(strings.TrimSpace(c.Store.APIURL), "/")
	if c.Store.APIURL == "" {
		c.Store.APIURL = defaultAPIURL
	}
	c.Store.ContentURL = strings.TrimRight(strings.TrimSpace(c.Store.ContentURL), "/")
	if c.Store.ContentURL == "" {
		c.Store.ContentURL = defaultContentURL
	}
	if strings.TrimSpace(c.Store.LocalRoot) == "" {
		c.Store.LocalRoot = defaultLocalRoot
	}
	var err error
	if c.Store.LocalRoot, err = expandPath(c.Store.LocalRoot); err != nil {
		return fmt.Errorf("store.local_root: %w", err)
	}
	if c.Store.RetryAttempts <= 0 {
		c.Store.RetryAttempts = defaultRetryAttempts
	}
	if c.Store.RetryBaseDelayMillis <= 0 {
		c.Store.RetryBaseDelayMillis = defaultRetryBaseDelayMillis
	}
	if c.Store.RetryMaxDelayMillis <= 0 {
		c.Store.RetryMaxDelayMillis = defaultRetryMaxDelayMillis
	}
	if c.Store.AttemptTimeoutSeconds <= 0 {
		c.Store.AttemptTimeoutSeconds = defaultAttemptTimeoutSeconds
	}
	if c.Store.MoveSettleMillis < 0 {
		c.Store.MoveSettleMillis = 0
	}
	if c.Store.MaxSaveAttempts <= 0 {
		c.Store.MaxSaveAttempts = defaultMaxSaveAttempts
	}
	if c.Store.FetchConcurrency <= 0 {
		c.Store.FetchConcurrency = defaultFetchConcurrency
	}
	return nil
}

func (c *Config) normalizeAuth(env secretEnv) error {
	fill := func(dst *string, key string) {
		*dst = strings.TrimSpace(*dst)
		if *dst != "" {
			return
		}
		if value, ok := env.lookup(key); ok {
			*dst = strings.TrimSpace(value)
		}
	}
	fill(&c.Auth.ClientID, EnvClientID)
	fill(&c.Auth.ClientSecret, EnvClientSecret)
	fill(&c.Auth.RefreshToken, EnvRefreshToken)

	c.Auth.TokenURL = strings.TrimSpace(c.Auth.TokenURL)
	if c.Auth.TokenURL == "" {
		c.Auth.TokenURL = defaultTokenURL
	}
	if c.Auth.SafetyMarginSeconds <= 0 {
		c.Auth.SafetyMarginSeconds = defaultSafetyMarginSeconds
	}
	if c.Auth.RequestTimeoutSeconds <= 0 {
		c.Auth.RequestTimeoutSeconds = defaultTokenTimeoutSeconds
	}
	if strings.TrimSpace(c.Auth.TokenCachePath) == "" {
		return nil
	}
	var err error
	if c.Auth.TokenCachePath, err = expandPath(c.Auth.TokenCachePath); err != nil {
		return fmt.Errorf("auth.token_cache_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeListing() {
	if c.Listing.MaxPageSize <= 0 {
		c.Listing.MaxPageSize = defaultMaxPageSize
	}
	if c.Listing.DefaultPageSize <= 0 {
		c.Listing.DefaultPageSize = defaultPageSize
	}
	if c.Listing.DefaultPageSize > c.Listing.MaxPageSize {
		c.Listing.DefaultPageSize = c.Listing.MaxPageSize
	}
}

func (c *Config) normalizeAPI(env secretEnv) {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := env.lookup(EnvAPIToken); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	origins := c.API.AllowedOrigins[:0]
	for _, origin := range c.API.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.API.AllowedOrigins = origins
}

func (c *Config) normalizeAudit() error {
	if strings.TrimSpace(c.Audit.Path) == "" {
		c.Audit.Path = defaultAuditPath
	}
	var err error
	if c.Audit.Path, err = expandPath(c.Audit.Path); err != nil {
		return fmt.Errorf("audit.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// normalizeRubrics falls back to the rubrics shipped in the sample config
// when none are configured.
func (c *Config) normalizeRubrics() error {
	if len(c.Rubrics) > 0 {
		return nil
	}
	rubrics, err := SampleRubrics()
	if err != nil {
		return err
	}
	c.Rubrics = rubrics
	return nil
}

// SampleRubrics returns the single-language rubrics from the embedded sample
// configuration.
func SampleRubrics() ([]scoring.Rubric, error) {
	var sample struct {
		Rubrics []scoring.Rubric `toml:"rubrics"`
	}
	if err := toml.Unmarshal([]byte(sampleConfig), &sample); err != nil {
		return nil, fmt.Errorf("parse sample rubrics: %w", err)
	}
	return sample.Rubrics, nil
}
