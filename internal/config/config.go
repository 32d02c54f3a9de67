package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"voicegrade/internal/scoring"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directories.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Store selects and tunes the blob store backend.
type Store struct {
	// Backend is "dropbox" or "local".
	Backend               string `toml:"backend"`
	Root                  string `toml:"root"`
	APIURL                string `toml:"api_url"`
	ContentURL            string `toml:"content_url"`
	LocalRoot             string `toml:"local_root"`
	RetryAttempts         int    `toml:"retry_attempts"`
	RetryBaseDelayMillis  int    `toml:"retry_base_delay_ms"`
	RetryMaxDelayMillis   int    `toml:"retry_max_delay_ms"`
	AttemptTimeoutSeconds int    `toml:"attempt_timeout_seconds"`
	MoveSettleMillis      int    `toml:"move_settle_ms"`
	MaxSaveAttempts       int    `toml:"max_save_attempts"`
	FetchConcurrency      int    `toml:"fetch_concurrency"`
}

// Auth contains the OAuth refresh-token credentials for the remote store.
type Auth struct {
	ClientID              string `toml:"client_id"`
	ClientSecret          string `toml:"client_secret"`
	RefreshToken          string `toml:"refresh_token"`
	TokenURL              string `toml:"token_url"`
	SafetyMarginSeconds   int    `toml:"safety_margin_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	TokenCachePath        string `toml:"token_cache_path"`
}

// Listing contains paging defaults for record listings.
type Listing struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
}

// API contains HTTP server settings.
type API struct {
	Bind           string   `toml:"bind"`
	Token          string   `toml:"token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Audit contains transition journal settings.
type Audit struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for voicegrade.
//
// Configuration sections by subsystem:
//   - Paths: local state and log directories
//   - Store: blob store backend, layout root, retry and concurrency tuning
//   - Auth: refresh-token credentials and token cache
//   - Listing: paging defaults
//   - API: HTTP bind address, bearer token, CORS origins
//   - Audit: SQLite transition journal
//   - Logging: log format and level
//   - Rubrics: single-language scoring rubrics
type Config struct {
	Paths   Paths            `toml:"paths"`
	Store   Store            `toml:"store"`
	Auth    Auth             `toml:"auth"`
	Listing Listing          `toml:"listing"`
	API     API              `toml:"api"`
	Audit   Audit            `toml:"audit"`
	Logging Logging          `toml:"logging"`
	Rubrics []scoring.Rubric `toml:"rubrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	env, err := loadEnv(filepath.Dir(resolvedPath))
	if err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(env); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories the CLI and server write to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir}
	if c.Store.Backend == BackendLocal {
		dirs = append(dirs, c.Store.LocalRoot)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ScoringRubrics returns the built-in rubrics followed by configured ones, so
// configuration overrides a built-in rubric for the same language.
func (c *Config) ScoringRubrics() []scoring.Rubric {
	out := scoring.DefaultRubrics()
	return append(out, c.Rubrics...)
}

// RetryBaseDelay returns the blob retry base delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Store.RetryBaseDelayMillis) * time.Millisecond
}

// RetryMaxDelay returns the blob retry delay cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Store.RetryMaxDelayMillis) * time.Millisecond
}

// AttemptTimeout returns the per-attempt blob request timeout.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Store.AttemptTimeoutSeconds) * time.Second
}

// MoveSettle returns the pause after moving a detail file.
func (c *Config) MoveSettle() time.Duration {
	return time.Duration(c.Store.MoveSettleMillis) * time.Millisecond
}

// TokenSafetyMargin returns how early a cached token is refreshed.
func (c *Config) TokenSafetyMargin() time.Duration {
	return time.Duration(c.Auth.SafetyMarginSeconds) * time.Second
}

// TokenRequestTimeout returns the token endpoint timeout.
func (c *Config) TokenRequestTimeout() time.Duration {
	return time.Duration(c.Auth.RequestTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
