package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"voicegrade/internal/scoring"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateRubrics()
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendDropbox:
		for name, raw := range map[string]string{"store.api_url": c.Store.APIURL, "store.content_url": c.Store.ContentURL} {
			if err := validateURL(name, raw); err != nil {
				return err
			}
		}
	case BackendLocal:
		if strings.TrimSpace(c.Store.LocalRoot) == "" {
			return errors.New("store.local_root must be set when store.backend is local")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendDropbox, BackendLocal, c.Store.Backend)
	}
	if c.Store.RetryMaxDelayMillis < c.Store.RetryBaseDelayMillis {
		return errors.New("store.retry_max_delay_ms must be at least store.retry_base_delay_ms")
	}
	return nil
}

// validateAuth only checks URL shape. Missing credentials are reported when
// the remote store is first used so that local-only commands still work.
func (c *Config) validateAuth() error {
	if c.Store.Backend != BackendDropbox {
		return nil
	}
	return validateURL("auth.token_url", c.Auth.TokenURL)
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func (c *Config) validateRubrics() error {
	for i, r := range c.Rubrics {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rubrics[%d]: %w", i, err)
		}
	}
	if _, err := scoring.NewEngine(c.ScoringRubrics()...); err != nil {
		return fmt.Errorf("rubrics: %w", err)
	}
	return nil
}

// MissingCredentials lists the auth fields required by the remote store that
// are still empty.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Auth.ClientID == "" {
		missing = append(missing, "auth.client_id ("+EnvClientID+")")
	}
	if c.Auth.RefreshToken == "" {
		missing = append(missing, "auth.refresh_token ("+EnvRefreshToken+")")
	}
	return missing
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}
