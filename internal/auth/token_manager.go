package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"voicegrade/internal/evalerr"
	"voicegrade/internal/logging"
)

const (
	// DefaultTokenURL is the Dropbox OAuth2 token endpoint.
	DefaultTokenURL = "https://api.dropboxapi.com/oauth2/token"

	defaultSafetyMargin   = 5 * time.Minute
	defaultRequestTimeout = 15 * time.Second
	defaultTokenLifetime  = 4 * time.Hour
	maxErrorBody          = 4096
	refreshKey            = "refresh"
)

// HTTPDoer is the subset of *http.Client used by TokenManager.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Credentials identify the application and the long-lived grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c Credentials) complete() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.RefreshToken) != ""
}

// TokenManagerOption customises TokenManager construction.
type TokenManagerOption func(*TokenManager)

// WithHTTPClient overrides the HTTP client used for token refreshes.
func WithHTTPClient(client HTTPDoer) TokenManagerOption {
	return func(m *TokenManager) {
		m.httpClient = client
	}
}

// WithTokenURL overrides the refresh endpoint (used in tests).
func WithTokenURL(tokenURL string) TokenManagerOption {
	return func(m *TokenManager) {
		m.tokenURL = strings.TrimSpace(tokenURL)
	}
}

// WithTokenStore injects a persistence layer so separate processes can reuse
// a still-valid token.
func WithTokenStore(store TokenStore) TokenManagerOption {
	return func(m *TokenManager) {
		m.store = store
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSafetyMargin sets how long before expiry a token is considered stale.
func WithSafetyMargin(margin time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if margin >= 0 {
			m.safetyMargin = margin
		}
	}
}

// WithRequestTimeout bounds each refresh call.
func WithRequestTimeout(timeout time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if timeout > 0 {
			m.requestTimeout = timeout
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) TokenManagerOption {
	return func(m *TokenManager) {
		m.logger = logger
	}
}

// TokenManager hands out valid access tokens, refreshing them on demand.
type TokenManager struct {
	creds          Credentials
	httpClient     HTTPDoer
	tokenURL       string
	store          TokenStore
	now            func() time.Time
	safetyMargin   time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger

	group singleflight.Group

	stateMu sync.RWMutex
	state   State
}

// NewTokenManager builds a TokenManager for the provided credentials. A token
// already persisted in the store is reused while it stays valid.
func NewTokenManager(creds Credentials, opts ...TokenManagerOption) (*TokenManager, error) {
	if !creds.complete() {
		return nil, evalerr.Wrap(evalerr.ErrCredential, "token manager", "client id and refresh token are required", nil)
	}
	mgr := &TokenManager{
		creds:          creds,
		httpClient:     &http.Client{Timeout: defaultRequestTimeout},
		tokenURL:       DefaultTokenURL,
		now:            time.Now,
		safetyMargin:   defaultSafetyMargin,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	if mgr.httpClient == nil {
		mgr.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if mgr.store == nil {
		mgr.store = &MemoryTokenStore{}
	}
	if mgr.tokenURL == "" {
		mgr.tokenURL = DefaultTokenURL
	}
	mgr.logger = logging.NewComponentLogger(mgr.logger, "auth")

	state, err := mgr.store.Load()
	if err != nil {
		mgr.logger.Warn("token cache unreadable; will refresh",
			logging.String(logging.FieldEventType, "token_cache_load_failed"),
			logging.Error(err),
		)
		state = State{}
	}
	if state.ClientID == creds.ClientID {
		mgr.state = state
	}
	return mgr, nil
}

// Token returns a valid access token, refreshing it when it is missing or
// within the safety margin of expiry. Concurrent callers share one refresh.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if token, ok := m.cachedToken(); ok {
		return token, nil
	}
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return "", evalerr.Wrap(evalerr.ErrCredential, "token", "waiting for refresh", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate discards the cached token so the next Token call refreshes.
func (m *TokenManager) Invalidate() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.clearLocked()
}

// Expiry reports when the cached token expires; zero when none is cached.
func (m *TokenManager) Expiry() time.Time {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.state.AccessToken == "" {
		return time.Time{}
	}
	return m.state.ExpiresAt
}

func (m *TokenManager) cachedToken() (string, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.validLocked()
}

func (m *TokenManager) validLocked() (string, bool) {
	if m.state.AccessToken == "" {
		return "", false
	}
	if !m.now().Before(m.state.ExpiresAt.Add(-m.safetyMargin)) {
		return "", false
	}
	return m.state.AccessToken, true
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if token, ok := m.validLocked(); ok {
		return token, nil
	}

	// The refresh is shared by every waiting caller, so it must outlive the
	// cancellation of whichever caller started it.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.requestTimeout)
	defer cancel()

	token, expiresIn, err := m.exchange(reqCtx)
	if err != nil {
		m.clearLocked()
		m.logger.Warn("access token refresh failed",
			logging.String(logging.FieldEventType, "token_refresh_failed"),
			logging.String(logging.FieldErrorHint, "verify client id, client secret, and refresh token"),
			logging.Error(err),
		)
		return "", evalerr.Wrap(evalerr.ErrCredential, "refresh access token", "", err)
	}

	if expiresIn <= 0 {
		expiresIn = defaultTokenLifetime
	}
	m.state = State{
		ClientID:    m.creds.ClientID,
		AccessToken: token,
		ExpiresAt:   m.now().Add(expiresIn),
	}
	if err := m.store.Save(m.state); err != nil {
		m.logger.Warn("token cache not persisted",
			logging.String(logging.FieldEventType, "token_cache_save_failed"),
			logging.Error(err),
		)
	}
	m.logger.Debug("access token refreshed", logging.String("expires_at", m.state.ExpiresAt.UTC().Format(time.RFC3339)))
	return token, nil
}

func (m *TokenManager) clearLocked() {
	m.state = State{}
	if err := m.store.Save(State{}); err != nil {
		m.logger.Debug("token cache clear failed", logging.Error(err))
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *TokenManager) exchange(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.creds.RefreshToken)
	form.Set("client_id", m.creds.ClientID)
	if m.creds.ClientSecret != "" {
		form.Set("client_secret", m.creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("read token response: %w", err)
	}

	var payload tokenResponse
	decodeErr := json.Unmarshal(body, &payload)
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(payload.ErrorDescription)
		if detail == "" {
			detail = strings.TrimSpace(payload.Error)
		}
		if detail == "" {
			detail = strings.TrimSpace(string(body))
			if len(detail) > maxErrorBody {
				detail = detail[:maxErrorBody]
			}
		}
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return "", 0, fmt.Errorf("decode token response: %w", decodeErr)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}
