package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voicegrade/internal/evalerr"
	"voicegrade/internal/logging"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"

	defaultAttemptTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
	maxErrorSnippet       = 512
)

// TokenSource supplies bearer tokens and accepts invalidation after a 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Config captures the Dropbox endpoints and retry policy.
type Config struct {
	APIURL         string
	ContentURL     string
	AttemptTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Client implements Store on top of the Dropbox API v2.
type Client struct {
	cfg        Config
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	sleeper    func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a Dropbox-backed Store.
func NewClient(cfg Config, tokens TokenSource, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			APIURL:         strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
			ContentURL:     strings.TrimRight(strings.TrimSpace(cfg.ContentURL), "/"),
			AttemptTimeout: cfg.AttemptTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
		},
		tokens:     tokens,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.APIURL == "" {
		client.cfg.APIURL = DefaultAPIURL
	}
	if client.cfg.ContentURL == "" {
		client.cfg.ContentURL = DefaultContentURL
	}
	if client.cfg.AttemptTimeout <= 0 {
		client.cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if client.cfg.RetryAttempts <= 0 {
		client.cfg.RetryAttempts = defaultRetryAttempts
	}
	if client.cfg.RetryBaseDelay < 0 {
		client.cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if client.cfg.RetryMaxDelay <= 0 {
		client.cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	client.logger = logging.NewComponentLogger(client.logger, "blob")
	return client
}

type writeMode struct {
	Tag    string `json:".tag"`
	Update string `json:"update,omitempty"`
}

type uploadArg struct {
	Path           string    `json:"path"`
	Mode           writeMode `json:"mode"`
	Autorename     bool      `json:"autorename"`
	Mute           bool      `json:"mute"`
	StrictConflict bool      `json:"strict_conflict"`
}

type pathArg struct {
	Path string `json:"path"`
}

type listFolderArg struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type listContinueArg struct {
	Cursor string `json:"cursor"`
}

type moveArg struct {
	FromPath   string `json:"from_path"`
	ToPath     string `json:"to_path"`
	Autorename bool   `json:"autorename"`
}

type dropboxMetadata struct {
	Tag            string `json:".tag"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	PathLower      string `json:"path_lower"`
	Rev            string `json:"rev"`
	Size           int64  `json:"size"`
	ServerModified string `json:"server_modified"`
}

func (m dropboxMetadata) toMetadata() Metadata {
	out := Metadata{
		Name:     m.Name,
		Path:     m.PathDisplay,
		Rev:      m.Rev,
		Size:     m.Size,
		IsFolder: m.Tag == "folder",
	}
	if out.Path == "" {
		out.Path = m.PathLower
	}
	if ts, err := time.Parse(time.RFC3339, m.ServerModified); err == nil {
		out.ServerModified = ts.UTC()
	}
	return out
}

type listFolderResult struct {
	Entries []dropboxMetadata `json:"entries"`
	Cursor  string            `json:"cursor"`
	HasMore bool              `json:"has_more"`
}

type metadataResult struct {
	Metadata dropboxMetadata `json:"metadata"`
}

// Upload creates a file in add mode with autorename.
func (c *Client) Upload(ctx context.Context, p string, data []byte) (Metadata, error) {
	return c.upload(ctx, "upload", p, data, writeMode{Tag: "add"}, true)
}

// Overwrite writes a file unconditionally.
func (c *Client) Overwrite(ctx context.Context, p string, data []byte) (Metadata, error) {
	return c.upload(ctx, "overwrite", p, data, writeMode{Tag: "overwrite"}, false)
}

// ConditionalOverwrite writes in update mode against expectedRev, or in add
// mode without autorename when expectedRev is empty.
func (c *Client) ConditionalOverwrite(ctx context.Context, p string, data []byte, expectedRev string) (Metadata, error) {
	mode := writeMode{Tag: "add"}
	if rev := strings.TrimSpace(expectedRev); rev != "" {
		mode = writeMode{Tag: "update", Update: rev}
	}
	return c.upload(ctx, "conditional overwrite", p, data, mode, false)
}

func (c *Client) upload(ctx context.Context, op, p string, data []byte, mode writeMode, autorename bool) (Metadata, error) {
	p = CleanPath(p)
	arg, err := apiArgHeader(uploadArg{Path: p, Mode: mode, Autorename: autorename, Mute: true})
	if err != nil {
		return Metadata{}, evalerr.Wrap(evalerr.ErrValidation, op, p, err)
	}
	conditional := mode.Tag == "update" || (mode.Tag == "add" && !autorename)
	body, _, err := c.do(ctx, op, p, conditional, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ContentURL+"/2/files/upload", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Dropbox-API-Arg", arg)
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	var meta dropboxMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, "decode upload metadata", err)
	}
	return meta.toMetadata(), nil
}

// Download fetches file content. Metadata is read from the Dropbox-API-Result
// header.
func (c *Client) Download(ctx context.Context, p string) ([]byte, Metadata, error) {
	p = CleanPath(p)
	arg, err := apiArgHeader(pathArg{Path: p})
	if err != nil {
		return nil, Metadata{}, evalerr.Wrap(evalerr.ErrValidation, "download", p, err)
	}
	body, header, err := c.do(ctx, "download", p, false, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ContentURL+"/2/files/download", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Dropbox-API-Arg", arg)
		return req, nil
	})
	if err != nil {
		return nil, Metadata{}, err
	}
	var meta dropboxMetadata
	if raw := header.Get("Dropbox-API-Result"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			c.logger.Debug("download metadata header unreadable", logging.String("path", p), logging.Error(err))
		}
	}
	out := meta.toMetadata()
	if out.Path == "" {
		out.Path = p
	}
	return body, out, nil
}

// ListFolder lists immediate children, following continuation cursors.
func (c *Client) ListFolder(ctx context.Context, p string) ([]Metadata, error) {
	p = CleanPath(p)
	folder := p
	if folder == "/" {
		folder = ""
	}
	var page listFolderResult
	if err := c.rpc(ctx, "list folder", p, "/2/files/list_folder", listFolderArg{Path: folder}, &page); err != nil {
		return nil, err
	}
	entries := make([]Metadata, 0, len(page.Entries))
	for {
		for _, e := range page.Entries {
			if e.Tag == "deleted" {
				continue
			}
			entries = append(entries, e.toMetadata())
		}
		if !page.HasMore || page.Cursor == "" {
			break
		}
		cursor := page.Cursor
		page = listFolderResult{}
		if err := c.rpc(ctx, "list folder", p, "/2/files/list_folder/continue", listContinueArg{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Move renames a file without autorename.
func (c *Client) Move(ctx context.Context, from, to string) (Metadata, error) {
	from, to = CleanPath(from), CleanPath(to)
	var res metadataResult
	if err := c.rpc(ctx, "move", from+" -> "+to, "/2/files/move_v2", moveArg{FromPath: from, ToPath: to}, &res); err != nil {
		return Metadata{}, err
	}
	return res.Metadata.toMetadata(), nil
}

// Delete removes a file.
func (c *Client) Delete(ctx context.Context, p string) error {
	p = CleanPath(p)
	var res metadataResult
	return c.rpc(ctx, "delete", p, "/2/files/delete_v2", pathArg{Path: p}, &res)
}

func (c *Client) rpc(ctx context.Context, op, p, endpoint string, arg, out any) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return evalerr.Wrap(evalerr.ErrValidation, op, p, err)
	}
	body, _, err := c.do(ctx, op, p, false, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return evalerr.Wrap(evalerr.ErrTransientIO, op, "decode response", err)
	}
	return nil
}

type apiError struct {
	StatusCode int
	Summary    string
	Body       string
	RetryAfter time.Duration
}

func (e *apiError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("dropbox: http %d: %s", e.StatusCode, e.Summary)
	}
	return fmt.Sprintf("dropbox: http %d: %s", e.StatusCode, e.Body)
}

// do executes one logical request with retries. build is called for every
// attempt so request bodies are fresh.
func (c *Client) do(ctx context.Context, op, p string, conditional bool, build func(context.Context) (*http.Request, error)) ([]byte, http.Header, error) {
	attempts := c.cfg.RetryAttempts
	reauthorized := false
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, header, err := c.attempt(ctx, build)
		if err == nil {
			return body, header, nil
		}

		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !reauthorized {
			reauthorized = true
			c.tokens.Invalidate()
			c.logger.Debug("access token rejected; refreshing", logging.String("operation", op))
			attempt--
			continue
		}
		if errors.Is(err, evalerr.ErrCredential) {
			return nil, nil, err
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, nil, classify(op, p, conditional, err)
		}
		c.logger.Debug("retrying blob request",
			logging.String("operation", op),
			logging.String("path", p),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, nil, evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, nil, evalerr.Wrap(evalerr.ErrTransientIO, op, fmt.Sprintf("%s: failed after %d attempts", p, attempts), lastErr)
}

func (c *Client) attempt(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, http.Header, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, nil, err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		apiErr := &apiError{
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
			RetryAfter: retryAfter,
		}
		var summary struct {
			ErrorSummary string `json:"error_summary"`
		}
		if json.Unmarshal(body, &summary) == nil {
			apiErr.Summary = strings.TrimSpace(summary.ErrorSummary)
		}
		return nil, nil, apiErr
	}
	return body, resp.Header, nil
}

// classify maps a non-retryable failure onto the error taxonomy.
func classify(op, p string, conditional bool, err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return evalerr.Wrap(evalerr.ErrCredential, op, p, err)
	case apiErr.StatusCode == http.StatusConflict:
		summary := apiErr.Summary
		switch {
		case strings.Contains(summary, "not_found"):
			return evalerr.Wrap(evalerr.ErrNotFound, op, p, err)
		case strings.Contains(summary, "conflict") && conditional:
			return evalerr.Wrap(evalerr.ErrConcurrencyConflict, op, p, err)
		case strings.Contains(summary, "conflict"):
			return evalerr.Wrap(evalerr.ErrConflict, op, p, err)
		default:
			return evalerr.Wrap(evalerr.ErrValidation, op, p, err)
		}
	case apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode >= http.StatusInternalServerError:
		return evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	default:
		return evalerr.Wrap(evalerr.ErrValidation, op, p, err)
	}
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts {
		return 0, false
	}
	if err == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			if apiErr.RetryAfter > 0 {
				return c.capDelay(apiErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	// The per-attempt deadline fired while the caller's context is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return c.backoffDelay(attempt), true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.backoffDelay(attempt), true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.cfg.RetryBaseDelay
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > c.cfg.RetryMaxDelay/2 {
			delay = c.cfg.RetryMaxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.cfg.RetryMaxDelay > 0 && delay > c.cfg.RetryMaxDelay {
		return c.cfg.RetryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
