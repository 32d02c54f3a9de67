package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"voicegrade/internal/evalerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testCreds = Credentials{ClientID: "app-key", ClientSecret: "app-secret", RefreshToken: "refresh-abc"}

type tokenServer struct {
	calls  atomic.Int32
	delay  time.Duration
	status int
	token  string
}

func (s *tokenServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("unexpected grant_type %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != testCreds.RefreshToken {
			t.Errorf("unexpected refresh_token %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != testCreds.ClientID {
			t.Errorf("unexpected client_id %q", got)
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		if s.status != 0 && s.status != http.StatusOK {
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token is malformed"}`))
			return
		}
		token := s.token
		if token == "" {
			token = "access-1"
		}
		_, _ = w.Write([]byte(`{"access_token":"` + token + `","token_type":"bearer","expires_in":14400}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newManager(t *testing.T, server *httptest.Server, opts ...TokenManagerOption) *TokenManager {
	t.Helper()
	base := []TokenManagerOption{WithTokenURL(server.URL), WithHTTPClient(server.Client())}
	manager, err := NewTokenManager(testCreds, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	return manager
}

func TestTokenManagerRefreshesAndCaches(t *testing.T) {
	ts := &tokenServer{}
	server := ts.start(t)
	manager := newManager(t, server)

	for i := 0; i < 3; i++ {
		token, err := manager.Token(context.Background())
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if token != "access-1" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if got := ts.calls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if manager.Expiry().IsZero() {
		t.Fatal("expected expiry to be set")
	}
}

func TestTokenManagerConcurrentCallersShareRefresh(t *testing.T) {
	ts := &tokenServer{delay: 50 * time.Millisecond}
	server := ts.start(t)
	manager := newManager(t, server)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := manager.Token(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if token != "access-1" {
				errs <- errors.New("unexpected token " + token)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("token: %v", err)
	}
	if got := ts.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
}

func TestTokenManagerRefreshesInsideSafetyMargin(t *testing.T) {
	ts := &tokenServer{}
	server := ts.start(t)

	now := time.Date(2025, 8, 8, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	manager := newManager(t, server, WithClock(clock), WithSafetyMargin(5*time.Minute))

	if _, err := manager.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	now = now.Add(4*time.Hour - 6*time.Minute)
	if _, err := manager.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := ts.calls.Load(); got != 1 {
		t.Fatalf("expected cached token outside margin, got %d refreshes", got)
	}
	now = now.Add(2 * time.Minute)
	if _, err := manager.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Fatalf("expected refresh inside margin, got %d refreshes", got)
	}
}

func TestTokenManagerFailureIsCredentialError(t *testing.T) {
	ts := &tokenServer{status: http.StatusBadRequest}
	server := ts.start(t)
	store := &MemoryTokenStore{}
	_ = store.Save(State{ClientID: testCreds.ClientID, AccessToken: "stale", ExpiresAt: time.Now().Add(time.Minute)})
	manager := newManager(t, server, WithTokenStore(store))

	_, err := manager.Token(context.Background())
	if !errors.Is(err, evalerr.ErrCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if !manager.Expiry().IsZero() {
		t.Fatal("expected cached token to be cleared")
	}
	state, _ := store.Load()
	if state.AccessToken != "" {
		t.Fatalf("expected persisted token cleared, got %q", state.AccessToken)
	}
}

func TestTokenManagerNetworkFailureIsCredentialError(t *testing.T) {
	ts := &tokenServer{}
	server := ts.start(t)
	url := server.URL
	server.Close()

	manager, err := NewTokenManager(testCreds, WithTokenURL(url))
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	if _, err := manager.Token(context.Background()); !errors.Is(err, evalerr.ErrCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestTokenManagerInvalidateForcesRefresh(t *testing.T) {
	ts := &tokenServer{}
	server := ts.start(t)
	manager := newManager(t, server)

	if _, err := manager.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	manager.Invalidate()
	if !manager.Expiry().IsZero() {
		t.Fatal("expected expiry cleared after invalidate")
	}
	if _, err := manager.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Fatalf("expected two refreshes, got %d", got)
	}
}

func TestTokenManagerReusesPersistedToken(t *testing.T) {
	ts := &tokenServer{token: "fresh"}
	server := ts.start(t)
	path := filepath.Join(t.TempDir(), "token.json")

	first := newManager(t, server, WithTokenStore(NewFileTokenStore(path)))
	if _, err := first.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}

	second := newManager(t, server, WithTokenStore(NewFileTokenStore(path)))
	token, err := second.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "fresh" {
		t.Fatalf("unexpected token %q", token)
	}
	if got := ts.calls.Load(); got != 1 {
		t.Fatalf("expected persisted token reuse, got %d refreshes", got)
	}
}

func TestTokenManagerIgnoresTokenForOtherClient(t *testing.T) {
	ts := &tokenServer{}
	server := ts.start(t)
	store := &MemoryTokenStore{}
	_ = store.Save(State{ClientID: "other-app", AccessToken: "foreign", ExpiresAt: time.Now().Add(time.Hour)})

	manager := newManager(t, server, WithTokenStore(store))
	token, err := manager.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
}

func TestNewTokenManagerRequiresCredentials(t *testing.T) {
	if _, err := NewTokenManager(Credentials{ClientID: "app"}); !errors.Is(err, evalerr.ErrCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
}
