package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"voicegrade/internal/api"
	"voicegrade/internal/audit"
	"voicegrade/internal/auth"
	"voicegrade/internal/blob"
	"voicegrade/internal/config"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/index"
	"voicegrade/internal/logging"
	"voicegrade/internal/records"
	"voicegrade/internal/scoring"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	runtimeMu sync.Mutex
	runtime   *runtime
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// runtime holds the wired components shared by one CLI invocation.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	blobs   blob.Store
	index   *index.Store
	tokens  *auth.TokenManager
	journal *audit.Journal
	manager *records.Manager
	service *api.Service
}

// service lazily wires the store, index, scoring engine and journal.
func (c *commandContext) service(ctx context.Context) (*runtime, error) {
	c.runtimeMu.Lock()
	defer c.runtimeMu.Unlock()
	if c.runtime != nil {
		return c.runtime, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.runtime = rt
	return rt, nil
}

func (c *commandContext) close() error {
	c.runtimeMu.Lock()
	defer c.runtimeMu.Unlock()
	if c.runtime == nil {
		return nil
	}
	err := c.runtime.close()
	c.runtime = nil
	return err
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger}

	switch cfg.Store.Backend {
	case config.BackendLocal:
		local, err := blob.NewLocalStore(cfg.Store.LocalRoot)
		if err != nil {
			return nil, err
		}
		rt.blobs = local
	default:
		tokens, err := newTokenManager(cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.tokens = tokens
		rt.blobs = blob.NewClient(blob.Config{
			APIURL:         cfg.Store.APIURL,
			ContentURL:     cfg.Store.ContentURL,
			AttemptTimeout: cfg.AttemptTimeout(),
			RetryAttempts:  cfg.Store.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay(),
			RetryMaxDelay:  cfg.RetryMaxDelay(),
		}, tokens, blob.WithLogger(logger))
	}

	rt.index = index.New(rt.blobs, index.NewLayout(cfg.Store.Root),
		index.WithMaxSaveAttempts(cfg.Store.MaxSaveAttempts),
		index.WithLogger(logger),
	)

	engine, err := scoring.NewEngine(cfg.ScoringRubrics()...)
	if err != nil {
		return nil, fmt.Errorf("build scoring engine: %w", err)
	}

	opts := []records.Option{
		records.WithMoveSettle(cfg.MoveSettle()),
		records.WithLogger(logger),
	}
	if cfg.Audit.Enabled {
		journal, err := audit.Open(ctx, cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		rt.journal = journal
		opts = append(opts, records.WithJournal(journal))
	}
	rt.manager = records.NewManager(rt.blobs, rt.index, engine, opts...)
	rt.service = api.NewService(rt.blobs, rt.index, rt.manager,
		api.WithFetchConcurrency(cfg.Store.FetchConcurrency),
		api.WithLogger(logger),
	)
	return rt, nil
}

func newTokenManager(cfg *config.Config, logger *slog.Logger) (*auth.TokenManager, error) {
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		return nil, evalerr.Wrap(evalerr.ErrCredential, "connect store",
			"missing credentials: "+strings.Join(missing, ", "), nil)
	}
	return auth.NewTokenManager(auth.Credentials{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RefreshToken: cfg.Auth.RefreshToken,
	},
		auth.WithTokenURL(cfg.Auth.TokenURL),
		auth.WithTokenStore(auth.NewFileTokenStore(cfg.Auth.TokenCachePath)),
		auth.WithSafetyMargin(cfg.TokenSafetyMargin()),
		auth.WithRequestTimeout(cfg.TokenRequestTimeout()),
		auth.WithLogger(logger),
	)
}

func (r *runtime) close() error {
	if r.journal == nil {
		return nil
	}
	err := r.journal.Close()
	r.journal = nil
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
