package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"voicegrade/internal/aggregate"
	"voicegrade/internal/api"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/logging"
)

// Backend is the query surface the server exposes.
type Backend interface {
	ListRecords(ctx context.Context, filter aggregate.Filter) (api.RecordList, error)
	GetRecord(ctx context.Context, id string) (evaluation.Record, error)
	Create(ctx context.Context, req api.CreateRequest) (evaluation.Record, error)
	Submit(ctx context.Context, id string, req api.EvaluationRequest) (evaluation.Record, error)
	RequestReview(ctx context.Context, id string, req api.EvaluationRequest) (evaluation.Record, error)
	Approve(ctx context.Context, id string, req api.ActorRequest) (evaluation.Record, error)
	Reevaluate(ctx context.Context, id string, req api.ActorRequest) (evaluation.Record, error)
	Delete(ctx context.Context, id string, req api.ActorRequest) error
	History(ctx context.Context, id string) (api.HistoryResponse, error)
	Reconcile(ctx context.Context) (api.ReconcileResponse, error)
}

// Options configures the HTTP server.
type Options struct {
	Bind            string
	Token           string
	AllowedOrigins  []string
	DefaultPageSize int
	MaxPageSize     int
}

// Server serves the HTTP API.
type Server struct {
	opts    Options
	backend Backend
	logger  *slog.Logger
	engine  *gin.Engine

	listener net.Listener
	server   *http.Server
}

// New builds the router. It does not start listening.
func New(opts Options, backend Backend, logger *slog.Logger) *Server {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 500
	}
	if opts.DefaultPageSize <= 0 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = min(50, opts.MaxPageSize)
	}
	s := &Server{
		opts:    opts,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "api-server"),
	}
	s.engine = s.routes()
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.opts.AllowedOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/api/health", s.handleHealth)

	apiGroup := r.Group("/api", authMiddleware(s.opts.Token))
	records := apiGroup.Group("/records")
	records.GET("", s.handleList)
	records.POST("", s.handleCreate)
	records.GET("/:id", s.handleGet)
	records.DELETE("/:id", s.handleDelete)
	records.GET("/:id/history", s.handleHistory)
	records.POST("/:id/submit", s.handleSubmit)
	records.POST("/:id/review-request", s.handleRequestReview)
	records.POST("/:id/approve", s.handleApprove)
	records.POST("/:id/reevaluate", s.handleReevaluate)
	apiGroup.POST("/index/reconcile", s.handleReconcile)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "route not found", Kind: "not_found"})
	})
	return r
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	bind := strings.TrimSpace(s.opts.Bind)
	if bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("api server stopped", logging.String(logging.FieldEventType, "api_stopped"))
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []logging.Attr{
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", status),
			logging.Duration("latency", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Warn("api request failed", logging.Args(attrs...)...)
		default:
			s.logger.Debug("api request", logging.Args(attrs...)...)
		}
	}
}
