package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
	"github.com/m-mizutani/nutmeg/pkg/utils/retry"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// Knowledge is the use case behind the HTTP entry points
type Knowledge interface {
	Search(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error)
	Recent(ctx context.Context, accountID model.AccountID, limit int) ([]*model.KnowledgeVector, error)
	Tags(ctx context.Context, accountID model.AccountID, limit int) ([]*model.TagCount, error)
	Store(ctx context.Context, accountID model.AccountID, documentID model.DocumentID, entry *model.Entry) (model.VectorID, error)
	Update(ctx context.Context, vectorID model.VectorID, update *model.EntryUpdate, documentID model.DocumentID) error
	Delete(ctx context.Context, vectorID model.VectorID) error
}

// Server exposes the knowledge search and write entry points over HTTP
type Server struct {
	knowledge Knowledge
	retry     *retry.Policy
	timeout   time.Duration
	engine    *gin.Engine
}

type Option func(*Server)

// WithRetry replaces the retry policy applied to transient failures
func WithRetry(policy *retry.Policy) Option {
	return func(s *Server) {
		s.retry = policy
	}
}

// WithRequestTimeout bounds the handling time of each request
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

func New(knowledge Knowledge, opts ...Option) *Server {
	s := &Server{
		knowledge: knowledge,
		retry:     retry.New(),
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery(), requestTimeout(s.timeout))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/knowledge")
	{
		api.POST("/search", s.handleSearch)
		api.POST("/vectors", s.handleVectors)
	}

	s.engine = engine
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logging.From(ctx).Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logging.From(ctx).Info("shutting down server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shut down server")
		}
		return nil
	}
}

func (s *Server) handleSearch(c *gin.Context) {
	var env searchEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		respondError(c, goerr.Wrap(err, "invalid request body", goerr.T(model.TagInvalidRequest)))
		return
	}

	cmd, err := env.command()
	if err != nil {
		respondError(c, err)
		return
	}
	s.execute(c, cmd)
}

func (s *Server) handleVectors(c *gin.Context) {
	var env writeEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		respondError(c, goerr.Wrap(err, "invalid request body", goerr.T(model.TagInvalidRequest)))
		return
	}

	cmd, err := env.command()
	if err != nil {
		respondError(c, err)
		return
	}
	s.execute(c, cmd)
}

func (s *Server) execute(c *gin.Context, cmd command) {
	ctx := c.Request.Context()

	resp, err := retry.Do(ctx, s.retry, cmd.name(), func(ctx context.Context) (gin.H, error) {
		return cmd.run(ctx, s.knowledge)
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp["success"] = true
	c.JSON(http.StatusOK, resp)
}

// statusOf maps the error taxonomy to HTTP status codes
func statusOf(err error) int {
	switch model.ErrorCode(err) {
	case "invalid_request":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "embedding_error", "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	code := model.ErrorCode(err)
	logger := logging.From(c.Request.Context())

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		if code == "dimension_mismatch" {
			logger.Error("ALERT: embedding dimension mismatch, stored vectors need re-embedding", "error", err)
		} else {
			logger.Error("request failed", "code", code, "error", err)
		}
		msg = http.StatusText(status)
	} else {
		logger.Info("request rejected", "code", code, "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
