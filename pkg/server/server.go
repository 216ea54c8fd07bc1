// Package server is the HTTP boundary of the chat service.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/adapter"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/service/auth"
	"github.com/m-mizutani/ragnote/pkg/tool"
	"github.com/m-mizutani/ragnote/pkg/tool/notes"
	"github.com/m-mizutani/ragnote/pkg/usecase/chat"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
)

// Runner answers one dialogue, streaming text through emit
type Runner interface {
	Run(ctx context.Context, messages []*model.Message, emit chat.EmitFunc) (*chat.Result, error)
}

// RunnerFactory builds a runner whose tools are bound to owner
type RunnerFactory func(owner model.OwnerID) (Runner, error)

// SessionFactory returns a RunnerFactory backed by chat sessions with findRelevantNotes
func SessionFactory(gemini adapter.Gemini, retriever notes.Retriever, settings model.Settings) RunnerFactory {
	return func(owner model.OwnerID) (Runner, error) {
		findTool, err := notes.New(retriever, owner)
		if err != nil {
			return nil, err
		}
		return chat.New(chat.NewInput{
			Gemini:   gemini,
			Registry: tool.New(findTool),
			Settings: settings,
		}), nil
	}
}

type Server struct {
	engine   *gin.Engine
	runners  RunnerFactory
	resolver auth.Resolver
}

func New(runners RunnerFactory, resolver auth.Resolver) *Server {
	s := &Server{
		engine:   gin.New(),
		runners:  runners,
		resolver: resolver,
	}

	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.OPTIONS("/api/chat", preflight)
	s.engine.POST("/api/chat", s.handleChat)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is canceled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown server")
		}
		logging.From(ctx).Info("server stopped")
		return nil
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.New().String()

		logger := logging.From(c.Request.Context()).With("request_id", requestID)
		c.Request = c.Request.WithContext(logging.With(c.Request.Context(), logger))

		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// preflight answers CORS pre-flight requests. Requests that are not pre-flight get an empty 200.
func preflight(c *gin.Context) {
	h := c.Request.Header
	if h.Get("Origin") != "" && h.Get("Access-Control-Request-Method") != "" && h.Get("Access-Control-Request-Headers") != "" {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Digest, Authorization")
		c.Header("Access-Control-Max-Age", "86400")
	}
	c.Status(http.StatusOK)
}
