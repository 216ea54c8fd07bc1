package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
)

// StreamErrorTrailer carries the fault of a stream that already started
const StreamErrorTrailer = "X-Stream-Error"

type chatRequest struct {
	Messages []*model.Message `json:"messages"`
}

func (s *Server) handleChat(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Vary", "origin")

	ctx := c.Request.Context()

	owner, err := s.resolver.Resolve(c.Request)
	if err != nil {
		logging.From(ctx).Info("unauthorized chat request", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	logger := logging.From(ctx).With("owner_id", owner)
	ctx = logging.With(ctx, logger)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Info("invalid chat request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := model.ValidateDialogue(req.Messages); err != nil {
		logger.Info("invalid dialogue", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid messages"})
		return
	}

	runner, err := s.runners(owner)
	if err != nil {
		logger.Error("failed to build chat runner", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	stream := &textStream{c: c}
	result, err := runner.Run(ctx, req.Messages, stream.write)

	switch {
	case err == nil:
		stream.commit()
		logger.Info("chat completed",
			"steps", result.Steps,
			"tool_calls", result.ToolCalls,
			"step_bound_exceeded", result.StepBoundExceeded,
		)

	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		logger.Info("chat canceled by client", "error", err)

	case !stream.started:
		logger.Error("chat failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})

	default:
		logger.Error("chat failed after streaming started", "error", err)
		c.Writer.Header().Set(StreamErrorTrailer, "Internal server error")
	}
}

// textStream commits the 200 header on the first token so that a fault before any output
// can still be answered with a 500.
type textStream struct {
	c       *gin.Context
	started bool
}

func (x *textStream) commit() {
	if x.started {
		return
	}
	x.started = true

	h := x.c.Writer.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Trailer", StreamErrorTrailer)
	x.c.Status(http.StatusOK)
	x.c.Writer.WriteHeaderNow()
}

func (x *textStream) write(token string) error {
	x.commit()
	if _, err := x.c.Writer.WriteString(token); err != nil {
		return err
	}
	x.c.Writer.Flush()
	return nil
}
