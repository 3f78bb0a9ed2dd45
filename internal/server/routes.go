package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/isonp/internal/auth"
	"github.com/danmuck/isonp/internal/protocol/script"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query parameters a client sends with every poll and write.
const (
	ParamCallback = "callback"
	ParamSession  = "sid"
	ParamMode     = "mode"
)

var (
	errInvalidSession  = errors.New("invalid session id")
	errMessageTooLarge = errors.New("message too large")
)

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.Name,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":    true,
			"uptime":   time.Since(s.appeared).String(),
			"service":  s.cfg.Name,
			"sessions": s.hub.Len(),
		})
	})

	r.GET("/poll", s.handlePoll)
	r.POST("/write", auth.Require(auth.NewTokens(s.cfg.WriteTokens...)), s.handleWrite)
}

func (s *Server) handlePoll(c *gin.Context) {
	cb := c.Query(ParamCallback)
	if !script.ValidCallback(cb) {
		c.String(http.StatusBadRequest, "invalid callback")
		return
	}
	sid := c.Query(ParamSession)
	if _, err := uuid.Parse(sid); err != nil {
		s.reply(c, cb, gin.H{"message": errInvalidSession.Error()}, nil)
		return
	}

	hold := s.cfg.PollHold
	if c.Query(ParamMode) == "short" {
		hold = 0
	}
	msgs, err := s.hub.Drain(c.Request.Context(), sid, hold)
	if err != nil {
		// client went away; nothing to answer
		c.Abort()
		return
	}
	s.reply(c, cb, nil, msgs)
}

func (s *Server) reply(c *gin.Context, cb string, errPayload any, data any) {
	body, err := script.Render(cb, errPayload, data)
	if err != nil {
		s.logger.Error().Err(err).Str("callback", cb).Msg("render poll reply")
		c.String(http.StatusInternalServerError, "render failed")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", body)
}

func (s *Server) handleWrite(c *gin.Context) {
	sid := c.Query(ParamSession)
	if _, err := uuid.Parse(sid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSession.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxMessageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if int64(len(body)) > s.cfg.MaxMessageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errMessageTooLarge.Error()})
		return
	}

	msg, err := toMessage(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.Touch(sid)
	delivered := s.hub.Broadcast(msg)
	s.logger.Debug().Str("session", sid).Int("bytes", len(body)).Int("delivered", delivered).Msg("message relayed")
	c.Status(http.StatusNoContent)
}

// toMessage keeps JSON bodies as they are and wraps anything else as a JSON string.
func toMessage(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	raw, err := json.Marshal(string(body))
	if err != nil {
		return nil, err
	}
	return raw, nil
}
