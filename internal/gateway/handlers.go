package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ticklet-push-gateway/internal/events"
	"ticklet-push-gateway/internal/idempotency"
	"ticklet-push-gateway/internal/metrics"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReadyz(c *gin.Context) {
	if s.ready != nil && !s.ready() {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ready")
}

// handlePush runs the full admission pipeline. Ordering matters: the
// idempotency replay short-circuits before any admission check so replays
// never burn rate-limit tokens or touch the breaker.
func (s *Server) handlePush(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		metrics.PushRequestsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, PushResponse{Error: "failed to read request body"})
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" {
		metrics.PushRequestsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, PushResponse{Error: "missing idempotency key"})
		return
	}

	rec, found, err := s.store.Get(c.Request.Context(), key)
	if err != nil {
		s.log.Error().Err(err).Msg("idempotency lookup failed")
		c.JSON(http.StatusInternalServerError, PushResponse{Error: "idempotency store unavailable"})
		return
	}
	if found {
		metrics.PushRequestsTotal.WithLabelValues("idempotent").Inc()
		s.bus.PublishPushOutcome(events.EventPushReplayed, "", "", "")
		c.Data(http.StatusConflict, "application/json; charset=utf-8", rec.Response)
		return
	}

	req, err := ParsePushRequest(rawBody)
	if err != nil {
		metrics.PushRequestsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, PushResponse{Error: err.Error()})
		return
	}

	chatID, ok := s.channels[req.Channel]
	if !ok || chatID == "" {
		metrics.PushRequestsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, PushResponse{Channel: req.Channel, Error: "unknown channel"})
		return
	}

	if !s.bucket.Consume() {
		metrics.PushRequestsTotal.WithLabelValues("rate_limited").Inc()
		c.JSON(http.StatusTooManyRequests, PushResponse{Channel: req.Channel, Error: "rate limit exceeded"})
		return
	}

	if !s.breaker.Allow() {
		metrics.CircuitBreakerState.Set(s.breaker.State().GaugeValue())
		metrics.PushRequestsTotal.WithLabelValues("circuit_breaker").Inc()
		c.JSON(http.StatusServiceUnavailable, PushResponse{Channel: req.Channel, Error: "circuit breaker open"})
		return
	}
	metrics.CircuitBreakerState.Set(s.breaker.State().GaugeValue())

	// Concurrent submissions with the same key collapse onto one dispatch;
	// the non-leaders receive the leader's outcome as a replay. The closure
	// runs in the leader's goroutine, so the flag is settled when Do returns.
	leader := false
	v, _, _ := s.flight.Do(key, func() (interface{}, error) {
		leader = true
		return s.process(c.Request.Context(), key, req, chatID), nil
	})
	result := v.(*idempotency.Record)

	if !leader {
		// Only the leader records a breaker outcome for its admission.
		s.breaker.Release()
		metrics.PushRequestsTotal.WithLabelValues("idempotent").Inc()
		c.Data(http.StatusConflict, "application/json; charset=utf-8", result.Response)
		return
	}
	c.Data(result.Status, "application/json; charset=utf-8", result.Response)
}

// process performs one breaker-guarded dispatch and records the terminal
// outcome. The dispatch context is detached from the inbound request: a
// client disconnect does not abort an in-flight send.
func (s *Server) process(reqCtx context.Context, key string, req *PushRequest, chatID string) *idempotency.Record {
	ctx := context.WithoutCancel(reqCtx)

	start := time.Now()
	messageID, kind, err := s.dispatcher.Dispatch(ctx, chatID, req.Text, req.ImageURL)
	metrics.TelegramDispatchSeconds.Observe(time.Since(start).Seconds())

	var resp PushResponse
	var status int
	if err != nil {
		s.breaker.RecordFailure()
		status = http.StatusBadGateway
		resp = PushResponse{Channel: req.Channel, Error: err.Error()}
		metrics.PushRequestsTotal.WithLabelValues("failure").Inc()
		s.bus.PublishPushOutcome(events.EventPushFailed, req.Channel, "", err.Error())
		s.log.Error().Err(err).Str("channel", req.Channel).Msg("push failed")
	} else {
		s.breaker.RecordSuccess()
		status = http.StatusOK
		resp = PushResponse{OK: true, MessageID: messageID, Channel: req.Channel}
		metrics.TelegramDispatchTotal.WithLabelValues(string(kind)).Inc()
		metrics.PushRequestsTotal.WithLabelValues("success").Inc()
		s.bus.PublishPushOutcome(events.EventPushSucceeded, req.Channel, messageID, "")
		s.log.Info().Str("channel", req.Channel).Str("message_id", messageID).Msg("push succeeded")
	}
	metrics.CircuitBreakerState.Set(s.breaker.State().GaugeValue())

	body, _ := json.Marshal(resp)
	rec := &idempotency.Record{Key: key, Response: body, Status: status}

	// Failures are cached too: a client retrying a terminally-failed key
	// gets the cached outcome instead of re-triggering dispatch storms.
	if err := s.store.Set(ctx, rec); err != nil {
		s.log.Error().Err(err).Msg("failed to store idempotency record")
	}
	return rec
}

func (s *Server) handleBreakerStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.breaker.Stats())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.breaker.ForceReset()
	metrics.CircuitBreakerState.Set(s.breaker.State().GaugeValue())
	c.JSON(http.StatusOK, s.breaker.Stats())
}
