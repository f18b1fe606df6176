package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/relay"
)

// Handler routes popup API requests into the relay coordinator.
type Handler struct {
	coordinator *relay.Coordinator
	verifier    domain.UnlockVerifier
	logger      *zap.Logger
}

// NewHandler creates the popup API handler.
func NewHandler(coordinator *relay.Coordinator, verifier domain.UnlockVerifier, logger *zap.Logger) *Handler {
	return &Handler{coordinator: coordinator, verifier: verifier, logger: logger}
}

// State answers an ad hoc state pull, preferring a fresh scrape of the
// focused compose tab over the cached snapshot.
func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.CurrentState(c.Request.Context()))
}

// Usage reports the current quota status.
func (h *Handler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.CheckUsage())
}

// Sent records a send (used when send detection in the page misses).
func (h *Handler) Sent(c *gin.Context) {
	reply := h.coordinator.EmailSent(time.Now())
	c.JSON(http.StatusOK, gin.H{"count": reply.Count, "limit": reply.Limit})
}

// Settings returns the current persisted settings.
func (h *Handler) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Settings())
}

// UpdateSettings validates and persists new settings, fanning them out
// to subscribers.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var s domain.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings payload"})
		return
	}
	if s.PreviewWidth < 280 || s.PreviewWidth > 480 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("preview width %d out of range 280-480", s.PreviewWidth)})
		return
	}
	if s.QuotaPeriod != "day" && s.QuotaPeriod != "month" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quota period must be day or month"})
		return
	}

	h.coordinator.UpdateSettings(s)
	c.JSON(http.StatusOK, s)
}

type unlockRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// Unlock verifies a payment session and, on success, sets the durable
// unlock flag.
func (h *Handler) Unlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sessionId"})
		return
	}

	if err := h.coordinator.VerifyAndUnlock(c.Request.Context(), h.verifier, req.SessionID); err != nil {
		h.logger.Warn("unlock verification failed", zap.Error(err))
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unlocked": true})
}

// TogglePreview forwards the preview toggle to the attached tab.
func (h *Handler) TogglePreview(c *gin.Context) {
	if err := h.coordinator.TogglePreview(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"toggled": true})
}

// Events streams state changes as server-sent events. The first event
// is always the current snapshot; the stream ends when the client goes
// away or the subscriber is dropped for falling behind, which is the
// client's cue to reconnect.
func (h *Handler) Events(c *gin.Context) {
	updates, cancel := h.coordinator.Subscribe()
	defer cancel()

	setSSEHeaders(c.Writer)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	clientClosed := c.Request.Context().Done()
	for {
		select {
		case <-clientClosed:
			return
		case state, open := <-updates:
			if !open {
				return
			}
			sseWrite(c.Writer, "state", state)
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}
