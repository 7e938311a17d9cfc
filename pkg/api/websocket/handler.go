package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/pkg/ports"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
	buffer   int
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		buffer:   64,
	}
}

// HandleRunStream streams the events of one run as JSON text messages. The
// connection is closed after the run's final event.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	// Upgrade connection
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client only sends control frames; a read error means it left
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventChan := make(chan ports.Event, h.buffer)
	if err := h.subscribe(ctx, runID, eventChan); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}

	// Send events to client
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("failed to write message", zap.Error(err))
				return
			}

			if event.Type == ports.EventRunCompleted || event.Type == ports.EventRunFailed {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.Type)),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}

// subscribe forwards the run's events from both topics to ch
func (h *Handler) subscribe(ctx context.Context, runID string, ch chan<- ports.Event) error {
	eventHandler := func(_ context.Context, event ports.Event) error {
		// Only forward events for this run
		if event.RunID != runID {
			return nil
		}

		// Send to channel (non-blocking)
		select {
		case ch <- event:
		case <-ctx.Done():
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("run_id", runID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{ports.TopicRuns, ports.TopicJobs} {
		if err := h.eventBus.Subscribe(ctx, topic, eventHandler); err != nil {
			h.logger.Error("failed to subscribe to events",
				zap.String("topic", topic),
				zap.Error(err))
			return err
		}
	}
	return nil
}
