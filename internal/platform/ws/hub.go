// Package ws implements the push-capable channel transport over WebSocket.
// The hub owns connection lifecycle; the queue coordinator only ever holds
// lookup references to channels created here.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pixelvault/pixelvault-api/internal/queue"
)

const defaultWriteTimeout = 5 * time.Second

// Hub upgrades subscriber requests and registers the resulting channels
// with the coordinator.
type Hub struct {
	coordinator *queue.Coordinator
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHub creates a new Hub.
// If logger is nil, a default logger will be used.
func NewHub(coordinator *queue.Coordinator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "ws_hub"),
	}
}

// Subscribe upgrades the request to a WebSocket connection and attaches it
// as the entry's push channel. The read loop exists only to observe the
// close: clients never send meaningful frames.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, queueID uuid.UUID) error {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	ch := &channel{ws: wsConn}
	h.coordinator.AttachChannel(queueID, ch)
	h.logger.Info("subscriber connected", "queue_id", queueID)

	go h.readLoop(queueID, ch)
	return nil
}

// readLoop blocks until the peer closes or errors, then detaches the
// channel so broadcasts stop targeting it.
func (h *Hub) readLoop(queueID uuid.UUID, ch *channel) {
	for {
		if _, _, err := ch.ws.ReadMessage(); err != nil {
			break
		}
	}

	ch.markClosed()
	h.coordinator.DetachChannel(queueID, ch)
	_ = ch.ws.Close()
	h.logger.Info("subscriber disconnected", "queue_id", queueID)
}

// channel adapts one WebSocket connection to the queue.Channel contract.
type channel struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Ensure channel implements queue.Channel.
var _ queue.Channel = (*channel)(nil)

// Send pushes one JSON payload. A write against a closed or half-closed
// connection reports queue.ErrChannelGone so the broadcaster can request a
// detach; other failures are transient.
func (c *channel) Send(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return queue.ErrChannelGone
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	err := c.ws.WriteJSON(payload)
	if err == nil {
		return nil
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		websocket.IsUnexpectedCloseError(err) {
		c.closed = true
		return fmt.Errorf("%w: %v", queue.ErrChannelGone, err)
	}

	return fmt.Errorf("websocket write failed: %w", err)
}

// markClosed flags the channel so later sends fail fast with the
// permanent-gone signal.
func (c *channel) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
