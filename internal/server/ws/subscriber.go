// Package ws streams an order's status events to a WebSocket client.
package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexrouter/internal/fanout"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 16

	// subscribeWait bounds how long a client may take to name its order.
	subscribeWait = 30 * time.Second
)

var (
	errSubscriberClosed = errors.New("ws: subscriber closed")
	errSubscriberSlow   = errors.New("ws: subscriber send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades clients and registers them with the fan-out registry.
type Handler struct {
	registry *fanout.Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(registry *fanout.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger.With(slog.String("component", "ws")),
	}
}

// HandleWS expects the order id as the first text frame, then relays every
// status payload for that order until the terminal one, after which the
// connection is closed normally.
// GET /api/orders/execute
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(subscribeWait))
	mt, msg, err := conn.ReadMessage()
	orderID := strings.TrimSpace(string(msg))
	if err != nil || mt != websocket.TextMessage || orderID == "" {
		h.logger.Debug("client did not subscribe", slog.String("remote_addr", r.RemoteAddr))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected order id"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s := &subscriber{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		orderID: orderID,
		logger:  h.logger.With(slog.String("order_id", orderID)),
	}
	h.registry.Register(orderID, s)
	s.logger.Debug("subscriber registered")

	go s.writePump()
	go s.readPump(h.registry)
}

// subscriber implements fanout.Subscriber for one connection. Only
// writePump writes to conn.
type subscriber struct {
	conn    *websocket.Conn
	orderID string
	logger  *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Deliver queues payload without waiting on the peer.
func (s *subscriber) Deliver(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSubscriberClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return errSubscriberSlow
	}
}

// Close stops accepting payloads. Queued payloads are still written before
// the close frame.
func (s *subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// readPump discards client frames and detects disconnects.
func (s *subscriber) readPump(registry *fanout.Registry) {
	defer func() {
		registry.Unregister(s.orderID, s)
		s.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("client connection lost", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Compile-time interface check.
var _ fanout.Subscriber = (*subscriber)(nil)
