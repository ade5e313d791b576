package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

// Event types pushed to websocket subscribers.
const (
	EventStatus         = "status"
	EventCaptureState   = "capture_state"
	EventUploadComplete = "upload_complete"
	EventDescription    = "description"
	EventTranscribing   = "transcribing"
	EventError          = "error"
)

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Event is the websocket message envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type captureStatePayload struct {
	State  domain.CaptureState `json:"state"`
	Reason domain.StateReason  `json:"reason"`
}

type errorPayload struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Hub fans pipeline events out to every connected websocket subscriber.
// Subscribers that fall behind are disconnected.
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:     log.WithComponent("events"),
		clients: make(map[*subscriber]struct{}),
	}
}

func (h *Hub) CaptureStateChanged(state domain.CaptureState, reason domain.StateReason) {
	h.broadcast(Event{Type: EventCaptureState, Data: captureStatePayload{State: state, Reason: reason}})
}

func (h *Hub) UploadComplete(key string) {
	h.broadcast(Event{Type: EventUploadComplete, Data: key})
}

func (h *Hub) DescriptionChanged(text string) {
	h.broadcast(Event{Type: EventDescription, Data: text})
}

func (h *Hub) TranscribingChanged(active bool) {
	h.broadcast(Event{Type: EventTranscribing, Data: active})
}

func (h *Hub) PipelineError(code domain.ErrorCode, message string) {
	h.broadcast(Event{Type: EventError, Data: errorPayload{Code: code, Message: message}})
}

// Subscribers reports how many websocket clients are connected.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(ev Event) {
	var slow []*subscriber

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow event subscriber", map[string]interface{}{"remote": c.remote})
		h.remove(c)
	}
}

func (h *Hub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// serve registers conn and queues the snapshot while holding the registry lock,
// so the snapshot goes out first and no broadcast after it is missed. It blocks
// until the connection ends.
func (h *Hub) serve(conn *websocket.Conn, snapshot func() Event) {
	c := &subscriber{conn: conn, send: make(chan Event, clientBuffer), remote: conn.RemoteAddr().String()}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	c.send <- snapshot()
	h.mu.Unlock()
	h.log.Debug("event subscriber connected", map[string]interface{}{"remote": c.remote})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop()
	}()

	c.readLoop()
	h.remove(c)
	<-done
	h.log.Debug("event subscriber disconnected", map[string]interface{}{"remote": c.remote})
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan Event
	remote string
}

// readLoop discards inbound messages and returns when the peer goes away.
func (c *subscriber) readLoop() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ ports.EventSink = (*Hub)(nil)
