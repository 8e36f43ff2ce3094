package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-image-filter/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type viewer struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

type message struct {
	sessionID string
	payload   []byte
}

// Hub pushes session snapshots to websocket viewers subscribed to that session
type Hub struct {
	viewers    map[string]map[*viewer]struct{}
	broadcast  chan message
	register   chan *viewer
	unregister chan *viewer
	done       chan struct{}
	mutex      sync.RWMutex
}

// NewHub creates a hub; Run must be started before viewers connect
func NewHub() *Hub {
	return &Hub{
		viewers:    make(map[string]map[*viewer]struct{}),
		broadcast:  make(chan message, 64),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for _, set := range h.viewers {
				for v := range set {
					close(v.send)
				}
			}
			h.viewers = make(map[string]map[*viewer]struct{})
			h.mutex.Unlock()
			return

		case v := <-h.register:
			h.mutex.Lock()
			if h.viewers[v.sessionID] == nil {
				h.viewers[v.sessionID] = make(map[*viewer]struct{})
			}
			h.viewers[v.sessionID][v] = struct{}{}
			h.mutex.Unlock()
			logger.WithSession(v.sessionID, 0).Debug("Viewer connected")

		case v := <-h.unregister:
			h.remove(v)

		case msg := <-h.broadcast:
			h.mutex.RLock()
			var slow []*viewer
			for v := range h.viewers[msg.sessionID] {
				select {
				case v.send <- msg.payload:
				default:
					slow = append(slow, v)
				}
			}
			h.mutex.RUnlock()
			for _, v := range slow {
				h.remove(v)
			}
		}
	}
}

func (h *Hub) remove(v *viewer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	set, ok := h.viewers[v.sessionID]
	if !ok {
		return
	}
	if _, ok := set[v]; ok {
		delete(set, v)
		close(v.send)
		if len(set) == 0 {
			delete(h.viewers, v.sessionID)
		}
		logger.WithSession(v.sessionID, 0).Debug("Viewer disconnected")
	}
}

// OnEvent forwards the event snapshot to the session's viewers without blocking
func (h *Hub) OnEvent(ctx context.Context, event SessionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("Failed to encode session event")
		return
	}
	select {
	case h.broadcast <- message{sessionID: event.SessionID, payload: payload}:
	default:
		logger.WithSession(event.SessionID, event.Seq).Warn("Websocket broadcast queue full, dropping event")
	}
}

// GetObserverName returns the observer name
func (h *Hub) GetObserverName() string {
	return "websocket_hub"
}

// ViewerCount returns the number of viewers attached to sessionID
func (h *Hub) ViewerCount(sessionID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.viewers[sessionID])
}

// Serve upgrades the request and streams events of sessionID until the viewer leaves.
// initial, when non-nil, is sent first so the viewer starts with the current state.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("WebSocket upgrade error")
		return
	}

	v := &viewer{sessionID: sessionID, conn: conn, send: make(chan []byte, sendBuffer)}
	if initial != nil {
		v.send <- initial
	}
	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return
	}

	go v.writePump()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- v:
	case <-h.done:
	}
}

func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
