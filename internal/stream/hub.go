// Package stream pushes newly recorded positions to WebSocket subscribers
// of a route.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/models"
)

const (
	sendBuffer = 16
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.send)
		_ = s.conn.Close()
	})
}

// Hub fans recorded positions out to the subscribers of their route. A
// subscriber that cannot keep up is disconnected rather than slowing down
// ingestion.
type Hub struct {
	mu     sync.RWMutex
	routes map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{routes: make(map[string]map[*subscriber]struct{})}
}

// PositionRecorded implements tracking.PositionListener.
func (h *Hub) PositionRecorded(position models.VehiclePosition) {
	data, err := json.Marshal(position)
	if err != nil {
		log.WithError(err).Error("Failed to marshal position for stream")
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.routes[position.RouteID] {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		log.WithField("route_id", position.RouteID).Warn("Dropping slow stream subscriber")
		h.remove(position.RouteID, s)
	}
}

// Subscribers returns how many clients are subscribed to routeID.
func (h *Hub) Subscribers(routeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[routeID])
}

// ServeRoute upgrades the request and streams positions recorded on routeID
// until the client disconnects.
func (h *Hub) ServeRoute(w http.ResponseWriter, r *http.Request, routeID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(routeID, s)

	go h.writePump(routeID, s)
	h.readPump(routeID, s)
}

func (h *Hub) add(routeID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.routes[routeID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.routes[routeID] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) remove(routeID string, s *subscriber) {
	h.mu.Lock()
	if subs, ok := h.routes[routeID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.routes, routeID)
		}
	}
	h.mu.Unlock()
	s.close()
}

func (h *Hub) writePump(routeID string, s *subscriber) {
	for data := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(routeID, s)
			return
		}
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(routeID string, s *subscriber) {
	defer h.remove(routeID, s)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscriber
	for routeID, subs := range h.routes {
		for s := range subs {
			all = append(all, s)
		}
		delete(h.routes, routeID)
	}
	h.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
