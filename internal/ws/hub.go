package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/sirupsen/logrus"
)

// Hub хранит подключения этого процесса: индекс по пользователю и комнаты инцидентов.
// События приходят через Deliver и уходят только локальным подключениям.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	originPatterns []string
	logger         *logrus.Logger
}

func NewHub(logger *logrus.Logger, originPatterns []string) *Hub {
	return &Hub{
		clients:        make(map[*Client]struct{}),
		byUser:         make(map[string]map[*Client]struct{}),
		rooms:          make(map[string]map[*Client]struct{}),
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// Serve принимает websocket-соединение пользователя и блокируется, пока оно открыто
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		return fmt.Errorf("websocket accept: %w", err)
	}

	c := newClient(userID, conn, h)
	h.Register(c)
	c.run(r.Context())
	return nil
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	addTo(h.byUser, c.userID, c)
	h.logger.WithFields(logrus.Fields{"user_id": c.userID, "clients": len(h.clients)}).Debug("Websocket client connected")
}

// Unregister удаляет клиента из всех индексов и закрывает его очередь; повторный вызов безопасен
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	removeFrom(h.byUser, c.userID, c)
	for room := range c.rooms {
		removeFrom(h.rooms, room, c)
	}
	c.rooms = nil
	close(c.send)
	h.logger.WithField("user_id", c.userID).Debug("Websocket client disconnected")
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	addTo(h.rooms, room, c)
	if c.rooms == nil {
		c.rooms = make(map[string]struct{})
	}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeFrom(h.rooms, room, c)
	delete(c.rooms, room)
}

// Deliver кладет конверт в очереди адресатов. Клиент с переполненной очередью отключается.
func (h *Hub) Deliver(env notify.Envelope) {
	h.mu.RLock()
	var targets []*Client
	switch env.Target.Kind {
	case notify.TargetBroadcast:
		targets = make([]*Client, 0, len(h.clients))
		for c := range h.clients {
			targets = append(targets, c)
		}
	case notify.TargetUser:
		for c := range h.byUser[env.Target.ID] {
			targets = append(targets, c)
		}
	case notify.TargetRoom:
		for c := range h.rooms[env.Target.ID] {
			targets = append(targets, c)
		}
	default:
		h.logger.WithField("target", env.Target.String()).Warn("Dropping event with unknown target")
	}

	var slow []*Client
	for _, c := range targets {
		select {
		case c.send <- env:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithFields(logrus.Fields{"user_id": c.userID, "event": env.Name}).Warn("Websocket client too slow, disconnecting")
		h.Unregister(c)
		c.close(websocket.StatusPolicyViolation, "too slow")
	}
}

// Shutdown закрывает все подключения
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if ctx.Err() != nil {
			return
		}
		h.Unregister(c)
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) roomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func addTo(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}
