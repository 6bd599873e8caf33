package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
)

const (
	// sendChannelSize - сколько событий может ждать отправки одному клиенту
	sendChannelSize = 32
	pingPeriod      = 30 * time.Second
	writeTimeout    = 10 * time.Second
)

// Входящие сообщения клиента
const (
	MessageJoinIncident  = "join_incident"
	MessageLeaveIncident = "leave_incident"
)

type Message struct {
	Type       string `json:"type"`
	IncidentID string `json:"incident_id"`
}

type Client struct {
	userID string
	conn   *websocket.Conn
	hub    *Hub
	send   chan notify.Envelope
	// rooms защищено мьютексом хаба
	rooms map[string]struct{}

	closeOnce sync.Once
}

func newClient(userID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		userID: userID,
		conn:   conn,
		hub:    hub,
		send:   make(chan notify.Envelope, sendChannelSize),
	}
}

func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx, cancel)
	c.readPump(ctx)

	c.hub.Unregister(c)
	c.close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(code, reason); err != nil {
			c.hub.logger.WithError(err).WithField("user_id", c.userID).Debug("Failed to close websocket")
		}
	})
}

func (c *Client) readPump(ctx context.Context) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			c.hub.logger.WithError(err).WithField("user_id", c.userID).Debug("Websocket read finished")
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, env)
			writeCancel()
			if err != nil {
				c.hub.logger.WithError(err).WithField("user_id", c.userID).Warn("Failed to write websocket message")
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.hub.logger.WithError(err).WithField("user_id", c.userID).Debug("Failed to ping websocket client")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	log := c.hub.logger.WithField("user_id", c.userID)
	id, err := uuid.Parse(msg.IncidentID)
	if err != nil {
		log.WithField("incident_id", msg.IncidentID).Debug("Ignoring websocket message with invalid incident id")
		return
	}

	switch msg.Type {
	case MessageJoinIncident:
		c.hub.Join(c, id.String())
		log.WithField("incident_id", id).Debug("Joined incident room")
	case MessageLeaveIncident:
		c.hub.Leave(c, id.String())
		log.WithField("incident_id", id).Debug("Left incident room")
	default:
		log.WithField("type", msg.Type).Debug("Received unknown websocket message type")
	}
}
