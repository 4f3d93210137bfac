package libraries

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"event-canvas-backend/internal/metrics"
	"event-canvas-backend/internal/realtime"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1 << 20
)

// Client is one websocket connection. A connection may be subscribed to any
// number of topics, one member per topic.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu      sync.Mutex
	closed  bool
	members map[string]*realtime.Member
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:      uuid.NewString(),
		Conn:    conn,
		Send:    make(chan []byte, buffer),
		members: make(map[string]*realtime.Member),
	}
}

// deliver is the hub's DeliverFunc for this client. It never blocks: a full
// send buffer drops the message.
func (c *Client) deliver(msg realtime.Message) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- raw:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// SendErrorMessage sends a standardized error message to a client.
func SendErrorMessage(client *Client, topic, errorMsg string) {
	msg, err := realtime.NewMessage(realtime.MessageTypeError, topic, realtime.ErrorPayload{Message: errorMsg})
	if err != nil {
		return
	}
	client.deliver(msg)
}

func sendPongMessage(client *Client) {
	client.deliver(realtime.Message{Type: realtime.MessageTypePong})
}

// WebSocketHandler serves the realtime protocol on a fiber websocket route
// and bridges every connection to hub.
func WebSocketHandler(hub *realtime.Hub, m *metrics.Metrics, sendBuffer int, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "websocket")

	return websocket.New(func(conn *websocket.Conn) {
		client := newClient(conn, sendBuffer)
		log := logger.With("client_id", client.ID)
		m.ConnectionOpened()
		log.Debug("connection opened")

		// Write loop
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for msg := range client.Send {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					log.Debug("write error", "error", err)
					_ = conn.Close()
					return
				}
			}
		}()

		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		// Read loop
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Debug("read error", "error", err)
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))

			msg, err := realtime.ParseMessage(raw)
			if err != nil {
				SendErrorMessage(client, "", "Invalid JSON format")
				continue
			}
			if err := handleMessage(hub, client, msg); err != nil {
				SendErrorMessage(client, msg.Topic, err.Error())
			}
		}

		for _, member := range client.members {
			member.Leave()
		}
		client.close()
		<-writerDone
		_ = conn.Close()
		m.ConnectionClosed()
		log.Debug("connection closed")
	})
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

func handleMessage(hub *realtime.Hub, client *Client, msg realtime.Message) error {
	switch msg.Type {
	case realtime.MessageTypePing:
		sendPongMessage(client)
		return nil
	case realtime.MessageTypeJoin:
		var p realtime.JoinPayload
		if err := msg.DecodeData(&p); err != nil || p.Key == "" {
			return protocolError("Join requires a presence key")
		}
		if old := client.members[msg.Topic]; old != nil {
			old.Leave()
			delete(client.members, msg.Topic)
		}
		member, err := hub.Join(msg.Topic, p.Key, client.deliver)
		if err != nil {
			return err
		}
		client.members[msg.Topic] = member
		return nil
	}

	member := client.members[msg.Topic]
	if member == nil {
		return protocolError("Not subscribed to topic")
	}
	switch msg.Type {
	case realtime.MessageTypeLeave:
		member.Leave()
		delete(client.members, msg.Topic)
		return nil
	case realtime.MessageTypeTrack:
		return member.Track(msg.Data)
	case realtime.MessageTypeUntrack:
		return member.Untrack()
	case realtime.MessageTypeBroadcast:
		var p realtime.BroadcastPayload
		if err := msg.DecodeData(&p); err != nil {
			return protocolError("Invalid broadcast payload")
		}
		return member.Broadcast(p.Event, p.Payload)
	}
	return protocolError("Type is invalid or not provided")
}
