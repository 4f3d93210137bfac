package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("realtime: not connected")

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 25 * time.Second
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReconnectBackOff overrides the backoff used between reconnect attempts.
func WithReconnectBackOff(fn func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = fn }
}

// WithHeader sets extra headers sent with every dial.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// Client is a WebSocket connection to a realtime server. It multiplexes any
// number of topic channels and transparently reconnects, rejoining every
// channel that is still subscribed.
type Client struct {
	url        string
	dialer     *websocket.Dialer
	header     http.Header
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn

	channels map[string]*wsChannel
}

// Dial connects to url (ws:// or wss://) and starts the read loop.
func Dial(ctx context.Context, url string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:      url,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With("component", "realtime-client"),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		channels: make(map[string]*wsChannel),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.conn = conn
	go c.run(conn)
	go c.heartbeat()
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

// Channel returns the channel for topic, creating it on first use. Asking
// for a topic that is open under another key unsubscribes the old channel.
func (c *Client) Channel(topic, key string) Channel {
	c.mu.Lock()
	old, ok := c.channels[topic]
	if ok && old.key == key {
		c.mu.Unlock()
		return old
	}
	c.mu.Unlock()
	if ok {
		if err := old.Unsubscribe(); err != nil {
			c.logger.Debug("unsubscribe replaced channel", "topic", topic, "error", err)
		}
	}

	ch := &wsChannel{
		client: c,
		topic:  topic,
		key:    key,
		logger: c.logger.With("topic", topic),
		box:    newMailbox(),
	}
	c.mu.Lock()
	c.channels[topic] = ch
	c.mu.Unlock()
	return ch
}

// Close shuts the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	channels := make([]*wsChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Unsubscribe()
	}
	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	<-c.done
	return err
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.readLoop(conn)
		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.conn = nil
		channels := c.snapshotChannels()
		c.mu.Unlock()
		for _, ch := range channels {
			ch.disconnected()
		}

		next, err := backoff.Retry(c.ctx, func() (*websocket.Conn, error) {
			conn, err := c.dial(c.ctx)
			if err != nil {
				c.logger.Warn("reconnect failed", "error", err)
			}
			return conn, err
		}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxElapsedTime(0))
		if err != nil {
			return
		}
		conn = next

		c.mu.Lock()
		c.conn = conn
		channels = c.snapshotChannels()
		c.mu.Unlock()
		c.logger.Info("reconnected", "channels", len(channels))
		for _, ch := range channels {
			ch.rejoin()
		}
	}
}

func (c *Client) snapshotChannels() []*wsChannel {
	channels := make([]*wsChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("read error", "error", err)
			}
			_ = conn.Close()
			return
		}
		msg, err := ParseMessage(raw)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		if msg.Type == MessageTypePong {
			continue
		}
		c.mu.Lock()
		ch := c.channels[msg.Topic]
		c.mu.Unlock()
		if ch == nil {
			if msg.Type == MessageTypeError {
				c.logger.Warn("server error", "data", string(msg.Data))
			}
			continue
		}
		ch.deliver(msg)
	}
}

func (c *Client) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.write(Message{Type: MessageTypePing})
		}
	}
}

func (c *Client) write(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) forget(ch *wsChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
}

type wsChannel struct {
	handlers
	client *Client
	topic  string
	key    string
	logger *slog.Logger
	box    *mailbox

	mu         sync.Mutex
	subscribed bool
	joined     bool
	closed     bool
}

var _ Channel = (*wsChannel)(nil)

func (ch *wsChannel) Topic() string { return ch.topic }
func (ch *wsChannel) Key() string   { return ch.key }

func (ch *wsChannel) Subscribe() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	if ch.subscribed {
		ch.mu.Unlock()
		return nil
	}
	ch.subscribed = true
	ch.mu.Unlock()

	err := ch.sendJoin()
	if errors.Is(err, ErrNotConnected) {
		// joined again by the reconnect loop
		return nil
	}
	return err
}

func (ch *wsChannel) sendJoin() error {
	msg, err := NewMessage(MessageTypeJoin, ch.topic, JoinPayload{Key: ch.key})
	if err != nil {
		return err
	}
	return ch.client.write(msg)
}

func (ch *wsChannel) deliver(msg Message) {
	if msg.Type == MessageTypeJoined {
		ch.mu.Lock()
		ch.joined = true
		ch.mu.Unlock()
	}
	ch.box.push(func() { ch.dispatch(msg, ch.logger) })
}

func (ch *wsChannel) disconnected() {
	ch.mu.Lock()
	wasJoined := ch.joined
	ch.joined = false
	ch.mu.Unlock()
	if wasJoined {
		ch.box.push(func() { ch.emitStatus(StatusChannelError) })
	}
}

func (ch *wsChannel) rejoin() {
	ch.mu.Lock()
	want := ch.subscribed && !ch.closed
	ch.mu.Unlock()
	if !want {
		return
	}
	if err := ch.sendJoin(); err != nil {
		ch.logger.Warn("rejoin failed", "error", err)
	}
}

func (ch *wsChannel) ready() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	if !ch.joined {
		return ErrNotSubscribed
	}
	return nil
}

func (ch *wsChannel) Track(meta json.RawMessage) error {
	if err := ch.ready(); err != nil {
		return err
	}
	return ch.client.write(Message{Type: MessageTypeTrack, Topic: ch.topic, Data: meta})
}

func (ch *wsChannel) Untrack() error {
	if err := ch.ready(); err != nil {
		return err
	}
	return ch.client.write(Message{Type: MessageTypeUntrack, Topic: ch.topic})
}

func (ch *wsChannel) Send(event string, payload json.RawMessage) error {
	if err := ch.ready(); err != nil {
		return err
	}
	msg, err := NewMessage(MessageTypeBroadcast, ch.topic, BroadcastPayload{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return ch.client.write(msg)
}

func (ch *wsChannel) Unsubscribe() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	joined := ch.joined
	ch.joined = false
	ch.mu.Unlock()

	ch.client.forget(ch)
	var err error
	if joined {
		err = ch.client.write(Message{Type: MessageTypeLeave, Topic: ch.topic})
		if errors.Is(err, ErrNotConnected) {
			err = nil
		}
	}
	ch.box.push(func() { ch.emitStatus(StatusClosed) })
	ch.box.close()
	return err
}
