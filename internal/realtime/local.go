package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// LocalChannel is a Channel attached directly to an in-process Hub. Tests
// and server-side tools use it to take part in a topic without a socket.
type LocalChannel struct {
	handlers
	hub    *Hub
	topic  string
	key    string
	logger *slog.Logger
	box    *mailbox

	mu         sync.Mutex
	member     *Member
	subscribed bool
	closed     bool
}

var _ Channel = (*LocalChannel)(nil)

// NewLocalChannel creates an unsubscribed channel on hub.
func NewLocalChannel(hub *Hub, topic, key string, logger *slog.Logger) *LocalChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalChannel{
		hub:    hub,
		topic:  topic,
		key:    key,
		logger: logger.With("component", "realtime", "topic", topic),
		box:    newMailbox(),
	}
}

func (c *LocalChannel) Topic() string { return c.topic }
func (c *LocalChannel) Key() string   { return c.key }

// Subscribe joins the topic. Calling it on an already subscribed channel is
// a no-op.
func (c *LocalChannel) Subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.subscribed = true
	if c.member != nil {
		return nil
	}
	return c.joinLocked()
}

func (c *LocalChannel) joinLocked() error {
	member, err := c.hub.Join(c.topic, c.key, c.deliver)
	if err != nil {
		return err
	}
	c.member = member
	return nil
}

func (c *LocalChannel) deliver(msg Message) bool {
	return c.box.push(func() { c.dispatch(msg, c.logger) })
}

func (c *LocalChannel) current() (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	if c.member == nil {
		return nil, ErrNotSubscribed
	}
	return c.member, nil
}

func (c *LocalChannel) Track(meta json.RawMessage) error {
	m, err := c.current()
	if err != nil {
		return err
	}
	return m.Track(meta)
}

func (c *LocalChannel) Untrack() error {
	m, err := c.current()
	if err != nil {
		return err
	}
	return m.Untrack()
}

func (c *LocalChannel) Send(event string, payload json.RawMessage) error {
	m, err := c.current()
	if err != nil {
		return err
	}
	return m.Broadcast(event, payload)
}

// Unsubscribe leaves the topic and reports StatusClosed once every message
// received before it has been handled.
func (c *LocalChannel) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	member := c.member
	c.member = nil
	c.mu.Unlock()

	if member != nil {
		member.Leave()
	}
	c.box.push(func() { c.emitStatus(StatusClosed) })
	c.box.close()
	return nil
}

// Interrupt simulates a dropped connection: the member leaves the topic and
// the channel reports StatusChannelError.
func (c *LocalChannel) Interrupt() {
	c.mu.Lock()
	member := c.member
	c.member = nil
	closed := c.closed
	c.mu.Unlock()
	if closed || member == nil {
		return
	}
	member.Leave()
	c.box.push(func() { c.emitStatus(StatusChannelError) })
}

// Resume rejoins after Interrupt, producing a fresh StatusSubscribed and a
// full presence state.
func (c *LocalChannel) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.member != nil || !c.subscribed {
		return nil
	}
	return c.joinLocked()
}

// Done is closed once the channel has been unsubscribed and every queued
// callback has run.
func (c *LocalChannel) Done() <-chan struct{} {
	return c.box.done
}
