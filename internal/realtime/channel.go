package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Status is a channel lifecycle transition.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusClosed       Status = "CLOSED"
)

// Broadcast is a decoded broadcast event as seen by a receiver.
type Broadcast struct {
	Event   string
	Sender  string
	Payload json.RawMessage
}

// Channel is a client's subscription to one topic. Handlers are registered
// before Subscribe and are invoked one at a time, in arrival order.
// StatusSubscribed is reported every time the subscription is (re)confirmed;
// each confirmation is followed by a full presence state.
type Channel interface {
	Topic() string
	Key() string
	OnStatus(fn func(Status))
	OnPresence(fn func(Message))
	OnBroadcast(event string, fn func(Broadcast))
	Subscribe() error
	Track(meta json.RawMessage) error
	Untrack() error
	Send(event string, payload json.RawMessage) error
	Unsubscribe() error
}

// handlers is the callback registry shared by channel implementations.
type handlers struct {
	mu        sync.RWMutex
	status    []func(Status)
	presence  []func(Message)
	broadcast map[string][]func(Broadcast)
}

func (h *handlers) OnStatus(fn func(Status)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = append(h.status, fn)
}

func (h *handlers) OnPresence(fn func(Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = append(h.presence, fn)
}

func (h *handlers) OnBroadcast(event string, fn func(Broadcast)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.broadcast == nil {
		h.broadcast = make(map[string][]func(Broadcast))
	}
	h.broadcast[event] = append(h.broadcast[event], fn)
}

func (h *handlers) emitStatus(s Status) {
	h.mu.RLock()
	fns := append([]func(Status){}, h.status...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (h *handlers) dispatch(msg Message, logger *slog.Logger) {
	switch msg.Type {
	case MessageTypeJoined:
		h.emitStatus(StatusSubscribed)
	case MessageTypePresenceState, MessageTypePresenceDiff:
		h.mu.RLock()
		fns := append([]func(Message){}, h.presence...)
		h.mu.RUnlock()
		for _, fn := range fns {
			fn(msg)
		}
	case MessageTypeBroadcast:
		var b BroadcastPayload
		if err := msg.DecodeData(&b); err != nil {
			logger.Debug("dropping malformed broadcast", "topic", msg.Topic, "error", err)
			return
		}
		h.mu.RLock()
		fns := append([]func(Broadcast){}, h.broadcast[b.Event]...)
		h.mu.RUnlock()
		for _, fn := range fns {
			fn(Broadcast{Event: b.Event, Sender: b.Sender, Payload: b.Payload})
		}
	case MessageTypeError:
		var e ErrorPayload
		_ = msg.DecodeData(&e)
		logger.Warn("realtime error", "topic", msg.Topic, "message", e.Message)
	}
}

// mailbox runs queued callbacks on a single goroutine, in order, without
// ever blocking the producer.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	closed bool
	done   chan struct{}
}

func newMailbox() *mailbox {
	b := &mailbox{notify: make(chan struct{}, 1), done: make(chan struct{})}
	go b.run()
	return b
}

func (b *mailbox) push(fn func()) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, fn)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting work; callbacks already queued still run.
func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *mailbox) run() {
	defer close(b.done)
	for range b.notify {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closed := b.closed
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			fn()
		}
	}
}
