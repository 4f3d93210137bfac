package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"event-canvas-backend/internal/metrics"
)

var (
	ErrChannelClosed = errors.New("realtime: channel closed")
	ErrNotSubscribed = errors.New("realtime: channel not subscribed")
	ErrInvalidTopic  = errors.New("realtime: invalid topic")
)

// DeliverFunc hands a message to one member's connection. It runs with the
// hub lock held, so it must not block and must not call back into the hub.
// It reports false when the message had to be dropped.
type DeliverFunc func(Message) bool

// Hub owns every topic's members and presence. Presence for a key is the
// meta most recently tracked by any member holding that key.
type Hub struct {
	mu      sync.Mutex
	topics  map[string]*topic
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type topic struct {
	name     string
	members  map[*Member]struct{}
	presence map[string]map[*Member]presenceEntry
	seq      uint64
}

type presenceEntry struct {
	meta json.RawMessage
	seq  uint64
}

// Member is one subscription of one connection to one topic.
type Member struct {
	hub     *Hub
	topic   string
	key     string
	deliver DeliverFunc
	left    bool
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics:  make(map[string]*topic),
		logger:  logger.With("component", "realtime"),
		metrics: m,
	}
}

// Join subscribes key to topicName. The new member is sent a joined
// confirmation followed by the topic's full presence state.
func (h *Hub) Join(topicName, key string, deliver DeliverFunc) (*Member, error) {
	if !ValidTopic(topicName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topicName)
	}
	if key == "" {
		return nil, errors.New("realtime: presence key is required")
	}
	if deliver == nil {
		return nil, errors.New("realtime: deliver func is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[topicName]
	if t == nil {
		t = &topic{
			name:     topicName,
			members:  make(map[*Member]struct{}),
			presence: make(map[string]map[*Member]presenceEntry),
		}
		h.topics[topicName] = t
	}
	m := &Member{hub: h, topic: topicName, key: key, deliver: deliver}
	t.members[m] = struct{}{}
	h.metrics.MemberJoined()

	h.send(m, mustMessage(MessageTypeJoined, topicName, JoinPayload{Key: key}))
	h.send(m, mustMessage(MessageTypePresenceState, topicName, t.state()))
	h.logger.Debug("member joined", "topic", topicName, "key", key, "members", len(t.members))
	return m, nil
}

// Publish broadcasts a server-originated event to every member of a topic.
func (h *Hub) Publish(topicName, event string, payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[topicName]
	if t == nil {
		return
	}
	msg := mustMessage(MessageTypeBroadcast, topicName, BroadcastPayload{
		Event:   event,
		Sender:  ServerSender,
		Payload: payload,
	})
	for m := range t.members {
		h.send(m, msg)
	}
	h.metrics.RecordBroadcast()
}

// Presence returns a copy of the topic's current presence state.
func (h *Hub) Presence(topicName string) PresenceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[topicName]
	if t == nil {
		return PresenceState{}
	}
	return t.state()
}

// PresenceCount returns how many distinct keys are present on a topic.
func (h *Hub) PresenceCount(topicName string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[topicName]
	if t == nil {
		return 0
	}
	return len(t.presence)
}

func (h *Hub) send(m *Member, msg Message) {
	if !m.deliver(msg) {
		h.metrics.RecordDrop()
		h.logger.Warn("dropped message for slow member", "topic", m.topic, "key", m.key, "type", msg.Type)
	}
}

func (h *Hub) fanout(t *topic, msg Message, except *Member) {
	for m := range t.members {
		if m == except {
			continue
		}
		h.send(m, msg)
	}
}

// Key returns the member's presence key.
func (m *Member) Key() string {
	return m.key
}

// Topic returns the topic the member belongs to.
func (m *Member) Topic() string {
	return m.topic
}

// Track replaces this member's presence meta and announces the key's
// resulting record to every member of the topic, the sender included.
func (m *Member) Track(meta json.RawMessage) error {
	if !json.Valid(meta) {
		return errors.New("realtime: presence meta must be valid JSON")
	}
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.left {
		return ErrChannelClosed
	}
	t := h.topics[m.topic]

	t.seq++
	entries := t.presence[m.key]
	if entries == nil {
		entries = make(map[*Member]presenceEntry)
		t.presence[m.key] = entries
	}
	entries[m] = presenceEntry{meta: append(json.RawMessage(nil), meta...), seq: t.seq}
	h.metrics.RecordPresence()

	diff := PresenceDiff{Joins: PresenceState{m.key: latest(entries)}, Leaves: PresenceState{}}
	h.fanout(t, mustMessage(MessageTypePresenceDiff, t.name, diff), nil)
	return nil
}

// Untrack removes this member's presence meta.
func (m *Member) Untrack() error {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.left {
		return ErrChannelClosed
	}
	h.untrackLocked(h.topics[m.topic], m)
	return nil
}

func (h *Hub) untrackLocked(t *topic, m *Member) {
	entries := t.presence[m.key]
	entry, ok := entries[m]
	if !ok {
		return
	}
	delete(entries, m)
	h.metrics.RecordPresence()

	diff := PresenceDiff{Joins: PresenceState{}, Leaves: PresenceState{}}
	if len(entries) == 0 {
		delete(t.presence, m.key)
		diff.Leaves[m.key] = entry.meta
	} else {
		diff.Joins[m.key] = latest(entries)
	}
	h.fanout(t, mustMessage(MessageTypePresenceDiff, t.name, diff), nil)
}

// Broadcast sends an event to every other member of the topic. The sender
// never receives its own broadcast.
func (m *Member) Broadcast(event string, payload json.RawMessage) error {
	if event == "" {
		return errors.New("realtime: broadcast event is required")
	}
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.left {
		return ErrChannelClosed
	}
	t := h.topics[m.topic]
	msg := mustMessage(MessageTypeBroadcast, t.name, BroadcastPayload{
		Event:   event,
		Sender:  m.key,
		Payload: payload,
	})
	h.fanout(t, msg, m)
	h.metrics.RecordBroadcast()
	return nil
}

// Leave untracks and removes the member. It is safe to call more than once.
func (m *Member) Leave() {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.left {
		return
	}
	m.left = true
	t := h.topics[m.topic]
	h.untrackLocked(t, m)
	delete(t.members, m)
	h.metrics.MemberLeft()
	if len(t.members) == 0 {
		delete(h.topics, m.topic)
	}
	h.logger.Debug("member left", "topic", m.topic, "key", m.key, "members", len(t.members))
}

func (t *topic) state() PresenceState {
	state := make(PresenceState, len(t.presence))
	for key, entries := range t.presence {
		state[key] = latest(entries)
	}
	return state
}

func latest(entries map[*Member]presenceEntry) json.RawMessage {
	var best presenceEntry
	for _, e := range entries {
		if e.seq > best.seq {
			best = e
		}
	}
	return best.meta
}
