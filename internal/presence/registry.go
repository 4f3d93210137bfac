// Package presence keeps the live map of who is on a canvas, what they are
// called, their colour, where their cursor is and whether they are drawing.
package presence

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/realtime"
)

var ErrLeft = errors.New("presence: registry has left")

// Peers maps a user id to the presence record that user last published.
type Peers map[string]models.PresenceInfo

func (p Peers) clone() Peers {
	out := make(Peers, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Registry tracks presence for one canvas channel. The channel key is the
// local user id. Callbacks run on the channel's delivery goroutine, one at a
// time, in arrival order.
type Registry struct {
	ch     realtime.Channel
	logger *slog.Logger

	mu         sync.Mutex
	self       models.PresenceInfo
	joined     bool
	subscribed bool
	left       bool
	peers      Peers

	onSync   []func(Peers)
	onJoin   []func(userID string, info models.PresenceInfo)
	onLeave  []func(userID string, info models.PresenceInfo)
	onStatus []func(realtime.Status)
}

// New wires a registry to ch. Handlers are attached immediately so they run
// ahead of anything registered on the channel later.
func New(ch realtime.Channel, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		ch:     ch,
		logger: logger.With("component", "presence", "topic", ch.Topic()),
		peers:  make(Peers),
	}
	ch.OnStatus(r.handleStatus)
	ch.OnPresence(r.handlePresence)
	return r
}

// UserID returns the local user id.
func (r *Registry) UserID() string {
	return r.ch.Key()
}

func (r *Registry) OnSync(fn func(Peers)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSync = append(r.onSync, fn)
}

func (r *Registry) OnJoin(fn func(userID string, info models.PresenceInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onJoin = append(r.onJoin, fn)
}

func (r *Registry) OnLeave(fn func(userID string, info models.PresenceInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeave = append(r.onLeave, fn)
}

// OnStatus observes channel status after the registry has reacted to it, so
// a StatusSubscribed callback always sees the local record already tracked.
func (r *Registry) OnStatus(fn func(realtime.Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = append(r.onStatus, fn)
}

// Join subscribes to the canvas channel. initial is published once the
// subscription is confirmed, never before, and again after every
// resubscription.
func (r *Registry) Join(initial models.PresenceInfo) error {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return ErrLeft
	}
	if r.joined {
		r.mu.Unlock()
		return nil
	}
	r.joined = true
	r.self = initial
	r.mu.Unlock()

	return r.ch.Subscribe()
}

// Publish replaces the local user's whole presence record. Before the
// subscription is confirmed the record is only remembered.
func (r *Registry) Publish(info models.PresenceInfo) error {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return ErrLeft
	}
	r.self = info
	subscribed := r.subscribed
	r.mu.Unlock()

	if !subscribed {
		return nil
	}
	return r.track(info)
}

// Update applies fn to a copy of the current record and publishes the result.
// The transport replaces records wholesale, so partial changes go through here.
func (r *Registry) Update(fn func(*models.PresenceInfo)) error {
	r.mu.Lock()
	info := r.self
	r.mu.Unlock()
	fn(&info)
	return r.Publish(info)
}

// Self returns the record the local user last published.
func (r *Registry) Self() models.PresenceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// Peers returns a copy of the current presence map, the local user included.
func (r *Registry) Peers() Peers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers.clone()
}

// Leave untracks the local user and unsubscribes. Peers observe a leave for
// this user id.
func (r *Registry) Leave() error {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return nil
	}
	r.left = true
	subscribed := r.subscribed
	r.subscribed = false
	r.peers = make(Peers)
	r.mu.Unlock()

	if subscribed {
		if err := r.ch.Untrack(); err != nil {
			r.logger.Debug("untrack on leave", "error", err)
		}
	}
	return r.ch.Unsubscribe()
}

func (r *Registry) track(info models.PresenceInfo) error {
	meta, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.ch.Track(meta)
}

func (r *Registry) handleStatus(s realtime.Status) {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return
	}
	switch s {
	case realtime.StatusSubscribed:
		r.subscribed = true
	default:
		r.subscribed = false
	}
	self := r.self
	fns := append([]func(realtime.Status){}, r.onStatus...)
	r.mu.Unlock()

	if s == realtime.StatusSubscribed {
		if err := r.track(self); err != nil {
			r.logger.Warn("publish presence after subscribe", "error", err)
		}
	}
	for _, fn := range fns {
		fn(s)
	}
}

type change struct {
	userID string
	info   models.PresenceInfo
}

func (r *Registry) handlePresence(msg realtime.Message) {
	var joins, leaves []change

	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return
	}
	switch msg.Type {
	case realtime.MessageTypePresenceState:
		var state realtime.PresenceState
		if err := msg.DecodeData(&state); err != nil {
			r.mu.Unlock()
			r.logger.Debug("dropping malformed presence state", "error", err)
			return
		}
		next := make(Peers, len(state))
		for userID, raw := range state {
			info, ok := r.decode(userID, raw)
			if !ok {
				continue
			}
			next[userID] = info
			if _, known := r.peers[userID]; !known {
				joins = append(joins, change{userID, info})
			}
		}
		for userID, info := range r.peers {
			if _, still := next[userID]; !still {
				leaves = append(leaves, change{userID, info})
			}
		}
		r.peers = next
	case realtime.MessageTypePresenceDiff:
		var diff realtime.PresenceDiff
		if err := msg.DecodeData(&diff); err != nil {
			r.mu.Unlock()
			r.logger.Debug("dropping malformed presence diff", "error", err)
			return
		}
		for userID, raw := range diff.Joins {
			info, ok := r.decode(userID, raw)
			if !ok {
				continue
			}
			if _, known := r.peers[userID]; !known {
				joins = append(joins, change{userID, info})
			}
			r.peers[userID] = info
		}
		for userID := range diff.Leaves {
			info, known := r.peers[userID]
			if !known {
				continue
			}
			delete(r.peers, userID)
			leaves = append(leaves, change{userID, info})
		}
	default:
		r.mu.Unlock()
		return
	}
	peers := r.peers.clone()
	joinFns := append([]func(string, models.PresenceInfo){}, r.onJoin...)
	leaveFns := append([]func(string, models.PresenceInfo){}, r.onLeave...)
	syncFns := append([]func(Peers){}, r.onSync...)
	r.mu.Unlock()

	for _, c := range joins {
		for _, fn := range joinFns {
			fn(c.userID, c.info)
		}
	}
	for _, c := range leaves {
		for _, fn := range leaveFns {
			fn(c.userID, c.info)
		}
	}
	for _, fn := range syncFns {
		fn(peers.clone())
	}
}

func (r *Registry) decode(userID string, raw json.RawMessage) (models.PresenceInfo, bool) {
	var info models.PresenceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		r.logger.Debug("dropping malformed presence record", "user_id", userID, "error", err)
		return models.PresenceInfo{}, false
	}
	return info, true
}
