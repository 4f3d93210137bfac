package session

import (
	"event-canvas-backend/internal/broadcast"
	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/presence"
)

// event is one change received from the canvas channel. apply runs with the
// controller lock held.
type event interface {
	apply(c *Controller)
}

type syncEvent struct {
	peers presence.Peers
}

func (e syncEvent) apply(c *Controller) {
	c.peers = make(presence.Peers, len(e.peers))
	for userID, info := range e.peers {
		c.peers[userID] = info
	}
	for userID := range c.ghosts {
		if _, ok := c.peers[userID]; !ok {
			delete(c.ghosts, userID)
		}
	}
}

type joinEvent struct {
	userID string
	info   models.PresenceInfo
}

func (e joinEvent) apply(c *Controller) {
	c.peers[e.userID] = e.info
}

type leaveEvent struct {
	userID string
}

// Strokes by the user stay; only their live state goes.
func (e leaveEvent) apply(c *Controller) {
	delete(c.peers, e.userID)
	delete(c.ghosts, e.userID)
}

type strokeEvent struct {
	stroke models.Stroke
}

func (e strokeEvent) apply(c *Controller) {
	c.addStrokeLocked(e.stroke)
	delete(c.ghosts, e.stroke.UserID)
}

type ghostEvent struct {
	progress broadcast.Progress
}

func (e ghostEvent) apply(c *Controller) {
	c.ghosts[e.progress.UserID] = Ghost{
		Points: append([]models.Point(nil), e.progress.Points...),
		Color:  e.progress.Color,
	}
}

type clearEvent struct {
	userID string
}

func (e clearEvent) apply(c *Controller) {
	delete(c.ghosts, e.userID)
}
