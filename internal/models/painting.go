package models

import (
	"time"

	"github.com/google/uuid"
)

// Painting represents one drawable canvas inside an event
type Painting struct {
	UUID      uuid.UUID `gorm:"primarykey" json:"uuid"`
	EventID   uuid.UUID `gorm:"not null;index" json:"event_id"`
	Title     string    `gorm:"not null" json:"title"`
	PositionX float64   `json:"position_x"`
	PositionY float64   `json:"position_y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Topic returns the realtime topic a painting's live session runs on.
func (p Painting) Topic() string {
	return PaintingTopic(p.UUID.String())
}

// PaintingTopic builds the realtime topic name for a painting id.
func PaintingTopic(paintingID string) string {
	return "painting:" + paintingID
}

// EventTopic builds the realtime topic used for event-wide announcements.
func EventTopic(eventID string) string {
	return "event:" + eventID
}
