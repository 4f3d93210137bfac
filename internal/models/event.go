package models

import (
	"time"

	"github.com/google/uuid"
)

// Event represents the database model for an event. Paintings, strokes and
// presence are all partitioned by the event that owns them.
type Event struct {
	UUID      uuid.UUID `gorm:"primarykey" json:"uuid"`
	Name      string    `gorm:"not null" json:"name"`
	Date      time.Time `gorm:"not null" json:"date"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
