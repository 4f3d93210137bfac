package repo

import (
	"context"
	"errors"
	"time"

	"event-canvas-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRepo represents the repository for the event model
type EventRepo struct {
	db *gorm.DB
}

type EventRepoInterface interface {
	CreateEvent(ctx context.Context, event *models.Event) (uuid.UUID, error)
	GetAllEvents(ctx context.Context) ([]models.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	SetEventImage(ctx context.Context, id uuid.UUID, imageURL string) error
}

func NewEventRepository(db *gorm.DB) EventRepoInterface {
	return &EventRepo{db: db}
}

// CreateEvent creates a new event in the database
func (r *EventRepo) CreateEvent(ctx context.Context, event *models.Event) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()
	event.UUID = id
	event.CreatedAt = now
	event.UpdatedAt = now
	err := r.db.WithContext(ctx).Create(event).Error
	return id, err
}

// GetAllEvents returns all events, soonest first
func (r *EventRepo) GetAllEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).Order("date asc").Find(&events).Error
	return events, err
}

func (r *EventRepo) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("uuid = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepo) SetEventImage(ctx context.Context, id uuid.UUID, imageURL string) error {
	result := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("uuid = ?", id).
		Updates(map[string]interface{}{"image_url": imageURL, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
