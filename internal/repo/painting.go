package repo

import (
	"context"
	"errors"
	"time"

	"event-canvas-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaintingRepo represents the repository for the painting model
type PaintingRepo struct {
	db *gorm.DB
}

type PaintingRepoInterface interface {
	CreatePainting(ctx context.Context, painting *models.Painting) (uuid.UUID, error)
	GetPaintingsByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Painting, error)
	GetPainting(ctx context.Context, id uuid.UUID) (*models.Painting, error)
}

func NewPaintingRepository(db *gorm.DB) PaintingRepoInterface {
	return &PaintingRepo{db: db}
}

// CreatePainting creates a new painting in the database
func (r *PaintingRepo) CreatePainting(ctx context.Context, painting *models.Painting) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()
	painting.UUID = id
	painting.CreatedAt = now
	painting.UpdatedAt = now
	err := r.db.WithContext(ctx).Create(painting).Error
	return id, err
}

// GetPaintingsByEvent returns the event's paintings, newest first
func (r *PaintingRepo) GetPaintingsByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Painting, error) {
	var paintings []models.Painting
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at desc").
		Find(&paintings).Error
	return paintings, err
}

func (r *PaintingRepo) GetPainting(ctx context.Context, id uuid.UUID) (*models.Painting, error) {
	var painting models.Painting
	err := r.db.WithContext(ctx).Where("uuid = ?", id).First(&painting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &painting, nil
}
