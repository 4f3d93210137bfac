package repo

import (
	"context"
	"fmt"
	"time"

	"event-canvas-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StrokeRepo is the durable, append-only stroke log of every painting.
type StrokeRepo struct {
	db *gorm.DB
}

type StrokeRepoInterface interface {
	Append(ctx context.Context, paintingID string, stroke models.Stroke) error
	LoadAll(ctx context.Context, paintingID string) ([]models.Stroke, error)
	LoadPreview(ctx context.Context, paintingID string, limit int) ([]models.Stroke, error)
}

func NewStrokeRepository(db *gorm.DB) StrokeRepoInterface {
	return &StrokeRepo{db: db}
}

// Append durably records one completed stroke. Appending a stroke id that is
// already stored is a no-op, so retries never duplicate a stroke.
func (r *StrokeRepo) Append(ctx context.Context, paintingID string, stroke models.Stroke) error {
	pid, err := uuid.Parse(paintingID)
	if err != nil {
		return fmt.Errorf("parse painting id: %w", err)
	}
	if err := stroke.Validate(); err != nil {
		return err
	}
	row, err := models.NewCanvasStroke(pid, stroke)
	if err != nil {
		return err
	}
	row.CreatedAt = time.Now().UTC()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
}

// LoadAll returns every stroke of the painting in insertion order.
func (r *StrokeRepo) LoadAll(ctx context.Context, paintingID string) ([]models.Stroke, error) {
	return r.load(ctx, paintingID, 0)
}

// LoadPreview returns at most limit strokes in insertion order, for
// thumbnails that do not need a bit-correct redraw.
func (r *StrokeRepo) LoadPreview(ctx context.Context, paintingID string, limit int) ([]models.Stroke, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.load(ctx, paintingID, limit)
}

func (r *StrokeRepo) load(ctx context.Context, paintingID string, limit int) ([]models.Stroke, error) {
	pid, err := uuid.Parse(paintingID)
	if err != nil {
		return nil, fmt.Errorf("parse painting id: %w", err)
	}

	query := r.db.WithContext(ctx).
		Where("painting_id = ?", pid).
		Order("created_at asc").
		Order("timestamp asc").
		Order("uuid asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.CanvasStroke
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	strokes := make([]models.Stroke, 0, len(rows))
	for _, row := range rows {
		s, err := row.Stroke()
		if err != nil {
			return nil, err
		}
		strokes = append(strokes, s)
	}
	return strokes, nil
}
