package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/example/civictrack/internal/models"
)

// GormHistoryRepository stores status history.
type GormHistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository constructs a history repository.
func NewHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	return &GormHistoryRepository{db: db}
}

// Append assigns the next sequence number and inserts the entry. Two writers
// racing for the same sequence collide on the unique index and the loser gets
// ErrConflict.
func (r *GormHistoryRepository) Append(ctx context.Context, entry *models.StatusUpdate) error {
	var last int
	err := r.db.WithContext(ctx).Model(&models.StatusUpdate{}).
		Where("application_id = ?", entry.ApplicationID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return errors.WithStack(err)
	}
	entry.Sequence = last + 1
	err = translate(r.db.WithContext(ctx).Create(entry).Error)
	if errors.Is(err, ErrDuplicate) {
		return errors.Wrapf(ErrConflict, "history of %s", entry.ApplicationID)
	}
	return err
}

// List returns the application's history, newest first.
func (r *GormHistoryRepository) List(ctx context.Context, applicationID string) ([]models.StatusUpdate, error) {
	var entries []models.StatusUpdate
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("sequence desc").
		Find(&entries).Error
	return entries, errors.WithStack(err)
}
