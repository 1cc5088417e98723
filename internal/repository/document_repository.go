package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/example/civictrack/internal/models"
)

// GormDocumentRepository stores document metadata.
type GormDocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

func (r *GormDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	return translate(r.db.WithContext(ctx).Create(doc).Error)
}

func (r *GormDocumentRepository) ListByApplication(ctx context.Context, applicationID string) ([]models.Document, error) {
	var docs []models.Document
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("uploaded_at desc").
		Find(&docs).Error
	return docs, errors.WithStack(err)
}
