package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormStore is the postgres-backed Store.
type GormStore struct {
	db           *gorm.DB
	applications *GormApplicationRepository
	history      *GormHistoryRepository
	users        *GormUserRepository
	documents    *GormDocumentRepository
}

// NewGormStore wires all repositories onto db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:           db,
		applications: NewApplicationRepository(db),
		history:      NewHistoryRepository(db),
		users:        NewUserRepository(db),
		documents:    NewDocumentRepository(db),
	}
}

func (s *GormStore) Applications() ApplicationRepository { return s.applications }
func (s *GormStore) History() HistoryRepository           { return s.history }
func (s *GormStore) Users() UserRepository                { return s.users }
func (s *GormStore) Documents() DocumentRepository        { return s.documents }

// Transaction runs fn with repositories bound to a single database transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}
