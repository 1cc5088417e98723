package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write lost a race.
	ErrConflict = errors.New("record changed concurrently")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("record already exists")
)

// ApplicationFilter narrows staff listings. Zero values mean "any".
type ApplicationFilter struct {
	Status       models.ApplicationStatus
	Type         models.ApplicationType
	Priority     models.Priority
	IsUrgent     *bool
	Search       string
	CaseWorkerID *uuid.UUID
	Page         int
	PerPage      int
}

// Normalize clamps paging to sane bounds.
func (f *ApplicationFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
}

// Offset returns the row offset of the current page.
func (f ApplicationFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// Stats are dashboard counts, optionally scoped to one case worker.
type Stats struct {
	Total             int64                              `json:"totalApplications"`
	Pending           int64                              `json:"pendingApplications"`
	Completed         int64                              `json:"completedApplications"`
	Urgent            int64                              `json:"urgentApplications"`
	ByStatus          map[models.ApplicationStatus]int64 `json:"applicationsByStatus"`
	ByType            map[models.ApplicationType]int64   `json:"applicationsByType"`
	AvgProcessingDays float64                            `json:"averageProcessingTime"`
}

// ApplicationRepository persists applications.
type ApplicationRepository interface {
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	Exists(ctx context.Context, id string) (bool, error)
	// UpdateStatus writes the status-related columns of app only if the
	// stored status still equals expected.
	UpdateStatus(ctx context.Context, app *models.Application, expected models.ApplicationStatus) error
	// UpdateDetails writes priority, notes, flags and case worker.
	UpdateDetails(ctx context.Context, app *models.Application) error
	List(ctx context.Context, filter ApplicationFilter) ([]models.Application, int64, error)
	Stats(ctx context.Context, caseWorker *uuid.UUID, completedSince time.Time) (Stats, error)
}

// HistoryRepository persists status history entries.
type HistoryRepository interface {
	// Append stores entry with the next sequence number for its application.
	Append(ctx context.Context, entry *models.StatusUpdate) error
	// List returns the history of an application, newest first.
	List(ctx context.Context, applicationID string) ([]models.StatusUpdate, error)
}

// UserRepository persists staff accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	ListActive(ctx context.Context) ([]models.User, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DocumentRepository persists uploaded document metadata.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	ListByApplication(ctx context.Context, applicationID string) ([]models.Document, error)
}

// Store groups the repositories and runs them inside transactions.
type Store interface {
	Applications() ApplicationRepository
	History() HistoryRepository
	Users() UserRepository
	Documents() DocumentRepository
	// Transaction runs fn against a store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(Store) error) error
}
