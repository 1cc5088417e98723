package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/example/civictrack/internal/models"
)

// GormApplicationRepository provides persistence access for Application entities.
type GormApplicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository constructs a repository using the provided gorm DB.
func NewApplicationRepository(db *gorm.DB) *GormApplicationRepository {
	return &GormApplicationRepository{db: db}
}

// Create persists the application instance.
func (r *GormApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	return translate(r.db.WithContext(ctx).Create(app).Error)
}

// FindByID returns the application by reference number.
func (r *GormApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	if err := r.db.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

// Exists reports whether a reference number is taken.
func (r *GormApplicationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Application{}).Where("id = ?", id).Count(&n).Error
	return n > 0, errors.WithStack(err)
}

// UpdateStatus persists a status change conditioned on the previously read status.
func (r *GormApplicationRepository) UpdateStatus(ctx context.Context, app *models.Application, expected models.ApplicationStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Application{}).
		Where("id = ? AND status = ?", app.ID, expected).
		Updates(map[string]any{
			"status":            app.Status,
			"updated_at":        app.UpdatedAt,
			"case_worker_id":    app.CaseWorkerID,
			"actual_completion": app.ActualCompletion,
		})
	if res.Error != nil {
		return errors.WithStack(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrConflict, "application %s is no longer %s", app.ID, expected)
	}
	return nil
}

// UpdateDetails persists the staff-editable fields.
func (r *GormApplicationRepository) UpdateDetails(ctx context.Context, app *models.Application) error {
	res := r.db.WithContext(ctx).Model(&models.Application{}).
		Where("id = ?", app.ID).
		Updates(map[string]any{
			"priority":             app.Priority,
			"notes":                app.Notes,
			"internal_notes":       app.InternalNotes,
			"is_urgent":            app.IsUrgent,
			"requires_appointment": app.RequiresAppointment,
			"documents_complete":   app.DocumentsComplete,
			"case_worker_id":       app.CaseWorkerID,
			"updated_at":           app.UpdatedAt,
		})
	if res.Error != nil {
		return errors.WithStack(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "application %s", app.ID)
	}
	return nil
}

func filterScope(f ApplicationFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.CaseWorkerID != nil {
			q = q.Where("case_worker_id = ?", *f.CaseWorkerID)
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.Type != "" {
			q = q.Where("application_type = ?", f.Type)
		}
		if f.Priority != "" {
			q = q.Where("priority = ?", f.Priority)
		}
		if f.IsUrgent != nil {
			q = q.Where("is_urgent = ?", *f.IsUrgent)
		}
		if s := strings.TrimSpace(f.Search); s != "" {
			like := likePattern(s)
			q = q.Where(`LOWER(id) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'`,
				like, like, like, like)
		}
		return q
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches search as a literal, case-insensitive substring.
func likePattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

// List returns one page of applications, urgent first then newest.
func (r *GormApplicationRepository) List(ctx context.Context, f ApplicationFilter) ([]models.Application, int64, error) {
	f.Normalize()
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Application{}).Scopes(filterScope(f)).Count(&total).Error; err != nil {
		return nil, 0, errors.WithStack(err)
	}
	var apps []models.Application
	err := r.db.WithContext(ctx).Scopes(filterScope(f)).
		Order("is_urgent desc").Order("submitted_at desc").
		Offset(f.Offset()).Limit(f.PerPage).
		Find(&apps).Error
	return apps, total, errors.WithStack(err)
}

type groupCount struct {
	Key   string
	Count int64
}

// Stats aggregates dashboard counts.
func (r *GormApplicationRepository) Stats(ctx context.Context, caseWorker *uuid.UUID, completedSince time.Time) (Stats, error) {
	stats := Stats{
		ByStatus: map[models.ApplicationStatus]int64{},
		ByType:   map[models.ApplicationType]int64{},
	}
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Application{}).Scopes(filterScope(ApplicationFilter{CaseWorkerID: caseWorker}))
	}
	terminal := []models.ApplicationStatus{models.StatusCompleted, models.StatusRejected}

	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, errors.WithStack(err)
	}
	if err := base().Where("status NOT IN ?", terminal).Count(&stats.Pending).Error; err != nil {
		return stats, errors.WithStack(err)
	}
	if err := base().Where("status = ?", models.StatusCompleted).Count(&stats.Completed).Error; err != nil {
		return stats, errors.WithStack(err)
	}
	if err := base().Where("is_urgent = ? AND status NOT IN ?", true, terminal).Count(&stats.Urgent).Error; err != nil {
		return stats, errors.WithStack(err)
	}

	var rows []groupCount
	if err := base().Select("status AS key, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return stats, errors.WithStack(err)
	}
	for _, row := range rows {
		stats.ByStatus[models.ApplicationStatus(row.Key)] = row.Count
	}
	rows = nil
	if err := base().Select("application_type AS key, COUNT(*) AS count").Group("application_type").Scan(&rows).Error; err != nil {
		return stats, errors.WithStack(err)
	}
	for _, row := range rows {
		stats.ByType[models.ApplicationType(row.Key)] = row.Count
	}

	var done []models.Application
	err := base().Select("submitted_at", "actual_completion").
		Where("status = ? AND actual_completion >= ?", models.StatusCompleted, completedSince).
		Find(&done).Error
	if err != nil {
		return stats, errors.WithStack(err)
	}
	stats.AvgProcessingDays = averageDays(done)
	return stats, nil
}

// averageDays is the mean of whole days between submission and completion.
func averageDays(apps []models.Application) float64 {
	var sum, n int
	for _, a := range apps {
		if a.ActualCompletion == nil {
			continue
		}
		sum += int(a.ActualCompletion.Sub(a.SubmittedAt).Hours() / 24)
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.WithStack(ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.WithStack(ErrDuplicate)
	default:
		return errors.WithStack(err)
	}
}
