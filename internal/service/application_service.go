package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"html"
	"log/slog"
	"math/big"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/access"
	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/notification"
	"github.com/example/civictrack/internal/ratelimit"
	"github.com/example/civictrack/internal/repository"
	"github.com/example/civictrack/internal/workflow"
)

const (
	submittedMessage  = "Application submitted successfully"
	maxReferenceTries = 5
	MaxDocumentBytes  = 10 << 20
	dateOfBirthLayout = "2006-01-02"
	dashboardWindow   = 30 * 24 * time.Hour
	defaultLanguage   = "de"
	maxFreeTextLength = 4000
)

// AllowedDocumentExtensions lists accepted upload types.
var AllowedDocumentExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".doc": true, ".docx": true,
}

// Deps are the collaborators of ApplicationService.
type Deps struct {
	Store           repository.Store
	Estimator       *workflow.Estimator
	Notifier        notification.Notifier
	Limiter         ratelimit.Limiter
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	ReferencePrefix string
	DefaultLanguage string
}

// ApplicationService contains the application lifecycle business logic.
type ApplicationService struct {
	store       repository.Store
	estimator   *workflow.Estimator
	notifier    notification.Notifier
	limiter     ratelimit.Limiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	sanitizer   *bluemonday.Policy
	prefix      string
	defaultLang string
	now         func() time.Time
	suffix      func() (int64, error)
}

// NewApplicationService builds a service with dependencies.
func NewApplicationService(d Deps) *ApplicationService {
	s := &ApplicationService{
		store:       d.Store,
		estimator:   d.Estimator,
		notifier:    d.Notifier,
		limiter:     d.Limiter,
		metrics:     d.Metrics,
		logger:      d.Logger,
		sanitizer:   bluemonday.StrictPolicy(),
		prefix:      strings.ToUpper(strings.TrimSpace(d.ReferencePrefix)),
		defaultLang: d.DefaultLanguage,
		now:         func() time.Time { return time.Now().UTC() },
		suffix:      randomSuffix,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.estimator == nil {
		s.estimator = workflow.NewEstimator(s.logger)
	}
	if s.notifier == nil {
		s.notifier = notification.Discard{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter(10, 15*time.Minute)
	}
	if s.prefix == "" {
		s.prefix = "LB"
	}
	if s.defaultLang == "" {
		s.defaultLang = defaultLanguage
	}
	return s
}

// SubmitInput is the applicant-provided data of a new application.
type SubmitInput struct {
	ApplicationType    string
	Email              string
	FirstName          string
	LastName           string
	DateOfBirth        string
	Phone              string
	Nationality        string
	Address            string
	LanguagePreference string
	Notes              string
	IsUrgent           bool
}

func (s *ApplicationService) clean(text string) string {
	text = strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
	if r := []rune(text); len(r) > maxFreeTextLength {
		text = string(r[:maxFreeTextLength])
	}
	return text
}

func (s *ApplicationService) validateSubmit(in SubmitInput) (*models.Application, error) {
	typ, err := models.ParseApplicationType(in.ApplicationType)
	if err != nil {
		return nil, invalid("application_type", "unknown application type %q", in.ApplicationType)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, invalid("email", "invalid email address")
	}
	first, last := s.clean(in.FirstName), s.clean(in.LastName)
	if first == "" || last == "" {
		return nil, invalid("name", "first and last name are required")
	}
	dob, err := time.Parse(dateOfBirthLayout, strings.TrimSpace(in.DateOfBirth))
	if err != nil {
		return nil, invalid("date_of_birth", "expected YYYY-MM-DD")
	}
	if dob.After(s.now()) {
		return nil, invalid("date_of_birth", "must not be in the future")
	}
	lang := strings.ToLower(strings.TrimSpace(in.LanguagePreference))
	if lang == "" {
		lang = s.defaultLang
	}
	priority := models.PriorityNormal
	if in.IsUrgent {
		priority = models.PriorityUrgent
	}
	return &models.Application{
		ApplicationType:    typ,
		Status:             models.StatusReceived,
		Priority:           priority,
		Email:              addr.Address,
		FirstName:          first,
		LastName:           last,
		DateOfBirth:        dob.Format(dateOfBirthLayout),
		Phone:              s.clean(in.Phone),
		Nationality:        s.clean(in.Nationality),
		Address:            s.clean(in.Address),
		LanguagePreference: lang,
		Notes:              s.clean(in.Notes),
		IsUrgent:           in.IsUrgent,
	}, nil
}

func randomSuffix() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n.Int64(), nil
}

func (s *ApplicationService) newReference(ctx context.Context, tx repository.Store) (string, error) {
	for i := 0; i < maxReferenceTries; i++ {
		n, err := s.suffix()
		if err != nil {
			return "", err
		}
		ref := fmt.Sprintf("%s-%d-%06d", s.prefix, s.now().Year(), n)
		exists, err := tx.Applications().Exists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !exists {
			return ref, nil
		}
	}
	return "", errors.Errorf("no free reference number after %d attempts", maxReferenceTries)
}

// Submit creates a new application in the received state together with its
// initial history entry, then notifies the applicant.
func (s *ApplicationService) Submit(ctx context.Context, in SubmitInput) (*models.Application, error) {
	app, err := s.validateSubmit(in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	app.SubmittedAt = now
	app.UpdatedAt = now
	app.EstimatedCompletion = s.estimator.Estimate(app.ApplicationType, now)

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		ref, err := s.newReference(ctx, tx)
		if err != nil {
			return err
		}
		app.ID = ref
		if err := tx.Applications().Create(ctx, app); err != nil {
			return err
		}
		return tx.History().Append(ctx, workflow.Initial(app, submittedMessage))
	})
	if err != nil {
		return nil, errors.Wrap(err, "submit application")
	}

	s.metrics.IncSubmitted()
	s.logger.Info("application submitted", "reference", app.ID, "application_type", app.ApplicationType)
	s.notify(ctx, app, submittedMessage)
	return app, nil
}

func (s *ApplicationService) notify(ctx context.Context, app *models.Application, message string) {
	s.notifier.Notify(ctx, notification.Notice{
		Email:     app.Email,
		Reference: app.ID,
		Status:    app.Status,
		Message:   message,
		Language:  app.LanguagePreference,
	})
}

// ApplicantCredentials identify an applicant without an account. Client
// names the caller (its address) so that failed guesses from one client do
// not lock other clients out of the same application.
type ApplicantCredentials struct {
	Reference   string
	DateOfBirth string
	Client      string
}

func (c ApplicantCredentials) limiterKey() string {
	return strings.TrimSpace(c.Client) + "|" + strings.ToUpper(strings.TrimSpace(c.Reference))
}

// verifyApplicant loads the application for a reference number and date of
// birth. Every failure looks the same to the caller.
func (s *ApplicationService) verifyApplicant(ctx context.Context, creds ApplicantCredentials) (*models.Application, error) {
	key := creds.limiterKey()
	blocked, err := s.limiter.Blocked(ctx, key)
	if err != nil {
		s.logger.Warn("lookup limiter unavailable", "error", err)
	}
	if blocked {
		s.metrics.IncLookupThrottled()
		return nil, errors.WithStack(ErrNotFound)
	}

	app, err := s.store.Applications().FindByID(ctx, strings.ToUpper(strings.TrimSpace(creds.Reference)))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if !access.VerifyApplicant(app, creds.Reference, creds.DateOfBirth) {
		s.metrics.IncLookupFailure()
		if err := s.limiter.Fail(ctx, key); err != nil {
			s.logger.Warn("record lookup failure", "error", err)
		}
		return nil, errors.WithStack(ErrNotFound)
	}
	return app, nil
}

// CheckStatus returns the application for an applicant.
func (s *ApplicationService) CheckStatus(ctx context.Context, creds ApplicantCredentials) (*models.Application, error) {
	return s.verifyApplicant(ctx, creds)
}

// ApplicantHistory returns the status history, newest first, for an applicant.
func (s *ApplicationService) ApplicantHistory(ctx context.Context, creds ApplicantCredentials) ([]models.StatusUpdate, error) {
	app, err := s.verifyApplicant(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.store.History().List(ctx, app.ID)
}

// ApplicantDocuments lists uploaded documents for an applicant.
func (s *ApplicationService) ApplicantDocuments(ctx context.Context, creds ApplicantCredentials) ([]models.Document, error) {
	app, err := s.verifyApplicant(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.store.Documents().ListByApplication(ctx, app.ID)
}

// DocumentInput describes an uploaded file. The bytes themselves are not stored.
type DocumentInput struct {
	Filename string
	Size     int64
	MimeType string
}

// UploadDocument validates and records an applicant's document.
func (s *ApplicationService) UploadDocument(ctx context.Context, creds ApplicantCredentials, in DocumentInput) (*models.Document, error) {
	app, err := s.verifyApplicant(ctx, creds)
	if err != nil {
		return nil, err
	}
	original := filepath.Base(strings.ReplaceAll(strings.TrimSpace(in.Filename), "\\", "/"))
	ext := strings.ToLower(filepath.Ext(original))
	if original == "" || original == "." || !AllowedDocumentExtensions[ext] {
		return nil, invalid("file", "file type not allowed")
	}
	if in.Size <= 0 || in.Size > MaxDocumentBytes {
		return nil, invalid("file", "file must be between 1 byte and %d MB", MaxDocumentBytes>>20)
	}
	id := uuid.New()
	doc := &models.Document{
		ID:               id,
		ApplicationID:    app.ID,
		Filename:         id.String() + ext,
		OriginalFilename: s.clean(original),
		FileSize:         in.Size,
		MimeType:         in.MimeType,
		UploadedAt:       s.now(),
		UploadedBy:       "citizen",
	}
	if err := s.store.Documents().Create(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("document uploaded", "reference", app.ID, "document_id", doc.ID, "bytes", doc.FileSize)
	return doc, nil
}

// loadForActor fetches an application and applies the staff access rule.
func loadForActor(ctx context.Context, store repository.Store, id string, actor access.Actor) (*models.Application, error) {
	app, err := store.Applications().FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errors.WithStack(ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !access.CanAccess(actor, app) {
		return nil, errors.WithStack(ErrAccessDenied)
	}
	return app, nil
}

// Get returns application detail for staff.
func (s *ApplicationService) Get(ctx context.Context, id string, actor access.Actor) (*models.Application, error) {
	return loadForActor(ctx, s.store, id, actor)
}

// History returns the status history for staff, newest first.
func (s *ApplicationService) History(ctx context.Context, id string, actor access.Actor) ([]models.StatusUpdate, error) {
	app, err := loadForActor(ctx, s.store, id, actor)
	if err != nil {
		return nil, err
	}
	return s.store.History().List(ctx, app.ID)
}

// Transition moves an application to status and records the change.
func (s *ApplicationService) Transition(ctx context.Context, id string, status models.ApplicationStatus, message string, actor access.Actor) (*models.Application, *models.StatusUpdate, error) {
	message = s.clean(message)
	var (
		app   *models.Application
		entry *models.StatusUpdate
	)
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		app, err = loadForActor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		entry, err = s.apply(ctx, tx, app, workflow.Change{
			To:       status,
			Message:  message,
			By:       &actor.ID,
			Assignee: assigneeFor(actor),
			At:       s.now(),
		})
		return err
	})
	if err != nil {
		return nil, nil, s.transitionError(err, id, status)
	}

	s.metrics.IncTransition(string(status))
	s.logger.Info("status changed", "reference", app.ID, "old_status", *entry.OldStatus, "new_status", entry.NewStatus, "actor", actor.ID)
	s.notify(ctx, app, message)
	return app, entry, nil
}

func assigneeFor(actor access.Actor) *uuid.UUID {
	if !actor.Active() {
		return nil
	}
	id := actor.ID
	return &id
}

// apply runs the status machine on app and persists both writes through tx.
func (s *ApplicationService) apply(ctx context.Context, tx repository.Store, app *models.Application, ch workflow.Change) (*models.StatusUpdate, error) {
	expected := app.Status
	entry, err := workflow.Apply(app, ch)
	if err != nil {
		return nil, err
	}
	if err := tx.Applications().UpdateStatus(ctx, app, expected); err != nil {
		return nil, err
	}
	if err := tx.History().Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *ApplicationService) transitionError(err error, id string, status models.ApplicationStatus) error {
	if errors.Is(err, repository.ErrConflict) {
		s.metrics.IncConflict()
		s.logger.Warn("concurrent status update rejected", "reference", id, "new_status", status)
		return errors.Wrap(ErrConflictingUpdate, err.Error())
	}
	return err
}

// Assign makes caseWorkerID the application's case worker. An application
// still in received moves to under_review; an open one records the
// assignment as a history entry without a status change. A resolved
// application only has its case worker replaced.
func (s *ApplicationService) Assign(ctx context.Context, id string, caseWorkerID uuid.UUID, actor access.Actor) (*models.Application, error) {
	var (
		app     *models.Application
		changed bool
		message string
		target  models.ApplicationStatus
	)
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		app, err = loadForActor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		worker, err := tx.Users().FindByID(ctx, caseWorkerID)
		if errors.Is(err, repository.ErrNotFound) {
			return invalid("case_worker_id", "case worker not found")
		}
		if err != nil {
			return err
		}
		if !worker.IsActive() {
			return invalid("case_worker_id", "case worker is not active")
		}

		wid := worker.ID
		app.CaseWorkerID = &wid
		target = app.Status
		if app.IsTerminal() {
			app.UpdatedAt = s.now()
			return tx.Applications().UpdateDetails(ctx, app)
		}
		if app.Status == models.StatusReceived {
			target = models.StatusUnderReview
			changed = true
		}
		message = "Application assigned to " + worker.FullName()
		_, err = s.apply(ctx, tx, app, workflow.Change{
			To:      target,
			Message: message,
			By:      &actor.ID,
			At:      s.now(),
		})
		return err
	})
	if err != nil {
		return nil, s.transitionError(err, id, target)
	}

	s.logger.Info("application assigned", "reference", app.ID, "case_worker", caseWorkerID, "actor", actor.ID)
	if changed {
		s.metrics.IncTransition(string(app.Status))
		s.notify(ctx, app, message)
	}
	return app, nil
}

// UpdateInput holds optional staff edits. Nil fields are left unchanged.
type UpdateInput struct {
	Priority            *string
	Notes               *string
	InternalNotes       *string
	IsUrgent            *bool
	RequiresAppointment *bool
	DocumentsComplete   *bool
}

// Update edits priority, notes and flags. Status changes go through Transition.
func (s *ApplicationService) Update(ctx context.Context, id string, in UpdateInput, actor access.Actor) (*models.Application, error) {
	var priority models.Priority
	if in.Priority != nil {
		priority = models.Priority(strings.ToLower(strings.TrimSpace(*in.Priority)))
		if !priority.Valid() {
			return nil, invalid("priority", "unknown priority %q", *in.Priority)
		}
	}
	var app *models.Application
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		app, err = loadForActor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		if in.Priority != nil {
			app.Priority = priority
		}
		if in.Notes != nil {
			app.Notes = s.clean(*in.Notes)
		}
		if in.InternalNotes != nil {
			app.InternalNotes = s.clean(*in.InternalNotes)
		}
		if in.IsUrgent != nil {
			app.IsUrgent = *in.IsUrgent
		}
		if in.RequiresAppointment != nil {
			app.RequiresAppointment = *in.RequiresAppointment
		}
		if in.DocumentsComplete != nil {
			app.DocumentsComplete = *in.DocumentsComplete
		}
		app.UpdatedAt = s.now()
		return tx.Applications().UpdateDetails(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// List returns a page of applications visible to actor.
func (s *ApplicationService) List(ctx context.Context, filter repository.ApplicationFilter, actor access.Actor) ([]models.Application, int64, error) {
	if !actor.Active() {
		return nil, 0, errors.WithStack(ErrAccessDenied)
	}
	if !actor.Oversees() {
		id := actor.ID
		filter.CaseWorkerID = &id
	}
	filter.Normalize()
	return s.store.Applications().List(ctx, filter)
}

// Dashboard returns summary counts visible to actor.
func (s *ApplicationService) Dashboard(ctx context.Context, actor access.Actor) (repository.Stats, error) {
	if !actor.Active() {
		return repository.Stats{}, errors.WithStack(ErrAccessDenied)
	}
	var scope *uuid.UUID
	if !actor.Oversees() {
		id := actor.ID
		scope = &id
	}
	return s.store.Applications().Stats(ctx, scope, s.now().Add(-dashboardWindow))
}
