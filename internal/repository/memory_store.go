package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/models"
)

type memoryData struct {
	applications map[string]models.Application
	history      map[string][]models.StatusUpdate
	users        map[uuid.UUID]models.User
	documents    map[string][]models.Document
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		applications: make(map[string]models.Application, len(d.applications)),
		history:      make(map[string][]models.StatusUpdate, len(d.history)),
		users:        make(map[uuid.UUID]models.User, len(d.users)),
		documents:    make(map[string][]models.Document, len(d.documents)),
	}
	for k, v := range d.applications {
		c.applications[k] = v
	}
	for k, v := range d.history {
		c.history[k] = append([]models.StatusUpdate(nil), v...)
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.documents {
		c.documents[k] = append([]models.Document(nil), v...)
	}
	return c
}

// MemoryStore is an in-process Store for development and tests. Transactions
// serialize all access and restore a snapshot on rollback.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memoryData
	inTx bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memoryData{
			applications: map[string]models.Application{},
			history:      map[string][]models.StatusUpdate{},
			users:        map[uuid.UUID]models.User{},
			documents:    map[string][]models.Document{},
		},
	}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) Applications() ApplicationRepository { return memoryApplications{s} }
func (s *MemoryStore) History() HistoryRepository           { return memoryHistory{s} }
func (s *MemoryStore) Users() UserRepository                { return memoryUsers{s} }
func (s *MemoryStore) Documents() DocumentRepository        { return memoryDocuments{s} }

// Transaction runs fn under the store lock. Nested calls join the outer transaction.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &MemoryStore{mu: s.mu, data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

type memoryApplications struct{ s *MemoryStore }

func (r memoryApplications) Create(_ context.Context, app *models.Application) error {
	defer r.s.lock()()
	if app.ID == "" {
		return errors.New("application reference number is required")
	}
	if _, ok := r.s.data.applications[app.ID]; ok {
		return errors.Wrapf(ErrDuplicate, "application %s", app.ID)
	}
	if app.Status == "" {
		app.Status = models.StatusReceived
	}
	if app.Priority == "" {
		app.Priority = models.PriorityNormal
	}
	r.s.data.applications[app.ID] = *app
	return nil
}

func (r memoryApplications) FindByID(_ context.Context, id string) (*models.Application, error) {
	defer r.s.lock()()
	app, ok := r.s.data.applications[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "application %s", id)
	}
	return &app, nil
}

func (r memoryApplications) Exists(_ context.Context, id string) (bool, error) {
	defer r.s.lock()()
	_, ok := r.s.data.applications[id]
	return ok, nil
}

func (r memoryApplications) UpdateStatus(_ context.Context, app *models.Application, expected models.ApplicationStatus) error {
	defer r.s.lock()()
	stored, ok := r.s.data.applications[app.ID]
	if !ok || stored.Status != expected {
		return errors.Wrapf(ErrConflict, "application %s is no longer %s", app.ID, expected)
	}
	stored.Status = app.Status
	stored.UpdatedAt = app.UpdatedAt
	stored.CaseWorkerID = app.CaseWorkerID
	stored.ActualCompletion = app.ActualCompletion
	r.s.data.applications[app.ID] = stored
	return nil
}

func (r memoryApplications) UpdateDetails(_ context.Context, app *models.Application) error {
	defer r.s.lock()()
	stored, ok := r.s.data.applications[app.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "application %s", app.ID)
	}
	stored.Priority = app.Priority
	stored.Notes = app.Notes
	stored.InternalNotes = app.InternalNotes
	stored.IsUrgent = app.IsUrgent
	stored.RequiresAppointment = app.RequiresAppointment
	stored.DocumentsComplete = app.DocumentsComplete
	stored.CaseWorkerID = app.CaseWorkerID
	stored.UpdatedAt = app.UpdatedAt
	r.s.data.applications[app.ID] = stored
	return nil
}

func matches(a models.Application, f ApplicationFilter) bool {
	if f.CaseWorkerID != nil && (a.CaseWorkerID == nil || *a.CaseWorkerID != *f.CaseWorkerID) {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.ApplicationType != f.Type {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	if f.IsUrgent != nil && a.IsUrgent != *f.IsUrgent {
		return false
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		hay := strings.ToLower(strings.Join([]string{a.ID, a.FirstName, a.LastName, a.Email}, "\x00"))
		if !strings.Contains(hay, s) {
			return false
		}
	}
	return true
}

func (r memoryApplications) selectApps(f ApplicationFilter) []models.Application {
	var out []models.Application
	for _, a := range r.s.data.applications {
		if matches(a, f) {
			out = append(out, a)
		}
	}
	return out
}

func (r memoryApplications) List(_ context.Context, f ApplicationFilter) ([]models.Application, int64, error) {
	defer r.s.lock()()
	f.Normalize()
	all := r.selectApps(f)
	sort.Slice(all, func(i, j int) bool {
		if all[i].IsUrgent != all[j].IsUrgent {
			return all[i].IsUrgent
		}
		return all[i].SubmittedAt.After(all[j].SubmittedAt)
	})
	total := int64(len(all))
	start := f.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + f.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r memoryApplications) Stats(_ context.Context, caseWorker *uuid.UUID, completedSince time.Time) (Stats, error) {
	defer r.s.lock()()
	stats := Stats{
		ByStatus: map[models.ApplicationStatus]int64{},
		ByType:   map[models.ApplicationType]int64{},
	}
	var done []models.Application
	for _, a := range r.selectApps(ApplicationFilter{CaseWorkerID: caseWorker}) {
		stats.Total++
		stats.ByStatus[a.Status]++
		stats.ByType[a.ApplicationType]++
		if !a.Status.Terminal() {
			stats.Pending++
			if a.IsUrgent {
				stats.Urgent++
			}
		}
		if a.Status == models.StatusCompleted {
			stats.Completed++
			if a.ActualCompletion != nil && !a.ActualCompletion.Before(completedSince) {
				done = append(done, a)
			}
		}
	}
	stats.AvgProcessingDays = averageDays(done)
	return stats, nil
}

type memoryHistory struct{ s *MemoryStore }

func (r memoryHistory) Append(_ context.Context, entry *models.StatusUpdate) error {
	defer r.s.lock()()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entries := r.s.data.history[entry.ApplicationID]
	entry.Sequence = len(entries) + 1
	r.s.data.history[entry.ApplicationID] = append(entries, *entry)
	return nil
}

func (r memoryHistory) List(_ context.Context, applicationID string) ([]models.StatusUpdate, error) {
	defer r.s.lock()()
	entries := r.s.data.history[applicationID]
	out := make([]models.StatusUpdate, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(_ context.Context, user *models.User) error {
	defer r.s.lock()()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Status == "" {
		user.Status = models.UserActive
	}
	if user.Role == "" {
		user.Role = models.RoleStaff
	}
	for _, u := range r.s.data.users {
		if u.Username == user.Username || u.Email == user.Email {
			return errors.Wrapf(ErrDuplicate, "user %s", user.Username)
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	r.s.data.users[user.ID] = *user
	return nil
}

func (r memoryUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer r.s.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "user %s", id)
	}
	return &u, nil
}

func (r memoryUsers) FindByUsername(_ context.Context, username string) (*models.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.data.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "user %s", username)
}

func (r memoryUsers) ListActive(_ context.Context) ([]models.User, error) {
	defer r.s.lock()()
	var out []models.User
	for _, u := range r.s.data.users {
		if u.IsActive() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].LastName < out[j].LastName
	})
	return out, nil
}

func (r memoryUsers) TouchLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "user %s", id)
	}
	u.LastLogin = &at
	r.s.data.users[id] = u
	return nil
}

type memoryDocuments struct{ s *MemoryStore }

func (r memoryDocuments) Create(_ context.Context, doc *models.Document) error {
	defer r.s.lock()()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	r.s.data.documents[doc.ApplicationID] = append(r.s.data.documents[doc.ApplicationID], *doc)
	return nil
}

func (r memoryDocuments) ListByApplication(_ context.Context, applicationID string) ([]models.Document, error) {
	defer r.s.lock()()
	docs := r.s.data.documents[applicationID]
	out := make([]models.Document, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		out = append(out, docs[i])
	}
	return out, nil
}
