package workflow

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/models"
)

// ErrInvalidTransition is returned when a status change is not permitted.
var ErrInvalidTransition = errors.New("invalid status transition")

// Validate checks that an application currently in from may move to to.
// Terminal states have no outgoing transitions.
func Validate(from, to models.ApplicationStatus) error {
	if !to.Valid() {
		return errors.Wrapf(ErrInvalidTransition, "unknown status %q", to)
	}
	if from.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "application is %s", from)
	}
	return nil
}

// Change describes one requested status change.
type Change struct {
	To      models.ApplicationStatus
	Message string
	// By is the acting staff member; nil for system-driven changes.
	By *uuid.UUID
	// Assignee becomes case worker when the change enters under_review and
	// the application has none. Callers set it only for active staff.
	Assignee *uuid.UUID
	At       time.Time
}

// Apply mutates app according to ch and returns the history entry describing it.
// The returned entry carries no sequence number; persisting app and the entry
// together is the caller's job.
func Apply(app *models.Application, ch Change) (*models.StatusUpdate, error) {
	if err := Validate(app.Status, ch.To); err != nil {
		return nil, err
	}
	at := ch.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	old := app.Status
	entry := &models.StatusUpdate{
		ApplicationID: app.ID,
		OldStatus:     &old,
		NewStatus:     ch.To,
		Message:       ch.Message,
		UpdatedBy:     ch.By,
		CreatedAt:     at,
	}

	if ch.To == models.StatusUnderReview && app.CaseWorkerID == nil && ch.Assignee != nil {
		id := *ch.Assignee
		app.CaseWorkerID = &id
	}
	if ch.To == models.StatusCompleted && app.ActualCompletion == nil {
		done := at
		app.ActualCompletion = &done
	}
	app.Status = ch.To
	app.UpdatedAt = at
	return entry, nil
}

// Initial returns the history entry written when an application is submitted.
func Initial(app *models.Application, message string) *models.StatusUpdate {
	return &models.StatusUpdate{
		ApplicationID: app.ID,
		Sequence:      1,
		NewStatus:     app.Status,
		Message:       message,
		CreatedAt:     app.SubmittedAt,
	}
}

var progress = map[models.ApplicationStatus]int{
	models.StatusReceived:               10,
	models.StatusUnderReview:            30,
	models.StatusAdditionalInfoRequired: 45,
	models.StatusVerification:           70,
	models.StatusDecision:               85,
	models.StatusCompleted:              100,
	models.StatusRejected:               100,
}

// Progress maps a status to a display percentage. Unknown statuses map to 0.
func Progress(s models.ApplicationStatus) int {
	return progress[s]
}
