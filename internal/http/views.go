package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/workflow"
)

// citizenView is what an applicant sees. The shadowing fields hide
// staff-only data of the embedded application.
type citizenView struct {
	*models.Application
	CaseWorkerID *uuid.UUID `json:"caseWorkerId,omitempty"`
	Progress     int        `json:"progress"`
}

func newCitizenView(app *models.Application) citizenView {
	return citizenView{Application: app, Progress: workflow.Progress(app.Status)}
}

// citizenHistoryEntry omits which staff member made a change.
type citizenHistoryEntry struct {
	OldStatus *models.ApplicationStatus `json:"oldStatus"`
	NewStatus models.ApplicationStatus  `json:"newStatus"`
	Message   string                    `json:"message"`
	CreatedAt time.Time                 `json:"createdAt"`
}

func newCitizenHistory(entries []models.StatusUpdate) []citizenHistoryEntry {
	out := make([]citizenHistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, citizenHistoryEntry{
			OldStatus: e.OldStatus,
			NewStatus: e.NewStatus,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

type staffView struct {
	*models.Application
	DateOfBirth   string `json:"dateOfBirth"`
	InternalNotes string `json:"internalNotes"`
	Progress      int    `json:"progress"`
}

func newStaffView(app *models.Application) staffView {
	return staffView{
		Application:   app,
		DateOfBirth:   app.DateOfBirth,
		InternalNotes: app.InternalNotes,
		Progress:      workflow.Progress(app.Status),
	}
}

type pageView struct {
	Items      []staffView `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"perPage"`
	TotalPages int64       `json:"totalPages"`
}

type loginView struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}
