// Package access decides who may view or change an application.
//
// Applicants prove ownership with the reference number and the date of birth
// on file. Staff are authorized by role and, for the staff role, by being the
// application's case worker.
package access

import (
	"crypto/subtle"
	"strings"

	"github.com/google/uuid"

	"github.com/example/civictrack/internal/models"
)

// Actor is an authenticated staff principal.
type Actor struct {
	ID     uuid.UUID
	Role   models.Role
	Status models.UserStatus
}

// ActorFromUser builds an Actor from a stored user.
func ActorFromUser(u *models.User) Actor {
	return Actor{ID: u.ID, Role: u.Role, Status: u.Status}
}

// Active reports whether the principal may act at all.
func (a Actor) Active() bool {
	return a.Status == models.UserActive
}

// Oversees reports whether the role may act on any application.
func (a Actor) Oversees() bool {
	return a.Role == models.RoleSupervisor || a.Role == models.RoleAdmin
}

// CanAccess reports whether the actor may read or modify app.
func CanAccess(a Actor, app *models.Application) bool {
	if app == nil || !a.Active() {
		return false
	}
	switch a.Role {
	case models.RoleAdmin, models.RoleSupervisor:
		return true
	case models.RoleStaff:
		return app.CaseWorkerID != nil && *app.CaseWorkerID == a.ID
	default:
		return false
	}
}

// VerifyApplicant reports whether the presented reference number and date of
// birth both match app. Both comparisons always run.
func VerifyApplicant(app *models.Application, reference, dateOfBirth string) bool {
	if app == nil {
		return false
	}
	refOK := equal(strings.ToUpper(strings.TrimSpace(reference)), app.ID)
	dobOK := equal(strings.TrimSpace(dateOfBirth), app.DateOfBirth)
	return refOK && dobOK
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
