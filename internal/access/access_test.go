package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/example/civictrack/internal/models"
)

func TestCanAccess(t *testing.T) {
	owner := uuid.New()
	app := &models.Application{ID: "LB-2024-123456", CaseWorkerID: &owner}
	unassigned := &models.Application{ID: "LB-2024-654321"}

	cases := []struct {
		name  string
		actor Actor
		app   *models.Application
		want  bool
	}{
		{"staff assignee", Actor{ID: owner, Role: models.RoleStaff, Status: models.UserActive}, app, true},
		{"staff other", Actor{ID: uuid.New(), Role: models.RoleStaff, Status: models.UserActive}, app, false},
		{"staff unassigned", Actor{ID: owner, Role: models.RoleStaff, Status: models.UserActive}, unassigned, false},
		{"supervisor", Actor{ID: uuid.New(), Role: models.RoleSupervisor, Status: models.UserActive}, app, true},
		{"admin unassigned", Actor{ID: uuid.New(), Role: models.RoleAdmin, Status: models.UserActive}, unassigned, true},
		{"inactive admin", Actor{ID: uuid.New(), Role: models.RoleAdmin, Status: models.UserInactive}, app, false},
		{"suspended assignee", Actor{ID: owner, Role: models.RoleStaff, Status: models.UserSuspended}, app, false},
		{"unknown role", Actor{ID: owner, Role: "guest", Status: models.UserActive}, app, false},
		{"nil application", Actor{ID: owner, Role: models.RoleAdmin, Status: models.UserActive}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanAccess(tc.actor, tc.app))
		})
	}
}

func TestVerifyApplicant(t *testing.T) {
	app := &models.Application{ID: "LB-2024-123456", DateOfBirth: "1990-04-12"}

	assert.True(t, VerifyApplicant(app, "LB-2024-123456", "1990-04-12"))
	assert.True(t, VerifyApplicant(app, " lb-2024-123456 ", "1990-04-12"))
	assert.False(t, VerifyApplicant(app, "LB-2024-123456", "1990-04-13"))
	assert.False(t, VerifyApplicant(app, "LB-2024-123457", "1990-04-12"))
	assert.False(t, VerifyApplicant(app, "", ""))
	assert.False(t, VerifyApplicant(nil, "LB-2024-123456", "1990-04-12"))
}
