package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	user := &models.User{ID: uuid.New(), Username: "anna", Role: models.RoleSupervisor}

	token, exp, err := m.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleSupervisor, claims.Role)
}

func TestTokenRejectsExpiredAndForged(t *testing.T) {
	m := NewTokenManager("test-secret", time.Minute)
	user := &models.User{ID: uuid.New(), Username: "anna", Role: models.RoleStaff}
	token, _, err := m.Issue(user)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenManager("other-secret", time.Minute)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: user.ID}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(none)
	require.ErrorIs(t, err, ErrInvalidToken)
}

type stubUsers map[uuid.UUID]*models.User

func (s stubUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.Wrapf(repository.ErrNotFound, "user %s", id)
}

type brokenUsers struct{}

func (brokenUsers) FindByID(context.Context, uuid.UUID) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewTokenManager("test-secret", time.Hour)
	active := &models.User{ID: uuid.New(), Username: "staff", Role: models.RoleStaff, Status: models.UserActive}
	suspended := &models.User{ID: uuid.New(), Username: "gone", Role: models.RoleAdmin, Status: models.UserSuspended}
	users := stubUsers{active.ID: active, suspended.ID: suspended}

	r := gin.New()
	r.GET("/any", Middleware(m, users), func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, string(actor.Role))
	})
	r.GET("/admin", Middleware(m, users), RequireRole(models.RoleAdmin, models.RoleSupervisor), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	activeToken, _, err := m.Issue(active)
	require.NoError(t, err)
	suspendedToken, _, err := m.Issue(suspended)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do("/any", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/any", activeToken).Code)
	assert.Equal(t, http.StatusUnauthorized, do("/any", "Bearer garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/any", "Bearer "+suspendedToken).Code)

	w := do("/any", "Bearer "+activeToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "staff", w.Body.String())

	assert.Equal(t, http.StatusForbidden, do("/admin", "Bearer "+activeToken).Code)

	unknownToken, _, err := m.Issue(&models.User{ID: uuid.New(), Role: models.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do("/any", "Bearer "+unknownToken).Code)
}

func TestMiddlewareLookupFailureIsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewTokenManager("test-secret", time.Hour)
	token, _, err := m.Issue(&models.User{ID: uuid.New(), Role: models.RoleStaff})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/any", Middleware(m, brokenUsers{}), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/any", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}
