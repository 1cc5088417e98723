package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/civictrack/internal/auth"
	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/ratelimit"
	"github.com/example/civictrack/internal/repository"
	"github.com/example/civictrack/internal/service"
)

type testAPI struct {
	server *Server
	users  *service.UserService
	store  *repository.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	users := service.NewUserService(store.Users(), tokens, logger)

	srv, err := NewServer(Options{
		Applications: service.NewApplicationService(service.Deps{
			Store:   store,
			Limiter: ratelimit.NewMemoryLimiter(10, time.Minute),
			Metrics: m,
			Logger:  logger,
		}),
		Users:    users,
		Tokens:   tokens,
		Accounts: store.Users(),
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})
	require.NoError(t, err)
	return &testAPI{server: srv, users: users, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.doFrom(t, "", method, path, token, body)
}

// doFrom sends the request from remoteAddr, or httptest's default peer.
func (a *testAPI) doFrom(t *testing.T, remoteAddr, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	a.server.Engine.ServeHTTP(w, req)
	return w
}

func (a *testAPI) login(t *testing.T, username, role string) (string, *models.User) {
	t.Helper()
	user, err := a.users.CreateUser(context.Background(), service.CreateUserInput{
		Username: username, Email: username + "@example.org", Password: "password-" + username,
		FirstName: username, LastName: "Test", Role: role,
	})
	require.NoError(t, err)
	w := a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username, "password": "password-" + username,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.Token, user
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func submission() map[string]any {
	return map[string]any{
		"application_type": "residence_registration",
		"email":            "anna@example.org",
		"first_name":       "Anna",
		"last_name":        "Schmidt",
		"date_of_birth":    "1990-04-12",
	}
}

func (a *testAPI) submit(t *testing.T) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/applications", "", submission())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func TestSubmitAndCheckStatus(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/applications", "", submission())
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "received", body["status"])
	assert.EqualValues(t, 10, body["progress"])
	assert.NotContains(t, body, "dateOfBirth")
	ref := body["id"].(string)

	w = api.do(t, http.MethodPost, "/api/v1/applications/check-status", "", map[string]string{
		"application_id": ref, "date_of_birth": "1990-04-12",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, ref, body["id"])
	assert.NotContains(t, body, "internalNotes")
	assert.NotContains(t, body, "caseWorkerId")

	wrong := api.do(t, http.MethodPost, "/api/v1/applications/check-status", "", map[string]string{
		"application_id": ref, "date_of_birth": "1990-04-13",
	})
	unknown := api.do(t, http.MethodPost, "/api/v1/applications/check-status", "", map[string]string{
		"application_id": "LB-1999-000001", "date_of_birth": "1990-04-12",
	})
	assert.Equal(t, http.StatusNotFound, wrong.Code)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	w = api.do(t, http.MethodGet, "/api/v1/applications/"+ref+"/history?date_of_birth=1990-04-12", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Nil(t, history[0]["oldStatus"])
	assert.Equal(t, "received", history[0]["newStatus"])
	assert.NotContains(t, history[0], "updatedBy")
	assert.NotContains(t, history[0], "id")
}

func TestCitizenHistoryHidesStaff(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)
	adminToken, _ := api.login(t, "boss", "admin")
	w := api.do(t, http.MethodPost, "/api/v1/staff/applications/"+ref+"/status", adminToken, map[string]string{"status": "under_review", "message": "Looking into it"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(t, http.MethodGet, "/api/v1/staff/applications/"+ref+"/history", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var staff []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &staff))
	assert.NotEmpty(t, staff[0]["updatedBy"])

	w = api.do(t, http.MethodGet, "/api/v1/applications/"+ref+"/history?date_of_birth=1990-04-12", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var citizen []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &citizen))
	require.Len(t, citizen, 2)
	assert.Equal(t, "under_review", citizen[0]["newStatus"])
	assert.Equal(t, "Looking into it", citizen[0]["message"])
	for _, entry := range citizen {
		assert.NotContains(t, entry, "updatedBy")
	}
}

func TestLookupThrottleIsPerClient(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)
	check := func(remote, dob string) int {
		return api.doFrom(t, remote, http.MethodPost, "/api/v1/applications/check-status", "", map[string]string{
			"application_id": ref, "date_of_birth": dob,
		}).Code
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusNotFound, check("198.51.100.23:4000", "2000-01-01"))
	}
	assert.Equal(t, http.StatusNotFound, check("198.51.100.23:4000", "1990-04-12"))
	assert.Equal(t, http.StatusOK, check("203.0.113.7:5000", "1990-04-12"))
}

func TestForwardedForIgnoredWithoutTrustedProxy(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/"+ref+"/history?date_of_birth=2000-01-01", nil)
		req.RemoteAddr = "198.51.100.23:4000"
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		w := httptest.NewRecorder()
		api.server.Engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code)
	}
	// the failures above were charged to the peer, not the forged address
	w := api.doFrom(t, "203.0.113.7:5000", http.MethodGet, "/api/v1/applications/"+ref+"/history?date_of_birth=1990-04-12", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = api.doFrom(t, "198.51.100.23:4000", http.MethodGet, "/api/v1/applications/"+ref+"/history?date_of_birth=1990-04-12", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewServerRejectsBadProxy(t *testing.T) {
	_, err := NewServer(Options{TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	api := newTestAPI(t)
	in := submission()
	in["application_type"] = "moon_landing"
	w := api.do(t, http.MethodPost, "/api/v1/applications", "", in)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/applications", "", map[string]any{"email": "x@example.org"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStaffStatusFlow(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)
	adminToken, _ := api.login(t, "boss", "admin")
	staffToken, _ := api.login(t, "clerk", "staff")

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/staff/applications/"+ref, "", nil).Code)
	// an unassigned application looks like it does not exist to plain staff
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/v1/staff/applications/"+ref, staffToken, nil).Code)

	path := "/api/v1/staff/applications/" + ref + "/status"
	w := api.do(t, http.MethodPost, path, adminToken, map[string]string{"status": "under_review", "message": "Looking into it"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "under_review", body["application"].(map[string]any)["status"])
	assert.Equal(t, "received", body["statusUpdate"].(map[string]any)["oldStatus"])

	w = api.do(t, http.MethodPost, path, adminToken, map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(t, http.MethodPost, path, adminToken, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, path, adminToken, map[string]string{"status": "under_review"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/staff/applications/"+ref+"/history", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 3)
	assert.Equal(t, "completed", history[0]["newStatus"])
}

func TestAssignAndScopedList(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)
	api.submit(t)
	supervisorToken, _ := api.login(t, "lead", "supervisor")
	staffToken, clerk := api.login(t, "clerk", "staff")

	assign := "/api/v1/staff/applications/" + ref + "/assign"
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, assign, staffToken, map[string]string{"case_worker_id": clerk.ID.String()}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, assign, supervisorToken, map[string]string{"case_worker_id": "nope"}).Code)

	w := api.do(t, http.MethodPost, assign, supervisorToken, map[string]string{"case_worker_id": clerk.ID.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "under_review", decode(t, w)["status"])

	w = api.do(t, http.MethodGet, "/api/v1/staff/applications?per_page=500", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 100, page["perPage"])

	w = api.do(t, http.MethodGet, "/api/v1/staff/applications", supervisorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total"])

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/staff/applications?status=lost", supervisorToken, nil).Code)

	w = api.do(t, http.MethodGet, "/api/v1/staff/dashboard", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["totalApplications"])

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/v1/staff/users", staffToken, nil).Code)
	w = api.do(t, http.MethodGet, "/api/v1/staff/users", supervisorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 2)
	assert.NotContains(t, users[0], "passwordHash")
}

func TestUpdateApplication(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)
	adminToken, _ := api.login(t, "boss", "admin")

	path := "/api/v1/staff/applications/" + ref
	w := api.do(t, http.MethodPatch, path, adminToken, map[string]any{
		"priority": "high", "internal_notes": "call back <b>Monday</b>", "documents_complete": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "high", body["priority"])
	assert.Equal(t, "call back Monday", body["internalNotes"])
	assert.Equal(t, true, body["documentsComplete"])
	assert.Equal(t, "received", body["status"])

	w = api.do(t, http.MethodPatch, path, adminToken, map[string]any{"priority": "whenever"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func upload(t *testing.T, api *testAPI, ref, dob, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("date_of_birth", dob))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/"+ref+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	api.server.Engine.ServeHTTP(w, req)
	return w
}

func TestDocumentUpload(t *testing.T) {
	api := newTestAPI(t)
	ref := api.submit(t)

	w := upload(t, api, ref, "1990-04-12", "passport.pdf", []byte("%PDF-1.4 test"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "passport.pdf", decode(t, w)["originalFilename"])

	assert.Equal(t, http.StatusBadRequest, upload(t, api, ref, "1990-04-12", "run.exe", []byte("MZ")).Code)
	assert.Equal(t, http.StatusNotFound, upload(t, api, ref, "2001-01-01", "passport.pdf", []byte("%PDF")).Code)

	w = api.do(t, http.MethodGet, "/api/v1/applications/"+ref+"/documents?date_of_birth=1990-04-12", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)
}

func TestMeAndLoginFailure(t *testing.T) {
	api := newTestAPI(t)
	token, user := api.login(t, "clerk", "staff")

	w := api.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID.String(), decode(t, w)["id"])

	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "clerk", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", "", nil).Code)
	api.submit(t)

	w := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "civictrack_applications_submitted_total 1")
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errors.Wrap(&service.ValidationError{Field: "email", Message: "bad"}, "submit"), http.StatusBadRequest},
		{errors.Wrap(service.ErrInvalidTransition, "application is completed"), http.StatusUnprocessableEntity},
		{errors.WithStack(service.ErrConflictingUpdate), http.StatusConflict},
		{errors.WithStack(service.ErrNotFound), http.StatusNotFound},
		{errors.WithStack(service.ErrAccessDenied), http.StatusNotFound},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, msg := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.NotContains(t, msg, "pq:")
	}

	_, denied := mapError(service.ErrAccessDenied)
	_, missing := mapError(service.ErrNotFound)
	assert.Equal(t, missing, denied)
}
