package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/civictrack/internal/auth"
	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/service"
)

// Options are the collaborators of Server.
type Options struct {
	Applications *service.ApplicationService
	Users        *service.UserService
	Tokens       *auth.TokenManager
	Accounts     auth.UserLookup
	Metrics      *metrics.Metrics
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// TrustedProxies may set X-Forwarded-For; with none, ClientIP is the
	// peer address.
	TrustedProxies []string
}

// Server wraps the gin engine and collaborators needed to handle API requests.
type Server struct {
	Engine       *gin.Engine
	applications *service.ApplicationService
	users        *service.UserService
	tokens       *auth.TokenManager
	accounts     auth.UserLookup
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	logger       *slog.Logger
}

// NewServer constructs a new API server and registers routes.
func NewServer(o Options) (*Server, error) {
	router := gin.Default()
	router.MaxMultipartMemory = service.MaxDocumentBytes
	if err := router.SetTrustedProxies(o.TrustedProxies); err != nil {
		return nil, errors.Wrap(err, "trusted proxies")
	}
	srv := &Server{
		Engine:       router,
		applications: o.Applications,
		users:        o.Users,
		tokens:       o.Tokens,
		accounts:     o.Accounts,
		metrics:      o.Metrics,
		gatherer:     o.Gatherer,
		logger:       o.Logger,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	router.Use(srv.metrics.Middleware())
	srv.registerRoutes()
	return srv, nil
}

func (s *Server) registerRoutes() {
	s.Engine.GET("/health", s.health)
	if s.gatherer != nil {
		s.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Engine.Group("/api/v1")

	citizen := api.Group("/applications")
	citizen.POST("", s.submitApplication)
	citizen.POST("/check-status", s.checkStatus)
	citizen.GET("/:id/history", s.applicantHistory)
	citizen.GET("/:id/documents", s.applicantDocuments)
	citizen.POST("/:id/documents", s.uploadDocument)

	authn := api.Group("/auth")
	authn.POST("/login", s.login)
	authn.GET("/me", auth.Middleware(s.tokens, s.accounts), s.me)

	staff := api.Group("/staff", auth.Middleware(s.tokens, s.accounts))
	staff.GET("/dashboard", s.dashboard)
	staff.GET("/applications", s.listApplications)
	staff.GET("/applications/:id", s.getApplication)
	staff.PATCH("/applications/:id", s.updateApplication)
	staff.POST("/applications/:id/status", s.changeStatus)
	staff.POST("/applications/:id/assign", auth.RequireRole(models.RoleAdmin, models.RoleSupervisor), s.assignApplication)
	staff.GET("/applications/:id/history", s.staffHistory)
	staff.GET("/users", auth.RequireRole(models.RoleAdmin, models.RoleSupervisor), s.listUsers)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// mapError turns a service error into a status code and a client-safe message.
func mapError(err error) (int, string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, service.ErrValidation.Error()
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrConflictingUpdate):
		return http.StatusConflict, service.ErrConflictingUpdate.Error()
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrAccessDenied):
		return http.StatusNotFound, service.ErrNotFound.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, service.ErrInvalidCredentials.Error()
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, service.ErrUserNotFound.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, msg := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request.Method, "route", c.FullPath(), "error", fmt.Sprintf("%+v", err))
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
