package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/example/civictrack/internal/access"
	"github.com/example/civictrack/internal/auth"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
	"github.com/example/civictrack/internal/service"
)

func (s *Server) login(c *gin.Context) {
	var payload struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	res, err := s.users.Login(c.Request.Context(), payload.Username, payload.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginView{Token: res.Token, ExpiresAt: res.ExpiresAt, User: res.User})
}

func actor(c *gin.Context) access.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}

func (s *Server) me(c *gin.Context) {
	user, err := s.users.Me(c.Request.Context(), actor(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.users.ActiveUsers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) dashboard(c *gin.Context) {
	stats, err := s.applications.Dashboard(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseFilter(c *gin.Context) (repository.ApplicationFilter, string) {
	var f repository.ApplicationFilter
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, "page must be a number"
		}
		f.Page = n
	}
	if v := c.Query("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, "per_page must be a number"
		}
		f.PerPage = n
	}
	if v := c.Query("status"); v != "" {
		st, err := models.ParseApplicationStatus(v)
		if err != nil {
			return f, "unknown status"
		}
		f.Status = st
	}
	if v := c.Query("application_type"); v != "" {
		t, err := models.ParseApplicationType(v)
		if err != nil {
			return f, "unknown application_type"
		}
		f.Type = t
	}
	if v := c.Query("priority"); v != "" {
		p := models.Priority(v)
		if !p.Valid() {
			return f, "unknown priority"
		}
		f.Priority = p
	}
	if v := c.Query("is_urgent"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, "is_urgent must be true or false"
		}
		f.IsUrgent = &b
	}
	f.Search = c.Query("search")
	return f, ""
}

func (s *Server) listApplications(c *gin.Context) {
	filter, msg := parseFilter(c)
	if msg != "" {
		badRequest(c, msg)
		return
	}
	filter.Normalize()
	apps, total, err := s.applications.List(c.Request.Context(), filter, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]staffView, 0, len(apps))
	for i := range apps {
		items = append(items, newStaffView(&apps[i]))
	}
	pages := (total + int64(filter.PerPage) - 1) / int64(filter.PerPage)
	c.JSON(http.StatusOK, pageView{
		Items:      items,
		Total:      total,
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalPages: pages,
	})
}

func (s *Server) getApplication(c *gin.Context) {
	app, err := s.applications.Get(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newStaffView(app))
}

func (s *Server) updateApplication(c *gin.Context) {
	var payload struct {
		Priority            *string `json:"priority"`
		Notes               *string `json:"notes"`
		InternalNotes       *string `json:"internal_notes"`
		IsUrgent            *bool   `json:"is_urgent"`
		RequiresAppointment *bool   `json:"requires_appointment"`
		DocumentsComplete   *bool   `json:"documents_complete"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err.Error())
		return
	}
	app, err := s.applications.Update(c.Request.Context(), c.Param("id"), service.UpdateInput{
		Priority:            payload.Priority,
		Notes:               payload.Notes,
		InternalNotes:       payload.InternalNotes,
		IsUrgent:            payload.IsUrgent,
		RequiresAppointment: payload.RequiresAppointment,
		DocumentsComplete:   payload.DocumentsComplete,
	}, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newStaffView(app))
}

func (s *Server) changeStatus(c *gin.Context) {
	var payload struct {
		Status  string `json:"status" binding:"required"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "status is required")
		return
	}
	app, entry, err := s.applications.Transition(c.Request.Context(), c.Param("id"), models.ApplicationStatus(payload.Status), payload.Message, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": newStaffView(app), "statusUpdate": entry})
}

func (s *Server) assignApplication(c *gin.Context) {
	var payload struct {
		CaseWorkerID string `json:"case_worker_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "case_worker_id is required")
		return
	}
	id, err := uuid.Parse(payload.CaseWorkerID)
	if err != nil {
		badRequest(c, "invalid case_worker_id")
		return
	}
	app, err := s.applications.Assign(c.Request.Context(), c.Param("id"), id, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newStaffView(app))
}

func (s *Server) staffHistory(c *gin.Context) {
	history, err := s.applications.History(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
