package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/service"
)

// multipart overhead allowed on top of the document itself
const uploadSlack = 1 << 20

func applicant(c *gin.Context, reference, dateOfBirth string) service.ApplicantCredentials {
	return service.ApplicantCredentials{Reference: reference, DateOfBirth: dateOfBirth, Client: c.ClientIP()}
}

func (s *Server) submitApplication(c *gin.Context) {
	var payload struct {
		ApplicationType    string `json:"application_type" binding:"required"`
		Email              string `json:"email" binding:"required"`
		FirstName          string `json:"first_name" binding:"required"`
		LastName           string `json:"last_name" binding:"required"`
		DateOfBirth        string `json:"date_of_birth" binding:"required"`
		Phone              string `json:"phone"`
		Nationality        string `json:"nationality"`
		Address            string `json:"address"`
		LanguagePreference string `json:"language_preference"`
		Notes              string `json:"notes"`
		IsUrgent           bool   `json:"is_urgent"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err.Error())
		return
	}

	app, err := s.applications.Submit(c.Request.Context(), service.SubmitInput{
		ApplicationType:    payload.ApplicationType,
		Email:              payload.Email,
		FirstName:          payload.FirstName,
		LastName:           payload.LastName,
		DateOfBirth:        payload.DateOfBirth,
		Phone:              payload.Phone,
		Nationality:        payload.Nationality,
		Address:            payload.Address,
		LanguagePreference: payload.LanguagePreference,
		Notes:              payload.Notes,
		IsUrgent:           payload.IsUrgent,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCitizenView(app))
}

func (s *Server) checkStatus(c *gin.Context) {
	var payload struct {
		ApplicationID string `json:"application_id" binding:"required"`
		DateOfBirth   string `json:"date_of_birth" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "application_id and date_of_birth are required")
		return
	}
	app, err := s.applications.CheckStatus(c.Request.Context(), applicant(c, payload.ApplicationID, payload.DateOfBirth))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCitizenView(app))
}

func (s *Server) applicantHistory(c *gin.Context) {
	history, err := s.applications.ApplicantHistory(c.Request.Context(), applicant(c, c.Param("id"), c.Query("date_of_birth")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCitizenHistory(history))
}

func (s *Server) applicantDocuments(c *gin.Context) {
	docs, err := s.applications.ApplicantDocuments(c.Request.Context(), applicant(c, c.Param("id"), c.Query("date_of_birth")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxDocumentBytes+uploadSlack)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, "file exceeds the 10 MB limit")
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	doc, err := s.applications.UploadDocument(c.Request.Context(), applicant(c, c.Param("id"), c.PostForm("date_of_birth")), service.DocumentInput{
		Filename: file.Filename,
		Size:     file.Size,
		MimeType: file.Header.Get("Content-Type"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}
