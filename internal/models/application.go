package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ApplicationStatus describes the processing state of an application.
type ApplicationStatus string

const (
	StatusReceived               ApplicationStatus = "received"
	StatusUnderReview            ApplicationStatus = "under_review"
	StatusAdditionalInfoRequired ApplicationStatus = "additional_info_required"
	StatusVerification           ApplicationStatus = "verification"
	StatusDecision               ApplicationStatus = "decision"
	StatusCompleted              ApplicationStatus = "completed"
	StatusRejected               ApplicationStatus = "rejected"
)

// Statuses lists every status in processing order.
var Statuses = []ApplicationStatus{
	StatusReceived,
	StatusUnderReview,
	StatusAdditionalInfoRequired,
	StatusVerification,
	StatusDecision,
	StatusCompleted,
	StatusRejected,
}

// Valid reports whether s is one of the known statuses.
func (s ApplicationStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseApplicationStatus normalizes and validates a status string.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	s := ApplicationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errors.Errorf("unknown application status %q", raw)
	}
	return s, nil
}

// ApplicationType is the service category an applicant applies for.
type ApplicationType string

const (
	TypePassport                ApplicationType = "passport"
	TypeIDCard                  ApplicationType = "id_card"
	TypeDriverLicense           ApplicationType = "driver_license"
	TypeBirthCertificate        ApplicationType = "birth_certificate"
	TypeMarriageCertificate     ApplicationType = "marriage_certificate"
	TypeDeathCertificate        ApplicationType = "death_certificate"
	TypeCriminalRecord          ApplicationType = "criminal_record"
	TypeResidenceRegistration   ApplicationType = "residence_registration"
	TypeResidenceDeregistration ApplicationType = "residence_deregistration"
	TypeResidenceCertificate    ApplicationType = "residence_certificate"
	TypeResidencePermit         ApplicationType = "residence_permit"
	TypeVisaExtension           ApplicationType = "visa_extension"
	TypeWorkPermit              ApplicationType = "work_permit"
	TypeBusinessRegistration    ApplicationType = "business_registration"
	TypeBusinessLicense         ApplicationType = "business_license"
	TypeTradeLicense            ApplicationType = "trade_license"
	TypeLoan                    ApplicationType = "loan"
	TypeSocialBenefits          ApplicationType = "social_benefits"
	TypeUnemploymentBenefits    ApplicationType = "unemployment_benefits"
	TypeChildAllowance          ApplicationType = "child_allowance"
	TypeTaxCertificate          ApplicationType = "tax_certificate"
	TypeTaxReturn               ApplicationType = "tax_return"
	TypeIncomeCertificate       ApplicationType = "income_certificate"
	TypeParkingPermit           ApplicationType = "parking_permit"
	TypeBuildingPermit          ApplicationType = "building_permit"
	TypeEventPermit             ApplicationType = "event_permit"
	TypeNotaryService           ApplicationType = "notary_service"
	TypeApostille               ApplicationType = "apostille"
	TypeOther                   ApplicationType = "other"
)

// ApplicationTypes lists every accepted application type.
var ApplicationTypes = []ApplicationType{
	TypePassport, TypeIDCard, TypeDriverLicense,
	TypeBirthCertificate, TypeMarriageCertificate, TypeDeathCertificate, TypeCriminalRecord,
	TypeResidenceRegistration, TypeResidenceDeregistration, TypeResidenceCertificate,
	TypeResidencePermit, TypeVisaExtension, TypeWorkPermit,
	TypeBusinessRegistration, TypeBusinessLicense, TypeTradeLicense,
	TypeLoan, TypeSocialBenefits, TypeUnemploymentBenefits, TypeChildAllowance,
	TypeTaxCertificate, TypeTaxReturn, TypeIncomeCertificate,
	TypeParkingPermit, TypeBuildingPermit, TypeEventPermit,
	TypeNotaryService, TypeApostille, TypeOther,
}

// Valid reports whether t is an accepted application type.
func (t ApplicationType) Valid() bool {
	for _, known := range ApplicationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseApplicationType normalizes and validates a type string at the API boundary.
func ParseApplicationType(raw string) (ApplicationType, error) {
	t := ApplicationType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", errors.Errorf("unknown application type %q", raw)
	}
	return t, nil
}

// Priority orders applications in staff work queues.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Application is a citizen-service request tracked from submission to resolution.
// The ID doubles as the public reference number.
type Application struct {
	ID                  string            `gorm:"primaryKey;size:32" json:"id"`
	ApplicationType     ApplicationType   `gorm:"size:64;not null;index" json:"applicationType"`
	Status              ApplicationStatus `gorm:"size:32;not null;index" json:"status"`
	Priority            Priority          `gorm:"size:16;not null" json:"priority"`
	Email               string            `gorm:"not null;index" json:"email"`
	FirstName           string            `gorm:"not null" json:"firstName"`
	LastName            string            `gorm:"not null" json:"lastName"`
	DateOfBirth         string            `gorm:"size:10;not null" json:"-"`
	Phone               string            `json:"phone"`
	Nationality         string            `json:"nationality"`
	Address             string            `json:"address"`
	LanguagePreference  string            `gorm:"size:8;not null" json:"languagePreference"`
	CaseWorkerID        *uuid.UUID        `gorm:"type:uuid;index" json:"caseWorkerId"`
	SubmittedAt         time.Time         `json:"submittedAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	EstimatedCompletion time.Time         `json:"estimatedCompletion"`
	ActualCompletion    *time.Time        `json:"actualCompletion"`
	Notes               string            `json:"notes"`
	InternalNotes       string            `json:"-"`
	IsUrgent            bool              `gorm:"not null;default:false" json:"isUrgent"`
	RequiresAppointment bool              `gorm:"not null;default:false" json:"requiresAppointment"`
	DocumentsComplete   bool              `gorm:"not null;default:false" json:"documentsComplete"`
}

// BeforeCreate is a GORM hook that fills defaults the database does not.
func (a *Application) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		return errors.New("application reference number is required")
	}
	if a.Status == "" {
		a.Status = StatusReceived
	}
	if a.Priority == "" {
		a.Priority = PriorityNormal
	}
	return nil
}

// IsTerminal reports whether the application has been resolved.
func (a *Application) IsTerminal() bool {
	return a.Status.Terminal()
}

// Terminal reports whether no transition may leave s.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// StatusUpdate is one immutable entry of an application's status history.
// OldStatus is nil only for the entry written at submission; UpdatedBy is nil
// for system-driven transitions.
type StatusUpdate struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	ApplicationID string             `gorm:"size:32;not null;uniqueIndex:idx_status_updates_app_seq" json:"applicationId"`
	Sequence      int                `gorm:"not null;uniqueIndex:idx_status_updates_app_seq" json:"sequence"`
	OldStatus     *ApplicationStatus `gorm:"size:32" json:"oldStatus"`
	NewStatus     ApplicationStatus  `gorm:"size:32;not null" json:"newStatus"`
	Message       string             `json:"message"`
	UpdatedBy     *uuid.UUID         `gorm:"type:uuid" json:"updatedBy"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (u *StatusUpdate) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Document is metadata for a file an applicant or staff member uploaded.
type Document struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ApplicationID    string    `gorm:"size:32;not null;index" json:"applicationId"`
	Filename         string    `gorm:"not null" json:"filename"`
	OriginalFilename string    `gorm:"not null" json:"originalFilename"`
	FileSize         int64     `json:"fileSize"`
	MimeType         string    `json:"mimeType"`
	UploadedAt       time.Time `json:"uploadedAt"`
	UploadedBy       string    `gorm:"size:64" json:"uploadedBy"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
