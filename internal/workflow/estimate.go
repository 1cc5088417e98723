package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/rickar/cal/v2"

	"github.com/example/civictrack/internal/models"
)

// DefaultBusinessDays applies to types without a configured duration and to
// any estimate that could not be computed.
const DefaultBusinessDays = 14

var businessDays = map[models.ApplicationType]int{
	models.TypePassport:      21,
	models.TypeIDCard:        14,
	models.TypeDriverLicense: 10,

	models.TypeBirthCertificate:    5,
	models.TypeMarriageCertificate: 5,
	models.TypeDeathCertificate:    5,
	models.TypeCriminalRecord:      7,

	models.TypeResidenceRegistration:   1,
	models.TypeResidenceDeregistration: 1,
	models.TypeResidenceCertificate:    3,

	models.TypeBusinessRegistration: 10,
	models.TypeBusinessLicense:      21,
	models.TypeTradeLicense:         14,

	models.TypeLoan:                 30,
	models.TypeSocialBenefits:       21,
	models.TypeUnemploymentBenefits: 14,
	models.TypeChildAllowance:       10,

	models.TypeTaxCertificate:    7,
	models.TypeTaxReturn:         14,
	models.TypeIncomeCertificate: 5,

	models.TypeParkingPermit:  5,
	models.TypeBuildingPermit: 60,
	models.TypeEventPermit:    14,

	models.TypeNotaryService: 3,
	models.TypeApostille:     7,
	models.TypeOther:         14,
}

// BusinessDays returns the processing duration configured for t.
func BusinessDays(t models.ApplicationType) int {
	if d, ok := businessDays[t]; ok {
		return d
	}
	return DefaultBusinessDays
}

// Estimator computes expected completion dates on a business calendar.
type Estimator struct {
	calendar *cal.BusinessCalendar
	logger   *slog.Logger
}

// NewEstimator returns an estimator on a Monday to Friday calendar with no holidays.
func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{calendar: cal.NewBusinessCalendar(), logger: logger}
}

// Estimate returns the date t is expected to complete when started at from.
// It never fails: any error falls back to the default duration.
func (e *Estimator) Estimate(t models.ApplicationType, from time.Time) time.Time {
	days := BusinessDays(t)
	due, err := e.add(from, days)
	if err == nil {
		return due
	}
	e.logger.Warn("completion estimate failed, using default",
		"application_type", t, "business_days", days, "error", err)
	if from.IsZero() {
		from = time.Now().UTC()
	}
	due, err = e.add(from, DefaultBusinessDays)
	if err != nil {
		// only reachable with a broken calendar
		return from.AddDate(0, 0, DefaultBusinessDays*7/5)
	}
	return due
}

// AddBusinessDays advances from one calendar day at a time and returns the
// day on which the count of workdays reaches days.
func (e *Estimator) AddBusinessDays(from time.Time, days int) (time.Time, error) {
	return e.add(from, days)
}

func (e *Estimator) add(from time.Time, days int) (due time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("estimate panicked: ", r))
		}
	}()
	if from.IsZero() {
		return time.Time{}, errors.New("start date is zero")
	}
	if days <= 0 {
		return time.Time{}, errors.Errorf("invalid business day count %d", days)
	}
	current := from
	counted := 0
	for counted < days {
		current = current.AddDate(0, 0, 1)
		if e.calendar.IsWorkday(current) {
			counted++
		}
	}
	return current, nil
}
