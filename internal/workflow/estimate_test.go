package workflow

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/civictrack/internal/models"
)

func quietEstimator() *Estimator {
	return NewEstimator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func weekdaysBetween(from, to time.Time) int {
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

func TestEstimateResidenceRegistrationFridayLandsMonday(t *testing.T) {
	friday := time.Date(2024, 6, 14, 15, 4, 5, 0, time.UTC)
	require.Equal(t, time.Friday, friday.Weekday())

	due := quietEstimator().Estimate(models.TypeResidenceRegistration, friday)
	assert.Equal(t, time.Date(2024, 6, 17, 15, 4, 5, 0, time.UTC), due)
	assert.Equal(t, time.Monday, due.Weekday())
}

func TestEstimateCountsWeekdaysExactly(t *testing.T) {
	e := quietEstimator()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for offset := 0; offset < 14; offset++ {
		from := start.AddDate(0, 0, offset)
		for _, typ := range models.ApplicationTypes {
			due := e.Estimate(typ, from)
			assert.False(t, due.Before(from.AddDate(0, 0, 1)), "%s from %s", typ, from)
			assert.Equal(t, BusinessDays(typ), weekdaysBetween(from, due), "%s from %s", typ, from)
			wd := due.Weekday()
			assert.True(t, wd != time.Saturday && wd != time.Sunday, "%s lands on weekend", typ)
		}
	}
}

func TestBusinessDaysDefaults(t *testing.T) {
	assert.Equal(t, 21, BusinessDays(models.TypePassport))
	assert.Equal(t, 60, BusinessDays(models.TypeBuildingPermit))
	assert.Equal(t, DefaultBusinessDays, BusinessDays(models.TypeVisaExtension))
	assert.Equal(t, DefaultBusinessDays, BusinessDays(models.TypeWorkPermit))
	assert.Equal(t, DefaultBusinessDays, BusinessDays(models.TypeResidencePermit))
	assert.Equal(t, DefaultBusinessDays, BusinessDays("space_travel"))
}

func TestEstimateFailsClosedOnZeroStart(t *testing.T) {
	before := time.Now().UTC()
	due := quietEstimator().Estimate(models.TypePassport, time.Time{})
	assert.Equal(t, DefaultBusinessDays, weekdaysBetween(before, due))
}

func TestAddBusinessDaysRejectsBadInput(t *testing.T) {
	e := quietEstimator()
	_, err := e.AddBusinessDays(time.Time{}, 3)
	require.Error(t, err)
	_, err = e.AddBusinessDays(time.Now(), 0)
	require.Error(t, err)
}
