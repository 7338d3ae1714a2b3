package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

func date(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func dailyMaster(count string) *models.Event {
	return &models.Event{
		ID:             "series-1",
		SeriesID:       "series-1",
		UID:            "uid-1",
		StartDate:      date(1, 10),
		EndDate:        date(1, 11),
		RecurrenceRule: count,
	}
}

func TestIterateDailyRule(t *testing.T) {
	svc := NewService(0)
	data := models.RecurrenceData{Rule: "FREQ=DAILY;COUNT=5", Start: date(1, 10)}

	it, err := svc.Iterate(data, nil, nil, nil)
	require.NoError(t, err)

	var got []time.Time
	for {
		rid, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, rid)
	}
	require.Len(t, got, 5)
	assert.Equal(t, date(1, 10), got[0])
	assert.Equal(t, date(5, 10), got[4])
	assert.Equal(t, 5, it.Position())
}

func TestIteratePositionCountsSkippedIds(t *testing.T) {
	svc := NewService(0)
	data := models.RecurrenceData{Rule: "FREQ=DAILY;COUNT=10", Start: date(1, 10)}

	from := date(6, 0)
	it, err := svc.Iterate(data, nil, &from, nil)
	require.NoError(t, err)

	rid, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, date(6, 10), rid)
	assert.Equal(t, 6, it.Position(), "position is series-absolute")
}

func TestIterateFastForwardPastCapFails(t *testing.T) {
	svc := NewService(10)
	data := models.RecurrenceData{Rule: "FREQ=DAILY", Start: date(1, 10)}

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	ok, err := svc.HasOccurrenceBetween(data, nil, from, until)
	require.Error(t, err, "an unbounded series covers the window, silence would hide it")
	assert.True(t, appErrors.Is(err, appErrors.ErrTooManyOccurrences))
	assert.False(t, ok)

	next, _, err := svc.NextOccurrence(data, nil, from)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTooManyOccurrences))
	assert.Nil(t, next)
}

func TestIterateExcludesExDates(t *testing.T) {
	svc := NewService(0)
	data := models.RecurrenceData{Rule: "FREQ=DAILY;COUNT=3", Start: date(1, 10)}
	ex := models.DateList{date(2, 10)}

	it, err := svc.Iterate(data, ex, nil, nil)
	require.NoError(t, err)

	var got []time.Time
	for {
		rid, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, rid)
	}
	require.Len(t, got, 2)
	assert.Equal(t, date(1, 10), got[0])
	assert.Equal(t, date(3, 10), got[1])
}

func TestIterateRDateOnlySeries(t *testing.T) {
	svc := NewService(0)
	data := models.RecurrenceData{
		Start:           date(1, 10),
		RecurrenceDates: models.DateList{date(4, 10), date(8, 10)},
	}

	it, err := svc.Iterate(data, nil, nil, nil)
	require.NoError(t, err)

	var got []time.Time
	for {
		rid, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, rid)
	}
	require.Len(t, got, 3)
	assert.Equal(t, date(1, 10), got[0])
	assert.Equal(t, date(8, 10), got[2])
}

func TestNextOccurrence(t *testing.T) {
	svc := NewService(0)
	data := models.RecurrenceData{Rule: "FREQ=DAILY;COUNT=10", Start: date(1, 10)}

	next, pos, err := svc.NextOccurrence(data, nil, date(6, 0))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, date(6, 10), *next)
	assert.Equal(t, 6, pos)

	next, _, err = svc.NextOccurrence(data, nil, date(20, 0))
	require.NoError(t, err)
	assert.Nil(t, next, "series exhausted")
}

func TestInstancesBetweenWindowOverlap(t *testing.T) {
	svc := NewService(0)
	master := dailyMaster("FREQ=DAILY;COUNT=10")

	// Window opens mid-occurrence: Jan 3 10:00-11:00 overlaps [10:30, ...).
	instances, err := svc.InstancesBetween(master, date(3, 10).Add(30*time.Minute), date(5, 0))
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, date(3, 10), instances[0].StartDate)
	assert.Equal(t, date(4, 10), instances[1].StartDate)
	require.NotNil(t, instances[0].RecurrenceID)
	assert.Equal(t, date(3, 10), *instances[0].RecurrenceID)
	assert.Empty(t, instances[0].RecurrenceRule, "occurrences carry no rule")
}

func TestInstancesBetweenSkipsExceptions(t *testing.T) {
	svc := NewService(0)
	master := dailyMaster("FREQ=DAILY;COUNT=5")
	master.DeleteExceptionDates = models.DateList{date(2, 10)}
	master.ChangeExceptionDates = models.DateList{date(3, 10)}

	instances, err := svc.InstancesBetween(master, date(1, 0), date(10, 0))
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, date(1, 10), instances[0].StartDate)
	assert.Equal(t, date(4, 10), instances[1].StartDate)
	assert.Equal(t, date(5, 10), instances[2].StartDate)
}

func TestInstancesBetweenCap(t *testing.T) {
	svc := NewService(3)
	master := dailyMaster("FREQ=DAILY")

	_, err := svc.InstancesBetween(master, date(1, 0), date(31, 0))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTooManyOccurrences))
}

func TestIsFirstAndLastOccurrence(t *testing.T) {
	svc := NewService(0)
	data := models.RecurrenceData{Rule: "FREQ=DAILY;COUNT=3", Start: date(1, 10)}

	first, err := svc.IsFirstOccurrence(data, date(1, 10))
	require.NoError(t, err)
	assert.True(t, first)

	last, err := svc.IsLastOccurrence(data, date(3, 10))
	require.NoError(t, err)
	assert.True(t, last)

	mid, err := svc.IsLastOccurrence(data, date(2, 10))
	require.NoError(t, err)
	assert.False(t, mid)

	unbounded := models.RecurrenceData{Rule: "FREQ=DAILY", Start: date(1, 10)}
	last, err = svc.IsLastOccurrence(unbounded, date(3, 10))
	require.NoError(t, err)
	assert.False(t, last, "unbounded rules have no last occurrence")
}

func TestUntilBefore(t *testing.T) {
	rewritten, err := UntilBefore("FREQ=DAILY;COUNT=10", date(6, 0), false)
	require.NoError(t, err)
	assert.Contains(t, rewritten, "UNTIL=20240105T235959Z")
	assert.NotContains(t, rewritten, "COUNT")

	allDay, err := UntilBefore("FREQ=DAILY", date(6, 0), true)
	require.NoError(t, err)
	assert.Contains(t, allDay, "UNTIL=20240105T000000Z")
}

func TestDecrementCount(t *testing.T) {
	rewritten, err := DecrementCount("FREQ=DAILY;COUNT=10", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, RuleCount(rewritten))

	unchanged, err := DecrementCount("FREQ=DAILY", 5)
	require.NoError(t, err)
	assert.Equal(t, "FREQ=DAILY", unchanged)
}

func TestRuleIsBounded(t *testing.T) {
	assert.True(t, RuleIsBounded("FREQ=DAILY;COUNT=3"))
	assert.True(t, RuleIsBounded("FREQ=DAILY;UNTIL=20240201T000000Z"))
	assert.False(t, RuleIsBounded("FREQ=DAILY"))
	assert.True(t, RuleIsBounded(""))
}
