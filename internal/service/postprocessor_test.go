package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
)

func newTestProcessor(store *memoryCalendar, opts PostProcessorOptions) *PostProcessor {
	return NewPostProcessor(store, recurrence.NewService(1000), fixtureFolders(), nil, opts)
}

func TestPostProcessorDropsForeignPrivateEvents(t *testing.T) {
	store := newMemoryCalendar()
	private := models.Event{
		ID: "ev-1", FolderID: "team", Summary: "Therapy",
		Class:     models.ClassificationPrivate,
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-01T00:00:00Z"),
	}
	store.put(private)

	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("bob"),
		User:    models.CalendarUser{EntityID: "bob"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{private}))
	assert.Empty(t, pp.Result().Events, "private events must vanish for outsiders")

	// The creator still sees the full event.
	pp = newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("alice"),
		User:    models.CalendarUser{EntityID: "alice"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{private}))
	result := pp.Result()
	require.Len(t, result.Events, 1)
	assert.Equal(t, "Therapy", result.Events[0].Summary)
}

func TestPostProcessorAnonymizesConfidentialForOutsiders(t *testing.T) {
	store := newMemoryCalendar()
	confidential := models.Event{
		ID: "ev-1", UID: "uid-1", FolderID: "team",
		Summary: "Merger talks", Description: "Top secret", Location: "Boardroom",
		Class:     models.ClassificationConfidential,
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-01T00:00:00Z"),
	}
	store.put(confidential)

	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("bob"),
		User:    models.CalendarUser{EntityID: "bob"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{confidential}))
	result := pp.Result()
	require.Len(t, result.Events, 1)

	got := result.Events[0]
	assert.Equal(t, "Private", got.Summary)
	assert.Empty(t, got.Description)
	assert.Empty(t, got.Location)
	assert.Equal(t, confidential.StartDate, got.StartDate, "the busy window survives")
	assert.Equal(t, confidential.EndDate, got.EndDate)
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, "uid-1", got.UID)
}

func TestAnonymizeIsIdempotent(t *testing.T) {
	event := &models.Event{
		ID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Secret", Description: "details", Location: "somewhere",
		Class:     models.ClassificationConfidential,
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Attendees: []models.Attendee{{EntityID: "alice", URI: "mailto:alice@example.com"}},
		Organizer: &models.Organizer{EntityID: "alice"},
		Sequence:  3,
		Timestamp: at("2024-02-01T00:00:00Z"),
	}
	once := anonymize(event, "en")
	twice := anonymize(once, "en")
	assert.Equal(t, once, twice)
	assert.Nil(t, once.Organizer)
	assert.Empty(t, once.Attendees)
}

func TestPostProcessorRangeFilterIsHalfOpen(t *testing.T) {
	from := at("2024-03-01T10:00:00Z")
	until := at("2024-03-01T12:00:00Z")

	endsAtFrom := models.Event{
		ID: "ev-ends", FolderID: "cal-alice",
		StartDate: at("2024-03-01T09:00:00Z"), EndDate: from,
	}
	startsAtUntil := models.Event{
		ID: "ev-starts", FolderID: "cal-alice",
		StartDate: until, EndDate: at("2024-03-01T13:00:00Z"),
	}
	zeroAtFrom := models.Event{
		ID: "ev-zero", FolderID: "cal-alice",
		StartDate: from, EndDate: from,
	}
	inside := models.Event{
		ID: "ev-inside", FolderID: "cal-alice",
		StartDate: at("2024-03-01T10:30:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
	}

	store := newMemoryCalendar()
	for _, event := range []models.Event{endsAtFrom, startsAtUntil, zeroAtFrom, inside} {
		store.put(event)
	}
	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("alice"),
		User:    models.CalendarUser{EntityID: "alice"},
		From:    ptrTime(from),
		Until:   ptrTime(until),
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{endsAtFrom, startsAtUntil, zeroAtFrom, inside}))

	kept := map[string]bool{}
	for _, event := range pp.Result().Events {
		kept[event.ID] = true
	}
	assert.False(t, kept["ev-ends"], "an event ending exactly at the window start lies outside")
	assert.False(t, kept["ev-starts"], "an event starting exactly at the window end lies outside")
	assert.True(t, kept["ev-zero"], "a zero-length event on the window start lies inside")
	assert.True(t, kept["ev-inside"])
}

func TestPostProcessorDropsHiddenAttendeeEvents(t *testing.T) {
	event := models.Event{
		ID: "ev-1", FolderID: "team", Summary: "Standup",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T10:15:00Z"),
		Attendees: []models.Attendee{
			{EntityID: "alice", URI: "mailto:alice@example.com"},
			{EntityID: "bob", URI: "mailto:bob@example.com", Hidden: true},
		},
	}
	store := newMemoryCalendar()
	store.put(event)

	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("bob"),
		User:    models.CalendarUser{EntityID: "bob", URI: "mailto:bob@example.com"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{event}))
	assert.Empty(t, pp.Result().Events)
}

func TestPostProcessorResolvesOccurrences(t *testing.T) {
	master := models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary:        "Daily",
		StartDate:      at("2024-03-01T09:00:00Z"),
		EndDate:        at("2024-03-01T09:30:00Z"),
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
		DeleteExceptionDates: models.DateList{
			at("2024-03-03T09:00:00Z"),
		},
	}
	store := newMemoryCalendar()
	store.put(master)

	pp := newTestProcessor(store, PostProcessorOptions{
		Session:            sessionFor("alice"),
		User:               models.CalendarUser{EntityID: "alice"},
		From:               ptrTime(at("2024-03-01T00:00:00Z")),
		Until:              ptrTime(at("2024-03-05T00:00:00Z")),
		ResolveOccurrences: true,
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{master}))

	result := pp.Result()
	require.Len(t, result.Events, 3, "four days in window minus one delete exception")
	for _, occ := range result.Events {
		assert.Equal(t, "cal-alice", occ.FolderID)
		assert.Equal(t, 30*time.Minute, occ.EndDate.Sub(occ.StartDate))
	}
}

func TestPostProcessorUserizesUnattendedChangeExceptions(t *testing.T) {
	ridAttended := at("2024-03-02T09:00:00Z")
	ridUnattended := at("2024-03-03T09:00:00Z")

	master := models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary:              "Sync",
		StartDate:            at("2024-03-01T09:00:00Z"),
		EndDate:              at("2024-03-01T09:30:00Z"),
		RecurrenceRule:       "FREQ=DAILY;COUNT=5",
		ChangeExceptionDates: models.DateList{ridAttended, ridUnattended},
		Organizer:            &models.Organizer{EntityID: "alice", URI: "mailto:alice@example.com"},
		Attendees: []models.Attendee{
			{EntityID: "alice", URI: "mailto:alice@example.com"},
			{EntityID: "bob", URI: "mailto:bob@example.com"},
		},
	}
	attendedEx := models.Event{
		ID: "ev-2", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		RecurrenceID: ptrTime(ridAttended),
		StartDate:    ridAttended, EndDate: ridAttended.Add(30 * time.Minute),
	}
	unattendedEx := models.Event{
		ID: "ev-3", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		RecurrenceID: ptrTime(ridUnattended),
		StartDate:    ridUnattended, EndDate: ridUnattended.Add(30 * time.Minute),
	}

	store := newMemoryCalendar()
	store.put(master)
	store.put(attendedEx)
	store.put(unattendedEx)
	require.NoError(t, store.InsertAttendees(context.Background(), "ev-2", []models.Attendee{
		{EntityID: "alice", URI: "mailto:alice@example.com"},
		{EntityID: "bob", URI: "mailto:bob@example.com"},
	}))
	// Bob was dropped from the second override.
	require.NoError(t, store.InsertAttendees(context.Background(), "ev-3", []models.Attendee{
		{EntityID: "alice", URI: "mailto:alice@example.com"},
	}))

	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("bob"),
		User:    models.CalendarUser{EntityID: "bob", URI: "mailto:bob@example.com"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{master}))

	result := pp.Result()
	require.Len(t, result.Events, 1)
	view := result.Events[0]
	assert.True(t, view.ChangeExceptionDates.Contains(ridAttended))
	assert.False(t, view.ChangeExceptionDates.Contains(ridUnattended))
	assert.True(t, view.DeleteExceptionDates.Contains(ridUnattended),
		"an unattended override must read as a deleted occurrence")

	// The union of both sets is preserved and the sets stay disjoint.
	for _, date := range view.ChangeExceptionDates {
		assert.False(t, view.DeleteExceptionDates.Contains(date))
	}
	assert.Len(t, append(view.ChangeExceptionDates, view.DeleteExceptionDates...), 2)

	// The stored master is untouched.
	stored, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.True(t, stored.ChangeExceptionDates.Contains(ridUnattended))
	assert.False(t, stored.DeleteExceptionDates.Contains(ridUnattended))
}

func TestPostProcessorCollectsStaleFolderWarnings(t *testing.T) {
	event := models.Event{
		ID: "ev-1", FolderID: "gone",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
	}
	store := newMemoryCalendar()
	store.put(event)

	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("alice"),
		User:    models.CalendarUser{EntityID: "alice"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{event}))

	result := pp.Result()
	require.Len(t, result.Events, 1, "a stale folder reference degrades, it does not drop the event")
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "FOLDER_NOT_FOUND", result.Warnings[0].Code)
	assert.Equal(t, []string{"gone"}, pp.StaleFolders())
}

func TestPostProcessorAdvancesChangeToken(t *testing.T) {
	older := models.Event{
		ID: "ev-1", FolderID: "cal-alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-01T00:00:00Z"),
	}
	newer := models.Event{
		ID: "ev-2", FolderID: "cal-alice",
		StartDate: at("2024-03-02T10:00:00Z"), EndDate: at("2024-03-02T11:00:00Z"),
		Timestamp: at("2024-02-15T00:00:00Z"),
	}
	store := newMemoryCalendar()
	store.put(older)
	store.put(newer)

	pp := newTestProcessor(store, PostProcessorOptions{
		Session: sessionFor("alice"),
		User:    models.CalendarUser{EntityID: "alice"},
	})
	require.NoError(t, pp.Process(context.Background(), []models.Event{older, newer}))
	assert.Equal(t, newer.Timestamp, pp.Result().Timestamp)
}
