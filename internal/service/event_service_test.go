package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

func newEventService(store *memoryCalendar) *EventService {
	return NewEventService(store, recurrence.NewService(1000), fixtureFolders(), fixtureUsers(), nil, nil, nil)
}

func strPtr(s string) *string { return &s }

func TestCreateEventAppliesDefaults(t *testing.T) {
	store := newMemoryCalendar()
	svc := newEventService(store)

	result, err := svc.Create(context.Background(), sessionFor("alice"), CreateEventRequest{
		FolderID: "cal-alice",
		Summary:  "Lunch",
		Start:    at("2024-03-01T12:00:00Z"),
		End:      at("2024-03-01T13:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, result.Creations, 1)

	event := result.Creations[0].Event
	assert.NotEmpty(t, event.ID)
	assert.NotEmpty(t, event.UID, "a missing uid is minted")
	assert.Equal(t, models.ClassificationPublic, event.Class)
	assert.Equal(t, "Europe/Berlin", event.TimeZone, "falls back to the user's configured timezone")
	assert.Equal(t, "alice", event.CreatedBy)

	stored, err := store.LoadEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lunch", stored.Summary)
}

func TestCreateGroupScheduledEventAddsActingUser(t *testing.T) {
	store := newMemoryCalendar()
	svc := newEventService(store)

	result, err := svc.Create(context.Background(), sessionFor("alice"), CreateEventRequest{
		FolderID: "cal-alice",
		Summary:  "Planning",
		Start:    at("2024-03-01T12:00:00Z"),
		End:      at("2024-03-01T13:00:00Z"),
		Attendees: []models.Attendee{
			{URI: "mailto:bob@example.com"},
		},
	})
	require.NoError(t, err)

	event := result.Creations[0].Event
	require.NotNil(t, event.Organizer)
	assert.Equal(t, "alice", event.Organizer.EntityID)
	require.Len(t, event.Attendees, 2, "the acting user always participates")

	organizer := models.FindAttendee(event.Attendees, models.CalendarUser{EntityID: "alice"})
	require.NotNil(t, organizer)
	assert.Equal(t, models.ParticipationAccepted, organizer.Participation)
	assert.Equal(t, "cal-alice", organizer.FolderID)

	invited := models.FindAttendee(event.Attendees, models.CalendarUser{EntityID: "bob"})
	require.NotNil(t, invited)
	assert.Equal(t, "bob", invited.EntityID, "the mailto address resolves to the internal user")
}

func TestCreateEventRejectsDuplicateUID(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		StartDate: at("2024-01-01T09:00:00Z"), EndDate: at("2024-01-01T10:00:00Z"),
	})
	svc := newEventService(store)

	_, err := svc.Create(context.Background(), sessionFor("alice"), CreateEventRequest{
		FolderID: "cal-alice", Summary: "Dup", UID: "uid-1",
		Start: at("2024-03-01T12:00:00Z"), End: at("2024-03-01T13:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUIDConflict))
}

func TestCreatePrivateEventInPublicFolderFails(t *testing.T) {
	svc := newEventService(newMemoryCalendar())

	_, err := svc.Create(context.Background(), sessionFor("alice"), CreateEventRequest{
		FolderID:       "team",
		Summary:        "Secret",
		Classification: models.ClassificationPrivate,
		Start:          at("2024-03-01T12:00:00Z"),
		End:            at("2024-03-01T13:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnsupportedClass))
}

func TestCreateRecurringEventMastersItsSeries(t *testing.T) {
	store := newMemoryCalendar()
	svc := newEventService(store)

	result, err := svc.Create(context.Background(), sessionFor("alice"), CreateEventRequest{
		FolderID:       "cal-alice",
		Summary:        "Standup",
		Start:          at("2024-03-01T09:00:00Z"),
		End:            at("2024-03-01T09:15:00Z"),
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
	})
	require.NoError(t, err)
	event := result.Creations[0].Event
	assert.Equal(t, event.ID, event.SeriesID)
	assert.True(t, event.IsSeriesMaster())
}

func TestCreateEventRejectsBrokenRule(t *testing.T) {
	svc := newEventService(newMemoryCalendar())

	_, err := svc.Create(context.Background(), sessionFor("alice"), CreateEventRequest{
		FolderID:       "cal-alice",
		Summary:        "Broken",
		Start:          at("2024-03-01T09:00:00Z"),
		End:            at("2024-03-01T09:15:00Z"),
		RecurrenceRule: "FREQ=NEVERLY",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRRule))
}

func TestUpdateStaleClientFailsWithoutMutation(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Original",
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-15T00:00:00Z"),
	})
	svc := newEventService(store)

	_, err := svc.Update(context.Background(), sessionFor("alice"), "ev-1", UpdateEventRequest{
		ClientTimestamp: at("2024-02-01T00:00:00Z"),
		Summary:         strPtr("Hijacked"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConcurrentModification))

	stored, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Original", stored.Summary, "a failed update leaves the record untouched")
	assert.Equal(t, at("2024-02-15T00:00:00Z"), stored.Timestamp)
	assert.Empty(t, store.eventTombstones)
}

func TestUpdatePatchWithoutRescheduleKeepsSequence(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Original",
		CreatedBy: "alice", Sequence: 2,
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-15T00:00:00Z"),
	})
	svc := newEventService(store)

	result, err := svc.Update(context.Background(), sessionFor("alice"), "ev-1", UpdateEventRequest{
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
		Summary:         strPtr("Renamed"),
	})
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, 2, result.Updates[0].Updated.Sequence)
	assert.Equal(t, "Renamed", result.Updates[0].Updated.Summary)
}

func TestUpdateRescheduleBumpsSequence(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Original",
		CreatedBy: "alice", Sequence: 2,
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-15T00:00:00Z"),
	})
	svc := newEventService(store)

	result, err := svc.Update(context.Background(), sessionFor("alice"), "ev-1", UpdateEventRequest{
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
		Start:           ptrTime(at("2024-03-01T14:00:00Z")),
		End:             ptrTime(at("2024-03-01T15:00:00Z")),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Updates[0].Updated.Sequence)
}

func TestUpdateOccurrenceMaterialisesChangeException(t *testing.T) {
	store := newMemoryCalendar()
	master := models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Standup", CreatedBy: "alice", Sequence: 1,
		StartDate:      at("2024-03-01T09:00:00Z"),
		EndDate:        at("2024-03-01T09:15:00Z"),
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
		Timestamp:      at("2024-02-15T00:00:00Z"),
	}
	store.put(master)
	svc := newEventService(store)

	rid := at("2024-03-03T09:00:00Z")
	result, err := svc.Update(context.Background(), sessionFor("alice"), "ev-1", UpdateEventRequest{
		ClientTimestamp: master.Timestamp,
		RecurrenceID:    &rid,
		Start:           ptrTime(at("2024-03-03T14:00:00Z")),
		End:             ptrTime(at("2024-03-03T14:15:00Z")),
	})
	require.NoError(t, err)
	require.Len(t, result.Creations, 1)
	require.Len(t, result.Updates, 1)

	exception := result.Creations[0].Event
	require.NotNil(t, exception.RecurrenceID)
	assert.True(t, exception.RecurrenceID.Equal(rid))
	assert.Equal(t, "ev-1", exception.SeriesID)
	assert.Equal(t, "uid-1", exception.UID)
	assert.Empty(t, exception.RecurrenceRule)
	assert.Equal(t, at("2024-03-03T14:00:00Z"), exception.StartDate)
	assert.Equal(t, 2, exception.Sequence, "the fork supersedes the master's invite")

	updatedMaster := result.Updates[0].Updated
	assert.True(t, updatedMaster.ChangeExceptionDates.Contains(rid))
}

func TestUpdateOccurrenceAtUnknownRecurrenceIDFails(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Standup", CreatedBy: "alice",
		StartDate:      at("2024-03-01T09:00:00Z"),
		EndDate:        at("2024-03-01T09:15:00Z"),
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
	})
	svc := newEventService(store)

	rid := at("2024-03-03T17:00:00Z")
	_, err := svc.Update(context.Background(), sessionFor("alice"), "ev-1", UpdateEventRequest{
		ClientTimestamp: at("2024-03-01T09:00:00Z"),
		RecurrenceID:    &rid,
		Summary:         strPtr("Nope"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestUpdateOccurrenceAtDeletedDateFails(t *testing.T) {
	store := newMemoryCalendar()
	rid := at("2024-03-03T09:00:00Z")
	store.put(models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Standup", CreatedBy: "alice",
		StartDate:            at("2024-03-01T09:00:00Z"),
		EndDate:              at("2024-03-01T09:15:00Z"),
		RecurrenceRule:       "FREQ=DAILY;COUNT=10",
		DeleteExceptionDates: models.DateList{rid},
	})
	svc := newEventService(store)

	_, err := svc.Update(context.Background(), sessionFor("alice"), "ev-1", UpdateEventRequest{
		ClientTimestamp: at("2024-03-01T09:00:00Z"),
		RecurrenceID:    &rid,
		Summary:         strPtr("Nope"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestDeleteSeriesRemovesExceptionsAndWritesTombstones(t *testing.T) {
	store := newMemoryCalendar()
	rid := at("2024-03-03T09:00:00Z")
	store.put(models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Standup", CreatedBy: "alice",
		StartDate:            at("2024-03-01T09:00:00Z"),
		EndDate:              at("2024-03-01T09:15:00Z"),
		RecurrenceRule:       "FREQ=DAILY;COUNT=10",
		ChangeExceptionDates: models.DateList{rid},
		Timestamp:            at("2024-02-15T00:00:00Z"),
	})
	store.put(models.Event{
		ID: "ex-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		CreatedBy: "alice", RecurrenceID: &rid,
		StartDate: at("2024-03-03T14:00:00Z"), EndDate: at("2024-03-03T14:15:00Z"),
	})
	svc := newEventService(store)

	result, err := svc.Delete(context.Background(), sessionFor("alice"), "ev-1", at("2024-02-15T00:00:00Z"), nil)
	require.NoError(t, err)
	assert.Len(t, result.Deletions, 2, "master and exception")
	assert.Empty(t, store.events)
	assert.Len(t, store.eventTombstones, 2)
}

func TestDeleteOccurrenceRecordsDeleteException(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Standup", CreatedBy: "alice",
		StartDate:      at("2024-03-01T09:00:00Z"),
		EndDate:        at("2024-03-01T09:15:00Z"),
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
		Timestamp:      at("2024-02-15T00:00:00Z"),
	})
	svc := newEventService(store)

	rid := at("2024-03-03T09:00:00Z")
	result, err := svc.Delete(context.Background(), sessionFor("alice"), "ev-1", at("2024-02-15T00:00:00Z"), &rid)
	require.NoError(t, err)
	assert.Empty(t, result.Deletions, "the series itself survives")
	require.Len(t, result.Updates, 1)
	assert.True(t, result.Updates[0].Updated.DeleteExceptionDates.Contains(rid))

	stored, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.True(t, stored.DeleteExceptionDates.Contains(rid))
}

func TestDeleteOverriddenOccurrenceMigratesTheDate(t *testing.T) {
	store := newMemoryCalendar()
	rid := at("2024-03-03T09:00:00Z")
	store.put(models.Event{
		ID: "ev-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Standup", CreatedBy: "alice",
		StartDate:            at("2024-03-01T09:00:00Z"),
		EndDate:              at("2024-03-01T09:15:00Z"),
		RecurrenceRule:       "FREQ=DAILY;COUNT=10",
		ChangeExceptionDates: models.DateList{rid},
		Timestamp:            at("2024-02-15T00:00:00Z"),
	})
	store.put(models.Event{
		ID: "ex-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		CreatedBy: "alice", RecurrenceID: &rid,
		StartDate: at("2024-03-03T14:00:00Z"), EndDate: at("2024-03-03T14:15:00Z"),
	})
	svc := newEventService(store)

	result, err := svc.Delete(context.Background(), sessionFor("alice"), "ev-1", at("2024-02-15T00:00:00Z"), &rid)
	require.NoError(t, err)
	require.Len(t, result.Deletions, 1, "the override row is gone")

	stored, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.False(t, stored.ChangeExceptionDates.Contains(rid))
	assert.True(t, stored.DeleteExceptionDates.Contains(rid))
	_, err = store.LoadEvent(context.Background(), "ex-1")
	require.Error(t, err)
}

func TestGetUnknownEventFails(t *testing.T) {
	svc := newEventService(newMemoryCalendar())
	_, err := svc.Get(context.Background(), sessionFor("alice"), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestGetForeignPrivateEventReadsAsMissing(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Secret",
		Class: models.ClassificationPrivate, CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
	})
	svc := newEventService(store)

	_, err := svc.Get(context.Background(), sessionFor("bob"), "ev-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestListTombstonesAfterDelete(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Gone soon",
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-15T00:00:00Z"),
	})
	svc := newEventService(store)

	_, err := svc.Delete(context.Background(), sessionFor("alice"), "ev-1", at("2024-02-15T00:00:00Z"), nil)
	require.NoError(t, err)

	tombstones, err := svc.ListTombstones(context.Background(), sessionFor("alice"), "cal-alice", at("2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, tombstones.Events, 1)
	assert.Equal(t, "ev-1", tombstones.Events[0].ID)
	assert.False(t, tombstones.Timestamp.IsZero(), "tombstones advance the change token")
}
