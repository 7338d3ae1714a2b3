package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

func newOrganizerService(store *memoryCalendar) *OrganizerService {
	return NewOrganizerService(store, fixtureUsers(), nil, nil, nil)
}

func groupEvent(store *memoryCalendar) models.Event {
	event := models.Event{
		ID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Planning", CreatedBy: "alice", Sequence: 1,
		StartDate: at("2024-03-01T10:00:00Z"),
		EndDate:   at("2024-03-01T11:00:00Z"),
		Organizer: &models.Organizer{EntityID: "alice", URI: "mailto:alice@example.com"},
		Timestamp: at("2024-02-15T00:00:00Z"),
	}
	store.put(event)
	store.attendees["ev-1"] = []models.Attendee{
		{EventID: "ev-1", EntityID: "alice", URI: "mailto:alice@example.com", Participation: models.ParticipationAccepted, CUType: models.CUTypeIndividual},
		{EventID: "ev-1", EntityID: "bob", URI: "mailto:bob@example.com", Participation: models.ParticipationAccepted, CUType: models.CUTypeIndividual},
	}
	return event
}

func TestChangeOrganizerHandsOverToAttendee(t *testing.T) {
	store := newMemoryCalendar()
	groupEvent(store)
	svc := newOrganizerService(store)

	result, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "bob",
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)

	updated := result.Updates[0].Updated
	require.NotNil(t, updated.Organizer)
	assert.Equal(t, "bob", updated.Organizer.EntityID)
	assert.Equal(t, "mailto:bob@example.com", updated.Organizer.URI)
	assert.Equal(t, 2, updated.Sequence, "a handover supersedes earlier invites")

	stored, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.Organizer.EntityID)
}

func TestChangeOrganizerCoversChangeExceptions(t *testing.T) {
	store := newMemoryCalendar()
	rid := at("2024-03-03T10:00:00Z")
	master := groupEvent(store)
	master.SeriesID = "ev-1"
	master.RecurrenceRule = "FREQ=DAILY;COUNT=10"
	master.ChangeExceptionDates = models.DateList{rid}
	store.put(master)
	store.put(models.Event{
		ID: "ex-1", SeriesID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		CreatedBy: "alice", RecurrenceID: &rid,
		Organizer: &models.Organizer{EntityID: "alice", URI: "mailto:alice@example.com"},
		StartDate: at("2024-03-03T14:00:00Z"), EndDate: at("2024-03-03T15:00:00Z"),
	})
	svc := newOrganizerService(store)

	result, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "bob",
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Len(t, result.Updates, 2, "master and its exception")

	exception, err := store.LoadEvent(context.Background(), "ex-1")
	require.NoError(t, err)
	require.NotNil(t, exception.Organizer)
	assert.Equal(t, "bob", exception.Organizer.EntityID)
}

func TestChangeOrganizerRejectsNonOrganizers(t *testing.T) {
	store := newMemoryCalendar()
	groupEvent(store)
	svc := newOrganizerService(store)

	_, err := svc.ChangeOrganizer(context.Background(), sessionFor("bob"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "bob",
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbiddenOrganizer))

	stored, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Organizer.EntityID)
}

func TestChangeOrganizerRejectsOutsiders(t *testing.T) {
	store := newMemoryCalendar()
	groupEvent(store)
	svc := newOrganizerService(store)

	// carol is a known user but not on the attendee list.
	_, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "carol",
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbiddenOrganizer))
}

func TestChangeOrganizerRejectsResources(t *testing.T) {
	store := newMemoryCalendar()
	groupEvent(store)
	store.attendees["ev-1"] = append(store.attendees["ev-1"], models.Attendee{
		EventID: "ev-1", EntityID: "carol", URI: "mailto:carol@example.com",
		Participation: models.ParticipationAccepted, CUType: models.CUTypeResource,
	})
	svc := newOrganizerService(store)

	_, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "carol",
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbiddenOrganizer))
}

func TestChangeOrganizerToSelfFails(t *testing.T) {
	store := newMemoryCalendar()
	groupEvent(store)
	svc := newOrganizerService(store)

	_, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "alice",
		ClientTimestamp: at("2024-02-15T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbiddenOrganizer))
}

func TestChangeOrganizerOnSoloEventFails(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", UID: "uid-1", FolderID: "cal-alice",
		Summary: "Focus time", CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
	})
	svc := newOrganizerService(store)

	_, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "bob",
		ClientTimestamp: at("2024-03-01T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbiddenOrganizer))
}

func TestChangeOrganizerStaleClientFails(t *testing.T) {
	store := newMemoryCalendar()
	groupEvent(store)
	svc := newOrganizerService(store)

	_, err := svc.ChangeOrganizer(context.Background(), sessionFor("alice"), ChangeOrganizerRequest{
		EventID:         "ev-1",
		NewOrganizerID:  "bob",
		ClientTimestamp: at("2024-02-01T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConcurrentModification))
}
