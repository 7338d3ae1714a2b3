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

func newMoveService(store *memoryCalendar) *MoveService {
	return NewMoveService(store, recurrence.NewService(1000), fixtureFolders(), fixtureUsers(), nil, nil, nil)
}

func TestMoveBetweenOwnFoldersKeepsAttendeeRows(t *testing.T) {
	folders := fixtureFolders()
	second := *folders.folders["cal-alice"]
	second.ID = "cal-alice-work"
	second.Name = "Work"
	folders.folders["cal-alice-work"] = &second

	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Dentist",
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-01T00:00:00Z"),
	})
	require.NoError(t, store.InsertAttendees(context.Background(), "ev-1", []models.Attendee{
		{EntityID: "alice", URI: "mailto:alice@example.com", FolderID: "cal-alice"},
	}))
	require.NoError(t, store.InsertAlarms(context.Background(), []models.Alarm{
		{ID: "al-1", EventID: "ev-1", EntityID: "alice", FolderID: "cal-alice", Action: models.AlarmActionDisplay},
	}))

	svc := NewMoveService(store, recurrence.NewService(1000), folders, fixtureUsers(), nil, nil, nil)
	result, err := svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID:         "ev-1",
		TargetFolderID:  "cal-alice-work",
		ClientTimestamp: at("2024-02-01T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)

	moved, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "cal-alice-work", moved.FolderID)

	rows, err := store.LoadAttendees(context.Background(), []string{"ev-1"})
	require.NoError(t, err)
	require.Len(t, rows["ev-1"], 1)
	assert.Equal(t, "cal-alice-work", rows["ev-1"][0].FolderID, "the owner's placement pointer follows")

	alarms, err := store.LoadAlarms(context.Background(), "ev-1")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "cal-alice-work", alarms[0].FolderID, "the alarm follows the event")

	assert.Len(t, store.eventTombstones, 1, "sync clients find the pre-move state")
	assert.Empty(t, store.attendeeTombstones["ev-1"], "no attendee relationship ended")
}

func TestMoveAcrossOwnersReassignsOwnership(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Handover",
		CreatedBy: "alice", Sequence: 1,
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Organizer: &models.Organizer{EntityID: "alice", URI: "mailto:alice@example.com"},
		Timestamp: at("2024-02-01T00:00:00Z"),
	})
	require.NoError(t, store.InsertAttendees(context.Background(), "ev-1", []models.Attendee{
		{EntityID: "alice", URI: "mailto:alice@example.com", FolderID: "cal-alice"},
	}))

	svc := newMoveService(store)
	result, err := svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID:         "ev-1",
		TargetFolderID:  "cal-bob",
		ClientTimestamp: at("2024-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	moved, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", moved.ID, "the event identity survives the ownership change")
	assert.Equal(t, "cal-bob", moved.FolderID)
	require.NotNil(t, moved.Organizer)
	assert.Equal(t, "bob", moved.Organizer.EntityID)
	assert.Equal(t, 2, moved.Sequence, "an ownership change bumps the sequence")

	rows, err := store.LoadAttendees(context.Background(), []string{"ev-1"})
	require.NoError(t, err)
	require.Len(t, rows["ev-1"], 1)
	assert.Equal(t, "bob", rows["ev-1"][0].EntityID)
	assert.Equal(t, models.ParticipationAccepted, rows["ev-1"][0].Participation)

	require.Len(t, store.attendeeTombstones["ev-1"], 1)
	assert.Equal(t, "alice", store.attendeeTombstones["ev-1"][0].EntityID)

	assert.Equal(t, "cal-alice", result.Updates[0].Original.FolderID)
}

func TestMovePersonalToPublicClearsPlacement(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Review",
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-01T00:00:00Z"),
	})
	require.NoError(t, store.InsertAttendees(context.Background(), "ev-1", []models.Attendee{
		{EntityID: "alice", URI: "mailto:alice@example.com", FolderID: "cal-alice"},
	}))

	svc := newMoveService(store)
	_, err := svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID:         "ev-1",
		TargetFolderID:  "team",
		ClientTimestamp: at("2024-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	moved, err := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "team", moved.FolderID)

	rows, err := store.LoadAttendees(context.Background(), []string{"ev-1"})
	require.NoError(t, err)
	assert.Empty(t, rows["ev-1"][0].FolderID, "public placement lives on the event, not the attendee")
}

func TestMoveRejectsSeriesAndOccurrences(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "master", SeriesID: "master", UID: "uid-1", FolderID: "cal-alice",
		CreatedBy: "alice", RecurrenceRule: "FREQ=DAILY;COUNT=5",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
	})
	store.put(models.Event{
		ID: "exception", SeriesID: "master", UID: "uid-1", FolderID: "cal-alice",
		CreatedBy: "alice", RecurrenceID: ptrTime(at("2024-03-02T10:00:00Z")),
		StartDate: at("2024-03-02T12:00:00Z"), EndDate: at("2024-03-02T13:00:00Z"),
	})

	svc := newMoveService(store)

	_, err := svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID: "master", TargetFolderID: "cal-bob", ClientTimestamp: at("2024-03-01T10:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMoveSeriesUnsupported))

	_, err = svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID: "exception", TargetFolderID: "cal-bob", ClientTimestamp: at("2024-03-01T10:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMoveOccurrenceUnsup))
}

func TestMoveIntoReadOnlyTargetFails(t *testing.T) {
	folders := fixtureFolders()
	dropbox := *folders.folders["cal-alice"]
	dropbox.ID = "cal-alice-inbox"
	dropbox.Name = "Inbox"
	dropbox.Permission.WriteOwnObjects = false
	dropbox.Permission.WriteAllObjects = false
	folders.folders["cal-alice-inbox"] = &dropbox

	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", Summary: "Dentist",
		CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
		Timestamp: at("2024-02-01T00:00:00Z"),
	})

	svc := NewMoveService(store, recurrence.NewService(1000), folders, fixtureUsers(), nil, nil, nil)
	_, err := svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID:         "ev-1",
		TargetFolderID:  "cal-alice-inbox",
		ClientTimestamp: at("2024-02-01T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoPermission))

	stored, lerr := store.LoadEvent(context.Background(), "ev-1")
	require.NoError(t, lerr)
	assert.Equal(t, "cal-alice", stored.FolderID)
}

func TestMoveToSameFolderFails(t *testing.T) {
	store := newMemoryCalendar()
	store.put(models.Event{
		ID: "ev-1", FolderID: "cal-alice", CreatedBy: "alice",
		StartDate: at("2024-03-01T10:00:00Z"), EndDate: at("2024-03-01T11:00:00Z"),
	})

	svc := newMoveService(store)
	_, err := svc.Move(context.Background(), sessionFor("alice"), MoveRequest{
		EventID: "ev-1", TargetFolderID: "cal-alice", ClientTimestamp: at("2024-03-01T10:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
