// Package storage declares the persistence ports of the calendar core. The
// sqlx-backed implementation lives in internal/repository; services only
// ever see these interfaces.
package storage

import (
	"context"
	"time"

	"github.com/chronoshq/chronos-api/internal/models"
)

// EventSearchOptions narrows event searches.
type EventSearchOptions struct {
	FolderID string
	// EntityID restricts to events where the given calendar user
	// participates.
	EntityID     string
	From         *time.Time
	Until        *time.Time
	UpdatedSince *time.Time
	// MastersOnly skips change-exceptions.
	MastersOnly bool
	Limit       int
}

// EventStorage persists events and their tombstones.
type EventStorage interface {
	LoadEvent(ctx context.Context, id string) (*models.Event, error)
	LoadExceptions(ctx context.Context, seriesID string) ([]models.Event, error)
	ResolveByUID(ctx context.Context, uid string) (*models.Event, error)
	SearchEvents(ctx context.Context, opts EventSearchOptions) ([]models.Event, error)
	SearchOverlappingEvents(ctx context.Context, entityID string, from, until time.Time) ([]models.Event, error)
	CountEvents(ctx context.Context, folderID string) (int, error)
	InsertEvent(ctx context.Context, event *models.Event) error
	UpdateEvent(ctx context.Context, event *models.Event) error
	DeleteEvent(ctx context.Context, id string) error
	InsertEventTombstone(ctx context.Context, event *models.Event) error
	SearchTombstones(ctx context.Context, folderID string, updatedSince time.Time) ([]models.Event, error)
	PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error)
	NextID(ctx context.Context) (string, error)
}

// AttendeeStorage persists per-event attendee rows.
type AttendeeStorage interface {
	LoadAttendees(ctx context.Context, eventIDs []string) (map[string][]models.Attendee, error)
	InsertAttendees(ctx context.Context, eventID string, attendees []models.Attendee) error
	UpdateAttendee(ctx context.Context, eventID string, attendee models.Attendee) error
	DeleteAttendees(ctx context.Context, eventID string, entityIDs []string) error
	InsertAttendeeTombstone(ctx context.Context, eventID string, attendee models.Attendee) error
	// AttendedChangeExceptionDates lists the recurrence ids of stored
	// change-exceptions in the series where the user holds a non-hidden
	// attendee row.
	AttendedChangeExceptionDates(ctx context.Context, seriesID, entityID string) (models.DateList, error)
}

// AlarmStorage persists per-user alarms and their materialised triggers.
type AlarmStorage interface {
	LoadAlarms(ctx context.Context, eventID string) ([]models.Alarm, error)
	LoadAlarmsForUser(ctx context.Context, eventID, entityID string) ([]models.Alarm, error)
	InsertAlarms(ctx context.Context, alarms []models.Alarm) error
	UpdateAlarm(ctx context.Context, alarm models.Alarm) error
	DeleteAlarms(ctx context.Context, eventID string, entityID string) error
	DeleteAlarmTriggers(ctx context.Context, eventID string, entityID string) error
	InsertAlarmTriggers(ctx context.Context, triggers []models.AlarmTrigger) error
}

// AvailabilityStorage loads declared availability calendars.
type AvailabilityStorage interface {
	LoadAvailability(ctx context.Context, entityID string) (*models.Availability, error)
}

// Calendar bundles all storages behind one transactional scope. Mutating
// performers run inside InTransaction; failure anywhere rolls the whole
// group of writes back.
type Calendar interface {
	Events() EventStorage
	Attendees() AttendeeStorage
	Alarms() AlarmStorage
	Availability() AvailabilityStorage
	InTransaction(ctx context.Context, fn func(tx Calendar) error) error
}
