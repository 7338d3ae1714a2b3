package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// memoryCalendar is a map-backed storage.Calendar used by the service tests.
// It hands out clones so mutations only become visible through explicit
// writes, the way the sql-backed implementation behaves.
type memoryCalendar struct {
	events             map[string]*models.Event
	attendees          map[string][]models.Attendee
	alarms             map[string][]models.Alarm
	triggers           map[string][]models.AlarmTrigger
	availability       map[string]*models.Availability
	eventTombstones    []models.Event
	attendeeTombstones map[string][]models.Attendee

	insertErr error
	updateErr error
	idSeq     int
}

func newMemoryCalendar() *memoryCalendar {
	return &memoryCalendar{
		events:             map[string]*models.Event{},
		attendees:          map[string][]models.Attendee{},
		alarms:             map[string][]models.Alarm{},
		triggers:           map[string][]models.AlarmTrigger{},
		availability:       map[string]*models.Availability{},
		attendeeTombstones: map[string][]models.Attendee{},
	}
}

func (m *memoryCalendar) put(event models.Event) {
	m.events[event.ID] = event.Clone()
}

func (m *memoryCalendar) Events() storage.EventStorage             { return m }
func (m *memoryCalendar) Attendees() storage.AttendeeStorage       { return m }
func (m *memoryCalendar) Alarms() storage.AlarmStorage             { return m }
func (m *memoryCalendar) Availability() storage.AvailabilityStorage { return m }

func (m *memoryCalendar) InTransaction(ctx context.Context, fn func(tx storage.Calendar) error) error {
	return fn(m)
}

func (m *memoryCalendar) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	event, ok := m.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return event.Clone(), nil
}

func (m *memoryCalendar) LoadExceptions(ctx context.Context, seriesID string) ([]models.Event, error) {
	var out []models.Event
	for _, event := range m.events {
		if event.SeriesID == seriesID && event.ID != seriesID && event.RecurrenceID != nil {
			out = append(out, *event.Clone())
		}
	}
	return out, nil
}

func (m *memoryCalendar) ResolveByUID(ctx context.Context, uid string) (*models.Event, error) {
	for _, event := range m.events {
		if event.UID == uid && event.RecurrenceID == nil {
			return event.Clone(), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryCalendar) SearchEvents(ctx context.Context, opts storage.EventSearchOptions) ([]models.Event, error) {
	var out []models.Event
	for _, event := range m.events {
		if opts.FolderID != "" && !m.inFolder(event, opts.FolderID) {
			continue
		}
		if opts.MastersOnly && event.RecurrenceID != nil {
			continue
		}
		if opts.UpdatedSince != nil && !event.Timestamp.After(*opts.UpdatedSince) {
			continue
		}
		if opts.From != nil && event.RecurrenceRule == "" && len(event.RecurrenceDates) == 0 && !event.EndDate.After(*opts.From) {
			continue
		}
		if opts.Until != nil && !event.StartDate.Before(*opts.Until) && event.RecurrenceRule == "" {
			continue
		}
		out = append(out, *event.Clone())
	}
	return out, nil
}

func (m *memoryCalendar) inFolder(event *models.Event, folderID string) bool {
	if event.FolderID == folderID {
		return true
	}
	for _, attendee := range m.attendees[event.ID] {
		if attendee.FolderID == folderID {
			return true
		}
	}
	return false
}

func (m *memoryCalendar) SearchOverlappingEvents(ctx context.Context, entityID string, from, until time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, event := range m.events {
		attending := false
		for _, attendee := range m.attendees[event.ID] {
			if attendee.EntityID == entityID && !attendee.Hidden {
				attending = true
				break
			}
		}
		if !attending {
			continue
		}
		recurring := event.RecurrenceRule != "" || len(event.RecurrenceDates) > 0
		if !recurring && (!event.EndDate.After(from) || !event.StartDate.Before(until)) {
			continue
		}
		out = append(out, *event.Clone())
	}
	return out, nil
}

func (m *memoryCalendar) CountEvents(ctx context.Context, folderID string) (int, error) {
	count := 0
	for _, event := range m.events {
		if event.FolderID == folderID {
			count++
		}
	}
	return count, nil
}

func (m *memoryCalendar) InsertEvent(ctx context.Context, event *models.Event) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if event.ID == "" {
		event.ID, _ = m.NextID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.events[event.ID] = event.Clone()
	return nil
}

func (m *memoryCalendar) UpdateEvent(ctx context.Context, event *models.Event) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.events[event.ID]; !ok {
		return sql.ErrNoRows
	}
	m.events[event.ID] = event.Clone()
	return nil
}

func (m *memoryCalendar) DeleteEvent(ctx context.Context, id string) error {
	delete(m.events, id)
	return nil
}

func (m *memoryCalendar) InsertEventTombstone(ctx context.Context, event *models.Event) error {
	m.eventTombstones = append(m.eventTombstones, *event.Clone())
	return nil
}

func (m *memoryCalendar) SearchTombstones(ctx context.Context, folderID string, updatedSince time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, t := range m.eventTombstones {
		if t.FolderID == folderID && t.Timestamp.After(updatedSince) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryCalendar) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	kept := m.eventTombstones[:0]
	var purged int64
	for _, t := range m.eventTombstones {
		if t.Timestamp.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, t)
	}
	m.eventTombstones = kept
	return purged, nil
}

func (m *memoryCalendar) NextID(ctx context.Context) (string, error) {
	m.idSeq++
	return fmt.Sprintf("gen-%d", m.idSeq), nil
}

func (m *memoryCalendar) LoadAttendees(ctx context.Context, eventIDs []string) (map[string][]models.Attendee, error) {
	out := make(map[string][]models.Attendee, len(eventIDs))
	for _, id := range eventIDs {
		if rows, ok := m.attendees[id]; ok {
			out[id] = append([]models.Attendee(nil), rows...)
		}
	}
	return out, nil
}

func (m *memoryCalendar) InsertAttendees(ctx context.Context, eventID string, attendees []models.Attendee) error {
	for _, attendee := range attendees {
		attendee.EventID = eventID
		m.attendees[eventID] = append(m.attendees[eventID], attendee)
	}
	return nil
}

func (m *memoryCalendar) UpdateAttendee(ctx context.Context, eventID string, attendee models.Attendee) error {
	rows := m.attendees[eventID]
	for i := range rows {
		if rows[i].Matches(attendee.EntityID, attendee.URI) {
			attendee.EventID = eventID
			rows[i] = attendee
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryCalendar) DeleteAttendees(ctx context.Context, eventID string, entityIDs []string) error {
	rows := m.attendees[eventID][:0]
	for _, attendee := range m.attendees[eventID] {
		keep := true
		for _, id := range entityIDs {
			if attendee.EntityID == id {
				keep = false
				break
			}
		}
		if keep {
			rows = append(rows, attendee)
		}
	}
	m.attendees[eventID] = rows
	return nil
}

func (m *memoryCalendar) InsertAttendeeTombstone(ctx context.Context, eventID string, attendee models.Attendee) error {
	m.attendeeTombstones[eventID] = append(m.attendeeTombstones[eventID], attendee)
	return nil
}

func (m *memoryCalendar) AttendedChangeExceptionDates(ctx context.Context, seriesID, entityID string) (models.DateList, error) {
	var dates models.DateList
	for _, event := range m.events {
		if event.SeriesID != seriesID || event.ID == seriesID || event.RecurrenceID == nil {
			continue
		}
		for _, attendee := range m.attendees[event.ID] {
			if attendee.EntityID == entityID && !attendee.Hidden {
				dates = dates.Add(event.RecurrenceID.UTC())
				break
			}
		}
	}
	return dates, nil
}

func (m *memoryCalendar) LoadAlarms(ctx context.Context, eventID string) ([]models.Alarm, error) {
	return append([]models.Alarm(nil), m.alarms[eventID]...), nil
}

func (m *memoryCalendar) LoadAlarmsForUser(ctx context.Context, eventID, entityID string) ([]models.Alarm, error) {
	var out []models.Alarm
	for _, alarm := range m.alarms[eventID] {
		if alarm.EntityID == entityID {
			out = append(out, alarm)
		}
	}
	return out, nil
}

func (m *memoryCalendar) InsertAlarms(ctx context.Context, alarms []models.Alarm) error {
	for _, alarm := range alarms {
		m.alarms[alarm.EventID] = append(m.alarms[alarm.EventID], alarm)
	}
	return nil
}

func (m *memoryCalendar) UpdateAlarm(ctx context.Context, alarm models.Alarm) error {
	rows := m.alarms[alarm.EventID]
	for i := range rows {
		if rows[i].ID == alarm.ID {
			rows[i] = alarm
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryCalendar) DeleteAlarms(ctx context.Context, eventID string, entityID string) error {
	if entityID == "" {
		delete(m.alarms, eventID)
		return nil
	}
	rows := m.alarms[eventID][:0]
	for _, alarm := range m.alarms[eventID] {
		if alarm.EntityID != entityID {
			rows = append(rows, alarm)
		}
	}
	m.alarms[eventID] = rows
	return nil
}

func (m *memoryCalendar) DeleteAlarmTriggers(ctx context.Context, eventID string, entityID string) error {
	rows := m.triggers[eventID][:0]
	for _, trigger := range m.triggers[eventID] {
		if entityID != "" && trigger.EntityID != entityID {
			rows = append(rows, trigger)
		}
	}
	m.triggers[eventID] = rows
	return nil
}

func (m *memoryCalendar) InsertAlarmTriggers(ctx context.Context, triggers []models.AlarmTrigger) error {
	for _, trigger := range triggers {
		m.triggers[trigger.EventID] = append(m.triggers[trigger.EventID], trigger)
	}
	return nil
}

func (m *memoryCalendar) LoadAvailability(ctx context.Context, entityID string) (*models.Availability, error) {
	availability, ok := m.availability[entityID]
	if !ok {
		return nil, nil
	}
	clone := *availability
	return &clone, nil
}

// folderStub resolves folders from a fixed map.
type folderStub struct {
	folders map[string]*models.Folder
}

func (f *folderStub) GetFolder(ctx context.Context, folderID, userID string) (*models.Folder, error) {
	folder, ok := f.folders[folderID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrFolderNotFound, "unknown folder "+folderID)
	}
	clone := *folder
	return &clone, nil
}

func (f *folderStub) VisibleFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	var out []models.Folder
	for _, folder := range f.folders {
		if folder.Permission.Visible {
			out = append(out, *folder)
		}
	}
	return out, nil
}

// entityStub resolves calendar users from a fixed map.
type entityStub struct {
	users map[string]*models.CalendarUser
}

func (e *entityStub) ResolveByID(ctx context.Context, entityID string) (*models.CalendarUser, error) {
	user, ok := e.users[entityID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCalendarUser, "unknown calendar user "+entityID)
	}
	clone := *user
	return &clone, nil
}

func (e *entityStub) ResolveByURI(ctx context.Context, uri string) (*models.CalendarUser, error) {
	normalized := strings.TrimPrefix(strings.ToLower(uri), "mailto:")
	for _, user := range e.users {
		if strings.TrimPrefix(strings.ToLower(user.URI), "mailto:") == normalized {
			clone := *user
			return &clone, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrInvalidCalendarUser, "unknown calendar user "+uri)
}

// brokerStub records delivered scheduling messages.
type brokerStub struct {
	delivered []SchedulingMessage
}

func (b *brokerStub) Deliver(ctx context.Context, messages []SchedulingMessage) error {
	b.delivered = append(b.delivered, messages...)
	return nil
}

// cacheStub is a trivial freeBusyCache that never hits.
type cacheStub struct {
	sets int
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	return appErrors.ErrCacheMiss
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.sets++
	return nil
}

// Common fixture identities shared by the service tests.

func fixtureUsers() *entityStub {
	return &entityStub{users: map[string]*models.CalendarUser{
		"alice": {EntityID: "alice", URI: "mailto:alice@example.com", CN: "Alice", DefaultFolderID: "cal-alice", TimeZone: "Europe/Berlin"},
		"bob":   {EntityID: "bob", URI: "mailto:bob@example.com", CN: "Bob", DefaultFolderID: "cal-bob", TimeZone: "Europe/Berlin"},
		"carol": {EntityID: "carol", URI: "mailto:carol@example.com", CN: "Carol", DefaultFolderID: "cal-carol"},
	}}
}

func fixtureFolders() *folderStub {
	full := models.Permission{
		Visible: true, CreateObjects: true,
		ReadOwnObjects: true, ReadAllObjects: true,
		WriteOwnObjects: true, WriteAllObjects: true,
		DeleteOwnObjects: true, DeleteAllObjects: true,
	}
	return &folderStub{folders: map[string]*models.Folder{
		"cal-alice": {ID: "cal-alice", Name: "Alice", Type: models.FolderTypePersonal, OwnerID: "alice", Permission: full},
		"cal-bob":   {ID: "cal-bob", Name: "Bob", Type: models.FolderTypePersonal, OwnerID: "bob", Permission: full},
		"cal-carol": {ID: "cal-carol", Name: "Carol", Type: models.FolderTypePersonal, OwnerID: "carol", Permission: full},
		"team":      {ID: "team", Name: "Team", Type: models.FolderTypePublic, Permission: full},
	}}
}

func sessionFor(userID string) models.CalendarSession {
	return models.CalendarSession{UserID: userID, TimeZone: "Europe/Berlin", Locale: "en"}
}

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func ptrTime(t time.Time) *time.Time { return &t }
