package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Classification controls who may see the full event data.
type Classification string

const (
	ClassificationPublic       Classification = "PUBLIC"
	ClassificationPrivate      Classification = "PRIVATE"
	ClassificationConfidential Classification = "CONFIDENTIAL"
)

// Event is a single calendar component. A series master carries the
// recurrence rule and has SeriesID == ID; a change-exception points at its
// master via SeriesID and carries a non-nil RecurrenceID.
type Event struct {
	ID        string  `db:"id" json:"id"`
	SeriesID  string  `db:"series_id" json:"series_id,omitempty"`
	UID       string  `db:"uid" json:"uid"`
	RelatedTo *string `db:"related_to" json:"related_to,omitempty"`
	FolderID  string  `db:"folder_id" json:"folder_id"`

	Summary     string         `db:"summary" json:"summary"`
	Description string         `db:"description" json:"description,omitempty"`
	Location    string         `db:"location" json:"location,omitempty"`
	Class       Classification `db:"classification" json:"classification"`

	// StartDate/EndDate are stored in UTC. TimeZone carries the olson id the
	// client supplied; an empty TimeZone with AllDay unset means "floating".
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	TimeZone  string    `db:"timezone" json:"timezone,omitempty"`
	AllDay    bool      `db:"all_day" json:"all_day"`

	RecurrenceRule       string     `db:"recurrence_rule" json:"recurrence_rule,omitempty"`
	RecurrenceID         *time.Time `db:"recurrence_id" json:"recurrence_id,omitempty"`
	RecurrenceDates      DateList   `db:"recurrence_dates" json:"recurrence_dates,omitempty"`
	DeleteExceptionDates DateList   `db:"delete_exception_dates" json:"delete_exception_dates,omitempty"`
	ChangeExceptionDates DateList   `db:"change_exception_dates" json:"change_exception_dates,omitempty"`

	Organizer *Organizer  `db:"-" json:"organizer,omitempty"`
	Attendees []Attendee  `db:"-" json:"attendees,omitempty"`
	Flags     []EventFlag `db:"-" json:"flags,omitempty"`

	Sequence   int       `db:"sequence" json:"sequence"`
	CreatedBy  string    `db:"created_by" json:"created_by,omitempty"`
	ModifiedBy string    `db:"modified_by" json:"modified_by,omitempty"`
	Created    time.Time `db:"created_at" json:"created_at"`
	// Timestamp is the last-modified instant, doubling as the optimistic
	// concurrency token and the incremental-sync change token.
	Timestamp time.Time `db:"updated_at" json:"timestamp"`
}

// IsSeriesMaster reports whether the event is the root of a recurring series.
func (e *Event) IsSeriesMaster() bool {
	return e.SeriesID != "" && e.SeriesID == e.ID && e.RecurrenceID == nil &&
		(e.RecurrenceRule != "" || len(e.RecurrenceDates) > 0)
}

// IsSeriesException reports whether the event overrides one occurrence of a
// series it does not master itself.
func (e *Event) IsSeriesException() bool {
	return e.SeriesID != "" && e.SeriesID != e.ID && e.RecurrenceID != nil
}

// IsSingle reports whether the event belongs to no series at all.
func (e *Event) IsSingle() bool {
	return e.SeriesID == "" && e.RecurrenceID == nil
}

// IsFloating reports whether the event has no fixed timezone.
func (e *Event) IsFloating() bool {
	return !e.AllDay && e.TimeZone == ""
}

// HasStart reports whether the event carries a start date.
func (e *Event) HasStart() bool {
	return !e.StartDate.IsZero()
}

// Duration yields the length of one occurrence.
func (e *Event) Duration() time.Duration {
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return 0
	}
	return e.EndDate.Sub(e.StartDate)
}

// IsGroupScheduled reports whether the event involves more than one calendar
// user, i.e. the organizer/attendee machinery applies.
func (e *Event) IsGroupScheduled() bool {
	return len(e.Attendees) > 1
}

// Clone returns a deep copy; slices and pointers are never aliased so the
// copy can be mutated freely without touching the backing record.
func (e *Event) Clone() *Event {
	c := *e
	if e.RelatedTo != nil {
		v := *e.RelatedTo
		c.RelatedTo = &v
	}
	if e.RecurrenceID != nil {
		v := *e.RecurrenceID
		c.RecurrenceID = &v
	}
	c.RecurrenceDates = append(DateList(nil), e.RecurrenceDates...)
	c.DeleteExceptionDates = append(DateList(nil), e.DeleteExceptionDates...)
	c.ChangeExceptionDates = append(DateList(nil), e.ChangeExceptionDates...)
	if e.Organizer != nil {
		o := *e.Organizer
		c.Organizer = &o
	}
	c.Attendees = append([]Attendee(nil), e.Attendees...)
	c.Flags = append([]EventFlag(nil), e.Flags...)
	return &c
}

// DateList is a sorted, unique set of recurrence identifiers, normalised to
// UTC for comparison. Persisted as a comma separated RFC 3339 string column.
type DateList []time.Time

// Contains reports membership with instant equality.
func (l DateList) Contains(t time.Time) bool {
	for _, d := range l {
		if d.Equal(t) {
			return true
		}
	}
	return false
}

// Add inserts a date keeping the list sorted and unique.
func (l DateList) Add(t time.Time) DateList {
	if l.Contains(t) {
		return l
	}
	out := append(l, t.UTC())
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Remove drops a date if present.
func (l DateList) Remove(t time.Time) DateList {
	out := make(DateList, 0, len(l))
	for _, d := range l {
		if !d.Equal(t) {
			out = append(out, d)
		}
	}
	return out
}

// Partition splits the list into the dates strictly before the pivot and the
// dates on or after it.
func (l DateList) Partition(pivot time.Time) (before DateList, onOrAfter DateList) {
	for _, d := range l {
		if d.Before(pivot) {
			before = append(before, d)
		} else {
			onOrAfter = append(onOrAfter, d)
		}
	}
	return before, onOrAfter
}

// String renders the persisted representation.
func (l DateList) String() string {
	if len(l) == 0 {
		return ""
	}
	parts := make([]string, len(l))
	for i, d := range l {
		parts[i] = d.UTC().Format(time.RFC3339)
	}
	return strings.Join(parts, ",")
}

// Value implements driver.Valuer for persistence as a text column.
func (l DateList) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan implements sql.Scanner.
func (l *DateList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		parsed, err := ParseDateList(v)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case []byte:
		parsed, err := ParseDateList(string(v))
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into DateList", src)
	}
}

// ParseDateList reads the persisted representation back into a DateList.
func ParseDateList(raw string) (DateList, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make(DateList, 0, len(parts))
	for _, p := range parts {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, t.UTC())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// EventField identifies a projectable event attribute for partial reads.
type EventField string

const (
	FieldID             EventField = "id"
	FieldSeriesID       EventField = "series_id"
	FieldUID            EventField = "uid"
	FieldFolderID       EventField = "folder_id"
	FieldSummary        EventField = "summary"
	FieldDescription    EventField = "description"
	FieldLocation       EventField = "location"
	FieldClassification EventField = "classification"
	FieldStartDate      EventField = "start_date"
	FieldEndDate        EventField = "end_date"
	FieldRecurrenceRule EventField = "recurrence_rule"
	FieldRecurrenceID   EventField = "recurrence_id"
	FieldAttendees      EventField = "attendees"
	FieldOrganizer      EventField = "organizer"
	FieldFlags          EventField = "flags"
	FieldSequence       EventField = "sequence"
	FieldTimestamp      EventField = "timestamp"
	FieldCreated        EventField = "created_at"
)

// FieldSet is the requested projection; a nil set means all fields.
type FieldSet map[EventField]struct{}

// NewFieldSet builds a set from the given fields.
func NewFieldSet(fields ...EventField) FieldSet {
	if len(fields) == 0 {
		return nil
	}
	s := make(FieldSet, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

// Contains reports whether the field is requested. A nil set requests all.
func (s FieldSet) Contains(f EventField) bool {
	if s == nil {
		return true
	}
	_, ok := s[f]
	return ok
}

// EventFlag is a per-user derived marker on an event view.
type EventFlag string

const (
	FlagAttachments     EventFlag = "attachments"
	FlagConferences     EventFlag = "conferences"
	FlagAlarms          EventFlag = "alarms"
	FlagScheduled       EventFlag = "scheduled"
	FlagOrganizer       EventFlag = "organizer"
	FlagOrganizedByMe   EventFlag = "organized_by_me"
	FlagAttendee        EventFlag = "attendee"
	FlagAccepted        EventFlag = "accepted"
	FlagDeclined        EventFlag = "declined"
	FlagTentative       EventFlag = "tentative"
	FlagNeedsAction     EventFlag = "needs_action"
	FlagPrivate         EventFlag = "private"
	FlagConfidential    EventFlag = "confidential"
	FlagSeries          EventFlag = "series"
	FlagOverridden      EventFlag = "overridden"
	FlagFirstOccurrence EventFlag = "first_occurrence"
	FlagLastOccurrence  EventFlag = "last_occurrence"
	FlagAllDay          EventFlag = "all_day"
)

// HasFlag reports whether the derived flag is present.
func (e *Event) HasFlag(flag EventFlag) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
