package models

import "time"

// FbType classifies a free/busy interval.
type FbType string

const (
	FbFree            FbType = "FREE"
	FbBusy            FbType = "BUSY"
	FbBusyTentative   FbType = "BUSY-TENTATIVE"
	FbBusyUnavailable FbType = "BUSY-UNAVAILABLE"
)

// Ranking orders free/busy types by how strongly they block the slot; the
// stronger type wins when intervals overlap.
func (t FbType) Ranking() int {
	switch t {
	case FbFree:
		return 0
	case FbBusyTentative:
		return 1
	case FbBusyUnavailable:
		return 2
	default:
		return 3
	}
}

// FreeBusyTime is one half-open [Start, End) interval of an availability
// timeline.
type FreeBusyTime struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  FbType    `json:"fb_type"`
	// Event optionally references the projected event the interval was
	// derived from; nil for availability-derived slots.
	Event *Event `json:"event,omitempty"`
}

// AttendeeFreeBusy is the per-attendee result of a free/busy request.
type AttendeeFreeBusy struct {
	Attendee Attendee       `json:"attendee"`
	Times    []FreeBusyTime `json:"times"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

// Available is one declared-available block; recurring blocks carry a rule.
type Available struct {
	ID             string    `db:"id" json:"id"`
	AvailabilityID string    `db:"availability_id" json:"-"`
	UID            string    `db:"uid" json:"uid"`
	StartDate      time.Time `db:"start_date" json:"start_date"`
	EndDate        time.Time `db:"end_date" json:"end_date"`
	RecurrenceRule string    `db:"recurrence_rule" json:"recurrence_rule,omitempty"`
}

// Duration is the length of one block instance.
func (a *Available) Duration() time.Duration {
	return a.EndDate.Sub(a.StartDate)
}

// Availability aggregates a user's declared available blocks inside an outer
// validity window; time outside any block counts as BusyType.
type Availability struct {
	ID        string      `db:"id" json:"id"`
	EntityID  string      `db:"entity_id" json:"entity_id"`
	StartDate time.Time   `db:"start_date" json:"start_date"`
	EndDate   time.Time   `db:"end_date" json:"end_date"`
	BusyType  FbType      `db:"busy_type" json:"busy_type"`
	Blocks    []Available `db:"-" json:"blocks,omitempty"`
	Timestamp time.Time   `db:"updated_at" json:"timestamp"`
}
