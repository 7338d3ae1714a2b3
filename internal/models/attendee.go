package models

import "time"

// ParticipationStatus is an attendee's reply state.
type ParticipationStatus string

const (
	ParticipationNeedsAction ParticipationStatus = "NEEDS-ACTION"
	ParticipationAccepted    ParticipationStatus = "ACCEPTED"
	ParticipationDeclined    ParticipationStatus = "DECLINED"
	ParticipationTentative   ParticipationStatus = "TENTATIVE"
)

// CalendarUserType distinguishes individual, group and resource attendees.
type CalendarUserType string

const (
	CUTypeIndividual CalendarUserType = "INDIVIDUAL"
	CUTypeGroup      CalendarUserType = "GROUP"
	CUTypeResource   CalendarUserType = "RESOURCE"
)

// Attendee is a calendar-user reference on an event. Internal users carry an
// EntityID plus their personal FolderID; external ones only a URI.
type Attendee struct {
	EventID  string `db:"event_id" json:"-"`
	EntityID string `db:"entity_id" json:"entity_id,omitempty"`
	URI      string `db:"uri" json:"uri"`
	CN       string `db:"cn" json:"cn,omitempty"`
	// FolderID is the attendee's personal calendar folder holding this
	// event; empty for external attendees and public-folder events.
	FolderID      string              `db:"folder_id" json:"folder_id,omitempty"`
	Participation ParticipationStatus `db:"participation_status" json:"participation_status"`
	Hidden        bool                `db:"hidden" json:"hidden,omitempty"`
	CUType        CalendarUserType    `db:"cu_type" json:"cu_type"`
	Comment       string              `db:"comment" json:"comment,omitempty"`
	Timestamp     time.Time           `db:"updated_at" json:"timestamp,omitempty"`
}

// IsInternal reports whether the attendee resolves to an internal entity.
func (a *Attendee) IsInternal() bool {
	return a.EntityID != ""
}

// Matches reports whether the attendee references the given entity id or,
// for externals, the given URI.
func (a *Attendee) Matches(entityID, uri string) bool {
	if a.EntityID != "" && entityID != "" {
		return a.EntityID == entityID
	}
	return uri != "" && a.URI == uri
}

// Organizer is the scheduling owner of a group-scheduled event.
type Organizer struct {
	EntityID string `db:"organizer_entity" json:"entity_id,omitempty"`
	URI      string `db:"organizer_uri" json:"uri"`
	CN       string `db:"organizer_cn" json:"cn,omitempty"`
	SentBy   string `db:"organizer_sent_by" json:"sent_by,omitempty"`
}

// IsInternal reports whether the organizer is an internal entity.
func (o *Organizer) IsInternal() bool {
	return o != nil && o.EntityID != ""
}

// CalendarUser is a resolved internal calendar user.
type CalendarUser struct {
	EntityID        string `db:"entity_id" json:"entity_id"`
	URI             string `db:"uri" json:"uri"`
	CN              string `db:"cn" json:"cn,omitempty"`
	DefaultFolderID string `db:"default_folder_id" json:"default_folder_id"`
	TimeZone        string `db:"timezone" json:"timezone,omitempty"`
	Locale          string `db:"locale" json:"locale,omitempty"`
}

// FindAttendee returns the attendee entry matching the calendar user, or nil.
func FindAttendee(attendees []Attendee, user CalendarUser) *Attendee {
	for i := range attendees {
		if attendees[i].Matches(user.EntityID, user.URI) {
			return &attendees[i]
		}
	}
	return nil
}
