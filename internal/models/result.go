package models

import "time"

// Warning is a non-fatal per-item problem surfaced alongside a result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Index points back at the originating batch component where applicable.
	Index *int `json:"index,omitempty"`
	// EventID references the affected event where known.
	EventID string `json:"event_id,omitempty"`
}

// CreateResult records one inserted event.
type CreateResult struct {
	FolderID string `json:"folder_id"`
	Event    Event  `json:"event"`
}

// UpdateResult records one modification with its before/after images.
type UpdateResult struct {
	Original Event `json:"original"`
	Updated  Event `json:"updated"`
}

// DeleteResult records one removal, preserving the sync-relevant identifiers.
type DeleteResult struct {
	EventID      string     `json:"event_id"`
	FolderID     string     `json:"folder_id"`
	RecurrenceID *time.Time `json:"recurrence_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// CalendarResult accumulates the mutations of one storage transaction. It is
// owned by the performer that created it and handed to the caller exactly
// once.
type CalendarResult struct {
	Creations []CreateResult `json:"creations,omitempty"`
	Updates   []UpdateResult `json:"updates,omitempty"`
	Deletions []DeleteResult `json:"deletions,omitempty"`
	Warnings  []Warning      `json:"warnings,omitempty"`
	// Timestamp is the running maximum change token across all touched
	// events.
	Timestamp time.Time `json:"timestamp"`
}

// TrackCreation records an insert and advances the change token.
func (r *CalendarResult) TrackCreation(folderID string, event Event) {
	r.Creations = append(r.Creations, CreateResult{FolderID: folderID, Event: event})
	r.advance(event.Timestamp)
}

// TrackUpdate records an update and advances the change token.
func (r *CalendarResult) TrackUpdate(original, updated Event) {
	r.Updates = append(r.Updates, UpdateResult{Original: original, Updated: updated})
	r.advance(updated.Timestamp)
}

// TrackDeletion records a removal and advances the change token.
func (r *CalendarResult) TrackDeletion(event Event, at time.Time) {
	r.Deletions = append(r.Deletions, DeleteResult{
		EventID:      event.ID,
		FolderID:     event.FolderID,
		RecurrenceID: event.RecurrenceID,
		Timestamp:    at,
	})
	r.advance(at)
}

// AddWarning attaches a non-fatal problem to the result.
func (r *CalendarResult) AddWarning(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

func (r *CalendarResult) advance(t time.Time) {
	if t.After(r.Timestamp) {
		r.Timestamp = t
	}
}

// CalendarObjectResource is the client-visible aggregate of one series
// master plus its change-exceptions, the unit scheduling messages describe.
type CalendarObjectResource struct {
	Master     *Event  `json:"master,omitempty"`
	Exceptions []Event `json:"exceptions,omitempty"`
}

// UIDOf returns the shared uid of the resource.
func (r *CalendarObjectResource) UIDOf() string {
	if r.Master != nil {
		return r.Master.UID
	}
	if len(r.Exceptions) > 0 {
		return r.Exceptions[0].UID
	}
	return ""
}

// ImportResult captures the outcome of one imported component.
type ImportResult struct {
	Index    int       `json:"index"`
	EventID  string    `json:"event_id,omitempty"`
	FolderID string    `json:"folder_id,omitempty"`
	UID      string    `json:"uid,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
	Error    error     `json:"error,omitempty"`
}
