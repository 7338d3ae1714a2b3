package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chronoshq/chronos-api/internal/models"
)

const attendeeColumns = `event_id, entity_id, uri, cn, folder_id, participation_status, hidden, cu_type, comment, updated_at`

// AttendeeRepository persists per-event attendee rows.
type AttendeeRepository struct {
	q queryer
}

// NewAttendeeRepository constructs an attendee repository.
func NewAttendeeRepository(db *sqlx.DB) *AttendeeRepository {
	return &AttendeeRepository{q: db}
}

func (r *AttendeeRepository) withQueryer(q queryer) *AttendeeRepository {
	return &AttendeeRepository{q: q}
}

// LoadAttendees fetches the attendee rows of the given events, keyed by
// event id.
func (r *AttendeeRepository) LoadAttendees(ctx context.Context, eventIDs []string) (map[string][]models.Attendee, error) {
	if len(eventIDs) == 0 {
		return map[string][]models.Attendee{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM event_attendees WHERE event_id = ANY($1) ORDER BY uri ASC", attendeeColumns)
	var attendees []models.Attendee
	if err := sqlx.SelectContext(ctx, r.q, &attendees, query, pq.Array(eventIDs)); err != nil {
		return nil, fmt.Errorf("load attendees: %w", err)
	}
	byEvent := make(map[string][]models.Attendee, len(eventIDs))
	for _, a := range attendees {
		byEvent[a.EventID] = append(byEvent[a.EventID], a)
	}
	return byEvent, nil
}

// InsertAttendees stores attendee rows for one event.
func (r *AttendeeRepository) InsertAttendees(ctx context.Context, eventID string, attendees []models.Attendee) error {
	query := fmt.Sprintf(`INSERT INTO event_attendees (%s) VALUES (:event_id, :entity_id, :uri, :cn, :folder_id, :participation_status, :hidden, :cu_type, :comment, :updated_at)`, attendeeColumns)
	now := time.Now().UTC()
	for _, a := range attendees {
		a.EventID = eventID
		if a.Timestamp.IsZero() {
			a.Timestamp = now
		}
		if _, err := sqlx.NamedExecContext(ctx, r.q, query, a); err != nil {
			return fmt.Errorf("insert attendee %s: %w", a.URI, err)
		}
	}
	return nil
}

// UpdateAttendee rewrites one attendee row.
func (r *AttendeeRepository) UpdateAttendee(ctx context.Context, eventID string, attendee models.Attendee) error {
	attendee.EventID = eventID
	query := `UPDATE event_attendees SET folder_id = :folder_id, participation_status = :participation_status,
hidden = :hidden, cu_type = :cu_type, comment = :comment, updated_at = :updated_at
WHERE event_id = :event_id AND (entity_id = :entity_id OR uri = :uri)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, attendee); err != nil {
		return fmt.Errorf("update attendee %s: %w", attendee.URI, err)
	}
	return nil
}

// DeleteAttendees removes the given entities' rows; an empty entity list
// removes all attendees of the event.
func (r *AttendeeRepository) DeleteAttendees(ctx context.Context, eventID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		if _, err := r.q.ExecContext(ctx, "DELETE FROM event_attendees WHERE event_id = $1", eventID); err != nil {
			return fmt.Errorf("delete attendees: %w", err)
		}
		return nil
	}
	if _, err := r.q.ExecContext(ctx, "DELETE FROM event_attendees WHERE event_id = $1 AND entity_id = ANY($2)", eventID, pq.Array(entityIDs)); err != nil {
		return fmt.Errorf("delete attendees: %w", err)
	}
	return nil
}

// InsertAttendeeTombstone preserves a removed attendee row for sync clients.
func (r *AttendeeRepository) InsertAttendeeTombstone(ctx context.Context, eventID string, attendee models.Attendee) error {
	attendee.EventID = eventID
	if attendee.Timestamp.IsZero() {
		attendee.Timestamp = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO event_attendee_tombstones (%s) VALUES (:event_id, :entity_id, :uri, :cn, :folder_id, :participation_status, :hidden, :cu_type, :comment, :updated_at)`, attendeeColumns)
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, attendee); err != nil {
		return fmt.Errorf("insert attendee tombstone: %w", err)
	}
	return nil
}

// AttendedChangeExceptionDates lists recurrence ids of stored
// change-exceptions in a series where the entity holds a non-hidden
// attendee row.
func (r *AttendeeRepository) AttendedChangeExceptionDates(ctx context.Context, seriesID, entityID string) (models.DateList, error) {
	const query = `SELECT e.recurrence_id FROM events e
JOIN event_attendees a ON a.event_id = e.id
WHERE e.series_id = $1 AND e.id <> $1 AND e.recurrence_id IS NOT NULL
AND a.entity_id = $2 AND a.hidden = FALSE
ORDER BY e.recurrence_id ASC`
	var dates []time.Time
	if err := sqlx.SelectContext(ctx, r.q, &dates, query, seriesID, entityID); err != nil {
		return nil, fmt.Errorf("load attended change exceptions: %w", err)
	}
	out := make(models.DateList, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.UTC())
	}
	return out, nil
}
