package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/storage"
)

const eventColumns = `id, series_id, uid, related_to, folder_id, summary, description, location, classification, start_date, end_date, timezone, all_day, recurrence_rule, recurrence_id, recurrence_dates, delete_exception_dates, change_exception_dates, organizer_entity, organizer_uri, organizer_cn, organizer_sent_by, sequence, created_by, modified_by, created_at, updated_at`

const eventNamedValues = `:id, :series_id, :uid, :related_to, :folder_id, :summary, :description, :location, :classification, :start_date, :end_date, :timezone, :all_day, :recurrence_rule, :recurrence_id, :recurrence_dates, :delete_exception_dates, :change_exception_dates, :organizer_entity, :organizer_uri, :organizer_cn, :organizer_sent_by, :sequence, :created_by, :modified_by, :created_at, :updated_at`

// EventRepository persists calendar events and their tombstones.
type EventRepository struct {
	q queryer
}

// NewEventRepository constructs an event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{q: db}
}

func (r *EventRepository) withQueryer(q queryer) *EventRepository {
	return &EventRepository{q: q}
}

type eventRow struct {
	models.Event
	OrganizerEntity sql.NullString `db:"organizer_entity"`
	OrganizerURI    sql.NullString `db:"organizer_uri"`
	OrganizerCN     sql.NullString `db:"organizer_cn"`
	OrganizerSentBy sql.NullString `db:"organizer_sent_by"`
}

func (row eventRow) toEvent() models.Event {
	event := row.Event
	if row.OrganizerURI.Valid || row.OrganizerEntity.Valid {
		event.Organizer = &models.Organizer{
			EntityID: row.OrganizerEntity.String,
			URI:      row.OrganizerURI.String,
			CN:       row.OrganizerCN.String,
			SentBy:   row.OrganizerSentBy.String,
		}
	}
	return event
}

func newEventRow(event *models.Event) eventRow {
	row := eventRow{Event: *event}
	if event.Organizer != nil {
		row.OrganizerEntity = sql.NullString{String: event.Organizer.EntityID, Valid: event.Organizer.EntityID != ""}
		row.OrganizerURI = sql.NullString{String: event.Organizer.URI, Valid: event.Organizer.URI != ""}
		row.OrganizerCN = sql.NullString{String: event.Organizer.CN, Valid: event.Organizer.CN != ""}
		row.OrganizerSentBy = sql.NullString{String: event.Organizer.SentBy, Valid: event.Organizer.SentBy != ""}
	}
	return row
}

// LoadEvent fetches one event by id.
func (r *EventRepository) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE id = $1", eventColumns)
	var row eventRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, id); err != nil {
		return nil, err
	}
	event := row.toEvent()
	return &event, nil
}

// LoadExceptions fetches the change-exceptions of a series, ordered by
// recurrence id.
func (r *EventRepository) LoadExceptions(ctx context.Context, seriesID string) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE series_id = $1 AND id <> $1 ORDER BY recurrence_id ASC", eventColumns)
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, seriesID); err != nil {
		return nil, fmt.Errorf("load exceptions of %s: %w", seriesID, err)
	}
	return rowsToEvents(rows), nil
}

// ResolveByUID fetches the series master (or sole event) carrying the uid.
func (r *EventRepository) ResolveByUID(ctx context.Context, uid string) (*models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE uid = $1 AND recurrence_id IS NULL", eventColumns)
	var row eventRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, uid); err != nil {
		return nil, err
	}
	event := row.toEvent()
	return &event, nil
}

// SearchEvents returns events matching the options, ordered by start date.
func (r *EventRepository) SearchEvents(ctx context.Context, opts storage.EventSearchOptions) ([]models.Event, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if opts.FolderID != "" {
		where = append(where, fmt.Sprintf("(folder_id = $%d OR id IN (SELECT event_id FROM event_attendees WHERE folder_id = $%d))", len(args)+1, len(args)+1))
		args = append(args, opts.FolderID)
	}
	if opts.EntityID != "" {
		where = append(where, fmt.Sprintf("id IN (SELECT event_id FROM event_attendees WHERE entity_id = $%d)", len(args)+1))
		args = append(args, opts.EntityID)
	}
	if opts.From != nil {
		// Series masters stay candidates regardless of their anchor window;
		// their effective end is only known after rule expansion.
		where = append(where, fmt.Sprintf("(recurrence_rule <> '' OR end_date > $%d)", len(args)+1))
		args = append(args, *opts.From)
	}
	if opts.Until != nil {
		where = append(where, fmt.Sprintf("start_date < $%d", len(args)+1))
		args = append(args, *opts.Until)
	}
	if opts.UpdatedSince != nil {
		where = append(where, fmt.Sprintf("updated_at > $%d", len(args)+1))
		args = append(args, *opts.UpdatedSince)
	}
	if opts.MastersOnly {
		where = append(where, "recurrence_id IS NULL")
	}

	query := fmt.Sprintf("SELECT %s FROM events WHERE %s ORDER BY start_date ASC", eventColumns, strings.Join(where, " AND "))
	if opts.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, opts.Limit)
	}

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	return rowsToEvents(rows), nil
}

// SearchOverlappingEvents returns the events intersecting [from, until)
// where the entity participates as an attendee.
func (r *EventRepository) SearchOverlappingEvents(ctx context.Context, entityID string, from, until time.Time) ([]models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
WHERE id IN (SELECT event_id FROM event_attendees WHERE entity_id = $1 AND hidden = FALSE)
AND start_date < $3 AND (recurrence_rule <> '' OR end_date > $2)
ORDER BY start_date ASC`, eventColumns)
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, entityID, from, until); err != nil {
		return nil, fmt.Errorf("search overlapping events: %w", err)
	}
	return rowsToEvents(rows), nil
}

// CountEvents counts the events stored in one folder.
func (r *EventRepository) CountEvents(ctx context.Context, folderID string) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, "SELECT COUNT(*) FROM events WHERE folder_id = $1", folderID); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return total, nil
}

// InsertEvent stores a new event row.
func (r *EventRepository) InsertEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.Created.IsZero() {
		event.Created = now
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	query := fmt.Sprintf("INSERT INTO events (%s) VALUES (%s)", eventColumns, eventNamedValues)
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, newEventRow(event)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateEvent rewrites the stored event row.
func (r *EventRepository) UpdateEvent(ctx context.Context, event *models.Event) error {
	query := `UPDATE events SET series_id = :series_id, uid = :uid, related_to = :related_to, folder_id = :folder_id,
summary = :summary, description = :description, location = :location, classification = :classification,
start_date = :start_date, end_date = :end_date, timezone = :timezone, all_day = :all_day,
recurrence_rule = :recurrence_rule, recurrence_id = :recurrence_id, recurrence_dates = :recurrence_dates,
delete_exception_dates = :delete_exception_dates, change_exception_dates = :change_exception_dates,
organizer_entity = :organizer_entity, organizer_uri = :organizer_uri, organizer_cn = :organizer_cn, organizer_sent_by = :organizer_sent_by,
sequence = :sequence, modified_by = :modified_by, updated_at = :updated_at
WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, newEventRow(event)); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// DeleteEvent removes the event row.
func (r *EventRepository) DeleteEvent(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, "DELETE FROM events WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// InsertEventTombstone preserves a minimal historical record of a deleted or
// relocated event for incremental-sync clients.
func (r *EventRepository) InsertEventTombstone(ctx context.Context, event *models.Event) error {
	query := fmt.Sprintf("INSERT INTO event_tombstones (%s) VALUES (%s)", eventColumns, eventNamedValues)
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, newEventRow(event)); err != nil {
		return fmt.Errorf("insert event tombstone: %w", err)
	}
	return nil
}

// SearchTombstones returns the tombstones of one folder changed after
// updatedSince.
func (r *EventRepository) SearchTombstones(ctx context.Context, folderID string, updatedSince time.Time) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM event_tombstones WHERE folder_id = $1 AND updated_at > $2 ORDER BY updated_at ASC", eventColumns)
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, folderID, updatedSince); err != nil {
		return nil, fmt.Errorf("search tombstones: %w", err)
	}
	return rowsToEvents(rows), nil
}

// PurgeTombstones drops tombstones older than the retention horizon.
func (r *EventRepository) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM event_tombstones WHERE updated_at < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	return res.RowsAffected()
}

// NextID mints a fresh event identifier.
func (r *EventRepository) NextID(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

func rowsToEvents(rows []eventRow) []models.Event {
	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events
}
