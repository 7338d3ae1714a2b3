package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronoshq/chronos-api/internal/models"
)

const alarmColumns = `id, event_id, entity_id, folder_id, action, trigger_offset, trigger_time, acknowledged, updated_at`

// AlarmRepository persists alarms and their materialised triggers.
type AlarmRepository struct {
	q queryer
}

// NewAlarmRepository constructs an alarm repository.
func NewAlarmRepository(db *sqlx.DB) *AlarmRepository {
	return &AlarmRepository{q: db}
}

func (r *AlarmRepository) withQueryer(q queryer) *AlarmRepository {
	return &AlarmRepository{q: q}
}

// LoadAlarms fetches all alarms of one event.
func (r *AlarmRepository) LoadAlarms(ctx context.Context, eventID string) ([]models.Alarm, error) {
	query := fmt.Sprintf("SELECT %s FROM alarms WHERE event_id = $1 ORDER BY id ASC", alarmColumns)
	var alarms []models.Alarm
	if err := sqlx.SelectContext(ctx, r.q, &alarms, query, eventID); err != nil {
		return nil, fmt.Errorf("load alarms: %w", err)
	}
	return alarms, nil
}

// LoadAlarmsForUser fetches one user's alarms on an event.
func (r *AlarmRepository) LoadAlarmsForUser(ctx context.Context, eventID, entityID string) ([]models.Alarm, error) {
	query := fmt.Sprintf("SELECT %s FROM alarms WHERE event_id = $1 AND entity_id = $2 ORDER BY id ASC", alarmColumns)
	var alarms []models.Alarm
	if err := sqlx.SelectContext(ctx, r.q, &alarms, query, eventID, entityID); err != nil {
		return nil, fmt.Errorf("load alarms for user: %w", err)
	}
	return alarms, nil
}

// InsertAlarms stores the given alarms.
func (r *AlarmRepository) InsertAlarms(ctx context.Context, alarms []models.Alarm) error {
	query := fmt.Sprintf(`INSERT INTO alarms (%s) VALUES (:id, :event_id, :entity_id, :folder_id, :action, :trigger_offset, :trigger_time, :acknowledged, :updated_at)`, alarmColumns)
	now := time.Now().UTC()
	for _, a := range alarms {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = now
		}
		if _, err := sqlx.NamedExecContext(ctx, r.q, query, a); err != nil {
			return fmt.Errorf("insert alarm: %w", err)
		}
	}
	return nil
}

// UpdateAlarm rewrites one alarm row.
func (r *AlarmRepository) UpdateAlarm(ctx context.Context, alarm models.Alarm) error {
	query := `UPDATE alarms SET folder_id = :folder_id, action = :action, trigger_offset = :trigger_offset,
trigger_time = :trigger_time, acknowledged = :acknowledged, updated_at = :updated_at
WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, alarm); err != nil {
		return fmt.Errorf("update alarm: %w", err)
	}
	return nil
}

// DeleteAlarms removes alarms of one event, optionally limited to one user.
func (r *AlarmRepository) DeleteAlarms(ctx context.Context, eventID string, entityID string) error {
	if entityID == "" {
		if _, err := r.q.ExecContext(ctx, "DELETE FROM alarms WHERE event_id = $1", eventID); err != nil {
			return fmt.Errorf("delete alarms: %w", err)
		}
		return nil
	}
	if _, err := r.q.ExecContext(ctx, "DELETE FROM alarms WHERE event_id = $1 AND entity_id = $2", eventID, entityID); err != nil {
		return fmt.Errorf("delete alarms: %w", err)
	}
	return nil
}

// DeleteAlarmTriggers drops the materialised triggers of one event,
// optionally limited to one user. Triggers are re-derived after any change
// that affects folder-local alarm timing.
func (r *AlarmRepository) DeleteAlarmTriggers(ctx context.Context, eventID string, entityID string) error {
	if entityID == "" {
		if _, err := r.q.ExecContext(ctx, "DELETE FROM alarm_triggers WHERE event_id = $1", eventID); err != nil {
			return fmt.Errorf("delete alarm triggers: %w", err)
		}
		return nil
	}
	if _, err := r.q.ExecContext(ctx, "DELETE FROM alarm_triggers WHERE event_id = $1 AND entity_id = $2", eventID, entityID); err != nil {
		return fmt.Errorf("delete alarm triggers: %w", err)
	}
	return nil
}

// InsertAlarmTriggers stores freshly derived triggers.
func (r *AlarmRepository) InsertAlarmTriggers(ctx context.Context, triggers []models.AlarmTrigger) error {
	const query = `INSERT INTO alarm_triggers (alarm_id, event_id, entity_id, folder_id, action, trigger_time, processed)
VALUES (:alarm_id, :event_id, :entity_id, :folder_id, :action, :trigger_time, :processed)`
	for _, t := range triggers {
		if _, err := sqlx.NamedExecContext(ctx, r.q, query, t); err != nil {
			return fmt.Errorf("insert alarm trigger: %w", err)
		}
	}
	return nil
}
