package models

import "time"

// AlarmAction is the kind of reminder an alarm fires.
type AlarmAction string

const (
	AlarmActionDisplay AlarmAction = "DISPLAY"
	AlarmActionEmail   AlarmAction = "EMAIL"
	AlarmActionAudio   AlarmAction = "AUDIO"
)

// Alarm is a per-user reminder definition attached to one event. Trigger
// timing depends on the folder-local configuration, so alarms are re-derived
// whenever an event changes folders.
type Alarm struct {
	ID       string      `db:"id" json:"id"`
	EventID  string      `db:"event_id" json:"event_id"`
	EntityID string      `db:"entity_id" json:"entity_id"`
	FolderID string      `db:"folder_id" json:"folder_id"`
	Action   AlarmAction `db:"action" json:"action"`
	// TriggerOffset is the signed offset relative to the event start; a
	// fixed-time trigger uses TriggerTime instead.
	TriggerOffset *time.Duration `db:"trigger_offset" json:"trigger_offset,omitempty"`
	TriggerTime   *time.Time     `db:"trigger_time" json:"trigger_time,omitempty"`
	Acknowledged  *time.Time     `db:"acknowledged" json:"acknowledged,omitempty"`
	Timestamp     time.Time      `db:"updated_at" json:"timestamp"`
}

// AlarmTrigger is a materialised upcoming firing of an alarm.
type AlarmTrigger struct {
	AlarmID     string      `db:"alarm_id" json:"alarm_id"`
	EventID     string      `db:"event_id" json:"event_id"`
	EntityID    string      `db:"entity_id" json:"entity_id"`
	FolderID    string      `db:"folder_id" json:"folder_id"`
	Action      AlarmAction `db:"action" json:"action"`
	TriggerTime time.Time   `db:"trigger_time" json:"trigger_time"`
	Processed   bool        `db:"processed" json:"processed"`
}

// NextTrigger computes the firing instant for the given occurrence start.
func (a *Alarm) NextTrigger(occurrenceStart time.Time) time.Time {
	if a.TriggerTime != nil {
		return *a.TriggerTime
	}
	if a.TriggerOffset != nil {
		return occurrenceStart.Add(*a.TriggerOffset)
	}
	return occurrenceStart
}
