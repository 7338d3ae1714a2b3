package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/chronoshq/chronos-api/internal/storage"
)

// queryer is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx, letting the
// same repository run inside or outside a transaction.
type queryer interface {
	sqlx.ExtContext
}

// Storage bundles the calendar repositories behind the storage.Calendar port.
type Storage struct {
	db *sqlx.DB

	events       *EventRepository
	attendees    *AttendeeRepository
	alarms       *AlarmRepository
	availability *AvailabilityRepository
}

// NewStorage constructs the sqlx-backed calendar storage.
func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db:           db,
		events:       NewEventRepository(db),
		attendees:    NewAttendeeRepository(db),
		alarms:       NewAlarmRepository(db),
		availability: NewAvailabilityRepository(db),
	}
}

// Events returns the event storage.
func (s *Storage) Events() storage.EventStorage { return s.events }

// Attendees returns the attendee storage.
func (s *Storage) Attendees() storage.AttendeeStorage { return s.attendees }

// Alarms returns the alarm storage.
func (s *Storage) Alarms() storage.AlarmStorage { return s.alarms }

// Availability returns the availability storage.
func (s *Storage) Availability() storage.AvailabilityStorage { return s.availability }

// InTransaction runs fn against a transaction-bound view of the storage.
// The transaction commits when fn returns nil and rolls back otherwise.
func (s *Storage) InTransaction(ctx context.Context, fn func(tx storage.Calendar) error) error {
	if s.db == nil {
		return fmt.Errorf("storage is already transaction-bound")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	bound := &Storage{
		events:       s.events.withQueryer(tx),
		attendees:    s.attendees.withQueryer(tx),
		alarms:       s.alarms.withQueryer(tx),
		availability: s.availability.withQueryer(tx),
	}

	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
