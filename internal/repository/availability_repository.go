package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/chronoshq/chronos-api/internal/models"
)

// AvailabilityRepository loads declared availability calendars.
type AvailabilityRepository struct {
	q queryer
}

// NewAvailabilityRepository constructs an availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{q: db}
}

func (r *AvailabilityRepository) withQueryer(q queryer) *AvailabilityRepository {
	return &AvailabilityRepository{q: q}
}

// LoadAvailability fetches the availability of one user including its
// available blocks, or nil when the user declared none.
func (r *AvailabilityRepository) LoadAvailability(ctx context.Context, entityID string) (*models.Availability, error) {
	const query = `SELECT id, entity_id, start_date, end_date, busy_type, updated_at FROM availability WHERE entity_id = $1`
	var availability models.Availability
	if err := sqlx.GetContext(ctx, r.q, &availability, query, entityID); err != nil {
		return nil, err
	}

	const blocksQuery = `SELECT id, availability_id, uid, start_date, end_date, recurrence_rule FROM available_blocks WHERE availability_id = $1 ORDER BY start_date ASC`
	if err := sqlx.SelectContext(ctx, r.q, &availability.Blocks, blocksQuery, availability.ID); err != nil {
		return nil, fmt.Errorf("load available blocks: %w", err)
	}
	return &availability, nil
}
