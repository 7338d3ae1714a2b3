package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

const calendarUserColumns = `entity_id, uri, cn, default_folder_id, timezone, locale`

// CalendarUserRepository resolves calendar users to internal identities.
// Entity management itself is owned by an external subsystem; this is the
// read-only resolver the calendar core consumes.
type CalendarUserRepository struct {
	db *sqlx.DB
}

// NewCalendarUserRepository constructs a calendar user repository.
func NewCalendarUserRepository(db *sqlx.DB) *CalendarUserRepository {
	return &CalendarUserRepository{db: db}
}

// ResolveByID resolves an internal entity id.
func (r *CalendarUserRepository) ResolveByID(ctx context.Context, entityID string) (*models.CalendarUser, error) {
	query := fmt.Sprintf("SELECT %s FROM calendar_users WHERE entity_id = $1", calendarUserColumns)
	var user models.CalendarUser
	if err := sqlx.GetContext(ctx, r.db, &user, query, entityID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidCalendarUser, fmt.Sprintf("unknown calendar user %s", entityID))
		}
		return nil, fmt.Errorf("resolve calendar user %s: %w", entityID, err)
	}
	return &user, nil
}

// ResolveByURI resolves a calendar-user address, tolerating a mailto prefix.
func (r *CalendarUserRepository) ResolveByURI(ctx context.Context, uri string) (*models.CalendarUser, error) {
	normalized := strings.TrimPrefix(strings.ToLower(uri), "mailto:")
	query := fmt.Sprintf("SELECT %s FROM calendar_users WHERE LOWER(REPLACE(uri, 'mailto:', '')) = $1", calendarUserColumns)
	var user models.CalendarUser
	if err := sqlx.GetContext(ctx, r.db, &user, query, normalized); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidCalendarUser, fmt.Sprintf("unknown calendar user %s", uri))
		}
		return nil, fmt.Errorf("resolve calendar user %s: %w", uri, err)
	}
	return &user, nil
}
