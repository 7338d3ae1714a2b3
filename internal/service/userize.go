package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
)

// userizeExceptionDates rewrites a master's exception date sets to what the
// target calendar user actually sees. A change-exception the user does not
// attend must look like a plain delete-exception to them; they see "no
// occurrence" instead of someone else's modified instance. The stored record
// is never mutated; the rewrite happens on a copy.
func (p *PostProcessor) userizeExceptionDates(ctx context.Context, master *models.Event) *models.Event {
	if len(master.ChangeExceptionDates) == 0 {
		return master
	}
	if master.Organizer != nil && master.Organizer.EntityID == p.opts.User.EntityID {
		return master
	}
	if p.soleRemainingAttendee(master) {
		return master
	}
	attended, err := p.store.Attendees().AttendedChangeExceptionDates(ctx, master.SeriesID, p.opts.User.EntityID)
	if err != nil {
		p.logger.Warn("falling back to unmodified exception dates",
			zap.String("event_id", master.ID), zap.Error(err))
		return master
	}

	changes := make(models.DateList, 0, len(master.ChangeExceptionDates))
	deletes := append(models.DateList(nil), master.DeleteExceptionDates...)
	moved := false
	for _, date := range master.ChangeExceptionDates {
		if attended.Contains(date) {
			changes = append(changes, date)
			continue
		}
		deletes = deletes.Add(date)
		moved = true
	}
	if !moved {
		return master
	}

	view := master.Clone()
	view.ChangeExceptionDates = changes
	view.DeleteExceptionDates = deletes
	return view
}

func (p *PostProcessor) soleRemainingAttendee(master *models.Event) bool {
	if len(master.Attendees) != 1 {
		return false
	}
	return master.Attendees[0].Matches(p.opts.User.EntityID, p.opts.User.URI)
}
