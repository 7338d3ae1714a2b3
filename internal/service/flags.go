package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
)

// deriveFlags computes the per-user marker set of one event view. Flag
// computation never fails a listing; a flag that cannot be derived is
// simply omitted.
func (p *PostProcessor) deriveFlags(ctx context.Context, event *models.Event) []models.EventFlag {
	flags := make([]models.EventFlag, 0, 8)

	switch event.Class {
	case models.ClassificationPrivate:
		flags = append(flags, models.FlagPrivate)
	case models.ClassificationConfidential:
		flags = append(flags, models.FlagConfidential)
	}
	if event.AllDay {
		flags = append(flags, models.FlagAllDay)
	}
	if event.IsSeriesMaster() {
		flags = append(flags, models.FlagSeries)
	}
	if event.IsSeriesException() {
		flags = append(flags, models.FlagSeries, models.FlagOverridden)
		flags = p.appendOccurrencePositionFlags(ctx, event, flags)
	}

	if event.Organizer != nil {
		flags = append(flags, models.FlagOrganizer)
		if event.Organizer.EntityID == p.opts.Session.UserID {
			flags = append(flags, models.FlagOrganizedByMe)
		}
	}
	if att := models.FindAttendee(event.Attendees, p.opts.User); att != nil {
		flags = append(flags, models.FlagAttendee)
		switch att.Participation {
		case models.ParticipationAccepted:
			flags = append(flags, models.FlagAccepted)
		case models.ParticipationDeclined:
			flags = append(flags, models.FlagDeclined)
		case models.ParticipationTentative:
			flags = append(flags, models.FlagTentative)
		case models.ParticipationNeedsAction:
			flags = append(flags, models.FlagNeedsAction)
		}
	}

	if _, ok := p.opts.Hints.Attachments[event.ID]; ok {
		flags = append(flags, models.FlagAttachments)
	}
	if _, ok := p.opts.Hints.Conferences[event.ID]; ok {
		flags = append(flags, models.FlagConferences)
	}
	if _, ok := p.opts.Hints.Alarms[event.ID]; ok {
		flags = append(flags, models.FlagAlarms)
	}
	if _, ok := p.opts.Hints.Scheduled[event.ID]; ok && len(event.Attendees) > 1 {
		flags = append(flags, models.FlagScheduled)
	}

	return flags
}

// appendOccurrencePositionFlags marks a series exception overriding the
// first or last occurrence of its series. The master's enumeration data is
// taken from the request cache or loaded on demand; any failure omits the
// flags.
func (p *PostProcessor) appendOccurrencePositionFlags(ctx context.Context, event *models.Event, flags []models.EventFlag) []models.EventFlag {
	if event.RecurrenceID == nil {
		return flags
	}
	data, ok := p.knownRecurrenceData[event.SeriesID]
	if !ok {
		master, err := p.store.Events().LoadEvent(ctx, event.SeriesID)
		if err != nil {
			p.logger.Warn("omitting occurrence position flags, master not loadable",
				zap.String("event_id", event.ID), zap.Error(err))
			return flags
		}
		data = models.RecurrenceDataFrom(master)
		p.knownRecurrenceData[event.SeriesID] = data
	}
	if first, err := p.recur.IsFirstOccurrence(data, *event.RecurrenceID); err != nil {
		p.logger.Warn("omitting first occurrence flag", zap.String("event_id", event.ID), zap.Error(err))
	} else if first {
		flags = append(flags, models.FlagFirstOccurrence)
	}
	if last, err := p.recur.IsLastOccurrence(data, *event.RecurrenceID); err != nil {
		p.logger.Warn("omitting last occurrence flag", zap.String("event_id", event.ID), zap.Error(err))
	} else if last {
		flags = append(flags, models.FlagLastOccurrence)
	}
	return flags
}
