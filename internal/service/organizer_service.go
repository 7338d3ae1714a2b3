package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// OrganizerService hands the scheduling ownership of a group-scheduled event
// to another internal attendee.
type OrganizerService struct {
	store      storage.Calendar
	entities   entityResolver
	scheduling *SchedulingService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewOrganizerService constructs the service.
func NewOrganizerService(store storage.Calendar, entities entityResolver, scheduling *SchedulingService, validate *validator.Validate, logger *zap.Logger) *OrganizerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrganizerService{store: store, entities: entities, scheduling: scheduling, validator: validate, logger: logger}
}

// ChangeOrganizerRequest names the attendee taking over.
type ChangeOrganizerRequest struct {
	EventID         string    `json:"event_id" validate:"required"`
	NewOrganizerID  string    `json:"new_organizer_id" validate:"required"`
	ClientTimestamp time.Time `json:"client_timestamp" validate:"required"`
}

// ChangeOrganizer reassigns the organizer on the master and every
// change-exception in one transaction. Only the current organizer may hand
// over, and only to an internal attendee of the event.
func (s *OrganizerService) ChangeOrganizer(ctx context.Context, session models.CalendarSession, req ChangeOrganizerRequest) (*models.CalendarResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid organizer change request")
	}
	event, err := s.store.Events().LoadEvent(ctx, req.EventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "event not found")
	}
	if byEvent, err := s.store.Attendees().LoadAttendees(ctx, []string{event.ID}); err == nil {
		event.Attendees = byEvent[event.ID]
	}
	if err := requireUpToDateTimestamp(event, req.ClientTimestamp); err != nil {
		return nil, err
	}

	if !event.IsGroupScheduled() || event.Organizer == nil {
		return nil, appErrors.Clone(appErrors.ErrForbiddenOrganizer, "the event is not group scheduled")
	}
	if event.Organizer.EntityID != session.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbiddenOrganizer, "only the current organizer can hand the event over")
	}
	if req.NewOrganizerID == session.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbiddenOrganizer, "the event is already organized by this user")
	}

	successor := models.FindAttendee(event.Attendees, models.CalendarUser{EntityID: req.NewOrganizerID})
	if successor == nil || !successor.IsInternal() {
		return nil, appErrors.Clone(appErrors.ErrForbiddenOrganizer, "the new organizer must be an internal attendee of the event")
	}
	if successor.CUType != models.CUTypeIndividual {
		return nil, appErrors.Clone(appErrors.ErrForbiddenOrganizer, "groups and resources cannot organize events")
	}
	user, err := s.entities.ResolveByID(ctx, req.NewOrganizerID)
	if err != nil {
		return nil, err
	}

	original := *event.Clone()
	newOrganizer := &models.Organizer{EntityID: user.EntityID, URI: user.URI, CN: user.CN}

	result := &models.CalendarResult{}
	err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		event.Organizer = newOrganizer
		touch(event, session.UserID, true)
		if err := tx.Events().UpdateEvent(ctx, event); err != nil {
			return err
		}
		if !event.IsSeriesMaster() {
			return nil
		}
		exceptions, err := tx.Events().LoadExceptions(ctx, event.SeriesID)
		if err != nil {
			return err
		}
		for i := range exceptions {
			exception := &exceptions[i]
			before := *exception.Clone()
			exception.Organizer = newOrganizer
			touch(exception, session.UserID, true)
			if err := tx.Events().UpdateEvent(ctx, exception); err != nil {
				return err
			}
			result.TrackUpdate(before, *exception)
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	result.TrackUpdate(original, *event)
	if s.scheduling != nil {
		actor, err := s.entities.ResolveByID(ctx, session.UserID)
		if err == nil {
			resource := models.CalendarObjectResource{Master: event}
			s.scheduling.DispatchAfterCommit(MessagesFor(MethodRequest, *actor, resource))
		}
	}
	s.logger.Info("organizer changed",
		zap.String("event_id", event.ID),
		zap.String("new_organizer", req.NewOrganizerID))
	return result, nil
}
