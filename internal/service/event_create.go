package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// CreateEventRequest describes a new event.
type CreateEventRequest struct {
	FolderID        string                `json:"folder_id" validate:"required"`
	Summary         string                `json:"summary" validate:"required"`
	Description     string                `json:"description"`
	Location        string                `json:"location"`
	Classification  models.Classification `json:"classification"`
	Start           time.Time             `json:"start" validate:"required"`
	End             time.Time             `json:"end" validate:"required"`
	TimeZone        string                `json:"timezone"`
	AllDay          bool                  `json:"all_day"`
	RecurrenceRule  string                `json:"recurrence_rule"`
	RecurrenceDates []time.Time           `json:"recurrence_dates"`
	UID             string                `json:"uid"`
	Attendees       []models.Attendee     `json:"attendees"`
	Alarms          []models.Alarm        `json:"alarms"`
}

// Create inserts a new event with its attendees and alarms in one
// transaction and notifies attendees after the commit.
func (s *EventService) Create(ctx context.Context, session models.CalendarSession, req CreateEventRequest) (*models.CalendarResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create request")
	}
	if req.End.Before(req.Start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "event end precedes its start")
	}

	folder, err := s.folders.GetFolder(ctx, req.FolderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.CreateObjects {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to create objects in this folder")
	}
	if err := validateClassification(folder, req.Classification); err != nil {
		return nil, err
	}
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	event, err := s.prepareNewEvent(ctx, session, user, req)
	if err != nil {
		return nil, err
	}
	if err := s.requireFreeUID(ctx, event.UID); err != nil {
		return nil, err
	}

	result := &models.CalendarResult{}
	err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		if err := tx.Events().InsertEvent(ctx, event); err != nil {
			return err
		}
		if len(event.Attendees) > 0 {
			if err := tx.Attendees().InsertAttendees(ctx, event.ID, event.Attendees); err != nil {
				return err
			}
		}
		if len(req.Alarms) > 0 {
			alarms := make([]models.Alarm, 0, len(req.Alarms))
			for _, alarm := range req.Alarms {
				alarm.ID = uuid.NewString()
				alarm.EventID = event.ID
				alarm.EntityID = session.UserID
				alarm.FolderID = req.FolderID
				alarm.Timestamp = event.Timestamp
				alarms = append(alarms, alarm)
			}
			if err := tx.Alarms().InsertAlarms(ctx, alarms); err != nil {
				return err
			}
			if err := rederiveAlarmTriggers(ctx, tx, s.recur, event, session.UserID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	result.TrackCreation(req.FolderID, *event)
	if event.IsGroupScheduled() && s.scheduling != nil {
		resource := models.CalendarObjectResource{Master: event}
		s.scheduling.DispatchAfterCommit(MessagesFor(MethodRequest, *user, resource))
	}
	s.logger.Info("event created",
		zap.String("event_id", event.ID),
		zap.String("folder_id", req.FolderID),
		zap.Bool("recurring", event.IsSeriesMaster()))
	return result, nil
}

func (s *EventService) prepareNewEvent(ctx context.Context, session models.CalendarSession, user *models.CalendarUser, req CreateEventRequest) (*models.Event, error) {
	id, err := s.store.Events().NextID(ctx)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	event := &models.Event{
		ID:          id,
		UID:         req.UID,
		FolderID:    req.FolderID,
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Class:       req.Classification,
		StartDate:   req.Start.UTC(),
		EndDate:     req.End.UTC(),
		AllDay:      req.AllDay,
		CreatedBy:   session.UserID,
		ModifiedBy:  session.UserID,
	}
	if event.UID == "" {
		event.UID = uuid.NewString()
	}
	if event.Class == "" {
		event.Class = models.ClassificationPublic
	}
	if !req.AllDay {
		event.TimeZone = selectTimeZone(req.TimeZone, session.TimeZone, user.TimeZone)
	}

	if req.RecurrenceRule != "" || len(req.RecurrenceDates) > 0 {
		event.SeriesID = event.ID
		event.RecurrenceRule = req.RecurrenceRule
		for _, d := range req.RecurrenceDates {
			event.RecurrenceDates = event.RecurrenceDates.Add(d)
		}
		if err := s.validateRecurrence(event); err != nil {
			return nil, err
		}
	}

	if len(req.Attendees) > 0 {
		attendees, err := s.resolveAttendees(ctx, req.Attendees)
		if err != nil {
			return nil, err
		}
		// The acting user organizes any group scheduled event they create
		// and always participates themselves.
		if models.FindAttendee(attendees, *user) == nil {
			attendees = append(attendees, models.Attendee{
				EntityID:      user.EntityID,
				URI:           user.URI,
				CN:            user.CN,
				FolderID:      user.DefaultFolderID,
				Participation: models.ParticipationAccepted,
				CUType:        models.CUTypeIndividual,
			})
		}
		event.Attendees = attendees
		event.Organizer = &models.Organizer{EntityID: user.EntityID, URI: user.URI, CN: user.CN}
	}

	return event, nil
}

func (s *EventService) requireFreeUID(ctx context.Context, uid string) error {
	_, err := s.store.Events().ResolveByUID(ctx, uid)
	if err == nil {
		return appErrors.Clone(appErrors.ErrUIDConflict, "an event with uid "+uid+" exists already")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return appErrors.FromError(err)
}
