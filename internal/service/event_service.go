package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// EventService implements event reads plus the create, update and delete
// performers. Each mutating entry point runs inside one storage transaction
// and checks the client supplied timestamp before writing anything.
type EventService struct {
	store      storage.Calendar
	recur      *recurrence.Service
	folders    folderResolver
	entities   entityResolver
	scheduling *SchedulingService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewEventService constructs the service.
func NewEventService(store storage.Calendar, recur *recurrence.Service, folders folderResolver, entities entityResolver, scheduling *SchedulingService, validate *validator.Validate, logger *zap.Logger) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		store:      store,
		recur:      recur,
		folders:    folders,
		entities:   entities,
		scheduling: scheduling,
		validator:  validate,
		logger:     logger,
	}
}

// ListEventsRequest describes one folder listing.
type ListEventsRequest struct {
	FolderID           string     `json:"folder_id" validate:"required"`
	From               *time.Time `json:"from"`
	Until              *time.Time `json:"until"`
	UpdatedSince       *time.Time `json:"updated_since"`
	Fields             []string   `json:"fields"`
	ResolveOccurrences bool       `json:"resolve_occurrences"`
	Limit              int        `json:"limit"`
}

// Get returns the post-processed view of one event.
func (s *EventService) Get(ctx context.Context, session models.CalendarSession, eventID string) (*models.Event, error) {
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}
	pp := NewPostProcessor(s.store, s.recur, s.folders, s.logger, PostProcessorOptions{
		Session: session,
		User:    *user,
	})
	if err := pp.Process(ctx, []models.Event{*event}); err != nil {
		return nil, err
	}
	result := pp.Result()
	if len(result.Events) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return &result.Events[0], nil
}

// List returns the per-user view of one folder's events within a window.
func (s *EventService) List(ctx context.Context, session models.CalendarSession, req ListEventsRequest) (*ProcessedEvents, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid listing request")
	}
	folder, err := s.folders.GetFolder(ctx, req.FolderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.Visible {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "folder is not visible to this user")
	}
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}
	if folder.Type != models.FolderTypePublic && folder.OwnerID != session.UserID {
		// Shared folder reads produce the owner's view, not the reader's.
		if owner, err := s.entities.ResolveByID(ctx, folder.OwnerID); err == nil {
			user = owner
		}
	}

	events, err := s.store.Events().SearchEvents(ctx, storage.EventSearchOptions{
		FolderID:     req.FolderID,
		From:         req.From,
		Until:        req.Until,
		UpdatedSince: req.UpdatedSince,
		MastersOnly:  false,
		Limit:        req.Limit,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search events")
	}

	fields := fieldSetFrom(req.Fields)
	pp := NewPostProcessor(s.store, s.recur, s.folders, s.logger, PostProcessorOptions{
		Session:            session,
		User:               *user,
		Folder:             folder,
		From:               req.From,
		Until:              req.Until,
		Fields:             fields,
		ResolveOccurrences: req.ResolveOccurrences,
		Hints:              s.flagHints(ctx, events, fields),
	})
	if err := pp.Process(ctx, events); err != nil {
		return nil, err
	}
	if stale := pp.StaleFolders(); len(stale) > 0 {
		s.logger.Warn("listing hit stale folder references", zap.Strings("folder_ids", stale))
	}
	result := pp.Result()
	return &result, nil
}

// ListTombstones returns deleted or relocated events for incremental sync.
func (s *EventService) ListTombstones(ctx context.Context, session models.CalendarSession, folderID string, updatedSince time.Time) (*ProcessedEvents, error) {
	folder, err := s.folders.GetFolder(ctx, folderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.Visible {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "folder is not visible to this user")
	}
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}
	tombstones, err := s.store.Events().SearchTombstones(ctx, folderID, updatedSince)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search tombstones")
	}
	pp := NewPostProcessor(s.store, s.recur, s.folders, s.logger, PostProcessorOptions{
		Session: session,
		User:    *user,
		Folder:  folder,
	})
	if err := pp.ProcessTombstones(ctx, tombstones); err != nil {
		return nil, err
	}
	result := pp.Result()
	return &result, nil
}

func (s *EventService) loadEvent(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := s.store.Events().LoadEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if byEvent, err := s.store.Attendees().LoadAttendees(ctx, []string{event.ID}); err == nil {
		event.Attendees = byEvent[event.ID]
	}
	return event, nil
}

func (s *EventService) sessionUser(ctx context.Context, session models.CalendarSession) (*models.CalendarUser, error) {
	user, err := s.entities.ResolveByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// loadResource assembles the master plus its change-exceptions, the unit
// scheduling messages describe.
func (s *EventService) loadResource(ctx context.Context, master *models.Event) (models.CalendarObjectResource, error) {
	resource := models.CalendarObjectResource{Master: master}
	if !master.IsSeriesMaster() {
		return resource, nil
	}
	exceptions, err := s.store.Events().LoadExceptions(ctx, master.SeriesID)
	if err != nil {
		return resource, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exceptions")
	}
	resource.Exceptions = exceptions
	return resource, nil
}

// flagHints precomputes the membership sets flag derivation consumes. Only
// the alarm and scheduled sets are cheap enough to derive inline; the
// attachment and conference sets come from collaborating subsystems and stay
// empty here.
func (s *EventService) flagHints(ctx context.Context, events []models.Event, fields models.FieldSet) FlagHints {
	hints := FlagHints{}
	if !fields.Contains(models.FieldFlags) || len(events) == 0 {
		return hints
	}
	hints.Alarms = make(map[string]struct{})
	hints.Scheduled = make(map[string]struct{})
	for i := range events {
		event := &events[i]
		if alarms, err := s.store.Alarms().LoadAlarms(ctx, event.ID); err == nil && len(alarms) > 0 {
			hints.Alarms[event.ID] = struct{}{}
		}
		if event.Organizer != nil {
			hints.Scheduled[event.ID] = struct{}{}
		}
	}
	return hints
}

func fieldSetFrom(names []string) models.FieldSet {
	if len(names) == 0 {
		return nil
	}
	fields := make([]models.EventField, 0, len(names))
	for _, n := range names {
		fields = append(fields, models.EventField(n))
	}
	return models.NewFieldSet(fields...)
}

// validateClassification enforces the folder-type classification rules:
// public folders hold public events only.
func validateClassification(folder *models.Folder, class models.Classification) error {
	if class == "" || class == models.ClassificationPublic {
		return nil
	}
	if folder.IsPublic() {
		return appErrors.Clone(appErrors.ErrUnsupportedClass, "private and confidential events cannot live in public folders")
	}
	return nil
}

// resolveAttendees fills in internal identities and personal folder
// placement for every attendee that maps to a known calendar user.
func (s *EventService) resolveAttendees(ctx context.Context, attendees []models.Attendee) ([]models.Attendee, error) {
	out := make([]models.Attendee, 0, len(attendees))
	for _, att := range attendees {
		if att.URI == "" && att.EntityID == "" {
			return nil, appErrors.Clone(appErrors.ErrInvalidCalendarUser, "attendee without uri or entity id")
		}
		if att.CUType == "" {
			att.CUType = models.CUTypeIndividual
		}
		if att.Participation == "" {
			att.Participation = models.ParticipationNeedsAction
		}
		var user *models.CalendarUser
		var err error
		if att.EntityID != "" {
			user, err = s.entities.ResolveByID(ctx, att.EntityID)
		} else {
			user, err = s.entities.ResolveByURI(ctx, att.URI)
		}
		if err != nil {
			if appErrors.Is(err, appErrors.ErrInvalidCalendarUser) {
				// External attendee, kept as a plain URI reference.
				out = append(out, att)
				continue
			}
			return nil, err
		}
		att.EntityID = user.EntityID
		if att.URI == "" {
			att.URI = user.URI
		}
		if att.CN == "" {
			att.CN = user.CN
		}
		if att.FolderID == "" {
			att.FolderID = user.DefaultFolderID
		}
		out = append(out, att)
	}
	return out, nil
}

// validateRecurrence rejects rules the iterator cannot enumerate.
func (s *EventService) validateRecurrence(event *models.Event) error {
	if event.RecurrenceRule == "" {
		return nil
	}
	data := models.RecurrenceDataFrom(event)
	if _, _, err := s.recur.NextOccurrence(data, nil, event.StartDate.Add(-time.Second)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidRRule.Code, appErrors.ErrInvalidRRule.Status, "unenumerable recurrence rule")
	}
	return nil
}

// rederiveAlarmTriggers drops and rebuilds the materialised triggers of one
// user's alarms on an event. Trigger timing depends on the folder-local
// alarm placement, so triggers never move folders untouched.
func rederiveAlarmTriggers(ctx context.Context, tx storage.Calendar, recur *recurrence.Service, event *models.Event, entityID string) error {
	if err := tx.Alarms().DeleteAlarmTriggers(ctx, event.ID, entityID); err != nil {
		return err
	}
	var alarms []models.Alarm
	var err error
	if entityID == "" {
		alarms, err = tx.Alarms().LoadAlarms(ctx, event.ID)
	} else {
		alarms, err = tx.Alarms().LoadAlarmsForUser(ctx, event.ID, entityID)
	}
	if err != nil {
		return err
	}
	if len(alarms) == 0 {
		return nil
	}

	// The next occurrence on or after now anchors relative triggers; for a
	// non-recurring event that is simply its start.
	anchor := event.StartDate
	if event.IsSeriesMaster() {
		data := models.RecurrenceDataFrom(event)
		next, _, err := recur.NextOccurrence(data, event.DeleteExceptionDates, time.Now().UTC())
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		anchor = *next
	}

	triggers := make([]models.AlarmTrigger, 0, len(alarms))
	for _, alarm := range alarms {
		triggers = append(triggers, models.AlarmTrigger{
			AlarmID:     alarm.ID,
			EventID:     event.ID,
			EntityID:    alarm.EntityID,
			FolderID:    alarm.FolderID,
			Action:      alarm.Action,
			TriggerTime: alarm.NextTrigger(anchor),
		})
	}
	return tx.Alarms().InsertAlarmTriggers(ctx, triggers)
}
