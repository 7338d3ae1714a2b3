package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// moveTransition enumerates the folder-type pairs a move can cross. The
// handlers differ in what carries the placement: public folders use the
// event's common folder id, personal folders the owner's attendee pointer.
type moveTransition int

const (
	movePublicToPublic moveTransition = iota
	movePublicToPersonal
	movePersonalToPublic
	movePersonalToPersonalSameOwner
	movePersonalToPersonalCrossOwner
)

// MoveService relocates single events between folders. Series and series
// exceptions cannot move.
type MoveService struct {
	store      storage.Calendar
	recur      *recurrence.Service
	folders    folderResolver
	entities   entityResolver
	scheduling *SchedulingService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewMoveService constructs the service.
func NewMoveService(store storage.Calendar, recur *recurrence.Service, folders folderResolver, entities entityResolver, scheduling *SchedulingService, validate *validator.Validate, logger *zap.Logger) *MoveService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MoveService{
		store:      store,
		recur:      recur,
		folders:    folders,
		entities:   entities,
		scheduling: scheduling,
		validator:  validate,
		logger:     logger,
	}
}

// MoveRequest describes one folder relocation.
type MoveRequest struct {
	EventID         string    `json:"event_id" validate:"required"`
	TargetFolderID  string    `json:"target_folder_id" validate:"required"`
	ClientTimestamp time.Time `json:"client_timestamp" validate:"required"`
}

// Move relocates a single event into the target folder inside one
// transaction, tombstoning the pre-move state first.
func (s *MoveService) Move(ctx context.Context, session models.CalendarSession, req MoveRequest) (*models.CalendarResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid move request")
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
	if event.IsSeriesMaster() {
		return nil, appErrors.Clone(appErrors.ErrMoveSeriesUnsupported, "series masters cannot move between folders")
	}
	if event.IsSeriesException() || event.RecurrenceID != nil {
		return nil, appErrors.Clone(appErrors.ErrMoveOccurrenceUnsup, "occurrences of a series cannot move between folders")
	}

	source, err := s.folders.GetFolder(ctx, s.viewFolderID(event, session.UserID), session.UserID)
	if err != nil {
		return nil, err
	}
	target, err := s.folders.GetFolder(ctx, req.TargetFolderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if source.ID == target.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "the event already lives in the target folder")
	}
	if !source.Permission.CanDeleteObject(session.UserID, event.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to remove the event from its folder")
	}
	if !target.Permission.CreateObjects {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to create objects in the target folder")
	}
	if !target.Permission.CanWriteObject(session.UserID, event.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to write the event in the target folder")
	}
	if err := validateClassification(target, event.Class); err != nil {
		return nil, err
	}

	transition := classifyMove(source, target)
	original := *event.Clone()
	result := &models.CalendarResult{}

	err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		// History first: sync clients find the pre-move state under the
		// source folder as a tombstone.
		tombstone := original.Clone()
		tombstone.Timestamp = time.Now().UTC()
		tombstone.ModifiedBy = session.UserID
		if err := tx.Events().InsertEventTombstone(ctx, tombstone); err != nil {
			return err
		}

		switch transition {
		case movePublicToPublic, movePersonalToPublic:
			if err := s.moveToPublic(ctx, tx, session, event, source, target); err != nil {
				return err
			}
		case movePublicToPersonal:
			if err := s.moveToPersonal(ctx, tx, session, event, source, target); err != nil {
				return err
			}
		case movePersonalToPersonalSameOwner:
			if err := s.movePersonalSameOwner(ctx, tx, session, event, source, target); err != nil {
				return err
			}
		case movePersonalToPersonalCrossOwner:
			if err := s.movePersonalCrossOwner(ctx, tx, session, event, source, target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled move transition %d", transition)
		}

		// Trigger timing depends on folder-local alarm placement, so the
		// materialised triggers never survive a move.
		return rederiveAlarmTriggers(ctx, tx, s.recur, event, "")
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	result.TrackUpdate(original, *event)
	if event.IsGroupScheduled() && s.scheduling != nil {
		if actor, err := s.entities.ResolveByID(ctx, session.UserID); err == nil {
			resource := models.CalendarObjectResource{Master: event}
			s.scheduling.DispatchAfterCommit(MessagesFor(MethodRequest, *actor, resource))
		}
	}
	s.logger.Info("event moved",
		zap.String("event_id", event.ID),
		zap.String("source_folder", source.ID),
		zap.String("target_folder", target.ID))
	return result, nil
}

func classifyMove(source, target *models.Folder) moveTransition {
	switch {
	case source.IsPublic() && target.IsPublic():
		return movePublicToPublic
	case source.IsPublic():
		return movePublicToPersonal
	case target.IsPublic():
		return movePersonalToPublic
	case source.OwnerID == target.OwnerID:
		return movePersonalToPersonalSameOwner
	default:
		return movePersonalToPersonalCrossOwner
	}
}

// moveToPublic hangs the event off the target's common folder id and clears
// the moving user's personal placement.
func (s *MoveService) moveToPublic(ctx context.Context, tx storage.Calendar, session models.CalendarSession, event *models.Event, source, target *models.Folder) error {
	event.FolderID = target.ID
	touch(event, session.UserID, false)
	if err := tx.Events().UpdateEvent(ctx, event); err != nil {
		return err
	}
	for i := range event.Attendees {
		att := &event.Attendees[i]
		if att.FolderID == source.ID {
			att.FolderID = ""
			att.Timestamp = event.Timestamp
			if err := tx.Attendees().UpdateAttendee(ctx, event.ID, *att); err != nil {
				return err
			}
		}
	}
	return s.rehomeAlarms(ctx, tx, event, source.ID, target.ID)
}

// moveToPersonal places the event into the destination owner's personal
// folder. Group scheduling semantics require the organizer to own the
// hosting personal folder.
func (s *MoveService) moveToPersonal(ctx context.Context, tx storage.Calendar, session models.CalendarSession, event *models.Event, source, target *models.Folder) error {
	event.FolderID = target.ID
	if event.IsGroupScheduled() {
		owner, err := s.entities.ResolveByID(ctx, target.OwnerID)
		if err != nil {
			return err
		}
		event.Organizer = &models.Organizer{EntityID: owner.EntityID, URI: owner.URI, CN: owner.CN}
	}
	touch(event, session.UserID, false)
	if err := tx.Events().UpdateEvent(ctx, event); err != nil {
		return err
	}
	for i := range event.Attendees {
		att := &event.Attendees[i]
		if att.EntityID == target.OwnerID {
			att.FolderID = target.ID
			att.Timestamp = event.Timestamp
			if err := tx.Attendees().UpdateAttendee(ctx, event.ID, *att); err != nil {
				return err
			}
		}
	}
	return s.rehomeAlarms(ctx, tx, event, source.ID, target.ID)
}

// movePersonalSameOwner shifts placement between two folders of the same
// user: the common folder id moves, the owner's attendee pointer follows,
// nothing is re-created.
func (s *MoveService) movePersonalSameOwner(ctx context.Context, tx storage.Calendar, session models.CalendarSession, event *models.Event, source, target *models.Folder) error {
	event.FolderID = target.ID
	touch(event, session.UserID, false)
	if err := tx.Events().UpdateEvent(ctx, event); err != nil {
		return err
	}
	for i := range event.Attendees {
		att := &event.Attendees[i]
		if att.EntityID == target.OwnerID && att.FolderID == source.ID {
			att.FolderID = target.ID
			att.Timestamp = event.Timestamp
			if err := tx.Attendees().UpdateAttendee(ctx, event.ID, *att); err != nil {
				return err
			}
		}
	}
	return s.rehomeAlarms(ctx, tx, event, source.ID, target.ID)
}

// movePersonalCrossOwner hands the event to a different user: the old
// owner's attendee row is tombstoned and dropped, a fresh row for the new
// owner inserted and the organizer reassigned. The event id survives; sync
// clients of the old owner see a tombstone, those of the new owner a
// creation.
func (s *MoveService) movePersonalCrossOwner(ctx context.Context, tx storage.Calendar, session models.CalendarSession, event *models.Event, source, target *models.Folder) error {
	now := time.Now().UTC()
	newOwner, err := s.entities.ResolveByID(ctx, target.OwnerID)
	if err != nil {
		return err
	}

	var oldRow *models.Attendee
	for i := range event.Attendees {
		if event.Attendees[i].EntityID == source.OwnerID {
			oldRow = &event.Attendees[i]
			break
		}
	}
	if oldRow != nil {
		oldRow.Timestamp = now
		if err := tx.Attendees().InsertAttendeeTombstone(ctx, event.ID, *oldRow); err != nil {
			return err
		}
		if err := tx.Attendees().DeleteAttendees(ctx, event.ID, []string{oldRow.EntityID}); err != nil {
			return err
		}
	}
	// The old owner's alarms make no sense in the new owner's calendar.
	if err := tx.Alarms().DeleteAlarmTriggers(ctx, event.ID, source.OwnerID); err != nil {
		return err
	}
	if err := tx.Alarms().DeleteAlarms(ctx, event.ID, source.OwnerID); err != nil {
		return err
	}

	newRow := models.Attendee{
		EntityID:      newOwner.EntityID,
		URI:           newOwner.URI,
		CN:            newOwner.CN,
		FolderID:      target.ID,
		Participation: models.ParticipationAccepted,
		CUType:        models.CUTypeIndividual,
		Timestamp:     now,
	}
	if err := tx.Attendees().InsertAttendees(ctx, event.ID, []models.Attendee{newRow}); err != nil {
		return err
	}

	kept := make([]models.Attendee, 0, len(event.Attendees)+1)
	for _, att := range event.Attendees {
		if att.EntityID != source.OwnerID {
			kept = append(kept, att)
		}
	}
	event.Attendees = append(kept, newRow)
	event.FolderID = target.ID
	event.Organizer = &models.Organizer{EntityID: newOwner.EntityID, URI: newOwner.URI, CN: newOwner.CN}
	touch(event, session.UserID, true)
	return tx.Events().UpdateEvent(ctx, event)
}

// rehomeAlarms repoints alarm rows referencing the source folder.
func (s *MoveService) rehomeAlarms(ctx context.Context, tx storage.Calendar, event *models.Event, sourceFolderID, targetFolderID string) error {
	alarms, err := tx.Alarms().LoadAlarms(ctx, event.ID)
	if err != nil {
		return err
	}
	for _, alarm := range alarms {
		if alarm.FolderID != sourceFolderID {
			continue
		}
		alarm.FolderID = targetFolderID
		alarm.Timestamp = time.Now().UTC()
		if err := tx.Alarms().UpdateAlarm(ctx, alarm); err != nil {
			return err
		}
	}
	return nil
}

// viewFolderID resolves the folder the session user sees the event in.
func (s *MoveService) viewFolderID(event *models.Event, userID string) string {
	for i := range event.Attendees {
		if event.Attendees[i].EntityID == userID && event.Attendees[i].FolderID != "" {
			return event.Attendees[i].FolderID
		}
	}
	return event.FolderID
}
