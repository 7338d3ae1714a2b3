package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// UpdateEventRequest patches an event; nil fields stay untouched. A non-nil
// RecurrenceID targets one occurrence of a series, materialising a
// change-exception when none exists yet.
type UpdateEventRequest struct {
	ClientTimestamp time.Time              `json:"client_timestamp" validate:"required"`
	RecurrenceID    *time.Time             `json:"recurrence_id"`
	Summary         *string                `json:"summary"`
	Description     *string                `json:"description"`
	Location        *string                `json:"location"`
	Classification  *models.Classification `json:"classification"`
	Start           *time.Time             `json:"start"`
	End             *time.Time             `json:"end"`
	TimeZone        *string                `json:"timezone"`
	AllDay          *bool                  `json:"all_day"`
	RecurrenceRule  *string                `json:"recurrence_rule"`
	Attendees       []models.Attendee      `json:"attendees"`
}

// Update applies a patch to an event or one of its occurrences. The client
// timestamp is checked against the stored record before any write; a stale
// client fails with CONCURRENT_MODIFICATION and nothing changes.
func (s *EventService) Update(ctx context.Context, session models.CalendarSession, eventID string, req UpdateEventRequest) (*models.CalendarResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update request")
	}
	stored, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := requireUpToDateTimestamp(stored, req.ClientTimestamp); err != nil {
		return nil, err
	}
	folder, err := s.folders.GetFolder(ctx, stored.FolderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.CanWriteObject(session.UserID, stored.CreatedBy) && !s.actsAsAttendee(stored, session.UserID) {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to modify this event")
	}
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if req.RecurrenceID != nil && stored.IsSeriesMaster() {
		return s.updateOccurrence(ctx, session, user, folder, stored, req)
	}
	return s.updateWhole(ctx, session, user, folder, stored, req)
}

func (s *EventService) updateWhole(ctx context.Context, session models.CalendarSession, user *models.CalendarUser, folder *models.Folder, stored *models.Event, req UpdateEventRequest) (*models.CalendarResult, error) {
	original := *stored.Clone()
	updated := stored.Clone()
	if err := s.applyPatch(ctx, updated, req); err != nil {
		return nil, err
	}
	if err := validateClassification(folder, updated.Class); err != nil {
		return nil, err
	}
	if updated.RecurrenceRule != "" && updated.SeriesID == "" {
		updated.SeriesID = updated.ID
	}
	if err := s.validateRecurrence(updated); err != nil {
		return nil, err
	}

	reschedule := isReschedule(&original, updated)
	replyOnly := isReplyOnly(&original, updated, session.UserID)
	touch(updated, session.UserID, reschedule)

	err := s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		if err := tx.Events().UpdateEvent(ctx, updated); err != nil {
			return err
		}
		if err := s.applyAttendeeChanges(ctx, tx, &original, updated); err != nil {
			return err
		}
		if reschedule {
			if err := rederiveAlarmTriggers(ctx, tx, s.recur, updated, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	result := &models.CalendarResult{}
	result.TrackUpdate(original, *updated)
	s.dispatchUpdateMessages(ctx, user, updated, replyOnly)
	s.logger.Info("event updated",
		zap.String("event_id", updated.ID),
		zap.Bool("reschedule", reschedule))
	return result, nil
}

// updateOccurrence materialises or patches the change-exception overriding
// one occurrence of a series.
func (s *EventService) updateOccurrence(ctx context.Context, session models.CalendarSession, user *models.CalendarUser, folder *models.Folder, master *models.Event, req UpdateEventRequest) (*models.CalendarResult, error) {
	rid := req.RecurrenceID.UTC()
	if master.DeleteExceptionDates.Contains(rid) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "the occurrence was deleted from the series")
	}

	result := &models.CalendarResult{}
	if master.ChangeExceptionDates.Contains(rid) {
		exception, err := s.findException(ctx, master.SeriesID, rid)
		if err != nil {
			return nil, err
		}
		original := *exception.Clone()
		if err := s.applyPatch(ctx, exception, req); err != nil {
			return nil, err
		}
		reschedule := isReschedule(&original, exception)
		touch(exception, session.UserID, reschedule)
		err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
			if err := tx.Events().UpdateEvent(ctx, exception); err != nil {
				return err
			}
			return s.applyAttendeeChanges(ctx, tx, &original, exception)
		})
		if err != nil {
			return nil, appErrors.FromError(err)
		}
		result.TrackUpdate(original, *exception)
		s.dispatchUpdateMessages(ctx, user, exception, isReplyOnly(&original, exception, session.UserID))
		return result, nil
	}

	// No override yet: verify the recurrence id names a real occurrence,
	// then fork it off the master.
	data := models.RecurrenceDataFrom(master)
	next, _, err := s.recur.NextOccurrence(data, master.DeleteExceptionDates, rid.Add(-time.Second))
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	if next == nil || !next.Equal(rid) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no occurrence at the given recurrence id")
	}

	exception := master.Clone()
	exception.ID = ""
	exception.RecurrenceID = &rid
	exception.RecurrenceRule = ""
	exception.RecurrenceDates = nil
	exception.DeleteExceptionDates = nil
	exception.ChangeExceptionDates = nil
	exception.StartDate = rid
	exception.EndDate = rid.Add(master.Duration())
	if err := s.applyPatch(ctx, exception, req); err != nil {
		return nil, err
	}
	touch(exception, session.UserID, true)
	exception.Sequence = master.Sequence + 1

	originalMaster := *master.Clone()
	master.ChangeExceptionDates = master.ChangeExceptionDates.Add(rid)
	touch(master, session.UserID, false)

	err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		if err := tx.Events().InsertEvent(ctx, exception); err != nil {
			return err
		}
		if len(exception.Attendees) > 0 {
			if err := tx.Attendees().InsertAttendees(ctx, exception.ID, exception.Attendees); err != nil {
				return err
			}
		}
		return tx.Events().UpdateEvent(ctx, master)
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	result.TrackCreation(exception.FolderID, *exception)
	result.TrackUpdate(originalMaster, *master)
	s.dispatchUpdateMessages(ctx, user, exception, false)
	s.logger.Info("change exception created",
		zap.String("series_id", master.SeriesID),
		zap.Time("recurrence_id", rid))
	return result, nil
}

// Delete removes an event, a whole series, or a single occurrence when a
// recurrence id is given. Tombstones are written before anything is
// destroyed.
func (s *EventService) Delete(ctx context.Context, session models.CalendarSession, eventID string, clientTimestamp time.Time, recurrenceID *time.Time) (*models.CalendarResult, error) {
	stored, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := requireUpToDateTimestamp(stored, clientTimestamp); err != nil {
		return nil, err
	}
	folder, err := s.folders.GetFolder(ctx, stored.FolderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.CanDeleteObject(session.UserID, stored.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to delete this event")
	}
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if recurrenceID != nil && stored.IsSeriesMaster() {
		return s.deleteOccurrence(ctx, session, stored, recurrenceID.UTC())
	}

	result := &models.CalendarResult{}
	now := time.Now().UTC()
	err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		targets := []models.Event{*stored}
		if stored.IsSeriesMaster() {
			exceptions, err := tx.Events().LoadExceptions(ctx, stored.SeriesID)
			if err != nil {
				return err
			}
			targets = append(targets, exceptions...)
		}
		for i := range targets {
			if err := s.deleteOne(ctx, tx, &targets[i], session.UserID, now); err != nil {
				return err
			}
			result.TrackDeletion(targets[i], now)
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	if stored.IsGroupScheduled() && s.scheduling != nil {
		resource := models.CalendarObjectResource{Master: stored}
		s.scheduling.DispatchAfterCommit(MessagesFor(MethodCancel, *user, resource))
	}
	s.logger.Info("event deleted", zap.String("event_id", eventID))
	return result, nil
}

// deleteOccurrence records a delete-exception on the master; an existing
// change-exception for the date is removed and its date migrates from the
// change set to the delete set.
func (s *EventService) deleteOccurrence(ctx context.Context, session models.CalendarSession, master *models.Event, rid time.Time) (*models.CalendarResult, error) {
	if master.DeleteExceptionDates.Contains(rid) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "the occurrence is already deleted")
	}
	original := *master.Clone()
	now := time.Now().UTC()
	result := &models.CalendarResult{}

	err := s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		if master.ChangeExceptionDates.Contains(rid) {
			exception, err := s.findException(ctx, master.SeriesID, rid)
			if err != nil {
				return err
			}
			if err := s.deleteOne(ctx, tx, exception, session.UserID, now); err != nil {
				return err
			}
			result.TrackDeletion(*exception, now)
			master.ChangeExceptionDates = master.ChangeExceptionDates.Remove(rid)
		}
		master.DeleteExceptionDates = master.DeleteExceptionDates.Add(rid)
		touch(master, session.UserID, false)
		return tx.Events().UpdateEvent(ctx, master)
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	result.TrackUpdate(original, *master)
	return result, nil
}

// deleteOne tombstones and removes one event row with its attendee rows,
// alarms and triggers.
func (s *EventService) deleteOne(ctx context.Context, tx storage.Calendar, event *models.Event, userID string, at time.Time) error {
	tombstone := event.Clone()
	tombstone.ModifiedBy = userID
	tombstone.Timestamp = at
	if err := tx.Events().InsertEventTombstone(ctx, tombstone); err != nil {
		return err
	}
	for _, att := range event.Attendees {
		att.Timestamp = at
		if err := tx.Attendees().InsertAttendeeTombstone(ctx, event.ID, att); err != nil {
			return err
		}
	}
	if err := tx.Alarms().DeleteAlarmTriggers(ctx, event.ID, ""); err != nil {
		return err
	}
	if err := tx.Alarms().DeleteAlarms(ctx, event.ID, ""); err != nil {
		return err
	}
	if err := tx.Attendees().DeleteAttendees(ctx, event.ID, nil); err != nil {
		return err
	}
	return tx.Events().DeleteEvent(ctx, event.ID)
}

func (s *EventService) findException(ctx context.Context, seriesID string, rid time.Time) (*models.Event, error) {
	exceptions, err := s.store.Events().LoadExceptions(ctx, seriesID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	for i := range exceptions {
		if exceptions[i].RecurrenceID != nil && exceptions[i].RecurrenceID.Equal(rid) {
			exception := exceptions[i]
			if byEvent, err := s.store.Attendees().LoadAttendees(ctx, []string{exception.ID}); err == nil {
				exception.Attendees = byEvent[exception.ID]
			}
			return &exception, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "change exception not found")
}

func (s *EventService) applyPatch(ctx context.Context, event *models.Event, req UpdateEventRequest) error {
	if req.Summary != nil {
		event.Summary = *req.Summary
	}
	if req.Description != nil {
		event.Description = *req.Description
	}
	if req.Location != nil {
		event.Location = *req.Location
	}
	if req.Classification != nil {
		event.Class = *req.Classification
	}
	if req.Start != nil {
		event.StartDate = req.Start.UTC()
	}
	if req.End != nil {
		event.EndDate = req.End.UTC()
	}
	if req.TimeZone != nil {
		event.TimeZone = selectTimeZone(*req.TimeZone, event.TimeZone)
	}
	if req.AllDay != nil {
		event.AllDay = *req.AllDay
	}
	if req.RecurrenceRule != nil {
		event.RecurrenceRule = *req.RecurrenceRule
	}
	if event.EndDate.Before(event.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "event end precedes its start")
	}
	if req.Attendees != nil {
		attendees, err := s.resolveAttendees(ctx, req.Attendees)
		if err != nil {
			return err
		}
		event.Attendees = attendees
	}
	return nil
}

// applyAttendeeChanges reconciles stored attendee rows with the updated
// event: new attendees are inserted, removed ones tombstoned and deleted,
// changed ones rewritten.
func (s *EventService) applyAttendeeChanges(ctx context.Context, tx storage.Calendar, original, updated *models.Event) error {
	now := time.Now().UTC()
	var added []models.Attendee
	for _, att := range updated.Attendees {
		prev := models.FindAttendee(original.Attendees, models.CalendarUser{EntityID: att.EntityID, URI: att.URI})
		if prev == nil {
			att.Timestamp = now
			added = append(added, att)
			continue
		}
		if att.Participation != prev.Participation || att.Hidden != prev.Hidden ||
			att.FolderID != prev.FolderID || att.Comment != prev.Comment {
			att.Timestamp = now
			if err := tx.Attendees().UpdateAttendee(ctx, updated.ID, att); err != nil {
				return err
			}
		}
	}
	if len(added) > 0 {
		if err := tx.Attendees().InsertAttendees(ctx, updated.ID, added); err != nil {
			return err
		}
	}
	var removed []string
	for _, prev := range original.Attendees {
		if models.FindAttendee(updated.Attendees, models.CalendarUser{EntityID: prev.EntityID, URI: prev.URI}) == nil {
			prev.Timestamp = now
			if err := tx.Attendees().InsertAttendeeTombstone(ctx, updated.ID, prev); err != nil {
				return err
			}
			if prev.EntityID != "" {
				removed = append(removed, prev.EntityID)
			}
		}
	}
	if len(removed) > 0 {
		if err := tx.Attendees().DeleteAttendees(ctx, updated.ID, removed); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventService) actsAsAttendee(event *models.Event, userID string) bool {
	for i := range event.Attendees {
		if event.Attendees[i].EntityID == userID {
			return true
		}
	}
	return false
}

func (s *EventService) dispatchUpdateMessages(ctx context.Context, user *models.CalendarUser, event *models.Event, replyOnly bool) {
	if s.scheduling == nil || !event.IsGroupScheduled() {
		return
	}
	resource, err := s.loadResource(ctx, event)
	if err != nil {
		s.logger.Warn("skipping scheduling messages", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	if replyOnly {
		s.scheduling.DispatchAfterCommit(MessagesFor(MethodReply, *user, resource))
		return
	}
	s.scheduling.DispatchAfterCommit(MessagesFor(MethodRequest, *user, resource))
}
