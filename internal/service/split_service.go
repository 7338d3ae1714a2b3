package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// SplitService cleaves a recurring series into two independent series at a
// caller-chosen point, the storage side of "this and future" edits.
type SplitService struct {
	store      storage.Calendar
	recur      *recurrence.Service
	folders    folderResolver
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewSplitService constructs the service.
func NewSplitService(store storage.Calendar, recur *recurrence.Service, folders folderResolver, validate *validator.Validate, logger *zap.Logger) *SplitService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SplitService{store: store, recur: recur, folders: folders, validator: validate, logger: logger}
}

// SplitRequest describes one series split.
type SplitRequest struct {
	EventID         string    `json:"event_id" validate:"required"`
	SplitPoint      time.Time `json:"split_point" validate:"required"`
	UID             string    `json:"uid"`
	ClientTimestamp time.Time `json:"client_timestamp" validate:"required"`
}

// Split detaches the portion of the series before the split point into a new
// series and rewrites the original master to cover the remainder. Both
// feasibility checks run before any storage write; an infeasible split
// returns the original series unchanged.
func (s *SplitService) Split(ctx context.Context, session models.CalendarSession, req SplitRequest) (*models.CalendarResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid split request")
	}
	master, err := s.store.Events().LoadEvent(ctx, req.EventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "event not found")
	}
	if byEvent, err := s.store.Attendees().LoadAttendees(ctx, []string{master.ID}); err == nil {
		master.Attendees = byEvent[master.ID]
	}
	if err := requireUpToDateTimestamp(master, req.ClientTimestamp); err != nil {
		return nil, err
	}
	if !master.IsSeriesMaster() {
		return nil, appErrors.Clone(appErrors.ErrInvalidSplit, "only a series master can be split")
	}
	folder, err := s.folders.GetFolder(ctx, master.FolderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.CanWriteObject(session.UserID, master.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to modify this event")
	}

	// Floating events compare in UTC, like everything else in storage.
	splitPoint := req.SplitPoint.UTC()
	if splitPoint.Before(master.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrInvalidSplit, "the split point precedes the series start")
	}

	// The next rule occurrence on or after the split point anchors the
	// updated master. Exception dates and RDATEs are left out here: neither
	// consumes the rule's COUNT, so only rule-generated instances may
	// advance the position counter.
	anchorData := models.RecurrenceDataFrom(master)
	if master.RecurrenceRule != "" {
		anchorData.RecurrenceDates = nil
	}
	nextOcc, position, err := s.recur.NextOccurrence(anchorData, nil, splitPoint)
	if err != nil {
		return nil, err
	}
	if nextOcc == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidSplit, "no occurrence on or after the split point")
	}
	consumed := position - 1

	// Feasibility, checked in full before the first write.
	detachedRule := ""
	if master.RecurrenceRule != "" {
		detachedRule, err = recurrence.UntilBefore(master.RecurrenceRule, splitPoint, master.AllDay)
		if err != nil {
			return nil, err
		}
	}
	rdatesBefore, rdatesAfter := master.RecurrenceDates.Partition(splitPoint)
	detachedData := models.RecurrenceData{
		Rule:            detachedRule,
		Start:           master.StartDate,
		TimeZone:        master.TimeZone,
		AllDay:          master.AllDay,
		Duration:        master.Duration(),
		RecurrenceDates: rdatesBefore,
	}
	hasDetached, err := s.recur.HasOccurrenceBetween(detachedData, nil, master.StartDate, splitPoint)
	if err != nil {
		return nil, err
	}
	updatedRule := master.RecurrenceRule
	if master.RecurrenceRule != "" {
		updatedRule, err = recurrence.DecrementCount(master.RecurrenceRule, consumed)
		if err != nil {
			return nil, err
		}
	}
	count := recurrence.RuleCount(master.RecurrenceRule)
	hasUpdated := count == 0 || consumed < count
	if !hasDetached || !hasUpdated {
		s.logger.Info("split not performed, one side would be empty",
			zap.String("event_id", master.ID), zap.Time("split_point", splitPoint))
		result := &models.CalendarResult{Timestamp: master.Timestamp}
		result.AddWarning(models.Warning{
			Code:    "SPLIT_NOT_PERFORMED",
			Message: "splitting here would leave an empty series, nothing changed",
			EventID: master.ID,
		})
		return result, nil
	}

	deletesBefore, deletesAfter := master.DeleteExceptionDates.Partition(splitPoint)
	changesBefore, changesAfter := master.ChangeExceptionDates.Partition(splitPoint)

	// Both halves share a correlation token.
	relatedTo := master.RelatedTo
	if relatedTo == nil {
		token := uuid.NewString()
		relatedTo = &token
	}

	detachedID, err := s.store.Events().NextID(ctx)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	detached := master.Clone()
	detached.ID = detachedID
	detached.SeriesID = detachedID
	detached.UID = req.UID
	if detached.UID == "" {
		detached.UID = uuid.NewString()
	}
	detached.RelatedTo = relatedTo
	detached.RecurrenceRule = detachedRule
	detached.RecurrenceDates = rdatesBefore
	detached.DeleteExceptionDates = deletesBefore
	detached.ChangeExceptionDates = changesBefore
	detached.CreatedBy = master.CreatedBy
	touch(detached, session.UserID, false)
	detached.Sequence = master.Sequence

	original := *master.Clone()
	master.RecurrenceRule = updatedRule
	master.StartDate = *nextOcc
	master.EndDate = nextOcc.Add(original.Duration())
	master.RecurrenceDates = rdatesAfter
	master.DeleteExceptionDates = deletesAfter
	master.ChangeExceptionDates = changesAfter
	master.RelatedTo = relatedTo
	touch(master, session.UserID, true)

	result := &models.CalendarResult{}
	err = s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		if err := tx.Events().InsertEvent(ctx, detached); err != nil {
			return err
		}
		if len(detached.Attendees) > 0 {
			if err := tx.Attendees().InsertAttendees(ctx, detached.ID, detached.Attendees); err != nil {
				return err
			}
		}
		if err := s.copyAlarms(ctx, tx, original.ID, detached); err != nil {
			return err
		}

		exceptions, err := tx.Events().LoadExceptions(ctx, original.SeriesID)
		if err != nil {
			return err
		}
		for i := range exceptions {
			exception := &exceptions[i]
			if exception.RecurrenceID == nil {
				continue
			}
			if exception.RecurrenceID.Before(splitPoint) {
				// The stored override now belongs to the detached half.
				exception.SeriesID = detached.ID
				exception.UID = detached.UID
			}
			exception.RelatedTo = relatedTo
			touch(exception, session.UserID, false)
			if err := tx.Events().UpdateEvent(ctx, exception); err != nil {
				return err
			}
		}

		return tx.Events().UpdateEvent(ctx, master)
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	result.TrackCreation(detached.FolderID, *detached)
	result.TrackUpdate(original, *master)
	s.logger.Info("series split",
		zap.String("series_id", original.ID),
		zap.String("detached_id", detached.ID),
		zap.Time("split_point", splitPoint),
		zap.Int("consumed", consumed))
	return result, nil
}

// copyAlarms duplicates every alarm of the source event for the detached
// series and materialises its triggers.
func (s *SplitService) copyAlarms(ctx context.Context, tx storage.Calendar, sourceEventID string, detached *models.Event) error {
	alarms, err := tx.Alarms().LoadAlarms(ctx, sourceEventID)
	if err != nil {
		return err
	}
	if len(alarms) == 0 {
		return nil
	}
	copies := make([]models.Alarm, 0, len(alarms))
	for _, alarm := range alarms {
		alarm.ID = uuid.NewString()
		alarm.EventID = detached.ID
		alarm.Timestamp = detached.Timestamp
		copies = append(copies, alarm)
	}
	if err := tx.Alarms().InsertAlarms(ctx, copies); err != nil {
		return err
	}
	return rederiveAlarmTriggers(ctx, tx, s.recur, detached, "")
}
