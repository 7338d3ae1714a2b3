package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/storage"
	"github.com/chronoshq/chronos-api/pkg/config"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// UIDConflictStrategy decides what happens when an imported uid already
// exists in storage.
type UIDConflictStrategy string

const (
	// StrategyThrow propagates the conflict and fails the group.
	StrategyThrow UIDConflictStrategy = "THROW"
	// StrategyReassign mints a fresh uid for the whole group and retries.
	StrategyReassign UIDConflictStrategy = "REASSIGN"
	// StrategyUpdate treats every group member as an update of the stored
	// event resolved by uid.
	StrategyUpdate UIDConflictStrategy = "UPDATE"
	// StrategyUpdateOrReassign tries an update and falls back to a
	// reassign on any failure.
	StrategyUpdateOrReassign UIDConflictStrategy = "UPDATE_OR_REASSIGN"
)

// ParseUIDConflictStrategy validates a client-supplied strategy name.
func ParseUIDConflictStrategy(raw string) (UIDConflictStrategy, error) {
	switch UIDConflictStrategy(strings.ToUpper(raw)) {
	case StrategyThrow:
		return StrategyThrow, nil
	case StrategyReassign:
		return StrategyReassign, nil
	case StrategyUpdate:
		return StrategyUpdate, nil
	case StrategyUpdateOrReassign:
		return StrategyUpdateOrReassign, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown uid conflict strategy "+raw)
	}
}

// ImportService ingests externally sourced event groups. Each uid group
// runs in its own transaction; one group's failure never touches its
// siblings.
type ImportService struct {
	store    storage.Calendar
	recur    *recurrence.Service
	folders  folderResolver
	entities entityResolver
	cfg      config.ImportConfig
	logger   *zap.Logger
}

// NewImportService constructs the service.
func NewImportService(store storage.Calendar, recur *recurrence.Service, folders folderResolver, entities entityResolver, cfg config.ImportConfig, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{store: store, recur: recur, folders: folders, entities: entities, cfg: cfg, logger: logger}
}

type importComponent struct {
	index int
	event models.Event
}

// Import ingests the components into the target folder. Components sharing
// a uid form one group with the master sorted first; per-component results
// carry the originating index for precise client feedback.
func (s *ImportService) Import(ctx context.Context, session models.CalendarSession, folderID string, components []models.Event, strategy UIDConflictStrategy) ([]models.ImportResult, error) {
	if strategy == "" {
		parsed, err := ParseUIDConflictStrategy(s.cfg.DefaultUIDConflictStrategy)
		if err != nil {
			parsed = StrategyThrow
		}
		strategy = parsed
	}
	if s.cfg.MaxComponents > 0 && len(components) > s.cfg.MaxComponents {
		return nil, appErrors.Clone(appErrors.ErrValidation, "too many components in one import")
	}
	folder, err := s.folders.GetFolder(ctx, folderID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !folder.Permission.CreateObjects {
		return nil, appErrors.Clone(appErrors.ErrNoPermission, "no permission to create objects in this folder")
	}

	groups := groupByUID(components)
	results := make([]models.ImportResult, 0, len(components))
	for _, group := range groups {
		groupResults, err := s.importGroup(ctx, session, folder, group, strategy)
		if err != nil {
			// The whole group failed; a single error result carries the
			// first component's index.
			results = append(results, models.ImportResult{
				Index: group[0].index,
				UID:   group[0].event.UID,
				Error: err,
			})
			continue
		}
		results = append(results, groupResults...)
	}
	return results, nil
}

// groupByUID buckets components by uid preserving first-seen group order,
// master (no recurrence id) sorted first within each group.
func groupByUID(components []models.Event) [][]importComponent {
	order := make([]string, 0, len(components))
	byUID := make(map[string][]importComponent, len(components))
	for i, event := range components {
		uid := event.UID
		if uid == "" {
			uid = uuid.NewString()
			event.UID = uid
		}
		if _, ok := byUID[uid]; !ok {
			order = append(order, uid)
		}
		byUID[uid] = append(byUID[uid], importComponent{index: i, event: event})
	}
	groups := make([][]importComponent, 0, len(order))
	for _, uid := range order {
		group := byUID[uid]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].event.RecurrenceID == nil && group[j].event.RecurrenceID != nil
		})
		groups = append(groups, group)
	}
	return groups
}

func (s *ImportService) importGroup(ctx context.Context, session models.CalendarSession, folder *models.Folder, group []importComponent, strategy UIDConflictStrategy) ([]models.ImportResult, error) {
	existing, err := s.store.Events().ResolveByUID(ctx, group[0].event.UID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.FromError(err)
	}

	if existing == nil {
		return s.createGroup(ctx, session, folder, group, group[0].event.UID)
	}

	switch strategy {
	case StrategyThrow:
		return nil, appErrors.Clone(appErrors.ErrUIDConflict, "an event with uid "+group[0].event.UID+" exists already")
	case StrategyReassign:
		return s.createGroup(ctx, session, folder, group, uuid.NewString())
	case StrategyUpdate:
		return s.updateGroup(ctx, session, existing, group)
	case StrategyUpdateOrReassign:
		results, err := s.updateGroup(ctx, session, existing, group)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("uid conflict update failed, reassigning",
			zap.String("uid", group[0].event.UID), zap.Error(err))
		results, rerr := s.createGroup(ctx, session, folder, group, uuid.NewString())
		if rerr != nil {
			return nil, rerr
		}
		for i := range results {
			results[i].Warnings = append(results[i].Warnings, models.Warning{
				Code:    appErrors.ErrUIDConflict.Code,
				Message: "updating the existing event failed, the group was imported under a fresh uid",
			})
		}
		return results, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown uid conflict strategy")
	}
}

// createGroup inserts the master and every subsequent member as a
// change-exception inside one transaction.
func (s *ImportService) createGroup(ctx context.Context, session models.CalendarSession, folder *models.Folder, group []importComponent, uid string) ([]models.ImportResult, error) {
	results := make([]models.ImportResult, 0, len(group))
	err := s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		masterID, err := tx.Events().NextID(ctx)
		if err != nil {
			return err
		}
		master := prepareImported(group[0].event, session, folder, uid)
		master.ID = masterID
		if master.RecurrenceRule != "" || len(master.RecurrenceDates) > 0 {
			master.SeriesID = masterID
		}
		if err := tx.Events().InsertEvent(ctx, master); err != nil {
			return err
		}
		if len(master.Attendees) > 0 {
			if err := tx.Attendees().InsertAttendees(ctx, master.ID, master.Attendees); err != nil {
				return err
			}
		}
		results = append(results, models.ImportResult{
			Index:    group[0].index,
			EventID:  master.ID,
			FolderID: folder.ID,
			UID:      uid,
		})

		for _, member := range group[1:] {
			exception, err := s.insertException(ctx, tx, session, folder, master, member.event)
			if err != nil {
				return err
			}
			results = append(results, models.ImportResult{
				Index:    member.index,
				EventID:  exception.ID,
				FolderID: folder.ID,
				UID:      uid,
			})
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return results, nil
}

// updateGroup applies every member onto the stored event resolved by uid:
// the master member rewrites the stored master, members with a recurrence
// id update or materialise change-exceptions.
func (s *ImportService) updateGroup(ctx context.Context, session models.CalendarSession, existing *models.Event, group []importComponent) ([]models.ImportResult, error) {
	results := make([]models.ImportResult, 0, len(group))
	err := s.store.InTransaction(ctx, func(tx storage.Calendar) error {
		for _, member := range group {
			if member.event.RecurrenceID == nil {
				applyImported(existing, &member.event)
				touch(existing, session.UserID, false)
				if err := tx.Events().UpdateEvent(ctx, existing); err != nil {
					return err
				}
			} else {
				rid := member.event.RecurrenceID.UTC()
				if err := s.upsertException(ctx, tx, session, existing, member.event, rid); err != nil {
					return err
				}
			}
			results = append(results, models.ImportResult{
				Index:    member.index,
				EventID:  existing.ID,
				FolderID: existing.FolderID,
				UID:      existing.UID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return results, nil
}

func (s *ImportService) insertException(ctx context.Context, tx storage.Calendar, session models.CalendarSession, folder *models.Folder, master *models.Event, component models.Event) (*models.Event, error) {
	if component.RecurrenceID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "group member without recurrence id cannot become a change exception")
	}
	rid := component.RecurrenceID.UTC()
	exceptionID, err := tx.Events().NextID(ctx)
	if err != nil {
		return nil, err
	}
	exception := prepareImported(component, session, folder, master.UID)
	exception.ID = exceptionID
	exception.SeriesID = master.ID
	exception.RecurrenceID = &rid
	exception.RecurrenceRule = ""
	if err := tx.Events().InsertEvent(ctx, exception); err != nil {
		return nil, err
	}
	if len(exception.Attendees) > 0 {
		if err := tx.Attendees().InsertAttendees(ctx, exception.ID, exception.Attendees); err != nil {
			return nil, err
		}
	}
	master.ChangeExceptionDates = master.ChangeExceptionDates.Add(rid)
	touch(master, session.UserID, false)
	if err := tx.Events().UpdateEvent(ctx, master); err != nil {
		return nil, err
	}
	return exception, nil
}

// upsertException updates the stored override for the recurrence id or
// materialises a new one.
func (s *ImportService) upsertException(ctx context.Context, tx storage.Calendar, session models.CalendarSession, master *models.Event, component models.Event, rid time.Time) error {
	if master.ChangeExceptionDates.Contains(rid) {
		exceptions, err := tx.Events().LoadExceptions(ctx, master.SeriesID)
		if err != nil {
			return err
		}
		for i := range exceptions {
			if exceptions[i].RecurrenceID != nil && exceptions[i].RecurrenceID.Equal(rid) {
				applyImported(&exceptions[i], &component)
				touch(&exceptions[i], session.UserID, false)
				return tx.Events().UpdateEvent(ctx, &exceptions[i])
			}
		}
	}
	folder := &models.Folder{ID: master.FolderID}
	_, err := s.insertException(ctx, tx, session, folder, master, component)
	return err
}

// prepareImported normalises one imported component for storage.
func prepareImported(event models.Event, session models.CalendarSession, folder *models.Folder, uid string) *models.Event {
	out := event.Clone()
	out.UID = uid
	out.FolderID = folder.ID
	out.CreatedBy = session.UserID
	out.ModifiedBy = session.UserID
	out.StartDate = out.StartDate.UTC()
	out.EndDate = out.EndDate.UTC()
	if out.Class == "" {
		out.Class = models.ClassificationPublic
	}
	return out
}

// applyImported copies the imported component's payload fields onto the
// stored event, leaving identity and placement untouched.
func applyImported(stored *models.Event, component *models.Event) {
	stored.Summary = component.Summary
	stored.Description = component.Description
	stored.Location = component.Location
	if component.Class != "" {
		stored.Class = component.Class
	}
	stored.StartDate = component.StartDate.UTC()
	stored.EndDate = component.EndDate.UTC()
	stored.TimeZone = component.TimeZone
	stored.AllDay = component.AllDay
	if component.RecurrenceID == nil {
		stored.RecurrenceRule = component.RecurrenceRule
		stored.RecurrenceDates = append(models.DateList(nil), component.RecurrenceDates...)
	}
}
