package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/interval"
	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/storage"
	"github.com/chronoshq/chronos-api/pkg/config"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// FreeBusyService aggregates per-attendee busy timelines from overlapping
// events and, when enabled, reconciles them against declared availability.
type FreeBusyService struct {
	store     storage.Calendar
	recur     *recurrence.Service
	entities  entityResolver
	cache     freeBusyCache
	cfg       config.FreeBusyConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFreeBusyService constructs the service. The cache may be nil.
func NewFreeBusyService(store storage.Calendar, recur *recurrence.Service, entities entityResolver, cache freeBusyCache, cfg config.FreeBusyConfig, validate *validator.Validate, logger *zap.Logger) *FreeBusyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FreeBusyService{
		store:     store,
		recur:     recur,
		entities:  entities,
		cache:     cache,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// FreeBusyRequest asks for the availability of a set of attendees inside
// the half-open window [From, Until).
type FreeBusyRequest struct {
	Attendees []string  `json:"attendees" validate:"required,min=1"`
	From      time.Time `json:"from" validate:"required"`
	Until     time.Time `json:"until" validate:"required"`
	Merge     bool      `json:"merge"`
}

// Query produces, per requested attendee, a chronologically sorted busy
// timeline clipped to the window. Unresolvable attendees degrade to a
// warning on their own entry.
func (s *FreeBusyService) Query(ctx context.Context, session models.CalendarSession, req FreeBusyRequest) ([]models.AttendeeFreeBusy, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid free/busy request")
	}
	if !req.Until.After(req.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "the window end must lie after its start")
	}
	if s.cfg.MaxAttendees > 0 && len(req.Attendees) > s.cfg.MaxAttendees {
		return nil, appErrors.Clone(appErrors.ErrValidation, "too many attendees requested")
	}

	key := s.cacheKey(session, req)
	if s.cache != nil {
		var cached []models.AttendeeFreeBusy
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	from, until := req.From.UTC(), req.Until.UTC()
	results := make([]models.AttendeeFreeBusy, 0, len(req.Attendees))
	for _, raw := range req.Attendees {
		entry, err := s.queryAttendee(ctx, session, raw, from, until, req.Merge)
		if err != nil {
			return nil, err
		}
		results = append(results, *entry)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, results, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("free/busy cache write failed", zap.Error(err))
		}
	}
	return results, nil
}

func (s *FreeBusyService) queryAttendee(ctx context.Context, session models.CalendarSession, raw string, from, until time.Time, merge bool) (*models.AttendeeFreeBusy, error) {
	entry := &models.AttendeeFreeBusy{Attendee: models.Attendee{URI: raw}}

	user, err := s.resolveAttendee(ctx, raw)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrInvalidCalendarUser) {
			entry.Warnings = append(entry.Warnings, models.Warning{
				Code:    appErrors.ErrInvalidCalendarUser.Code,
				Message: "attendee does not resolve to an internal calendar user",
			})
			return entry, nil
		}
		return nil, err
	}
	entry.Attendee = models.Attendee{EntityID: user.EntityID, URI: user.URI, CN: user.CN, CUType: models.CUTypeIndividual}

	times, err := s.eventBusyTimes(ctx, session, user, from, until)
	if err != nil {
		return nil, err
	}

	if s.cfg.AvailabilityEnabled {
		availability, err := s.store.Availability().LoadAvailability(ctx, user.EntityID)
		if err == nil && availability != nil {
			times = s.reconcileAvailability(times, availability, from, until)
		}
	}

	interval.SortFreeBusy(times)
	if merge {
		times = interval.MergeFreeBusy(times)
	}
	entry.Times = interval.ClipFreeBusy(times, from, until)
	return entry, nil
}

// eventBusyTimes is stage A: the attendee's overlapping events reduced to
// busy intervals, series masters expanded inside the window.
func (s *FreeBusyService) eventBusyTimes(ctx context.Context, session models.CalendarSession, user *models.CalendarUser, from, until time.Time) ([]models.FreeBusyTime, error) {
	events, err := s.store.Events().SearchOverlappingEvents(ctx, user.EntityID, from, until)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search overlapping events")
	}
	if s.cfg.MaxEventsPerUser > 0 && len(events) > s.cfg.MaxEventsPerUser {
		return nil, appErrors.Clone(appErrors.ErrTooManyOccurrences, "too many events in the requested window")
	}
	attendeesByEvent, err := s.store.Attendees().LoadAttendees(ctx, eventIDs(events))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendees")
	}

	times := make([]models.FreeBusyTime, 0, len(events))
	for i := range events {
		event := &events[i]
		event.Attendees = attendeesByEvent[event.ID]

		fbType, counts := s.busyType(event, user)
		if !counts {
			continue
		}

		if event.IsSeriesMaster() {
			occurrences, err := s.recur.InstancesBetween(event, from, until)
			if err != nil {
				if appErrors.Is(err, appErrors.ErrTooManyOccurrences) {
					return nil, err
				}
				s.logger.Warn("skipping series in free/busy, expansion failed",
					zap.String("event_id", event.ID), zap.Error(err))
				continue
			}
			if s.cfg.MaxEventsPerUser > 0 && len(times)+len(occurrences) > s.cfg.MaxEventsPerUser {
				return nil, appErrors.Clone(appErrors.ErrTooManyOccurrences, "too many occurrences in the requested window")
			}
			for j := range occurrences {
				times = append(times, models.FreeBusyTime{
					Start: occurrences[j].StartDate,
					End:   occurrences[j].EndDate,
					Type:  fbType,
					Event: s.projectForFreeBusy(&occurrences[j], session),
				})
			}
			continue
		}

		times = append(times, models.FreeBusyTime{
			Start: event.StartDate,
			End:   event.EndDate,
			Type:  fbType,
			Event: s.projectForFreeBusy(event, session),
		})
	}
	return times, nil
}

// busyType maps the attendee's participation onto the busy classification.
// Declined and hidden participations do not block the slot at all.
func (s *FreeBusyService) busyType(event *models.Event, user *models.CalendarUser) (models.FbType, bool) {
	if !event.IsGroupScheduled() {
		return models.FbBusy, true
	}
	att := models.FindAttendee(event.Attendees, *user)
	if att == nil || att.Hidden {
		return "", false
	}
	switch att.Participation {
	case models.ParticipationDeclined:
		return "", false
	case models.ParticipationAccepted:
		return models.FbBusy, true
	default:
		return models.FbBusyTentative, true
	}
}

// projectForFreeBusy reduces an event to the fields a free/busy response may
// carry: nothing at all when the session user cannot see the event, a slim
// projection otherwise.
func (s *FreeBusyService) projectForFreeBusy(event *models.Event, session models.CalendarSession) *models.Event {
	if !isClassifiedFor(event, session.UserID) {
		return nil
	}
	return &models.Event{
		ID:        event.ID,
		FolderID:  event.FolderID,
		Summary:   event.Summary,
		StartDate: event.StartDate,
		EndDate:   event.EndDate,
		AllDay:    event.AllDay,
	}
}

// reconcileAvailability is stage B: time inside the availability window not
// covered by a declared available block becomes busy with the declared busy
// type, then the availability-derived intervals are trimmed around the
// event-derived ones so the final timeline never overlaps.
func (s *FreeBusyService) reconcileAvailability(eventTimes []models.FreeBusyTime, availability *models.Availability, from, until time.Time) []models.FreeBusyTime {
	window := interval.New(from, until).Clip(interval.New(availability.StartDate.UTC(), availability.EndDate.UTC()))
	if window.IsEmpty() {
		return eventTimes
	}

	blocks := s.expandAvailableBlocks(availability, window)
	gaps := availabilityGaps(window, blocks)

	busyType := availability.BusyType
	if busyType == "" {
		busyType = models.FbBusyUnavailable
	}

	derived := make([]interval.Period, 0, len(gaps))
	derived = append(derived, gaps...)
	for _, event := range eventTimes {
		ref := interval.New(event.Start, event.End)
		next := make([]interval.Period, 0, len(derived)+1)
		for _, p := range derived {
			switch interval.Relate(p, ref) {
			case interval.RelationNone:
				next = append(next, p)
			case interval.RelationContained:
				// The event already blocks this slot.
			case interval.RelationPrecedesIntersecting:
				next = append(next, interval.New(p.Start, ref.Start))
			case interval.RelationSucceedsIntersecting:
				next = append(next, interval.New(ref.End, p.End))
			case interval.RelationCovers:
				next = append(next, interval.New(p.Start, ref.Start), interval.New(ref.End, p.End))
			}
		}
		derived = next
	}

	out := append([]models.FreeBusyTime(nil), eventTimes...)
	for _, p := range derived {
		if p.IsEmpty() {
			continue
		}
		out = append(out, models.FreeBusyTime{Start: p.Start, End: p.End, Type: busyType})
	}
	return out
}

// expandAvailableBlocks materialises the availability's blocks, recurring
// ones included, clipped to the window.
func (s *FreeBusyService) expandAvailableBlocks(availability *models.Availability, window interval.Period) []interval.Period {
	var out []interval.Period
	for _, block := range availability.Blocks {
		duration := block.Duration()
		if duration <= 0 {
			continue
		}
		if block.RecurrenceRule == "" {
			p := interval.New(block.StartDate.UTC(), block.EndDate.UTC()).Clip(window)
			if !p.IsEmpty() {
				out = append(out, p)
			}
			continue
		}
		data := models.RecurrenceData{
			Rule:     block.RecurrenceRule,
			Start:    block.StartDate.UTC(),
			Duration: duration,
		}
		seed := window.Start.Add(-duration)
		it, err := s.recur.Iterate(data, nil, &seed, &window.End)
		if err != nil {
			s.logger.Warn("skipping unenumerable availability block",
				zap.String("block_id", block.ID), zap.Error(err))
			continue
		}
		for {
			rid, ok := it.Next()
			if !ok {
				if err := it.Err(); err != nil {
					s.logger.Warn("availability block expansion hit the instance cap",
						zap.String("block_id", block.ID), zap.Error(err))
				}
				break
			}
			p := interval.New(rid, rid.Add(duration)).Clip(window)
			if !p.IsEmpty() {
				out = append(out, p)
			}
		}
	}
	return out
}

// availabilityGaps returns the sub-periods of the window not covered by any
// available block.
func availabilityGaps(window interval.Period, blocks []interval.Period) []interval.Period {
	if len(blocks) == 0 {
		return []interval.Period{window}
	}
	merged := mergePeriods(blocks)
	var gaps []interval.Period
	cursor := window.Start
	for _, b := range merged {
		if b.Start.After(cursor) {
			gaps = append(gaps, interval.New(cursor, b.Start))
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		gaps = append(gaps, interval.New(cursor, window.End))
	}
	return gaps
}

func mergePeriods(periods []interval.Period) []interval.Period {
	sorted := append([]interval.Period(nil), periods...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start.Before(sorted[j-1].Start); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := sorted[:0]
	for _, p := range sorted {
		if len(out) > 0 && !p.Start.After(out[len(out)-1].End) {
			if p.End.After(out[len(out)-1].End) {
				out[len(out)-1].End = p.End
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *FreeBusyService) resolveAttendee(ctx context.Context, raw string) (*models.CalendarUser, error) {
	if strings.Contains(raw, "@") || strings.HasPrefix(raw, "mailto:") {
		return s.entities.ResolveByURI(ctx, raw)
	}
	return s.entities.ResolveByID(ctx, raw)
}

func (s *FreeBusyService) cacheKey(session models.CalendarSession, req FreeBusyRequest) string {
	h := sha256.New()
	h.Write([]byte(session.UserID))
	h.Write([]byte(strings.Join(req.Attendees, "|")))
	h.Write([]byte(req.From.UTC().Format(time.RFC3339)))
	h.Write([]byte(req.Until.UTC().Format(time.RFC3339)))
	if req.Merge {
		h.Write([]byte("merged"))
	}
	return "chronos:freebusy:" + hex.EncodeToString(h.Sum(nil))
}

func eventIDs(events []models.Event) []string {
	ids := make([]string, 0, len(events))
	for i := range events {
		ids = append(ids, events[i].ID)
	}
	return ids
}
