package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/storage"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// FlagHints carries pre-computed per-event-id membership sets supplied by
// the caller; deriving them inline would need one storage round trip per
// event.
type FlagHints struct {
	Attachments map[string]struct{}
	Conferences map[string]struct{}
	Alarms      map[string]struct{}
	Scheduled   map[string]struct{}
}

// PostProcessorOptions fixes the view context of one processing run.
type PostProcessorOptions struct {
	Session models.CalendarSession
	// User is the calendar user whose folder view is produced; usually the
	// session user, but a shared-folder read targets the folder owner.
	User   models.CalendarUser
	Folder *models.Folder
	From   *time.Time
	Until  *time.Time
	Fields models.FieldSet
	// ResolveOccurrences expands series masters into concrete occurrence
	// events intersecting [From, Until).
	ResolveOccurrences bool
	Hints              FlagHints
}

// ProcessedEvents is the outcome of one post-processing run.
type ProcessedEvents struct {
	Events []models.Event `json:"events"`
	// Timestamp is the maximum last-modified across all kept events, the
	// change token incremental-sync clients hand back.
	Timestamp time.Time        `json:"timestamp"`
	Warnings  []models.Warning `json:"warnings,omitempty"`
}

// PostProcessor transforms raw stored events into the client-visible view
// for one session and folder context. It is a single-request helper and not
// safe for concurrent use; its accumulator and caches are instance state.
type PostProcessor struct {
	store   storage.Calendar
	recur   *recurrence.Service
	folders folderResolver
	logger  *zap.Logger
	opts    PostProcessorOptions

	// knownRecurrenceData memoises series enumeration data per series id
	// for the lifetime of one run.
	knownRecurrenceData map[string]models.RecurrenceData
	// knownAttendees carries sibling attendee data keyed by event id,
	// injected into copies of the same event seen through other folders.
	knownAttendees map[string][]models.Attendee
	// folderCache avoids re-resolving the same view folder per event.
	folderCache map[string]*models.Folder
	// staleFolders collects folder ids that failed to resolve; read
	// traffic reports them so the stale references can be purged.
	staleFolders map[string]struct{}

	events       []models.Event
	maxTimestamp time.Time
	warnings     []models.Warning
}

// NewPostProcessor builds a processor for one request.
func NewPostProcessor(store storage.Calendar, recur *recurrence.Service, folders folderResolver, logger *zap.Logger, opts PostProcessorOptions) *PostProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostProcessor{
		store:               store,
		recur:               recur,
		folders:             folders,
		logger:              logger,
		opts:                opts,
		knownRecurrenceData: make(map[string]models.RecurrenceData),
		knownAttendees:      make(map[string][]models.Attendee),
		folderCache:         make(map[string]*models.Folder),
		staleFolders:        make(map[string]struct{}),
	}
}

// Process runs the view pipeline over a batch of stored events. Events
// dropped by a filter simply do not appear in the result; errors during
// enrichment degrade the single affected item instead of aborting the batch.
func (p *PostProcessor) Process(ctx context.Context, events []models.Event) error {
	if err := p.loadAttendees(ctx, events); err != nil {
		return err
	}
	for i := range events {
		p.processOne(ctx, &events[i])
	}
	return nil
}

// ProcessTombstones runs the reduced tombstone pipeline: classification
// filter, folder assignment, anonymization and range filtering only.
func (p *PostProcessor) ProcessTombstones(ctx context.Context, events []models.Event) error {
	for i := range events {
		event := &events[i]
		if event.Class == models.ClassificationPrivate && !isClassifiedFor(event, p.opts.Session.UserID) {
			continue
		}
		p.assignViewFolder(ctx, event)
		if !isClassifiedFor(event, p.opts.Session.UserID) {
			event = anonymize(event, p.opts.Session.Locale)
		}
		if event.IsSeriesMaster() {
			if !p.masterIntersectsRange(event) {
				continue
			}
		} else if p.outOfRange(event) {
			continue
		}
		p.keep(*event)
	}
	return nil
}

// Result hands the accumulated view to the caller.
func (p *PostProcessor) Result() ProcessedEvents {
	return ProcessedEvents{Events: p.events, Timestamp: p.maxTimestamp, Warnings: p.warnings}
}

// StaleFolders lists folder ids that no longer resolve; callers purge event
// and attendee references pointing at them.
func (p *PostProcessor) StaleFolders() []string {
	out := make([]string, 0, len(p.staleFolders))
	for id := range p.staleFolders {
		out = append(out, id)
	}
	return out
}

func (p *PostProcessor) processOne(ctx context.Context, event *models.Event) {
	// 1. Classification: private events vanish entirely for outsiders.
	if event.Class == models.ClassificationPrivate && !isClassifiedFor(event, p.opts.Session.UserID) {
		return
	}

	// 2. Hidden attendee: the folder's calendar user removed this event
	// from their view.
	if att := models.FindAttendee(event.Attendees, p.opts.User); att != nil && att.Hidden {
		return
	}

	// 3. Cache series enumeration data for flag derivation and occurrence
	// checks further down the batch.
	if event.IsSeriesMaster() {
		p.knownRecurrenceData[event.SeriesID] = models.RecurrenceDataFrom(event)
	}

	// 4. Attendee enrichment from sibling copies.
	if p.opts.Fields.Contains(models.FieldAttendees) {
		if known, ok := p.knownAttendees[event.ID]; ok && len(known) > len(event.Attendees) {
			event.Attendees = known
		}
	}

	// 5. The view folder wins over the stored common folder id.
	p.assignViewFolder(ctx, event)

	// 6. Flags.
	if p.opts.Fields.Contains(models.FieldFlags) {
		event.Flags = p.deriveFlags(ctx, event)
	}

	// 7. Confidential events survive as a redacted projection.
	if !isClassifiedFor(event, p.opts.Session.UserID) {
		event = anonymize(event, p.opts.Session.Locale)
	}

	// 8. Series handling.
	switch {
	case event.IsSeriesMaster() && p.opts.ResolveOccurrences:
		p.resolveOccurrences(ctx, event)
		return
	case event.IsSeriesMaster():
		if p.opts.From != nil && p.opts.Until != nil && !p.masterIntersectsRange(event) {
			return
		}
		event = p.userizeExceptionDates(ctx, event)
	default:
		if p.outOfRange(event) {
			return
		}
	}

	p.keep(*event)
}

// loadAttendees fetches attendee rows for events that arrived without them
// and indexes the richest known set per event id.
func (p *PostProcessor) loadAttendees(ctx context.Context, events []models.Event) error {
	missing := make([]string, 0, len(events))
	for i := range events {
		if len(events[i].Attendees) == 0 {
			missing = append(missing, events[i].ID)
		} else if len(events[i].Attendees) > len(p.knownAttendees[events[i].ID]) {
			p.knownAttendees[events[i].ID] = events[i].Attendees
		}
	}
	if len(missing) == 0 {
		return nil
	}
	byEvent, err := p.store.Attendees().LoadAttendees(ctx, missing)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendees")
	}
	for i := range events {
		if len(events[i].Attendees) == 0 {
			events[i].Attendees = byEvent[events[i].ID]
		}
		if len(events[i].Attendees) > len(p.knownAttendees[events[i].ID]) {
			p.knownAttendees[events[i].ID] = events[i].Attendees
		}
	}
	return nil
}

func (p *PostProcessor) assignViewFolder(ctx context.Context, event *models.Event) {
	viewFolder := event.FolderID
	if att := models.FindAttendee(event.Attendees, p.opts.User); att != nil && att.FolderID != "" {
		viewFolder = att.FolderID
	}
	if p.opts.Folder != nil && p.opts.Folder.ID == viewFolder {
		event.FolderID = viewFolder
		return
	}
	if _, seen := p.folderCache[viewFolder]; !seen && p.folders != nil {
		folder, err := p.folders.GetFolder(ctx, viewFolder, p.opts.Session.UserID)
		if err != nil && appErrors.Is(err, appErrors.ErrFolderNotFound) {
			p.staleFolders[viewFolder] = struct{}{}
			p.warnings = append(p.warnings, models.Warning{
				Code:    appErrors.ErrFolderNotFound.Code,
				Message: "event references a folder that no longer exists",
				EventID: event.ID,
			})
		}
		p.folderCache[viewFolder] = folder
	}
	event.FolderID = viewFolder
}

// resolveOccurrences expands a master into concrete occurrences inside the
// window. Enumeration failures drop this master only.
func (p *PostProcessor) resolveOccurrences(ctx context.Context, master *models.Event) {
	from, until := p.window()
	occurrences, err := p.recur.InstancesBetween(master, from, until)
	if err != nil {
		p.logger.Warn("dropping series from listing, occurrence resolution failed",
			zap.String("event_id", master.ID), zap.Error(err))
		p.warnings = append(p.warnings, models.Warning{
			Code:    appErrors.FromError(err).Code,
			Message: "could not resolve occurrences",
			EventID: master.ID,
		})
		return
	}
	for _, occ := range occurrences {
		occ.FolderID = master.FolderID
		occ.Attendees = master.Attendees
		occ.Organizer = master.Organizer
		occ.Flags = master.Flags
		p.keep(occ)
	}
}

func (p *PostProcessor) masterIntersectsRange(master *models.Event) bool {
	if p.opts.From == nil || p.opts.Until == nil {
		return true
	}
	data, ok := p.knownRecurrenceData[master.SeriesID]
	if !ok {
		data = models.RecurrenceDataFrom(master)
	}
	has, err := p.recur.HasOccurrenceBetween(data, master.DeleteExceptionDates, *p.opts.From, *p.opts.Until)
	if err != nil {
		p.logger.Warn("keeping series despite occurrence check failure",
			zap.String("event_id", master.ID), zap.Error(err))
		return true
	}
	return has
}

// outOfRange applies the exact range filter for non-series events: the
// half-open [start, end) must intersect the requested window.
func (p *PostProcessor) outOfRange(event *models.Event) bool {
	if !event.HasStart() {
		return false
	}
	if p.opts.From != nil && !event.EndDate.After(*p.opts.From) {
		// Zero-length events sitting exactly on the window start still
		// count as inside.
		if !(event.Duration() == 0 && event.StartDate.Equal(*p.opts.From)) {
			return true
		}
	}
	if p.opts.Until != nil && !event.StartDate.Before(*p.opts.Until) {
		return true
	}
	return false
}

func (p *PostProcessor) window() (time.Time, time.Time) {
	from := time.Time{}
	until := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if p.opts.From != nil {
		from = *p.opts.From
	}
	if p.opts.Until != nil {
		until = *p.opts.Until
	}
	return from, until
}

func (p *PostProcessor) keep(event models.Event) {
	p.events = append(p.events, event)
	if event.Timestamp.After(p.maxTimestamp) {
		p.maxTimestamp = event.Timestamp
	}
}
