package service

import (
	"strings"
	"time"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// isClassifiedFor reports whether the session user may read the full event
// data despite a non-public classification. Creators, organizers and
// attendees always see their own events in full.
func isClassifiedFor(event *models.Event, userID string) bool {
	if event.Class == "" || event.Class == models.ClassificationPublic {
		return true
	}
	if event.CreatedBy == userID {
		return true
	}
	if event.Organizer != nil && event.Organizer.EntityID == userID {
		return true
	}
	for i := range event.Attendees {
		if event.Attendees[i].EntityID == userID {
			return true
		}
	}
	return false
}

var privateSummaries = map[string]string{
	"de": "Privat",
	"fr": "Privé",
	"es": "Privado",
	"it": "Privato",
	"nl": "Privé",
}

func privateSummary(locale string) string {
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	if s, ok := privateSummaries[strings.ToLower(locale)]; ok {
		return s
	}
	return "Private"
}

// anonymizedFields is the allow-list surviving anonymization; everything
// else is blanked.
func anonymize(event *models.Event, locale string) *models.Event {
	out := &models.Event{
		ID:           event.ID,
		SeriesID:     event.SeriesID,
		UID:          event.UID,
		FolderID:     event.FolderID,
		Class:        event.Class,
		StartDate:    event.StartDate,
		EndDate:      event.EndDate,
		TimeZone:     event.TimeZone,
		AllDay:       event.AllDay,
		RecurrenceID: event.RecurrenceID,
		Sequence:     event.Sequence,
		Created:      event.Created,
		Timestamp:    event.Timestamp,
		Summary:      privateSummary(locale),
	}
	return out
}

// requireUpToDateTimestamp fails fast when the client acted on a stale copy
// of the event. Callers reload and retry; the core never does.
func requireUpToDateTimestamp(stored *models.Event, clientTimestamp time.Time) error {
	if clientTimestamp.IsZero() {
		return nil
	}
	if stored.Timestamp.After(clientTimestamp) {
		return appErrors.Clone(appErrors.ErrConcurrentModification, "the event was modified after the client last read it")
	}
	return nil
}

// isReschedule reports whether the update changes when the event takes
// place, which forces a sequence bump and fresh scheduling messages.
func isReschedule(original, updated *models.Event) bool {
	if !original.StartDate.Equal(updated.StartDate) || !original.EndDate.Equal(updated.EndDate) {
		return true
	}
	if original.RecurrenceRule != updated.RecurrenceRule {
		return true
	}
	if original.AllDay != updated.AllDay || original.TimeZone != updated.TimeZone {
		return true
	}
	if original.RecurrenceDates.String() != updated.RecurrenceDates.String() {
		return true
	}
	if original.DeleteExceptionDates.String() != updated.DeleteExceptionDates.String() {
		return true
	}
	return false
}

// isReplyOnly reports whether the update amounts to the acting attendee
// answering the invitation, with no other field touched.
func isReplyOnly(original, updated *models.Event, userID string) bool {
	if isReschedule(original, updated) {
		return false
	}
	if original.Summary != updated.Summary || original.Description != updated.Description ||
		original.Location != updated.Location || original.Class != updated.Class {
		return false
	}
	if len(original.Attendees) != len(updated.Attendees) {
		return false
	}
	changed := false
	for i := range updated.Attendees {
		u := &updated.Attendees[i]
		o := models.FindAttendee(original.Attendees, models.CalendarUser{EntityID: u.EntityID, URI: u.URI})
		if o == nil {
			return false
		}
		if u.Participation != o.Participation || u.Comment != o.Comment {
			if u.EntityID != userID {
				return false
			}
			changed = true
		}
		if u.Hidden != o.Hidden || u.FolderID != o.FolderID {
			if u.EntityID != userID {
				return false
			}
		}
	}
	return changed
}

// touch advances the consistency fields after any mutation; reschedules
// additionally bump the sequence so attendees can spot superseded invites.
func touch(event *models.Event, userID string, reschedule bool) {
	event.Timestamp = time.Now().UTC()
	event.ModifiedBy = userID
	if reschedule {
		event.Sequence++
	}
}

// sameRules samples offsets across a two year window; two locations that
// agree at every probe are treated as carrying the same rules.
func sameRules(a, b *time.Location) bool {
	if a == b {
		return true
	}
	probe := time.Date(time.Now().UTC().Year(), 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 48; i++ {
		_, offA := probe.In(a).Zone()
		_, offB := probe.In(b).Zone()
		if offA != offB {
			return false
		}
		probe = probe.AddDate(0, 0, 15)
	}
	return true
}

// legacyTimeZones maps localized and Windows-style zone names some clients
// still send to a canonical IANA id carrying the same rules.
var legacyTimeZones = map[string]string{
	"Mitteleuropäische Zeit":       "Europe/Berlin",
	"Mitteleuropäische Sommerzeit": "Europe/Berlin",
	"W. Europe Standard Time":      "Europe/Berlin",
	"Central Europe Standard Time": "Europe/Budapest",
	"GMT Standard Time":            "Europe/London",
	"Eastern Standard Time":        "America/New_York",
	"Pacific Standard Time":        "America/Los_Angeles",
}

// selectTimeZone resolves the timezone an event should carry: the client
// supplied id when loadable; for a documented legacy alias, the fallback
// whose rules match the aliased zone (or the canonical id when none does);
// otherwise the first loadable fallback, otherwise UTC.
func selectTimeZone(tzid string, fallbacks ...string) string {
	if tzid == "" {
		if len(fallbacks) > 0 {
			return fallbacks[len(fallbacks)-1]
		}
		return "UTC"
	}
	if _, err := time.LoadLocation(tzid); err == nil {
		return tzid
	}
	// A known alias gives us rules to compare against, so a matching
	// fallback keeps the user's preferred id.
	if canonical, ok := legacyTimeZones[tzid]; ok {
		if ref, err := time.LoadLocation(canonical); err == nil {
			if id, ok := matchTimeZone(ref, fallbacks); ok {
				return id
			}
			return canonical
		}
	}
	for _, fb := range fallbacks {
		if fb == "" {
			continue
		}
		if _, err := time.LoadLocation(fb); err == nil {
			return fb
		}
	}
	return "UTC"
}

// matchTimeZone finds, among the candidates, an id whose rules match the
// reference location.
func matchTimeZone(ref *time.Location, candidates []string) (string, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		loc, err := time.LoadLocation(c)
		if err != nil {
			continue
		}
		if sameRules(ref, loc) {
			return c, true
		}
	}
	return "", false
}
