// Package recurrence implements occurrence enumeration for recurring events
// on top of RFC 5545 recurrence rules.
package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

const defaultMaxInstances = 1000

// Service enumerates occurrences of recurrence data. It is stateless and
// safe for concurrent use.
type Service struct {
	maxInstances int
}

// NewService builds the recurrence service with a per-expansion instance cap.
func NewService(maxInstances int) *Service {
	if maxInstances <= 0 {
		maxInstances = defaultMaxInstances
	}
	return &Service{maxInstances: maxInstances}
}

// MaxInstances exposes the self-protection cap.
func (s *Service) MaxInstances() int {
	return s.maxInstances
}

func location(tzid string) *time.Location {
	if tzid == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return time.UTC
	}
	return loc
}

// newSet assembles the rrule set for the recurrence data, excluding exDates.
func (s *Service) newSet(data models.RecurrenceData, exDates models.DateList) (*rrule.Set, error) {
	loc := location(data.TimeZone)
	start := data.Start.In(loc)

	set := &rrule.Set{}

	if data.Rule != "" {
		opt, err := rrule.StrToROption(data.Rule)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidRRule.Code, appErrors.ErrInvalidRRule.Status, "cannot parse recurrence rule")
		}
		opt.Dtstart = start
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidRRule.Code, appErrors.ErrInvalidRRule.Status, "cannot build recurrence rule")
		}
		set.RRule(rule)
	} else {
		// RDATE-only series still include their own start.
		set.RDate(start)
	}

	for _, d := range data.RecurrenceDates {
		set.RDate(d.In(loc))
	}
	for _, d := range exDates {
		set.ExDate(d.In(loc))
	}

	return set, nil
}

// Iterator lazily walks recurrence identifiers in order. Position counts the
// absolute, 1-based index within the whole series, independent of any lower
// bound the iterator was fast-forwarded past.
type Iterator struct {
	next  func() (time.Time, bool)
	pos   int
	until *time.Time
	err   error
}

// Next yields the following recurrence id in UTC, or false when exhausted.
func (it *Iterator) Next() (time.Time, bool) {
	t, ok := it.next()
	if !ok {
		return time.Time{}, false
	}
	if it.until != nil && !t.Before(*it.until) {
		return time.Time{}, false
	}
	it.pos++
	return t.UTC(), true
}

// Position returns the series-absolute index of the last yielded id.
func (it *Iterator) Position() int {
	return it.pos
}

// Err reports the expansion error that ended iteration, nil on plain
// exhaustion. Must be checked whenever Next returned false.
func (it *Iterator) Err() error {
	return it.err
}

// Iterate returns an iterator over recurrence ids in [from, until). Either
// bound may be nil. Ids skipped while fast-forwarding to from still advance
// the position counter.
func (s *Service) Iterate(data models.RecurrenceData, exDates models.DateList, from, until *time.Time) (*Iterator, error) {
	set, err := s.newSet(data, exDates)
	if err != nil {
		return nil, err
	}

	it := &Iterator{next: set.Iterator(), until: until}
	if from != nil {
		lower := *from
		inner := it.next
		skipped := 0
		it.next = func() (time.Time, bool) {
			for {
				t, ok := inner()
				if !ok {
					return time.Time{}, false
				}
				if t.Before(lower) {
					skipped++
					if skipped > s.maxInstances {
						it.err = appErrors.Clone(appErrors.ErrTooManyOccurrences, "fast-forwarding past the instance cap")
						return time.Time{}, false
					}
					it.pos++
					continue
				}
				return t, true
			}
		}
	}
	return it, nil
}

// NextOccurrence resolves the first recurrence id on or after from, together
// with its series-absolute 1-based position. Returns nil when the series has
// no occurrence on or after from.
func (s *Service) NextOccurrence(data models.RecurrenceData, exDates models.DateList, from time.Time) (*time.Time, int, error) {
	it, err := s.Iterate(data, exDates, &from, nil)
	if err != nil {
		return nil, 0, err
	}
	t, ok := it.Next()
	if !ok {
		if err := it.Err(); err != nil {
			return nil, 0, err
		}
		return nil, 0, nil
	}
	return &t, it.Position(), nil
}

// HasOccurrenceBetween reports whether any recurrence id falls in
// [from, until).
func (s *Service) HasOccurrenceBetween(data models.RecurrenceData, exDates models.DateList, from, until time.Time) (bool, error) {
	it, err := s.Iterate(data, exDates, &from, &until)
	if err != nil {
		return false, err
	}
	_, ok := it.Next()
	if !ok && it.Err() != nil {
		return false, it.Err()
	}
	return ok, nil
}

// InstancesBetween materialises the occurrences of a series master that
// intersect the half-open window [from, until). Iteration is seeded one
// event-duration before the window so an occurrence starting earlier but
// still running inside the window is included. Delete- and change-exception
// dates are excluded; stored change-exceptions replace the latter.
func (s *Service) InstancesBetween(master *models.Event, from, until time.Time) ([]models.Event, error) {
	data := models.RecurrenceDataFrom(master)
	exDates := append(models.DateList(nil), master.DeleteExceptionDates...)
	for _, d := range master.ChangeExceptionDates {
		exDates = exDates.Add(d)
	}

	duration := master.Duration()
	seed := from.Add(-duration)
	it, err := s.Iterate(data, exDates, &seed, &until)
	if err != nil {
		return nil, err
	}

	var out []models.Event
	for {
		rid, ok := it.Next()
		if !ok {
			if err := it.Err(); err != nil {
				return nil, err
			}
			break
		}
		occEnd := rid.Add(duration)
		// Exact in-range test: the seeded lower bound is coarser than the
		// requested window.
		if !rid.Before(until) || !occEnd.After(from) {
			continue
		}
		if len(out) >= s.maxInstances {
			return nil, appErrors.Clone(appErrors.ErrTooManyOccurrences, "")
		}
		out = append(out, *newOccurrence(master, rid, occEnd))
	}
	return out, nil
}

// newOccurrence projects the master onto a single concrete occurrence.
func newOccurrence(master *models.Event, rid, end time.Time) *models.Event {
	occ := master.Clone()
	r := rid
	occ.RecurrenceID = &r
	occ.StartDate = rid
	occ.EndDate = end
	occ.RecurrenceRule = ""
	occ.RecurrenceDates = nil
	occ.DeleteExceptionDates = nil
	occ.ChangeExceptionDates = nil
	return occ
}

// IsFirstOccurrence reports whether rid is the very first occurrence of the
// series described by data.
func (s *Service) IsFirstOccurrence(data models.RecurrenceData, rid time.Time) (bool, error) {
	it, err := s.Iterate(data, nil, nil, nil)
	if err != nil {
		return false, err
	}
	first, ok := it.Next()
	return ok && first.Equal(rid.UTC()), nil
}

// IsLastOccurrence reports whether rid is the final occurrence. An unbounded
// rule has no final occurrence.
func (s *Service) IsLastOccurrence(data models.RecurrenceData, rid time.Time) (bool, error) {
	if !RuleIsBounded(data.Rule) {
		return false, nil
	}
	it, err := s.Iterate(data, nil, nil, nil)
	if err != nil {
		return false, err
	}
	var last time.Time
	seen := false
	for i := 0; i <= s.maxInstances; i++ {
		t, ok := it.Next()
		if !ok {
			break
		}
		last = t
		seen = true
	}
	return seen && last.Equal(rid.UTC()), nil
}

// RuleIsBounded reports whether the rule terminates via COUNT or UNTIL. An
// empty rule (RDATE-only series) is bounded.
func RuleIsBounded(rule string) bool {
	if rule == "" {
		return true
	}
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return false
	}
	return opt.Count > 0 || !opt.Until.IsZero()
}

// RuleCount extracts the COUNT of the rule, zero when absent.
func RuleCount(rule string) int {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return 0
	}
	return opt.Count
}

// UntilBefore rewrites the rule to end one unit before the split point: a
// day for all-day events, a second otherwise. Any COUNT is removed in favour
// of the fixed UNTIL.
func UntilBefore(rule string, splitPoint time.Time, allDay bool) (string, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInvalidRRule.Code, appErrors.ErrInvalidRRule.Status, "cannot parse recurrence rule")
	}
	unit := time.Second
	if allDay {
		unit = 24 * time.Hour
	}
	opt.Until = splitPoint.Add(-unit).UTC()
	opt.Count = 0
	opt.Dtstart = time.Time{}
	return opt.RRuleString(), nil
}

// DecrementCount reduces the rule's COUNT by the number of occurrences
// consumed by a detached series portion. Rules without COUNT pass through
// unchanged.
func DecrementCount(rule string, consumed int) (string, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInvalidRRule.Code, appErrors.ErrInvalidRRule.Status, "cannot parse recurrence rule")
	}
	if opt.Count <= 0 {
		return rule, nil
	}
	opt.Count -= consumed
	if opt.Count < 0 {
		opt.Count = 0
	}
	opt.Dtstart = time.Time{}
	return opt.RRuleString(), nil
}
