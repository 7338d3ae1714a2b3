// Package interval provides pure helpers over half-open [Start, End) time
// intervals, shared by the free/busy performer and the series split logic.
package interval

import (
	"sort"
	"time"

	"github.com/chronoshq/chronos-api/internal/models"
)

// Period is a half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// New builds a period; callers are expected to pass Start <= End.
func New(start, end time.Time) Period {
	return Period{Start: start, End: end}
}

// IsEmpty reports whether the period covers no time at all.
func (p Period) IsEmpty() bool {
	return !p.Start.Before(p.End)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ContainsPeriod reports whether o lies entirely inside p.
func (p Period) ContainsPeriod(o Period) bool {
	return !o.Start.Before(p.Start) && !o.End.After(p.End)
}

// Overlaps reports whether the two periods share any instant.
func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// Clip trims the period to the given window, returning an empty period when
// they do not intersect.
func (p Period) Clip(window Period) Period {
	out := p
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	if out.IsEmpty() {
		return Period{}
	}
	return out
}

// SplitAt cuts the period at t. The second half is empty when t is outside.
func (p Period) SplitAt(t time.Time) (Period, Period) {
	if !p.Contains(t) || t.Equal(p.Start) {
		return p, Period{}
	}
	return Period{Start: p.Start, End: t}, Period{Start: t, End: p.End}
}

// Relation names how an interval relates to a reference interval.
type Relation int

const (
	// RelationNone means no overlap at all.
	RelationNone Relation = iota
	// RelationContained means the interval lies entirely inside the
	// reference.
	RelationContained
	// RelationPrecedesIntersecting means the interval starts before the
	// reference and ends inside it.
	RelationPrecedesIntersecting
	// RelationSucceedsIntersecting means the interval starts inside the
	// reference and ends after it.
	RelationSucceedsIntersecting
	// RelationCovers means the interval fully encloses the reference.
	RelationCovers
)

// Relate classifies p against the reference interval ref.
func Relate(p, ref Period) Relation {
	if !p.Overlaps(ref) {
		return RelationNone
	}
	startsBefore := p.Start.Before(ref.Start)
	endsAfter := p.End.After(ref.End)
	switch {
	case startsBefore && endsAfter:
		return RelationCovers
	case startsBefore:
		return RelationPrecedesIntersecting
	case endsAfter:
		return RelationSucceedsIntersecting
	default:
		return RelationContained
	}
}

// SortFreeBusy orders intervals chronologically by start, then end, then by
// descending type ranking so the stronger classification sorts first.
func SortFreeBusy(times []models.FreeBusyTime) {
	sort.SliceStable(times, func(i, j int) bool {
		if !times[i].Start.Equal(times[j].Start) {
			return times[i].Start.Before(times[j].Start)
		}
		if !times[i].End.Equal(times[j].End) {
			return times[i].End.Before(times[j].End)
		}
		return times[i].Type.Ranking() > times[j].Type.Ranking()
	})
}

// MergeFreeBusy collapses adjacent or overlapping intervals of the same type
// into one. Input order does not matter; output is sorted.
func MergeFreeBusy(times []models.FreeBusyTime) []models.FreeBusyTime {
	if len(times) < 2 {
		return times
	}
	sorted := append([]models.FreeBusyTime(nil), times...)
	SortFreeBusy(sorted)

	out := make([]models.FreeBusyTime, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Type == current.Type && !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}

// ClipFreeBusy adjusts every interval to the window and drops the ones that
// fall outside entirely.
func ClipFreeBusy(times []models.FreeBusyTime, from, until time.Time) []models.FreeBusyTime {
	window := Period{Start: from, End: until}
	out := make([]models.FreeBusyTime, 0, len(times))
	for _, t := range times {
		clipped := Period{Start: t.Start, End: t.End}.Clip(window)
		if clipped.IsEmpty() {
			continue
		}
		t.Start = clipped.Start
		t.End = clipped.End
		out = append(out, t)
	}
	return out
}
