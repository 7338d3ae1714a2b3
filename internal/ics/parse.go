// Package ics converts iCalendar payloads into calendar events. Parsing is
// lenient: a malformed VEVENT is skipped with a warning instead of failing
// the whole payload.
package ics

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// ParseResult holds the decoded events plus warnings for skipped components.
type ParseResult struct {
	Events   []models.Event
	Warnings []models.Warning
}

// Parse decodes an iCalendar payload into events ready for import. Recurrence
// masters keep their raw RRULE; expansion is the recurrence service's job.
func Parse(body []byte, logger *zap.Logger) (*ParseResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(body) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty calendar payload")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unparseable calendar payload")
	}

	result := &ParseResult{}
	for i, comp := range cal.Events() {
		event, perr := parseVEvent(comp)
		if perr != nil {
			logger.Warn("skipping malformed component", zap.Int("index", i), zap.Error(perr))
			result.Warnings = append(result.Warnings, models.Warning{
				Code:    "COMPONENT_SKIPPED",
				Message: perr.Error(),
			})
			continue
		}
		result.Events = append(result.Events, event)
	}
	return result, nil
}

func parseVEvent(ve *ical.VEvent) (models.Event, error) {
	var event models.Event

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		event.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		event.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		event.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		event.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			event.Sequence = n
		}
	}
	event.Class = parseClass(ve)

	start, err := ve.GetStartAt()
	if err != nil {
		return event, appErrors.Clone(appErrors.ErrValidation, "component has no usable DTSTART")
	}
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		// DTEND is optional; default to a zero-length occurrence.
		end = start
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	event.AllDay = isDateOnly(dtStart)
	if event.AllDay && !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	event.StartDate = start.UTC()
	event.EndDate = end.UTC()
	if !event.AllDay {
		event.TimeZone = tzidOf(dtStart)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		event.RecurrenceRule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyRdate) {
		event.RecurrenceDates = appendDates(event.RecurrenceDates, p)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		event.DeleteExceptionDates = appendDates(event.DeleteExceptionDates, p)
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		rid, perr := parsePropertyTime(p, p.Value)
		if perr != nil {
			return event, appErrors.Clone(appErrors.ErrValidation, "unparseable RECURRENCE-ID")
		}
		utc := rid.UTC()
		event.RecurrenceID = &utc
	}

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil && p.Value != "" {
		event.Organizer = &models.Organizer{
			URI: p.Value,
			CN:  firstParam(p, "CN"),
		}
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if p.Value == "" {
			continue
		}
		event.Attendees = append(event.Attendees, models.Attendee{
			URI:           p.Value,
			CN:            firstParam(p, "CN"),
			CUType:        parseCUType(firstParam(p, "CUTYPE")),
			Participation: parsePartStat(firstParam(p, "PARTSTAT")),
		})
	}

	return event, nil
}

func parseClass(ve *ical.VEvent) models.Classification {
	p := ve.GetProperty(ical.ComponentPropertyClass)
	if p == nil {
		return models.ClassificationPublic
	}
	switch strings.ToUpper(strings.TrimSpace(p.Value)) {
	case string(models.ClassificationPrivate):
		return models.ClassificationPrivate
	case string(models.ClassificationConfidential):
		return models.ClassificationConfidential
	default:
		return models.ClassificationPublic
	}
}

func parseCUType(v string) models.CalendarUserType {
	switch strings.ToUpper(v) {
	case string(models.CUTypeGroup):
		return models.CUTypeGroup
	case string(models.CUTypeResource):
		return models.CUTypeResource
	default:
		return models.CUTypeIndividual
	}
}

func parsePartStat(v string) models.ParticipationStatus {
	switch strings.ToUpper(v) {
	case string(models.ParticipationAccepted):
		return models.ParticipationAccepted
	case string(models.ParticipationDeclined):
		return models.ParticipationDeclined
	case string(models.ParticipationTentative):
		return models.ParticipationTentative
	default:
		return models.ParticipationNeedsAction
	}
}

func isDateOnly(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if vals, ok := p.ICalParameters["VALUE"]; ok && len(vals) > 0 && strings.EqualFold(vals[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzidOf(p *ical.IANAProperty) string {
	if p == nil {
		return ""
	}
	if vals, ok := p.ICalParameters["TZID"]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func firstParam(p *ical.IANAProperty, name string) string {
	if vals, ok := p.ICalParameters[name]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func appendDates(dates models.DateList, p *ical.IANAProperty) models.DateList {
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parsePropertyTime(p, part)
		if err != nil {
			continue
		}
		dates = dates.Add(t.UTC())
	}
	return dates
}

// parsePropertyTime decodes a DATE or DATE-TIME value honoring a TZID
// parameter when present.
func parsePropertyTime(p *ical.IANAProperty, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	loc := time.UTC
	if tzid := tzidOf(p); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
