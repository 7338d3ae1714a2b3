package models

import "time"

// RecurrenceData is the minimal triple needed to deterministically enumerate
// the occurrence identifiers of a series. It is derived from a master event,
// never stored on its own, and memoised per series id within one request.
type RecurrenceData struct {
	Rule            string
	Start           time.Time
	TimeZone        string
	AllDay          bool
	Duration        time.Duration
	RecurrenceDates DateList
}

// RecurrenceDataFrom extracts the enumeration triple from a series master.
func RecurrenceDataFrom(master *Event) RecurrenceData {
	return RecurrenceData{
		Rule:            master.RecurrenceRule,
		Start:           master.StartDate,
		TimeZone:        master.TimeZone,
		AllDay:          master.AllDay,
		Duration:        master.Duration(),
		RecurrenceDates: append(DateList(nil), master.RecurrenceDates...),
	}
}
