// Package export renders resolved calendar agendas into downloadable files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// agendaColumns fixes the column order of every rendered agenda.
var agendaColumns = []string{"Date", "Start", "End", "Summary", "Location", "Status"}

// AgendaRow is one occurrence line of a rendered agenda.
type AgendaRow struct {
	Date     string
	Start    string
	End      string
	Summary  string
	Location string
	Status   string
}

func (r AgendaRow) record() []string {
	return []string{r.Date, r.Start, r.End, r.Summary, r.Location, r.Status}
}

// Agenda is the flattened, display-ordered occurrence list of one folder
// window, ready for rendering.
type Agenda struct {
	Title string
	Rows  []AgendaRow
}

// CSVExporter renders agendas as CSV, one occurrence per line. The title is
// carried by the download file name, not the payload.
type CSVExporter struct{}

// NewCSVExporter builds a CSV agenda exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces the CSV bytes for the agenda.
func (e *CSVExporter) Render(agenda Agenda) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(agendaColumns); err != nil {
		return nil, fmt.Errorf("write agenda header: %w", err)
	}
	for _, row := range agenda.Rows {
		if err := w.Write(row.record()); err != nil {
			return nil, fmt.Errorf("write agenda row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush agenda csv: %w", err)
	}
	return buf.Bytes(), nil
}
