package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// agendaColWidths apportions the 190mm A4 content width; summary and
// location get the space, the time columns stay narrow.
var agendaColWidths = []float64{24, 16, 16, 62, 48, 24}

// PDFExporter renders agendas as a one-table PDF document.
type PDFExporter struct{}

// NewPDFExporter builds a PDF agenda exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates the PDF bytes, titled when the agenda carries a title.
func (e *PDFExporter) Render(agenda Agenda) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if agenda.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, agenda.Title, "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetFont("Arial", "B", 10)
	for i, col := range agendaColumns {
		pdf.CellFormat(agendaColWidths[i], 8, col, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range agenda.Rows {
		for i, cell := range row.record() {
			pdf.CellFormat(agendaColWidths[i], 7, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render agenda pdf: %w", err)
	}
	return buf.Bytes(), nil
}
