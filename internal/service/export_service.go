package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/pkg/export"
	filestore "github.com/chronoshq/chronos-api/pkg/storage"
)

// AgendaFormat selects the rendered agenda file type.
type AgendaFormat string

const (
	AgendaFormatCSV AgendaFormat = "csv"
	AgendaFormatPDF AgendaFormat = "pdf"
)

type agendaLister interface {
	List(ctx context.Context, session models.CalendarSession, req ListEventsRequest) (*ProcessedEvents, error)
}

type agendaFileStorage interface {
	Save(filename string, data []byte) (string, error)
}

type agendaRenderer interface {
	Render(agenda export.Agenda) ([]byte, error)
}

// ExportResult points at the rendered agenda file.
type ExportResult struct {
	RelativePath string       `json:"relative_path"`
	Token        string       `json:"token"`
	Format       AgendaFormat `json:"format"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Events       int          `json:"events"`
}

// ExportService renders folder agendas into downloadable CSV or PDF files.
type ExportService struct {
	events  agendaLister
	storage agendaFileStorage
	signer  *filestore.SignedURLSigner
	csv     agendaRenderer
	pdf     agendaRenderer
	logger  *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(events agendaLister, storage agendaFileStorage, signer *filestore.SignedURLSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		events:  events,
		storage: storage,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// ExportAgendaRequest describes one agenda export.
type ExportAgendaRequest struct {
	FolderID string       `json:"folder_id" validate:"required"`
	From     time.Time    `json:"from" validate:"required"`
	Until    time.Time    `json:"until" validate:"required"`
	Format   AgendaFormat `json:"format"`
}

// ExportAgenda lists the folder's occurrences in the window through the
// regular view pipeline and renders them into a signed downloadable file.
func (s *ExportService) ExportAgenda(ctx context.Context, session models.CalendarSession, req ExportAgendaRequest) (*ExportResult, error) {
	if req.Format == "" {
		req.Format = AgendaFormatCSV
	}
	listed, err := s.events.List(ctx, session, ListEventsRequest{
		FolderID:           req.FolderID,
		From:               &req.From,
		Until:              &req.Until,
		ResolveOccurrences: true,
	})
	if err != nil {
		return nil, err
	}

	agenda := buildAgenda(listed.Events)
	var rendered []byte
	switch req.Format {
	case AgendaFormatPDF:
		agenda.Title = fmt.Sprintf("Agenda %s to %s", req.From.Format("2006-01-02"), req.Until.Format("2006-01-02"))
		rendered, err = s.pdf.Render(agenda)
	default:
		rendered, err = s.csv.Render(agenda)
	}
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	relPath := fmt.Sprintf("agenda/%s/%s.%s", session.UserID, jobID, req.Format)
	if _, err := s.storage.Save(relPath, rendered); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("agenda exported",
		zap.String("folder_id", req.FolderID),
		zap.String("format", string(req.Format)),
		zap.Int("events", len(listed.Events)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		Format:       req.Format,
		ExpiresAt:    expiresAt,
		Events:       len(listed.Events),
	}, nil
}

func buildAgenda(events []models.Event) export.Agenda {
	rows := make([]export.AgendaRow, 0, len(events))
	for i := range events {
		event := &events[i]
		status := ""
		if event.HasFlag(models.FlagDeclined) {
			status = "declined"
		} else if event.HasFlag(models.FlagTentative) {
			status = "tentative"
		}
		row := export.AgendaRow{
			Date:     event.StartDate.Format("2006-01-02"),
			Start:    event.StartDate.Format("15:04"),
			End:      event.EndDate.Format("15:04"),
			Summary:  event.Summary,
			Location: event.Location,
			Status:   status,
		}
		if event.AllDay {
			row.Start, row.End = "all day", ""
		}
		rows = append(rows, row)
	}
	return export.Agenda{Rows: rows}
}
