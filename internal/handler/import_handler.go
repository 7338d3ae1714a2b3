package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/ics"
	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/internal/service"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
	"github.com/chronoshq/chronos-api/pkg/response"
)

// ImportHandler ingests iCalendar payloads into a folder.
type ImportHandler struct {
	importer        *service.ImportService
	metrics         *service.MetricsService
	defaultStrategy service.UIDConflictStrategy
	logger          *zap.Logger
}

// NewImportHandler constructs handler.
func NewImportHandler(importer *service.ImportService, metrics *service.MetricsService, defaultStrategy service.UIDConflictStrategy, logger *zap.Logger) *ImportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportHandler{importer: importer, metrics: metrics, defaultStrategy: defaultStrategy, logger: logger}
}

// Import godoc
// @Summary Import an iCalendar payload into a folder
// @Tags Import
// @Accept text/calendar
// @Produce json
// @Param folderId path string true "Target folder id"
// @Param strategy query string false "UID conflict strategy (THROW, REASSIGN, UPDATE, UPDATE_OR_REASSIGN)"
// @Success 200 {object} response.Envelope
// @Router /folders/{folderId}/import [post]
func (h *ImportHandler) Import(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	strategy := h.defaultStrategy
	if raw := c.Query("strategy"); raw != "" {
		parsed, err := service.ParseUIDConflictStrategy(raw)
		if err != nil {
			response.Error(c, err)
			return
		}
		strategy = parsed
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable request body"))
		return
	}
	parsed, err := ics.Parse(body, h.logger)
	if err != nil {
		response.Error(c, err)
		return
	}

	results, err := h.importer.Import(c.Request.Context(), session, c.Param("folderId"), parsed.Events, strategy)
	if err != nil {
		response.Error(c, err)
		return
	}

	imported, failed := 0, len(parsed.Warnings)
	for _, r := range results {
		if r.Error != nil {
			failed++
		} else {
			imported++
		}
	}
	h.metrics.RecordImportedComponents(imported, failed)

	response.JSON(c, http.StatusOK, importResponse(results), parsed.Warnings)
}

// importResponse flattens per-component outcomes into a JSON friendly shape;
// errors become codes instead of opaque Go errors.
func importResponse(results []models.ImportResult) []gin.H {
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		item := gin.H{"index": r.Index}
		if r.EventID != "" {
			item["event_id"] = r.EventID
		}
		if r.FolderID != "" {
			item["folder_id"] = r.FolderID
		}
		if r.UID != "" {
			item["uid"] = r.UID
		}
		if len(r.Warnings) > 0 {
			item["warnings"] = r.Warnings
		}
		if r.Error != nil {
			item["error"] = appErrors.FromError(r.Error)
		}
		out = append(out, item)
	}
	return out
}
