package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/chronoshq/chronos-api/internal/service"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
	"github.com/chronoshq/chronos-api/pkg/response"
	filestore "github.com/chronoshq/chronos-api/pkg/storage"
)

// ExportHandler produces downloadable agenda files and serves them back
// through signed, expiring links.
type ExportHandler struct {
	exporter *service.ExportService
	files    *filestore.LocalStorage
	signer   *filestore.SignedURLSigner
}

// NewExportHandler constructs handler.
func NewExportHandler(exporter *service.ExportService, files *filestore.LocalStorage, signer *filestore.SignedURLSigner) *ExportHandler {
	return &ExportHandler{exporter: exporter, files: files, signer: signer}
}

// Agenda godoc
// @Summary Render a folder agenda into a downloadable file
// @Tags Export
// @Accept json
// @Produce json
// @Param payload body service.ExportAgendaRequest true "Export payload"
// @Success 201 {object} response.Envelope
// @Router /export/agenda [post]
func (h *ExportHandler) Agenda(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ExportAgendaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.exporter.ExportAgenda(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a previously exported file
// @Tags Export
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /downloads [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	_, relPath, _, err := h.signer.Parse(token, false)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token"))
		return
	}
	file, err := h.files.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exported file not found"))
		return
	}
	file.Close()
	c.FileAttachment(h.files.Path(relPath), filepath.Base(relPath))
}
