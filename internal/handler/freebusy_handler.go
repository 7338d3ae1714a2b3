package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chronoshq/chronos-api/internal/service"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
	"github.com/chronoshq/chronos-api/pkg/response"
)

// FreeBusyHandler exposes the availability query endpoint.
type FreeBusyHandler struct {
	freebusy *service.FreeBusyService
}

// NewFreeBusyHandler constructs handler.
func NewFreeBusyHandler(freebusy *service.FreeBusyService) *FreeBusyHandler {
	return &FreeBusyHandler{freebusy: freebusy}
}

// Query godoc
// @Summary Query busy intervals per attendee
// @Tags FreeBusy
// @Accept json
// @Produce json
// @Param payload body service.FreeBusyRequest true "Query payload"
// @Success 200 {object} response.Envelope
// @Router /freebusy [post]
func (h *FreeBusyHandler) Query(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.FreeBusyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entries, err := h.freebusy.Query(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
