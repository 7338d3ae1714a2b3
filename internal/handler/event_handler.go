package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronoshq/chronos-api/internal/service"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
	"github.com/chronoshq/chronos-api/pkg/response"
)

// EventHandler exposes the calendar event endpoints.
type EventHandler struct {
	events    *service.EventService
	split     *service.SplitService
	move      *service.MoveService
	organizer *service.OrganizerService
	metrics   *service.MetricsService
}

// NewEventHandler constructs handler.
func NewEventHandler(events *service.EventService, split *service.SplitService, move *service.MoveService, organizer *service.OrganizerService, metrics *service.MetricsService) *EventHandler {
	return &EventHandler{events: events, split: split, move: move, organizer: organizer, metrics: metrics}
}

// Get godoc
// @Summary Fetch one event in the caller's view
// @Tags Events
// @Produce json
// @Param id path string true "Event id"
// @Success 200 {object} response.Envelope
// @Router /events/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	event, err := h.events.Get(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// List godoc
// @Summary List a folder's events within a window
// @Tags Events
// @Produce json
// @Param folderId path string true "Folder id"
// @Param from query string false "Window start (RFC3339)"
// @Param until query string false "Window end (RFC3339, exclusive)"
// @Param updatedSince query string false "Incremental sync token (RFC3339)"
// @Param resolveOccurrences query bool false "Expand recurring series"
// @Param limit query int false "Maximum events"
// @Success 200 {object} response.Envelope
// @Router /folders/{folderId}/events [get]
func (h *EventHandler) List(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req := service.ListEventsRequest{
		FolderID:           c.Param("folderId"),
		Fields:             c.QueryArray("fields"),
		ResolveOccurrences: c.Query("resolveOccurrences") == "true",
	}
	var err error
	if req.From, err = optionalTimeQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if req.Until, err = optionalTimeQuery(c, "until"); err != nil {
		response.Error(c, err)
		return
	}
	if req.UpdatedSince, err = optionalTimeQuery(c, "updatedSince"); err != nil {
		response.Error(c, err)
		return
	}
	if raw := c.Query("limit"); raw != "" {
		if req.Limit, err = strconv.Atoi(raw); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be an integer"))
			return
		}
	}

	processed, err := h.events.List(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, processed.Events, processed.Warnings, map[string]interface{}{
		"timestamp": processed.Timestamp,
	})
}

// Tombstones godoc
// @Summary List deleted events for incremental sync
// @Tags Events
// @Produce json
// @Param folderId path string true "Folder id"
// @Param updatedSince query string true "Sync token (RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /folders/{folderId}/tombstones [get]
func (h *EventHandler) Tombstones(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	since, err := requiredTimeQuery(c, "updatedSince")
	if err != nil {
		response.Error(c, err)
		return
	}
	processed, err := h.events.ListTombstones(c.Request.Context(), session, c.Param("folderId"), since)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, processed.Events, processed.Warnings, map[string]interface{}{
		"timestamp": processed.Timestamp,
	})
}

// Create godoc
// @Summary Create an event
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body service.CreateEventRequest true "Event payload"
// @Success 201 {object} response.Envelope
// @Router /events [post]
func (h *EventHandler) Create(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.events.Create(c.Request.Context(), session, req)
	h.metrics.RecordEventOperation("create", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, result.Warnings)
}

// Update godoc
// @Summary Patch an event or one occurrence
// @Tags Events
// @Accept json
// @Produce json
// @Param id path string true "Event id"
// @Param payload body service.UpdateEventRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /events/{id} [patch]
func (h *EventHandler) Update(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.events.Update(c.Request.Context(), session, c.Param("id"), req)
	h.metrics.RecordEventOperation("update", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, result.Warnings)
}

// Delete godoc
// @Summary Delete an event, a series, or one occurrence
// @Tags Events
// @Produce json
// @Param id path string true "Event id"
// @Param clientTimestamp query string true "Last-read timestamp (RFC3339)"
// @Param recurrenceId query string false "Occurrence to delete (RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /events/{id} [delete]
func (h *EventHandler) Delete(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	clientTimestamp, err := requiredTimeQuery(c, "clientTimestamp")
	if err != nil {
		response.Error(c, err)
		return
	}
	var recurrenceID *time.Time
	if rid, err := optionalTimeQuery(c, "recurrenceId"); err != nil {
		response.Error(c, err)
		return
	} else if rid != nil {
		recurrenceID = rid
	}
	result, err := h.events.Delete(c.Request.Context(), session, c.Param("id"), clientTimestamp, recurrenceID)
	h.metrics.RecordEventOperation("delete", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, result.Warnings)
}

// Split godoc
// @Summary Split a recurring series at a point in time
// @Tags Events
// @Accept json
// @Produce json
// @Param id path string true "Series master id"
// @Param payload body service.SplitRequest true "Split payload"
// @Success 200 {object} response.Envelope
// @Router /events/{id}/split [post]
func (h *EventHandler) Split(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EventID = c.Param("id")
	result, err := h.split.Split(c.Request.Context(), session, req)
	h.metrics.RecordEventOperation("split", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, result.Warnings)
}

// Move godoc
// @Summary Move a single event into another folder
// @Tags Events
// @Accept json
// @Produce json
// @Param id path string true "Event id"
// @Param payload body service.MoveRequest true "Move payload"
// @Success 200 {object} response.Envelope
// @Router /events/{id}/move [post]
func (h *EventHandler) Move(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EventID = c.Param("id")
	result, err := h.move.Move(c.Request.Context(), session, req)
	h.metrics.RecordEventOperation("move", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, result.Warnings)
}

// ChangeOrganizer godoc
// @Summary Hand a group-scheduled event over to another attendee
// @Tags Events
// @Accept json
// @Produce json
// @Param id path string true "Event id"
// @Param payload body service.ChangeOrganizerRequest true "Handover payload"
// @Success 200 {object} response.Envelope
// @Router /events/{id}/organizer [post]
func (h *EventHandler) ChangeOrganizer(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ChangeOrganizerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EventID = c.Param("id")
	result, err := h.organizer.ChangeOrganizer(c.Request.Context(), session, req)
	h.metrics.RecordEventOperation("change_organizer", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, result.Warnings)
}

func optionalTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, name+" must be RFC3339")
	}
	return &parsed, nil
}

func requiredTimeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" is required")
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" must be RFC3339")
	}
	return parsed, nil
}
