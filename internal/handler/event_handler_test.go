package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos-api/internal/middleware"
	"github.com/chronoshq/chronos-api/internal/models"
)

func testContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withSession(c *gin.Context, userID string) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, TimeZone: "Europe/Berlin"})
}

func TestEventHandlerRejectsMissingSession(t *testing.T) {
	handler := NewEventHandler(nil, nil, nil, nil, nil)
	c, w := testContext(t, http.MethodGet, "/events/ev-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}

	handler.Get(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventHandlerCreateRejectsInvalidBody(t *testing.T) {
	handler := NewEventHandler(nil, nil, nil, nil, nil)
	c, w := testContext(t, http.MethodPost, "/events", []byte(`not json`))
	withSession(c, "alice")

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandlerDeleteRequiresClientTimestamp(t *testing.T) {
	handler := NewEventHandler(nil, nil, nil, nil, nil)
	c, w := testContext(t, http.MethodDelete, "/events/ev-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}
	withSession(c, "alice")

	handler.Delete(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandlerListRejectsMalformedWindow(t *testing.T) {
	handler := NewEventHandler(nil, nil, nil, nil, nil)
	c, w := testContext(t, http.MethodGet, "/folders/cal-1/events?from=yesterday", nil)
	c.Params = gin.Params{{Key: "folderId", Value: "cal-1"}}
	withSession(c, "alice")

	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
