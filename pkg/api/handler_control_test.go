package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Control handlers only validate here; the approval-gate semantics live in
// the control manager's own tests.
func TestRequestControlHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		body   ControlRequestBody
		errMsg string
	}{
		{
			name:   "unknown action",
			body:   ControlRequestBody{Action: "EXPLODE_MISSION", TargetID: "m-1"},
			errMsg: "invalid action",
		},
		{
			name:   "missing target",
			body:   ControlRequestBody{Action: "PAUSE_MISSION"},
			errMsg: "target_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.body)
			require.NoError(t, err)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/controls/request", bytes.NewReader(data))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handlerErr := s.requestControlHandler(c)
			require.Error(t, handlerErr)
			he, ok := handlerErr.(*echo.HTTPError)
			require.True(t, ok, "expected echo.HTTPError")
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, tt.errMsg)
		})
	}
}

func TestGetControlHandler_MissingID(t *testing.T) {
	s := &Server{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/controls/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.getControlHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestListControlsHandler_InvalidStatus(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/v1/controls?status=MAYBE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
