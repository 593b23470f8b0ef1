package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h gin.HandlerFunc) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h(c)
	body := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestOKMergesSuccessFlag(t *testing.T) {
	code, body := serve(t, func(c *gin.Context) { OK(c, gin.H{"success": false, "updated": 3}) })
	if code != http.StatusOK || body["success"] != true || body["updated"].(float64) != 3 {
		t.Fatalf("unexpected response %d %v", code, body)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{apperr.Validation("text is empty"), http.StatusBadRequest, ""},
		{apperr.NotFound("chat"), http.StatusNotFound, ""},
		{apperr.ErrTokenRevoked, http.StatusUnauthorized, "revoked"},
		{apperr.ErrMissingCredential, http.StatusUnauthorized, "missing"},
		{apperr.Transient("find", errors.New("conn reset")), http.StatusServiceUnavailable, ""},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		code, body := serve(t, func(c *gin.Context) { Error(c, tc.err) })
		if code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, code)
		}
		if body["success"] != false {
			t.Fatalf("%v: expected success=false, got %v", tc.err, body)
		}
		if tc.reason != "" && body["reason"] != tc.reason {
			t.Fatalf("%v: expected reason %q, got %v", tc.err, tc.reason, body["reason"])
		}
	}
}

func TestInternalErrorHiddenInProduction(t *testing.T) {
	SetProduction(true)
	defer SetProduction(false)
	_, body := serve(t, func(c *gin.Context) { Error(c, errors.New("dsn user:secret@tcp")) })
	if body["message"] != "internal server error" {
		t.Fatalf("internal detail leaked: %v", body["message"])
	}
}
