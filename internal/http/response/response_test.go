package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
	"github.com/sandeepkv93/streaming-identity-core/internal/service"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestFailTranslatesErrors(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{fmt.Errorf("create role: %w", repository.ErrUniqueViolation), http.StatusConflict, "ALREADY_EXISTS", false},
		{service.ErrCacheUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", true},
		{service.ErrNotFound, http.StatusNotFound, "NOT_FOUND", false},
		{errors.New("secret detail"), http.StatusInternalServerError, "INTERNAL", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "req-1")
		rr := httptest.NewRecorder()
		Fail(rr, req, tc.err)

		if rr.Code != tc.status {
			t.Fatalf("%v: status %d want %d", tc.err, rr.Code, tc.status)
		}
		body := decode(t, rr)
		if body.Success || body.Error == nil || body.Error.Code != tc.code || body.Error.Retryable != tc.retryable {
			t.Fatalf("%v: unexpected envelope %+v", tc.err, body)
		}
		if body.Meta.RequestID != "req-1" {
			t.Fatalf("request id not echoed: %q", body.Meta.RequestID)
		}
		if (rr.Header().Get("Retry-After") != "") != tc.retryable {
			t.Fatalf("%v: Retry-After header %q", tc.err, rr.Header().Get("Retry-After"))
		}
	}
}

func TestJSONWrapsData(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]string{"status": "ok"})
	body := decode(t, rr)
	if !body.Success || body.Meta.RequestID != "req-unknown" {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type %q", rr.Header().Get("Content-Type"))
	}
}
