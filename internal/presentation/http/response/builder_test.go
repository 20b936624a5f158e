package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestBuilder_Success(t *testing.T) {
	c, rec := newContext()
	if err := New(c).WithStatus(http.StatusCreated).WithData(map[string]int{"id": 1}).WithMeta("source", "cache").WithMeta("", 1).Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	env := decode(t, rec)
	if !env.Success || env.Error != nil {
		t.Errorf("envelope = %+v, want success without error", env)
	}
	if len(env.Meta) != 1 || env.Meta["source"] != "cache" {
		t.Errorf("meta = %v", env.Meta)
	}
}

func TestBuilder_WithPage(t *testing.T) {
	c, rec := newContext()
	if err := New(c).WithData([]int{1, 2}).WithPage(7, 2, 4).Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	env := decode(t, rec)
	if env.Meta["total"] != float64(7) || env.Meta["limit"] != float64(2) || env.Meta["offset"] != float64(4) {
		t.Errorf("meta = %v", env.Meta)
	}
}

func TestBuilder_EchoesRequestID(t *testing.T) {
	c, rec := newContext()
	c.Response().Header().Set(echo.HeaderXRequestID, "req-42")
	if err := New(c).WithError(errorbank.NotFound("order not found")).Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if env := decode(t, rec); env.RequestID != "req-42" {
		t.Errorf("request_id = %q, want req-42", env.RequestID)
	}
}

func TestBuilder_Error(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantKind      string
		wantCode      string
		wantRetryable bool
	}{
		{"app error", errorbank.Conflict("taken", errorbank.WithCode("driver_unavailable")), http.StatusConflict, "conflict", "driver_unavailable", false},
		{"code defaults to kind", errorbank.NotFound("missing"), http.StatusNotFound, "not_found", "not_found", false},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal", "internal", false},
		{"transient store failure", errorbank.Unavailable("store down", errorbank.WithCode("persistence_failure")), http.StatusServiceUnavailable, "unavailable", "persistence_failure", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext()
			if err := New(c).WithError(tt.err).Build(); err != nil {
				t.Fatalf("Build: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			env := decode(t, rec)
			if env.Success || env.Error == nil {
				t.Fatalf("envelope = %+v, want error", env)
			}
			if env.Error.Kind != tt.wantKind || env.Error.Code != tt.wantCode || env.Error.Retryable != tt.wantRetryable {
				t.Errorf("error = %+v", env.Error)
			}
			if got := rec.Header().Get("Retry-After"); (got != "") != tt.wantRetryable {
				t.Errorf("Retry-After = %q, retryable %v", got, tt.wantRetryable)
			}
		})
	}
}
