package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("patient %s", "P1"), http.StatusNotFound},
		{"validation", Validation("mr_number is required"), http.StatusBadRequest},
		{"conflict", Conflict("mr_number %q already registered", "MR1"), http.StatusConflict},
		{"storage", Storage("insert patient", errors.New("connection reset")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("get detail: %w", NotFound("patient")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStorage_KeepsClassification(t *testing.T) {
	err := Storage("create patient", Conflict("duplicate"))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected conflict to survive wrapping")
	}
	if errors.Is(err, ErrStorage) {
		t.Error("classified error must not also become a storage error")
	}

	if Storage("noop", nil) != nil {
		t.Error("expected nil for nil input")
	}

	raw := errors.New("dial tcp: refused")
	wrapped := Storage("ping", raw)
	if !errors.Is(wrapped, ErrStorage) || !errors.Is(wrapped, raw) {
		t.Error("expected storage error to wrap both sentinel and cause")
	}
}

func TestToHTTP_HidesStorageDetails(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := ToHTTP(c, zerolog.Nop(), Storage("query", errors.New(`relation "patient" does not exist`)))
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
	if msg, _ := he.Message.(string); strings.Contains(msg, "relation") {
		t.Errorf("backend text leaked to caller: %q", msg)
	}
}

func TestToHTTP_ClientErrorsKeepMessage(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := ToHTTP(c, zerolog.Nop(), Validation("mr_number is required"))
	he := err.(*echo.HTTPError)
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", he.Code)
	}
	if msg, _ := he.Message.(string); !strings.Contains(msg, "mr_number is required") {
		t.Errorf("unexpected message %q", msg)
	}
}
