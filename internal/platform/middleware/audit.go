package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AccessEntry records one access to a patient chart.
type AccessEntry struct {
	PatientID  string
	Section    string
	Action     string // read, create, update, delete
	Route      string
	Method     string
	StatusCode int
	IPAddress  string
	UserAgent  string
	RequestID  string
	Timestamp  time.Time
}

// AccessRecorder persists access entries somewhere other than the log.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit logs every request that touches a patient chart, identified by the
// :id route parameter under /patients. Listing and intake lookups carry no
// id and are not audited.
func Audit(logger zerolog.Logger, recorders ...AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			route := c.Path()
			patientID := c.Param("id")
			if patientID == "" || !strings.Contains(route, "/patients/:id") {
				return err
			}

			req := c.Request()
			entry := AccessEntry{
				PatientID:  patientID,
				Section:    c.Param("sectionType"),
				Action:     actionFor(req.Method),
				Route:      route,
				Method:     req.Method,
				StatusCode: c.Response().Status,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record chart access")
				}
			}

			logger.Info().
				Str("type", "chart_access").
				Str("request_id", entry.RequestID).
				Str("patient_id", entry.PatientID).
				Str("section", entry.Section).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Int("status", entry.StatusCode).
				Str("remote_ip", entry.IPAddress).
				Msg("chart access")

			return err
		}
	}
}

func actionFor(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
