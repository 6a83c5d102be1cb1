package patient

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/apperr"
	"github.com/ehr/emr/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/mr/:mrNumber", h.GetPatientByMRNumber)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.GET("/patients/:id/photo", h.GetPhoto)

	api.GET("/patients/:id/visits", h.ListVisits)
	api.POST("/patients/:id/visits", h.LogVisit)

	api.GET("/patients/:id/alerts", h.ListAlerts)
	api.POST("/patients/:id/alerts", h.AddAlert)
}

type createdResponse struct {
	ID      interface{} `json:"id"`
	Message string      `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) fail(c echo.Context, err error) error {
	return apperr.ToHTTP(c, h.logger, err)
}

func patientID(c echo.Context) (string, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "patient id is required")
	}
	return id, nil
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	pagination.SetHeaders(c, pg, total)
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req CreatePatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: p.ID, Message: "Patient created successfully"})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.GetPatientDetail(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) GetPatientByMRNumber(c echo.Context) error {
	mr := strings.TrimSpace(c.Param("mrNumber"))
	if mr == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mr number is required")
	}
	lookup, err := h.svc.LookupByMRNumber(c.Request().Context(), mr)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, lookup)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req UpdatePatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.UpdatePatient(c.Request().Context(), id, &req); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Patient updated successfully"})
}

func (h *Handler) GetPhoto(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rc, contentType, err := h.svc.Photo(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	defer rc.Close()
	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	return c.Stream(http.StatusOK, contentType, rc)
}

// -- Visits --

func (h *Handler) ListVisits(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	visits, err := h.svc.ListVisits(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *Handler) LogVisit(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req LogVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.LogVisit(c.Request().Context(), id, &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: v.ID, Message: "Visit logged successfully"})
}

// -- Alerts --

func (h *Handler) ListAlerts(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	alerts, err := h.svc.ListAlerts(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) AddAlert(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req AddAlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.AddAlert(c.Request().Context(), id, &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: a.ID, Message: "Alert added successfully"})
}
