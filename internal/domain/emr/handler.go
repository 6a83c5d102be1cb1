package emr

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/apperr"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/emr", h.GetAll)
	api.GET("/patients/:id/emr/:sectionType", h.Get)
	api.POST("/patients/:id/emr/:sectionType", h.Save)
	api.DELETE("/patients/:id/emr/:sectionType", h.Delete)
}

type saveResponse struct {
	ID      int64  `json:"id"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

type deleteResponse struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

func params(c echo.Context) (patientID, sectionType string, err error) {
	patientID = strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "patient id is required")
	}
	return patientID, c.Param("sectionType"), nil
}

func (h *Handler) GetAll(c echo.Context) error {
	patientID, _, err := params(c)
	if err != nil {
		return err
	}
	sections, err := h.svc.GetAll(c.Request().Context(), patientID)
	if err != nil {
		return apperr.ToHTTP(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, sections)
}

func (h *Handler) Get(c echo.Context) error {
	patientID, sectionType, err := params(c)
	if err != nil {
		return err
	}
	lookup, err := h.svc.Get(c.Request().Context(), patientID, sectionType)
	if err != nil {
		return apperr.ToHTTP(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, lookup)
}

func (h *Handler) Save(c echo.Context) error {
	patientID, sectionType, err := params(c)
	if err != nil {
		return err
	}
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, created, err := h.svc.Save(c.Request().Context(), patientID, sectionType, &req)
	if err != nil {
		return apperr.ToHTTP(c, h.logger, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, saveResponse{ID: rec.ID, Created: created, Message: "EMR record saved successfully"})
}

func (h *Handler) Delete(c echo.Context) error {
	patientID, sectionType, err := params(c)
	if err != nil {
		return err
	}
	deleted, err := h.svc.Delete(c.Request().Context(), patientID, sectionType)
	if err != nil {
		return apperr.ToHTTP(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, deleteResponse{Deleted: deleted, Message: "EMR record deleted successfully"})
}
