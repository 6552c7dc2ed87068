package takehome

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/brightpath/emr/internal/platform/auth"
	"github.com/brightpath/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the take-home endpoints under /takehome.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	t := g.Group("/takehome")

	issue := t.Group("", auth.RequireRole("physician", "nurse", "admin"))
	issue.POST("/qr-generate", h.IssueKit)

	verify := t.Group("", auth.RequireRole("nurse", "admin", "scanner"))
	verify.POST("/verify", h.VerifyConsumption)

	sweep := t.Group("", auth.RequireRole("admin", "physician"))
	sweep.POST("/check-missed-doses", h.CheckMissedDoses)

	read := t.Group("", auth.RequireRole("physician", "nurse", "counselor", "admin"))
	read.GET("/bottles", h.ListBottles)
	read.GET("/bottles/:id", h.GetBottle)
	read.GET("/scan-logs", h.ListScanLogs)
	read.GET("/alerts", h.ListAlerts)
}

func (h *Handler) IssueKit(c echo.Context) error {
	var req IssueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	bottles, err := h.svc.IssueKit(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidBottleCount),
			errors.Is(err, ErrMedicationRequired),
			errors.Is(err, ErrDoseRequired),
			errors.Is(err, ErrStartDateRequired),
			errors.Is(err, ErrPatientRequired),
			errors.Is(err, ErrDispenserRequired):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue take-home kit")
		}
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"bottles": bottles,
		"count":   len(bottles),
	})
}

func (h *Handler) VerifyConsumption(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	result, err := h.svc.VerifyConsumption(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrBottleNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrOutsideWindow):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrAlreadyFinalized):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to verify consumption")
		}
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handler) CheckMissedDoses(c echo.Context) error {
	result, err := h.svc.SweepMissedDoses(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrWindowStillOpen) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "missed-dose sweep failed")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetBottle(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bottle id")
	}

	bottle, err := h.svc.GetBottle(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrBottleNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get bottle")
	}

	return c.JSON(http.StatusOK, bottle)
}

func (h *Handler) ListBottles(c echo.Context) error {
	page := pagination.FromContext(c)
	patientID, err := optionalUUID(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}

	bottles, total, err := h.svc.ListBottles(c.Request().Context(), patientID, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list bottles")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(bottles, total, page.Limit, page.Offset))
}

func (h *Handler) ListScanLogs(c echo.Context) error {
	page := pagination.FromContext(c)
	bottleID, err := optionalUUID(c.QueryParam("bottle_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bottle_id")
	}
	patientID, err := optionalUUID(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if bottleID == nil && patientID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bottle_id or patient_id is required")
	}

	logs, total, err := h.svc.ListScanLogs(c.Request().Context(), bottleID, patientID, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list scan logs")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, page.Limit, page.Offset))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	page := pagination.FromContext(c)
	patientID, err := optionalUUID(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	status := c.QueryParam("status")

	alerts, total, err := h.svc.ListAlerts(c.Request().Context(), patientID, status, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(alerts, total, page.Limit, page.Offset))
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
