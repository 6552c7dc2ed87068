package compliance

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

// RegisterRoutes wires the compliance hold endpoints under /takehome/holds.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	holds := g.Group("/takehome/holds", auth.RequireRole("physician", "nurse", "counselor", "admin", "compliance_officer"))
	holds.GET("", h.ListHolds)
	holds.GET("/reviews-due", h.ListReviewsDue)
	holds.GET("/:id", h.GetHold)
	holds.GET("/:id/overrides", h.ListOverrides)
	holds.POST("", h.OpenHold)
	holds.PUT("/:id", h.ClearHold)
	holds.POST("/:id/override", h.OverrideHold)
}

func (h *Handler) OpenHold(c echo.Context) error {
	var req OpenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CreatedByID == nil {
		if id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			req.CreatedByID = &id
		}
	}

	hold, err := h.svc.OpenHold(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrHoldTypeRequired), errors.Is(err, ErrReasonRequired),
			errors.Is(err, ErrPatientRequired):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to open hold")
		}
	}

	return c.JSON(http.StatusCreated, hold)
}

func (h *Handler) ClearHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}

	var body struct {
		ClearedByID uuid.UUID `json:"cleared_by_id"`
		Notes       *string   `json:"notes,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.ClearedByID == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			body.ClearedByID = uid
		}
	}

	hold, err := h.svc.ClearHold(c.Request().Context(), ClearRequest{
		HoldID:      id,
		ClearedByID: body.ClearedByID,
		Notes:       body.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrHoldNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrHoldAlreadyCleared):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear hold")
		}
	}

	return c.JSON(http.StatusOK, hold)
}

func (h *Handler) OverrideHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}

	var body struct {
		Justification  string    `json:"justification"`
		OverriddenByID uuid.UUID `json:"overridden_by_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.OverriddenByID == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			body.OverriddenByID = uid
		}
	}
	ip := c.RealIP()

	result, err := h.svc.OverrideHold(c.Request().Context(), OverrideRequest{
		HoldID:         id,
		Justification:  body.Justification,
		OverriddenByID: body.OverriddenByID,
		OriginIP:       &ip,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrJustificationTooShort):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrHoldNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrHoldAlreadyCleared):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to override hold")
		}
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}

	hold, err := h.svc.GetHold(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrHoldNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get hold")
	}

	return c.JSON(http.StatusOK, hold)
}

func (h *Handler) ListHolds(c echo.Context) error {
	page := pagination.FromContext(c)

	var patientID *uuid.UUID
	if s := c.QueryParam("patient_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &id
	}
	status := c.QueryParam("status")

	holds, total, err := h.svc.ListHolds(c.Request().Context(), patientID, status, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list holds")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(holds, total, page.Limit, page.Offset))
}

func (h *Handler) ListReviewsDue(c echo.Context) error {
	page := pagination.FromContext(c)

	audits, err := h.svc.ListReviewsDue(c.Request().Context(), page.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list due reviews")
	}

	return c.JSON(http.StatusOK, audits)
}

func (h *Handler) ListOverrides(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}

	audits, err := h.svc.ListOverrides(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list overrides")
	}

	return c.JSON(http.StatusOK, audits)
}
