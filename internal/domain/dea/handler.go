package dea

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brightpath/emr/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the DEA bridge endpoints under /dea.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	d := g.Group("/dea", auth.RequireRole("admin", "compliance_officer"))
	d.POST("/sync", h.SyncEvent)
	d.GET("/sync", h.Summary)
}

func (h *Handler) SyncEvent(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := h.svc.SyncEvent(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEventTypeRequired), errors.Is(err, ErrPatientRequired):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to file dea report")
		}
	}

	return c.JSON(http.StatusCreated, report)
}

func (h *Handler) Summary(c echo.Context) error {
	summary, err := h.svc.BuildSummary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build dea summary")
	}
	return c.JSON(http.StatusOK, summary)
}
