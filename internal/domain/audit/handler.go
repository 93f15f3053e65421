package audit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caresafe/caresafe/internal/platform/auth"
	"github.com/caresafe/caresafe/pkg/pagination"
)

// Handler exposes the ledger read-only. There are no write routes; the
// ledger is populated by the services and middleware, never over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	reviewers := g.Group("/audit", auth.RequireRole(auth.RoleClinicalAdvisor))
	reviewers.GET("/subjects/:id", h.subjectTrail)
	reviewers.GET("/export", h.export)
}

func (h *Handler) subjectTrail(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantIDFromContext(ctx)
	page := pagination.FromContext(c)

	entries, total, err := h.service.SubjectTrail(ctx, tenantID, c.Param("id"), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, page.Limit, page.Offset))
}

func (h *Handler) export(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantIDFromContext(ctx)
	page := pagination.FromContext(c)

	from, err := parseExportTime(c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from parameter")
	}
	to, err := parseExportTime(c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to parameter")
	}

	entries, total, err := h.service.Export(ctx, tenantID, from, to, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, page.Limit, page.Offset))
}

// parseExportTime accepts RFC 3339 timestamps or bare dates.
func parseExportTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
