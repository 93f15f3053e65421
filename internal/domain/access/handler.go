package access

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caresafe/caresafe/internal/platform/auth"
	"github.com/caresafe/caresafe/pkg/pagination"
)

// OwnerLookup resolves the owning actor of a subject. The indirection
// keeps this package from importing the subject domain.
type OwnerLookup func(ctx context.Context, tenantID, subjectID string) (string, error)

type Handler struct {
	gate     *Gate
	workflow *Workflow
	owners   OwnerLookup
}

func NewHandler(gate *Gate, workflow *Workflow, owners OwnerLookup) *Handler {
	return &Handler{gate: gate, workflow: workflow, owners: owners}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.PUT("/subjects/:id/permissions", h.setPermission)
	g.GET("/subjects/:id/permissions", h.listPermissions)
	g.POST("/emergency-access", h.requestEmergencyAccess)
	g.GET("/emergency-access/logs", h.emergencyLogs, auth.RequireRole(auth.RoleClinicalAdvisor))
}

type setPermissionRequest struct {
	ActorID           string `json:"actor_id"`
	Permission        string `json:"permission"`
	CanViewHealthData bool   `json:"can_view_health_data"`
}

// setPermission lets the subject's owner delegate access to a family
// member. Only the owner (or a super admin) may change delegations.
func (h *Handler) setPermission(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)
	subjectID := c.Param("id")

	var req setPermissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	level, err := ParsePermissionLevel(req.Permission)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	owner, err := h.owners(ctx, p.TenantID, subjectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subject not found")
	}
	if p.ActorID != owner && !p.HasRole(auth.RoleSuperAdmin) {
		return echo.NewHTTPError(http.StatusForbidden, "only the subject's owner may delegate access")
	}

	rel := &Relationship{
		TenantID:          p.TenantID,
		ActorID:           req.ActorID,
		SubjectID:         subjectID,
		Permission:        level,
		CanViewHealthData: req.CanViewHealthData,
	}
	if err := h.gate.SetPermission(ctx, rel); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rel)
}

func (h *Handler) listPermissions(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)
	subjectID := c.Param("id")

	owner, err := h.owners(ctx, p.TenantID, subjectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subject not found")
	}
	if p.ActorID != owner && !p.IsClinical() {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}

	rels, err := h.gate.ListPermissions(ctx, p.TenantID, subjectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list permissions")
	}
	return c.JSON(http.StatusOK, rels)
}

type emergencyRequest struct {
	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
}

func (h *Handler) requestEmergencyAccess(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SubjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject_id is required")
	}

	// A window may only be opened by an actor the owner designated as
	// emergency-only, onto a real subject in this tenant. The immutable
	// log must never carry grants that could not confer access, and an
	// ineligible actor learns nothing about which subjects exist.
	eligible, err := h.gate.EmergencyEligible(ctx, p.TenantID, p.ActorID, req.SubjectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to check eligibility")
	}
	if !eligible {
		return echo.NewHTTPError(http.StatusForbidden, "no emergency delegation for this subject")
	}
	if _, err := h.owners(ctx, p.TenantID, req.SubjectID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subject not found")
	}

	role := ""
	if len(p.Roles) > 0 {
		role = p.Roles[0]
	}

	grant, err := h.workflow.RequestAccess(ctx, p.TenantID, p.ActorID, role, req.SubjectID, req.Reason)
	if errors.Is(err, ErrRateLimited) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "emergency access rate limit exceeded")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, grant)
}

func (h *Handler) emergencyLogs(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)
	page := pagination.FromContext(c)

	subjectID := c.QueryParam("subject_id")
	if subjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject_id is required")
	}

	logs, total, err := h.workflow.Logs(ctx, p.TenantID, subjectID, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list emergency access logs")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, page.Limit, page.Offset))
}
