package subject

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caresafe/caresafe/internal/domain/access"
	"github.com/caresafe/caresafe/internal/domain/conflict"
	"github.com/caresafe/caresafe/internal/platform/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/subjects", h.createSubject, auth.RequireRole(auth.RoleClinicalAdvisor))
	g.GET("/subjects/:id/profile", h.getProfile)
	g.PUT("/subjects/:id/profile", h.updateProfile)
	g.POST("/subjects/:id/medications", h.addMedication)
	g.POST("/subjects/:id/biometrics", h.updateBiometrics)
	g.POST("/subjects/:id/recipes", h.applyRecipe)

	g.POST("/conflicts/override", h.override, auth.RequireRole(auth.RoleClinicalAdvisor))
	g.POST("/conflicts/review", h.requestReview)
}

func meta(c echo.Context) RequestMeta {
	return RequestMeta{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

func subjectParam(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

// respondMutation maps a disposition onto an HTTP status. Warn still
// commits, so both Allow and Warn are 200; RequireApproval and Block
// carry the full conflict list so the caller can act on it.
func respondMutation(c echo.Context, res *MutationResult) error {
	switch res.Disposition {
	case conflict.DispositionBlock:
		return c.JSON(http.StatusConflict, res)
	case conflict.DispositionRequireApproval:
		return c.JSON(http.StatusConflict, res)
	default:
		return c.JSON(http.StatusOK, res)
	}
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "subject not found")
	case errors.Is(err, access.ErrDenied):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, access.ErrEmergencyRoute):
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{
			"error":              "access requires the emergency workflow",
			"emergency_endpoint": "/api/v1/emergency-access",
		})
	case errors.Is(err, ErrNotOverridable):
		return echo.NewHTTPError(http.StatusConflict, "conflict cannot be overridden")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

type createSubjectRequest struct {
	OwnerID           string             `json:"owner_id"`
	DisplayName       string             `json:"display_name"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty"`
	Providers         []Provider         `json:"providers,omitempty"`
}

func (h *Handler) createSubject(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	var req createSubjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sub := &Subject{
		OwnerID:           req.OwnerID,
		DisplayName:       req.DisplayName,
		EmergencyContacts: req.EmergencyContacts,
		Providers:         req.Providers,
	}
	if err := h.service.CreateSubject(ctx, p, sub, meta(c)); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) getProfile(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	id, err := subjectParam(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	profile, err := h.service.GetProfile(ctx, p, id, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) updateProfile(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	id, err := subjectParam(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	var req ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.service.UpdateProfile(ctx, p, id, req, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return respondMutation(c, res)
}

func (h *Handler) addMedication(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	id, err := subjectParam(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	var req MedicationInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.service.AddMedication(ctx, p, id, req, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return respondMutation(c, res)
}

func (h *Handler) updateBiometrics(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	id, err := subjectParam(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	var req BiometricInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.service.UpdateBiometrics(ctx, p, id, req, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return respondMutation(c, res)
}

type recipeRequest struct {
	Ingredients []string `json:"ingredients"`
}

func (h *Handler) applyRecipe(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	id, err := subjectParam(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	var req recipeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.service.ApplyRecipe(ctx, p, id, req.Ingredients, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return respondMutation(c, res)
}

type overrideRequest struct {
	SubjectID string            `json:"subject_id"`
	Proposed  conflict.Proposed `json:"proposed"`
	Reason    string            `json:"reason"`
}

func (h *Handler) override(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	var req overrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	res, err := h.service.Override(ctx, p, id, req.Proposed, req.Reason, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type reviewRequest struct {
	SubjectID string              `json:"subject_id"`
	Conflicts []conflict.Conflict `json:"conflicts"`
	Note      string              `json:"note,omitempty"`
}

func (h *Handler) requestReview(c echo.Context) error {
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)

	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}

	entryID, err := h.service.RequestReview(ctx, p, id, req.Conflicts, req.Note, meta(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"review_reference": entryID.String()})
}
