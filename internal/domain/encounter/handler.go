package encounter

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/auth"
)

// Handler serves the encounter endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an encounter handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the encounter routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/encounters")
	g.POST("", h.Compose, auth.RequireRole(auth.RoleProvider))
	g.GET("", h.ListByPatient, auth.RequireRole(auth.RoleProvider, auth.RoleCurator))
	g.GET("/:id", h.Get, auth.RequireRole(auth.RoleProvider, auth.RoleCurator))
}

// Compose handles POST /api/v1/encounters. Invalid requests get 422 with
// one OperationOutcome issue per field.
func (h *Handler) Compose(c echo.Context) error {
	var req ComposeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	ctx := c.Request().Context()
	enc, err := h.svc.Compose(ctx, req, auth.UserIDFromContext(ctx))
	if errors.Is(err, apperr.ErrValidation) {
		return apperr.RespondStatus(c, http.StatusUnprocessableEntity, err)
	}
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/encounters/"+enc.ID)
	return c.JSONBlob(http.StatusCreated, enc.Resource)
}

// Get handles GET /api/v1/encounters/:id and returns the stored resource.
func (h *Handler) Get(c echo.Context) error {
	enc, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, enc.Resource)
}

// ListByPatient handles GET /api/v1/encounters?patientId=&limit=&offset=
func (h *Handler) ListByPatient(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := h.svc.ListByPatient(c.Request().Context(), c.QueryParam("patientId"), limit, offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Encounter{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"items":  items,
	})
}
