package matcher

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/auth"
)

// Proposer persists a candidate as a suggested mapping.
type Proposer interface {
	Propose(ctx context.Context, candidate terminology.MappingRecord, actor string) (*terminology.MappingRecord, error)
}

// Handler serves the suggestion endpoints.
type Handler struct {
	matcher  *Matcher
	proposer Proposer
}

// NewHandler creates the suggest handler. proposer may be nil, in which
// case persist requests are refused.
func NewHandler(m *Matcher, proposer Proposer) *Handler {
	return &Handler{matcher: m, proposer: proposer}
}

// RegisterRoutes mounts the suggestion routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/mappings/suggest", h.Suggest,
		auth.RequireRole(auth.RoleCurator, auth.RoleContributor, auth.RoleProvider))
}

type suggestRequest struct {
	Request
	Persist bool `json:"persist"`
}

// Suggest handles POST /api/v1/mappings/suggest.
func (h *Handler) Suggest(c echo.Context) error {
	var req suggestRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	if req.Persist {
		if h.proposer == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "persisting candidates is not available")
		}
		if !auth.HasRole(c, auth.RoleCurator) {
			return echo.NewHTTPError(http.StatusForbidden, "required role: curator")
		}
	}

	ctx := c.Request().Context()
	candidates, err := h.matcher.Suggest(ctx, req.Request)
	if err != nil {
		return err
	}
	if candidates == nil {
		candidates = []terminology.MappingRecord{}
	}
	if req.Persist {
		actor := auth.UserIDFromContext(ctx)
		for i, cand := range candidates {
			rec, err := h.proposer.Propose(ctx, cand, actor)
			if err != nil {
				return err
			}
			candidates[i] = *rec
		}
	}
	return c.JSON(http.StatusOK, candidates)
}
