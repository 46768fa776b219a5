package curation

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/auth"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Handler exposes the curation workflow over REST.
type Handler struct {
	svc *Service
}

// NewHandler creates a curation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the mapping and contribution routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	readers := auth.RequireRole(auth.RoleCurator, auth.RoleContributor, auth.RoleProvider)
	curators := auth.RequireRole(auth.RoleCurator)

	m := api.Group("/mappings")
	m.GET("", h.List, readers)
	m.GET("/stats", h.Stats, readers)
	m.GET("/gaps", h.Gaps, readers)
	m.GET("/:id", h.Get, readers)
	m.GET("/:id/history", h.History, readers)
	m.POST("/:id/submit", h.Submit, auth.RequireRole(auth.RoleCurator, auth.RoleContributor))
	m.POST("/:id/escalate", h.Escalate, curators)
	m.POST("/:id/accept", h.Accept, curators)
	m.POST("/:id/reject", h.Reject, curators)
	m.POST("/bulk/accept", h.AcceptMany, curators)
	m.POST("/bulk/reject", h.RejectMany, curators)

	c := api.Group("/contributions")
	c.POST("", h.SubmitContribution, readers)
	c.GET("", h.ListContributions, auth.RequireRole(auth.RoleCurator, auth.RoleContributor))
	c.GET("/:id", h.GetContribution, auth.RequireRole(auth.RoleCurator, auth.RoleContributor))
	c.POST("/:id/review", h.ReviewContribution, curators)
}

type page struct {
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Items  interface{} `json:"items"`
}

func paging(c echo.Context) (int, int, error) {
	ve := &apperr.ValidationError{}
	limit, offset := DefaultPageLimit, 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ve.Add("limit", "must be a positive integer")
		} else {
			limit = min(n, MaxPageLimit)
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ve.Add("offset", "must be a non-negative integer")
		} else {
			offset = n
		}
	}
	return limit, offset, ve.OrNil()
}

func intParam(c echo.Context, name string, ve *apperr.ValidationError) *int {
	v := c.QueryParam(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 100 {
		ve.Add(name, "must be an integer between 0 and 100")
		return nil
	}
	return &n
}

// actor falls back to the authenticated user when the body names no curator.
func actor(c echo.Context, id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return auth.UserIDFromContext(c.Request().Context())
}

// List handles GET /api/v1/mappings.
func (h *Handler) List(c echo.Context) error {
	var status terminology.MappingStatus
	if v := c.QueryParam("status"); v != "" {
		s, err := terminology.ParseStatus(v)
		if err != nil {
			return err
		}
		status = s
	}
	limit, offset, err := paging(c)
	if err != nil {
		return err
	}
	ve := &apperr.ValidationError{}
	f := terminology.MappingFilter{
		NamasteCode:   c.QueryParam("namasteCode"),
		ICDCode:       terminology.NormalizeCode(terminology.SystemICD11, c.QueryParam("icdCode")),
		Version:       c.QueryParam("version"),
		MinConfidence: intParam(c, "minConfidence", ve),
		MaxConfidence: intParam(c, "maxConfidence", ve),
		Source:        terminology.MappingSource(c.QueryParam("source")),
		Limit:         limit,
		Offset:        offset,
	}
	if f.Source != "" && !f.Source.Valid() {
		ve.Add("source", "unknown source %q", f.Source)
	}
	if err := ve.OrNil(); err != nil {
		return err
	}
	recs, total, err := h.svc.List(c.Request().Context(), status, f)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []terminology.MappingRecord{}
	}
	return c.JSON(http.StatusOK, page{Total: total, Limit: limit, Offset: offset, Items: recs})
}

// Stats handles GET /api/v1/mappings/stats?version=
func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context(), c.QueryParam("version"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// Gaps handles GET /api/v1/mappings/gaps?version=&limit=
func (h *Handler) Gaps(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	gaps, err := h.svc.Gaps(c.Request().Context(), c.QueryParam("version"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gaps)
}

// Get handles GET /mappings/:id.
func (h *Handler) Get(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// History handles GET /mappings/:id/history.
func (h *Handler) History(c echo.Context) error {
	revs, err := h.svc.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, revs)
}

type transitionRequest struct {
	CuratorID string `json:"curatorId"`
	Reason    string `json:"reason"`
	Note      string `json:"note"`
}

func bindTransition(c echo.Context) (transitionRequest, error) {
	var req transitionRequest
	if c.Request().ContentLength == 0 {
		return req, nil
	}
	if err := c.Bind(&req); err != nil {
		return req, apperr.Validation("body", "invalid JSON")
	}
	return req, nil
}

// Submit handles POST /api/v1/mappings/:id/submit.
func (h *Handler) Submit(c echo.Context) error {
	req, err := bindTransition(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Submit(c.Request().Context(), c.Param("id"), actor(c, req.CuratorID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Escalate handles POST /api/v1/mappings/:id/escalate.
func (h *Handler) Escalate(c echo.Context) error {
	req, err := bindTransition(c)
	if err != nil {
		return err
	}
	note := req.Note
	if note == "" {
		note = req.Reason
	}
	rec, err := h.svc.Escalate(c.Request().Context(), c.Param("id"), actor(c, req.CuratorID), note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Accept handles POST /api/v1/mappings/:id/accept.
func (h *Handler) Accept(c echo.Context) error {
	req, err := bindTransition(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Accept(c.Request().Context(), c.Param("id"), actor(c, req.CuratorID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Reject handles POST /api/v1/mappings/:id/reject.
func (h *Handler) Reject(c echo.Context) error {
	req, err := bindTransition(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Reject(c.Request().Context(), c.Param("id"), actor(c, req.CuratorID), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type bulkRequest struct {
	IDs       []string `json:"ids"`
	CuratorID string   `json:"curatorId"`
	Reason    string   `json:"reason"`
}

type bulkResponse struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []resultJSON `json:"results"`
}

func bulkReport(results []Result) bulkResponse {
	out := bulkResponse{Results: make([]resultJSON, len(results))}
	for i, r := range results {
		if r.OK() {
			out.Succeeded++
		} else {
			out.Failed++
		}
		out.Results[i] = r.wire()
	}
	return out
}

// AcceptMany handles POST /api/v1/mappings/bulk/accept. Per-id failures
// are reported in the body; the status is 200 unless the request itself
// is invalid.
func (h *Handler) AcceptMany(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	results, err := h.svc.AcceptMany(c.Request().Context(), req.IDs, actor(c, req.CuratorID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bulkReport(results))
}

// RejectMany handles POST /api/v1/mappings/bulk/reject.
func (h *Handler) RejectMany(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	results, err := h.svc.RejectMany(c.Request().Context(), req.IDs, actor(c, req.CuratorID), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bulkReport(results))
}

// SubmitContribution handles POST /api/v1/contributions. contributorId
// defaults to the authenticated user.
func (h *Handler) SubmitContribution(c echo.Context) error {
	var req Contribution
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	req.ContributorID = actor(c, req.ContributorID)
	out, err := h.svc.SubmitContribution(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

// ListContributions handles GET /api/v1/contributions?status=&limit=&offset=
func (h *Handler) ListContributions(c echo.Context) error {
	limit, offset, err := paging(c)
	if err != nil {
		return err
	}
	status := ContributionStatus(strings.ToLower(c.QueryParam("status")))
	items, total, err := h.svc.ListContributions(c.Request().Context(), status, limit, offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []Contribution{}
	}
	return c.JSON(http.StatusOK, page{Total: total, Limit: limit, Offset: offset, Items: items})
}

// GetContribution handles GET /contributions/:id.
func (h *Handler) GetContribution(c echo.Context) error {
	out, err := h.svc.GetContribution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// ReviewContribution handles POST /api/v1/contributions/:id/review.
func (h *Handler) ReviewContribution(c echo.Context) error {
	var d Decision
	if err := c.Bind(&d); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	d.CuratorID = actor(c, d.CuratorID)
	out, err := h.svc.ReviewContribution(c.Request().Context(), c.Param("id"), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
