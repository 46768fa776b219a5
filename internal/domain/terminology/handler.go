package terminology

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/auth"
)

// Handler provides REST endpoints for the code catalogs and the FHIR
// terminology operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a terminology handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers catalog routes on the API group and $lookup /
// $translate on the FHIR group.
func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	readers := auth.RequireRole(auth.RoleCurator, auth.RoleContributor, auth.RoleProvider)

	codes := api.Group("/codes", readers)
	codes.GET("/search", h.Search)
	codes.GET("/:system/:code", h.GetCode)

	fhirTerm := fhirGroup.Group("", readers)
	fhirTerm.GET("/CodeSystem/$lookup", h.LookupGet)
	fhirTerm.POST("/CodeSystem/$lookup", h.Lookup)
	fhirTerm.GET("/ConceptMap/$translate", h.Translate)
	fhirTerm.POST("/ConceptMap/$translate", h.TranslatePost)
}

// Search handles GET /api/v1/codes/search?system=&q=&limit=
func (h *Handler) Search(c echo.Context) error {
	system, err := ParseSystem(c.QueryParam("system"))
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	results, err := h.svc.Search(c.Request().Context(), system, c.QueryParam("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

// GetCode handles GET /api/v1/codes/:system/:code?version=
func (h *Handler) GetCode(c echo.Context) error {
	system, err := ParseSystem(c.Param("system"))
	if err != nil {
		return err
	}
	e, err := h.svc.GetCode(c.Request().Context(), system, c.Param("code"), c.QueryParam("version"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

// Lookup handles POST /fhir/CodeSystem/$lookup. The body is either a plain
// {system, code, version} object or a FHIR Parameters resource.
func (h *Handler) Lookup(c echo.Context) error {
	var body struct {
		LookupRequest
		ResourceType string `json:"resourceType"`
		Parameter    []struct {
			Name        string `json:"name"`
			ValueCode   string `json:"valueCode"`
			ValueURI    string `json:"valueUri"`
			ValueString string `json:"valueString"`
		} `json:"parameter"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	req := body.LookupRequest
	for _, p := range body.Parameter {
		switch p.Name {
		case "system":
			req.System = p.ValueURI
		case "code":
			req.Code = p.ValueCode
		case "version":
			req.Version = p.ValueString
		}
	}
	out, err := h.svc.Lookup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// LookupGet handles GET /fhir/CodeSystem/$lookup?system=&code=&version=
func (h *Handler) LookupGet(c echo.Context) error {
	out, err := h.svc.Lookup(c.Request().Context(), LookupRequest{
		System:  c.QueryParam("system"),
		Code:    c.QueryParam("code"),
		Version: c.QueryParam("version"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// Translate handles GET /fhir/ConceptMap/$translate?system=&code=&targetsystem=
func (h *Handler) Translate(c echo.Context) error {
	out, err := h.svc.Translate(c.Request().Context(), TranslateRequest{
		System:       c.QueryParam("system"),
		Code:         c.QueryParam("code"),
		TargetSystem: c.QueryParam("targetsystem"),
		Version:      c.QueryParam("version"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// TranslatePost handles POST /fhir/ConceptMap/$translate with a Parameters
// body.
func (h *Handler) TranslatePost(c echo.Context) error {
	var params struct {
		Parameter []struct {
			Name        string `json:"name"`
			ValueCode   string `json:"valueCode"`
			ValueURI    string `json:"valueUri"`
			ValueString string `json:"valueString"`
		} `json:"parameter"`
	}
	if err := c.Bind(&params); err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	var req TranslateRequest
	for _, p := range params.Parameter {
		switch p.Name {
		case "code":
			req.Code = p.ValueCode
		case "system":
			req.System = p.ValueURI
		case "targetsystem":
			req.TargetSystem = p.ValueURI
		case "version":
			req.Version = p.ValueString
		}
	}
	out, err := h.svc.Translate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
