package curation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/auth"
)

func newRequest(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithUser(req.Context(), "curator-7", auth.RoleCurator))
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestHandler_Accept(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	h := NewHandler(svc)

	c, rec := newRequest(http.MethodPost, "/", `{"curatorId":"dr-iyer"}`)
	c.SetParamNames("id")
	c.SetParamValues(id("NMT456", "CA40"))
	if err := h.Accept(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got terminology.MappingRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != terminology.StatusAccepted || got.ApprovedBy != "dr-iyer" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestHandler_Accept_DefaultsCuratorToUser(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	h := NewHandler(svc)

	c, rec := newRequest(http.MethodPost, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(id("NMT890", "FA20"))
	if err := h.Accept(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got terminology.MappingRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ApprovedBy != "curator-7" {
		t.Errorf("expected curator-7, got %q", got.ApprovedBy)
	}
}

func TestHandler_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	h := NewHandler(svc)

	tests := []struct {
		name    string
		handler echo.HandlerFunc
		id      string
		body    string
		want    int
	}{
		{"reject without reason", h.Reject, id("NMT345", "DB90"), `{"curatorId":"dr-iyer"}`, http.StatusBadRequest},
		{"accept terminal", h.Accept, id("NMT567", "DD90"), `{"curatorId":"dr-iyer"}`, http.StatusConflict},
		{"accept missing", h.Accept, "nope", `{}`, http.StatusNotFound},
		{"bad json", h.Reject, id("NMT345", "DB90"), `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newRequest(http.MethodPost, "/", tt.body)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			err := tt.handler(c)
			if got := apperr.HTTPStatus(err); got != tt.want {
				t.Errorf("expected %d, got %d (%v)", tt.want, got, err)
			}
		})
	}
}

func TestHandler_AcceptMany(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	h := NewHandler(svc)

	body := `{"ids":["` + id("NMT456", "CA40") + `","` + id("NMT567", "DD90") + `"],"curatorId":"dr-iyer"}`
	c, rec := newRequest(http.MethodPost, "/api/v1/mappings/bulk/accept", body)
	if err := h.AcceptMany(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Results   []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Error  *struct {
				Code string `json:"code"`
			} `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("expected 1 ok and 1 failed, got %+v", got)
	}
	if got.Results[1].Status != "error" || got.Results[1].Error.Code != "state_transition" {
		t.Errorf("unexpected second result %+v", got.Results[1])
	}
}

func TestHandler_List(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	h := NewHandler(svc)

	c, rec := newRequest(http.MethodGet, "/api/v1/mappings?status=suggested&minConfidence=40&limit=2", "")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Total int                         `json:"total"`
		Items []terminology.MappingRecord `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 3 || len(got.Items) != 2 {
		t.Errorf("expected 2 of 3 records, got %d of %d", len(got.Items), got.Total)
	}

	c, _ = newRequest(http.MethodGet, "/api/v1/mappings?status=bogus", "")
	if err := h.List(c); apperr.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %v", err)
	}
	c, _ = newRequest(http.MethodGet, "/api/v1/mappings?maxConfidence=101", "")
	if err := h.List(c); apperr.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range confidence, got %v", err)
	}
}

func TestHandler_Contributions(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	h := NewHandler(svc)

	c, rec := newRequest(http.MethodPost, "/api/v1/contributions", `{"namasteCode":"NMT901","suggestedIcdCode":"MD11"}`)
	if err := h.SubmitContribution(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created Contribution
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ContributorID != "curator-7" {
		t.Errorf("expected contributor from auth, got %q", created.ContributorID)
	}

	c, rec = newRequest(http.MethodPost, "/", `{"decision":"accept"}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.ReviewContribution(c); err != nil {
		t.Fatalf("review: %v", err)
	}
	var reviewed Contribution
	if err := json.Unmarshal(rec.Body.Bytes(), &reviewed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reviewed.Status != ContributionAccepted || reviewed.MappingID == "" {
		t.Errorf("unexpected review %+v", reviewed)
	}

	c, rec = newRequest(http.MethodGet, "/api/v1/contributions?status=accepted", "")
	if err := h.ListContributions(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var page struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 accepted contribution, got %d", page.Total)
	}
}

func TestHandler_RoutesRequireCurator(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mappings/"+id("NMT456", "CA40")+"/accept", nil)
	req = req.WithContext(auth.WithUser(context.Background(), "prov-1", auth.RoleProvider))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
