package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/relaytext/burstguard/internal/burst"
	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
	"github.com/relaytext/burstguard/internal/service/gate"
	"github.com/relaytext/burstguard/internal/service/incident"
	"github.com/relaytext/burstguard/internal/service/scanner"
	"github.com/relaytext/burstguard/internal/ws"
)

const testToken = "svc-token-for-tests"

type fakeConfigRepo struct {
	rows map[string]*domain.BurstConfigRow
}

func (r *fakeConfigRepo) GetBurstConfig(ctx context.Context, tenantID string) (*domain.BurstConfigRow, error) {
	row, ok := r.rows[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

type fakeIncidentRepo struct {
	active []*domain.Incident
}

func (r *fakeIncidentRepo) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	copied := *incident
	r.active = append(r.active, &copied)
	return nil
}

func (r *fakeIncidentRepo) GetActiveIncident(ctx context.Context, tenantID, toNumber string) (*domain.Incident, error) {
	for _, incident := range r.active {
		if incident.TenantID == tenantID && incident.ToNumber == toNumber && incident.Status == domain.IncidentActive {
			copied := *incident
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeIncidentRepo) UpdateActiveIncident(ctx context.Context, updated *domain.Incident, readAt time.Time) error {
	for i, incident := range r.active {
		if incident.ID == updated.ID {
			if !incident.UpdatedAt.Equal(readAt) {
				return repository.ErrConflict
			}
			copied := *updated
			r.active[i] = &copied
			return nil
		}
	}
	return repository.ErrConflict
}

func (r *fakeIncidentRepo) ResolveIncidentsInactiveSince(ctx context.Context, cutoff time.Time, note string, resolvedAt time.Time) (int, error) {
	count := 0
	for _, incident := range r.active {
		if incident.Status == domain.IncidentActive && incident.LastMessageAt.Before(cutoff) {
			incident.Status = domain.IncidentResolved
			incident.Notes = note
			at := resolvedAt
			incident.ResolvedAt = &at
			count++
		}
	}
	return count, nil
}

func (r *fakeIncidentRepo) GetIncidentByID(ctx context.Context, id string) (*domain.Incident, error) {
	for _, incident := range r.active {
		if incident.ID == id {
			copied := *incident
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeIncidentRepo) ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error) {
	out := make([]domain.Incident, 0, len(r.active))
	for _, incident := range r.active {
		if filter.TenantID != "" && incident.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && incident.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && incident.Severity != filter.Severity {
			continue
		}
		out = append(out, *incident)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type fakeTenantRepo struct{ ids []string }

func (r *fakeTenantRepo) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	return r.ids, nil
}

type fakeHistoryRepo struct{}

func (r *fakeHistoryRepo) ListOutboundMessages(ctx context.Context, tenantID, toNumber string, since time.Time, limit int) ([]domain.OutboundMessage, error) {
	return nil, nil
}

func (r *fakeHistoryRepo) AggregateOutboundByRecipient(ctx context.Context, tenantID string, since time.Time, minCount int) ([]domain.RecipientVolume, error) {
	return nil, nil
}

type memoryTracker struct {
	byKey map[string][]domain.TrackingEntry
}

func (t *memoryTracker) RecordDetailed(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, bool, error) {
	key := tenantID + ":" + toNumber
	entries := burst.PruneWindow(append(t.byKey[key], entry), window)
	t.byKey[key] = entries
	return entries, false, nil
}

type routerFixture struct {
	router    *Router
	incidents *fakeIncidentRepo
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	configs := &fakeConfigRepo{}
	incidentRepo := &fakeIncidentRepo{}
	resolver := gate.NewResolver(configs, logger)
	incidentSvc := incident.New(incidentRepo, nil, logger)
	tracker := &memoryTracker{byKey: make(map[string][]domain.TrackingEntry)}
	gateSvc := gate.New(resolver, tracker, incidentSvc, logger)
	scanSvc := scanner.New(&fakeTenantRepo{}, &fakeHistoryRepo{}, incidentRepo, incidentSvc, resolver, logger, time.Minute, 30*time.Minute, 2*time.Hour, 20)
	hub := ws.NewHub(0)

	router := NewRouter(logger, gateSvc, incidentSvc, resolver, scanSvc, hub, nil, testToken, nil)
	t.Cleanup(router.Close)
	return &routerFixture{router: router, incidents: incidentRepo}
}

func (f *routerFixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("X-Service-Token", token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestCheckRejectsMissingToken(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/outbound/check", "", gate.CheckRequest{TenantID: "t1", ToNumber: "+15550001111"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/outbound/check", "wrong-token", gate.CheckRequest{TenantID: "t1", ToNumber: "+15550001111"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestCheckValidatesRequestBody(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/outbound/check", testToken, gate.CheckRequest{TenantID: "t1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing to_number, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/outbound/check", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Service-Token", testToken)
	rec2 := httptest.NewRecorder()
	f.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec2.Code)
	}
}

func TestCheckReturnsDecisionAndCreatesIncident(t *testing.T) {
	f := newRouterFixture(t)

	body := gate.CheckRequest{TenantID: "t1", ToNumber: "+15550001111", Content: "same text"}
	var decision domain.Decision
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/v1/outbound/check", testToken, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("send %d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &decision)
	}
	if !decision.IsBurst {
		t.Fatalf("expected third identical send to flag a burst: %+v", decision)
	}
	if decision.IncidentID == "" {
		t.Fatalf("burst decision missing incident id")
	}
	if decision.Confidence != domain.ConfidenceFull {
		t.Fatalf("expected full confidence, got %s", decision.Confidence)
	}
	if len(f.incidents.active) != 1 {
		t.Fatalf("expected one incident persisted, got %d", len(f.incidents.active))
	}
}

func TestListIncidentsFiltersByTenant(t *testing.T) {
	f := newRouterFixture(t)
	now := time.Now().UTC()
	f.incidents.active = []*domain.Incident{
		{ID: "a", TenantID: "t1", ToNumber: "+15550001111", Status: domain.IncidentActive, Severity: domain.SeverityHigh, LastMessageAt: now},
		{ID: "b", TenantID: "t2", ToNumber: "+15550002222", Status: domain.IncidentActive, Severity: domain.SeverityWarning, LastMessageAt: now},
	}

	rec := f.do(t, http.MethodGet, "/v1/incidents?tenant_id=t1", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Incidents []incidentView `json:"incidents"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.Incidents) != 1 || payload.Incidents[0].ID != "a" {
		t.Fatalf("tenant filter not applied: %+v", payload.Incidents)
	}
}

func TestListIncidentsRejectsBadLimit(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/incidents?limit=zero", testToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric limit, got %d", rec.Code)
	}
}

func TestGetIncidentByID(t *testing.T) {
	f := newRouterFixture(t)
	f.incidents.active = []*domain.Incident{
		{ID: "abc", TenantID: "t1", ToNumber: "+15550001111", Status: domain.IncidentActive},
	}

	rec := f.do(t, http.MethodGet, "/v1/incidents/abc", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view incidentView
	decodeBody(t, rec, &view)
	if view.ID != "abc" {
		t.Fatalf("unexpected incident: %+v", view)
	}

	rec = f.do(t, http.MethodGet, "/v1/incidents/missing", testToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestTenantBurstConfigReturnsResolvedDefaults(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/tenants/t1/burst-config", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view configView
	decodeBody(t, rec, &view)
	if !view.Enabled {
		t.Fatalf("defaults must report detection enabled")
	}
	if view.WindowSeconds != 180 || view.MessageThreshold != 3 {
		t.Fatalf("unexpected defaults: %+v", view)
	}
}

func TestScanRunReturnsReport(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/scan/run", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report scanner.ScanReport
	decodeBody(t, rec, &report)
	if report.Errors != 0 {
		t.Fatalf("empty platform scan must not error: %+v", report)
	}

	rec = f.do(t, http.MethodGet, "/v1/scan/run", testToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestHealthzReportsDatabaseState(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	down := func(ctx context.Context) error { return errors.New("connection refused") }
	router := NewRouter(logger, nil, nil, nil, nil, nil, nil, testToken, down)
	t.Cleanup(router.Close)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the database is down, got %d", rec.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &payload)
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", payload.Status)
	}
}
