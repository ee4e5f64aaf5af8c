package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
	"github.com/relaytext/burstguard/internal/service/gate"
	"github.com/relaytext/burstguard/internal/service/incident"
	"github.com/relaytext/burstguard/internal/service/scanner"
	"github.com/relaytext/burstguard/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitAdminRead = 120
	rateLimitScanRun   = 6
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	gate         *gate.Gate
	incidents    *incident.Service
	resolver     *gate.Resolver
	scanner      *scanner.Scanner
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	serviceToken string
	dbHealth     func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	checkTotal         *prometheus.CounterVec
	blockTotal         prometheus.Counter
	scanResults        *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, gateSvc *gate.Gate, incidentSvc *incident.Service, resolver *gate.Resolver, scanSvc *scanner.Scanner, hub *ws.Hub, limiter RateLimiter, serviceToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		gate:      gateSvc,
		incidents: incidentSvc,
		resolver:  resolver,
		scanner:   scanSvc,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		serviceToken: strings.TrimSpace(serviceToken),
		dbHealth:     dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	// The check endpoint is the hot send path: token-gated but never
	// rate-limited, since throttling it would throttle legitimate sends.
	r.mux.HandleFunc("/v1/outbound/check", r.audit(r.handleCheck))
	r.mux.HandleFunc("/v1/scan/run", r.audit(r.withRateLimit("scan_run", rateLimitScanRun, rateWindowDefault, r.handleScanRun)))
	r.mux.HandleFunc("/v1/incidents", r.audit(r.withRateLimit("incidents", rateLimitAdminRead, rateWindowDefault, r.handleIncidents)))
	r.mux.HandleFunc("/v1/incidents/", r.audit(r.withRateLimit("incident", rateLimitAdminRead, rateWindowDefault, r.handleIncidentByID)))
	r.mux.HandleFunc("/v1/tenants/", r.audit(r.withRateLimit("tenant_config", rateLimitAdminRead, rateWindowDefault, r.handleTenantSubroutes)))
	r.mux.HandleFunc("/ws/incidents", r.audit(r.withRateLimit("incidents_ws", rateLimitWebsocket, rateWindowRealtime, r.handleIncidentsWS)))
}

func (r *Router) handleCheck(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyServiceToken(w, req) {
		return
	}
	var payload gate.CheckRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.TenantID) == "" || strings.TrimSpace(payload.ToNumber) == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and to_number are required")
		return
	}
	decision := r.gate.Check(req.Context(), payload)
	r.recordCheck(decision.IsBurst, decision.ShouldBlock, decision.Confidence)
	writeJSON(w, http.StatusOK, decision)
}

func (r *Router) handleScanRun(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyServiceToken(w, req) {
		return
	}
	report := r.scanner.RunScan(req.Context())
	r.recordScan(report.NewIncidents, report.AutoResolved, report.Errors)
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleIncidents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyServiceToken(w, req) {
		return
	}
	query := req.URL.Query()
	filter := domain.IncidentFilter{
		TenantID: strings.TrimSpace(query.Get("tenant_id")),
		Status:   strings.TrimSpace(query.Get("status")),
		Severity: strings.TrimSpace(query.Get("severity")),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	incidents, err := r.incidents.List(req.Context(), filter)
	if err != nil {
		r.logger.Error("incident listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": toIncidentViews(incidents)})
}

func (r *Router) handleIncidentByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyServiceToken(w, req) {
		return
	}
	id := strings.TrimPrefix(req.URL.Path, "/v1/incidents/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	found, err := r.incidents.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("incident lookup failed", "incident_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	writeJSON(w, http.StatusOK, toIncidentView(*found))
}

func (r *Router) handleTenantSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/tenants/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "burst-config" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyServiceToken(w, req) {
		return
	}
	cfg := r.resolver.Resolve(req.Context(), parts[0])
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

func (r *Router) handleIncidentsWS(w http.ResponseWriter, req *http.Request) {
	if !r.verifyServiceToken(w, req) {
		return
	}
	tenantID := req.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(tenantID, client)
	go func() {
		defer func() {
			r.hub.Unregister(tenantID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// verifyServiceToken ensures callers present the configured service secret.
func (r *Router) verifyServiceToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.serviceToken
	if expected == "" {
		r.logger.Error("service token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "service authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Service-Token"))
	if token == "" {
		token = strings.TrimSpace(req.URL.Query().Get("service_token"))
	}
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("service token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid service token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
