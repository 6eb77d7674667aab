package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/amphora-finance/clvm/internal/cache"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/metrics"
	"github.com/amphora-finance/clvm/internal/params"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/state"
	"github.com/amphora-finance/clvm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// ErrInvalidServerConfig is returned when the server is constructed without
// its required collaborators.
var ErrInvalidServerConfig = errors.New("invalid web server configuration")

//go:embed static/*
var staticFiles embed.FS

//go:embed static/index.html
var dashboardHTML []byte

// VaultController is the live read/admin surface the server fronts. The
// orchestrator implements it; tests substitute stubs.
type VaultController interface {
	Status(ctx context.Context) (types.VaultStatus, error)
	Positions(ctx context.Context) ([]types.PositionRange, error)
	ConfigSnapshot() types.StrategyConfig
	ApplyConfig(ctx context.Context, cfg types.StrategyConfig) error
	EmergencyWithdraw(ctx context.Context, amount sdkmath.Int) (*types.TendReport, error)
}

// Config wires the web server to the rest of the system. StatusCache and
// Metrics are optional; ManagementToken gates config mutation when set.
type Config struct {
	Port            string
	Controller      VaultController
	StatusCache     *cache.StatusCache
	Metrics         *metrics.VaultMetrics
	ManagementToken string
}

// WebServer handles HTTP requests for vault data visualization and admin.
type WebServer struct {
	router          *mux.Router
	port            string
	controller      VaultController
	statusCache     *cache.StatusCache
	metrics         *metrics.VaultMetrics
	managementToken string
}

// NewWebServer creates a new web server instance.
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Controller == nil {
		return nil, errors.Join(ErrInvalidServerConfig, errors.New("controller is required"))
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	server := &WebServer{
		router:          mux.NewRouter(),
		port:            cfg.Port,
		controller:      cfg.Controller,
		statusCache:     cfg.StatusCache,
		metrics:         cfg.Metrics,
		managementToken: cfg.ManagementToken,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Static files
	staticHandler := http.FileServer(http.FS(staticFiles))
	ws.router.PathPrefix("/static/").Handler(http.StripPrefix("/", staticHandler))

	// Dashboard routes
	ws.router.HandleFunc("/", ws.handleDashboard).Methods("GET")
	ws.router.HandleFunc("/dashboard", ws.handleDashboard).Methods("GET")

	// Health and Prometheus endpoints (direct routes)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Path("/metrics").Handler(ws.metrics.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/status", ws.handleGetStatus).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/tends", ws.handleGetTends).Methods("GET")
	api.HandleFunc("/tends/latest", ws.handleGetLatestTend).Methods("GET")
	api.HandleFunc("/tends/{id}", ws.handleGetTend).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformanceMetrics).Methods("GET")
	api.HandleFunc("/config", ws.handleGetConfig).Methods("GET")
	api.Handle("/config", ws.requireManagementToken(http.HandlerFunc(ws.handleUpdateConfig))).Methods("PUT")
	api.Handle("/emergency/withdraw", ws.requireManagementToken(http.HandlerFunc(ws.handleEmergencyWithdraw))).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var hasErrors bool

	// Latest tend, if the database holds any.
	tendInfo := map[string]interface{}{
		"tend_number":    0,
		"last_tend_time": nil,
		"last_action":    "unknown",
	}
	if recent, err := state.GetRecentTends(1); err == nil && len(recent) > 0 {
		tendInfo = map[string]interface{}{
			"tend_number":    recent[0].TendNumber,
			"last_tend_time": recent[0].Timestamp,
			"last_action":    recent[0].Action,
		}
	}

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	cacheConfigured := ws.statusCache != nil
	cacheHealthy := ws.statusCache.Healthy(r.Context())
	if cacheConfigured && !cacheHealthy {
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "clvm-vault-adapter",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"cache_configured": cacheConfigured,
			"cache_healthy":    cacheHealthy,
			"tend_info":        tendInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleDashboard serves the main dashboard HTML
func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(dashboardHTML)
}

// handleGetStatus returns the current vault status. The cached snapshot is
// preferred when Redis holds a fresh one; otherwise the controller composes
// a live view.
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if status, err := ws.statusCache.Latest(r.Context()); err == nil {
		ws.writeJSONResponse(w, http.StatusOK, status)
		return
	}

	status, err := ws.controller.Status(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to compose vault status")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault status")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, status)
}

// handleGetPositions returns the manager's concentrated-liquidity ranges
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := ws.controller.Positions(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get positions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve positions")
		return
	}

	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetTends returns paginated tend history
func (ws *WebServer) handleGetTends(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	tends, err := state.GetRecentTends(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent tends")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve tends")
		return
	}

	response := map[string]interface{}{
		"tends": tends,
		"count": len(tends),
		"limit": limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetTend returns a specific tend by snapshot ID
func (ws *WebServer) handleGetTend(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid tend ID")
		return
	}

	tend, err := state.GetTendByID(id)
	if err != nil {
		webLogger.Error().Err(err).Int64("tendId", id).Msg("Failed to get tend")
		ws.writeErrorResponse(w, http.StatusNotFound, "Tend not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, tend)
}

// handleGetLatestTend returns the most recent tend
func (ws *WebServer) handleGetLatestTend(w http.ResponseWriter, r *http.Request) {
	tends, err := state.GetRecentTends(1)
	if err != nil || len(tends) == 0 {
		webLogger.Error().Err(err).Msg("Failed to get latest tend")
		ws.writeErrorResponse(w, http.StatusNotFound, "No tends found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, tends[0])
}

// handleGetVaultSummary returns vault summary statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetVaultSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get vault summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetPerformanceMetrics returns aggregated tend metrics
func (ws *WebServer) handleGetPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	perf, err := state.GetPerformanceMetrics()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get performance metrics")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve performance metrics")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, perf)
}

// handleGetConfig returns the active strategy configuration
func (ws *WebServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"config":    ws.controller.ConfigSnapshot(),
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleUpdateConfig applies a full strategy configuration. The body must be
// a complete StrategyConfig; integer amounts are decimal strings.
func (ws *WebServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.StrategyConfig
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := ws.controller.ApplyConfig(r.Context(), cfg); err != nil {
		if errors.Is(err, params.ErrInvalidParameter) {
			ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		webLogger.Error().Err(err).Msg("Failed to apply config")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to apply configuration")
		return
	}

	webLogger.Info().Msg("Strategy configuration updated via API")
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"config":    ws.controller.ConfigSnapshot(),
		"timestamp": time.Now().UTC(),
	})
}

// handleEmergencyWithdraw forces the deficit path. The body carries the
// amount as a decimal string; "max" (or an empty amount) drains everything.
func (ws *WebServer) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var amount sdkmath.Int
	switch body.Amount {
	case "", "max":
		amount = pricemath.MaxUint256
	default:
		parsed, ok := sdkmath.NewIntFromString(body.Amount)
		if !ok || !parsed.IsPositive() {
			ws.writeErrorResponse(w, http.StatusBadRequest, `Amount must be a positive decimal string or "max"`)
			return
		}
		amount = parsed
	}

	report, err := ws.controller.EmergencyWithdraw(r.Context(), amount)
	if err != nil {
		webLogger.Error().Err(err).Msg("Emergency withdraw failed")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Emergency withdraw failed: "+err.Error())
		return
	}

	webLogger.Warn().Str("amount", amount.String()).Msg("Emergency withdraw executed via API")
	ws.writeJSONResponse(w, http.StatusOK, report)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// requireManagementToken gates mutating routes behind a bearer token. When no
// token is configured, mutation is refused outright rather than left open.
func (ws *WebServer) requireManagementToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.managementToken == "" {
			ws.writeErrorResponse(w, http.StatusForbidden, "Management API is disabled: no management token configured")
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Missing authentication token")
			return
		}

		// Constant-time comparison to prevent timing attacks.
		if subtle.ConstantTimeCompare([]byte(token), []byte(ws.managementToken)) != 1 {
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken pulls the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
