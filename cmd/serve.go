package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/compresr/web-performance-monitor/internal/config"
	"github.com/compresr/web-performance-monitor/internal/monitor"
)

// maxDemoDelay caps the ?delay= parameter of the demo endpoints.
const maxDemoDelay = 30 * time.Second

// runServe starts the demo server: instrumented /api routes plus admin and
// metrics endpoints.
func runServe(args []string) {
	var port int
	cfg, source, debug, err := loadConfig("serve", args, func(fs *flag.FlagSet) {
		fs.IntVar(&port, "port", 0, "override server.port")
	})
	if err != nil {
		setupLogging(config.LoggingConfig{Format: "console"}, debug)
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	logger := setupLogging(cfg.Logging, debug)

	log.Info().
		Str("version", Version).
		Str("config", source).
		Msg("perfmon starting")

	mon, err := monitor.New(cfg, monitor.WithLogger(logger), monitor.WithVersion(Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create monitor")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(cfg, mon),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	if err := mon.Cleanup(); err != nil {
		log.Error().Err(err).Msg("monitor cleanup error")
	}
	log.Info().Msg("perfmon stopped")
}

// newRouter wires the demo, admin, metrics and websocket routes.
func newRouter(cfg *config.Config, mon *monitor.Monitor) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "monitoring": mon.IsMonitoringEnabled()})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(mon.MiddlewareFunc(
		monitor.WithEndpointResolver(routeTemplate),
		monitor.WithParamsExtractor(routeParams),
	))
	api.HandleFunc("/fast", handleFast).Methods(http.MethodGet)
	api.HandleFunc("/slow", handleSlow).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}", handleItem).Methods(http.MethodGet)
	api.HandleFunc("/compute", handleCompute(mon)).Methods(http.MethodGet)
	api.HandleFunc("/fail", handleFail).Methods(http.MethodGet)

	admin := &adminHandlers{mon: mon}
	ad := router.PathPrefix("/admin").Subrouter()
	ad.HandleFunc("/stats", admin.stats).Methods(http.MethodGet)
	ad.HandleFunc("/alerts", admin.alerts).Methods(http.MethodGet)
	ad.HandleFunc("/test", admin.test).Methods(http.MethodPost)
	ad.HandleFunc("/enable", admin.enable).Methods(http.MethodPost)
	ad.HandleFunc("/disable", admin.disable).Methods(http.MethodPost)
	ad.HandleFunc("/reset-stats", admin.resetStats).Methods(http.MethodPost)
	ad.HandleFunc("/clear-alerts", admin.clearAlerts).Methods(http.MethodPost)

	if metrics := mon.Metrics(); metrics != nil {
		router.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}
	if hub := mon.WebSocketHub(); hub != nil && hub.Enabled() {
		router.Handle(hub.Path(), hub)
	}
	return router
}

// routeTemplate names a request by its mux route template, e.g. /api/items/{id}.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return ""
}

// routeParams merges path variables into the query params.
func routeParams(r *http.Request) map[string]any {
	params := monitor.QueryParams(r)
	vars := mux.Vars(r)
	if len(vars) == 0 {
		return params
	}
	if params == nil {
		params = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		params[k] = v
	}
	return params
}

// demoDelay reads ?delay= in seconds, capped at maxDemoDelay.
func demoDelay(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("delay")
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid delay %q", raw)
	}
	return min(time.Duration(secs*float64(time.Second)), maxDemoDelay), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func handleFast(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "fast response"})
}

func handleSlow(w http.ResponseWriter, r *http.Request) {
	delay, err := demoDelay(r, 1500*time.Millisecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sleepCtx(r.Context(), delay); err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "slow response", "delay_seconds": delay.Seconds()})
}

func handleItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// Odd-looking ids take the slow path so fingerprints differ per id.
	if n, err := strconv.Atoi(id); err == nil && n%2 == 1 {
		_ = sleepCtx(r.Context(), time.Duration(800+rand.IntN(800))*time.Millisecond)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

// handleCompute shows Measure wrapping a unit of work inside a request.
func handleCompute(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("n"))
		if err != nil || n <= 0 {
			n = 35
		}
		n = min(n, 40)
		result, err := monitor.MeasureValue(r.Context(), mon, "demo.fibonacci", map[string]any{"n": n}, func() (int, error) {
			return fibonacci(n), nil
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"n": n, "result": result})
	}
}

func fibonacci(n int) int {
	if n < 2 {
		return n
	}
	return fibonacci(n-1) + fibonacci(n-2)
}

func handleFail(w http.ResponseWriter, r *http.Request) {
	delay, err := demoDelay(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_ = sleepCtx(r.Context(), delay)
	writeError(w, http.StatusInternalServerError, errors.New("simulated failure"))
}

type adminHandlers struct {
	mon *monitor.Monitor
}

func (a *adminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.Stats())
}

func (a *adminHandlers) alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.AlertStats(r.Context()))
}

func (a *adminHandlers) test(w http.ResponseWriter, r *http.Request) {
	res := a.mon.TestAlertSystem(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (a *adminHandlers) enable(w http.ResponseWriter, r *http.Request) {
	a.mon.EnableMonitoring()
	writeJSON(w, http.StatusOK, map[string]any{"monitoring_enabled": a.mon.IsMonitoringEnabled()})
}

func (a *adminHandlers) disable(w http.ResponseWriter, r *http.Request) {
	a.mon.DisableMonitoring()
	writeJSON(w, http.StatusOK, map[string]any{"monitoring_enabled": a.mon.IsMonitoringEnabled()})
}

func (a *adminHandlers) resetStats(w http.ResponseWriter, r *http.Request) {
	a.mon.ResetStats()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *adminHandlers) clearAlerts(w http.ResponseWriter, r *http.Request) {
	a.mon.ClearAlerts(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
