package lotus

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// diagServer exposes the nucleus diagnostic snapshot and bus history over
// HTTP when diagnostics.addr is configured. Read-only; it is an operator
// surface, not a module API.
type diagServer struct {
	nucleus *Nucleus
	logger  Logger
	server  *http.Server
}

func newDiagServer(addr string, nucleus *Nucleus, logger Logger) *diagServer {
	d := &diagServer{nucleus: nucleus, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", d.handleStatus)
	r.Get("/modules", d.handleModules)
	r.Get("/history/{channel}", d.handleHistory)
	r.Get("/audit", d.handleAudit)

	d.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Start serves in the background. A listen failure is logged; diagnostics
// are never load-bearing for boot.
func (d *diagServer) Start() {
	go func() {
		d.logger.Info("Diagnostics endpoint listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("Diagnostics endpoint failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (d *diagServer) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Debug("Diagnostics endpoint shutdown error", "error", err)
	}
}

func (d *diagServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.nucleus.Status())
}

func (d *diagServer) handleModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.nucleus.Status().Modules)
}

func (d *diagServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	count := queryCount(r, 50)
	since := queryTime(r, "since")
	until := queryTime(r, "until")
	if !since.IsZero() || !until.IsZero() {
		writeJSON(w, d.nucleus.Bus().HistoryRange(channel, since, until, count))
		return
	}
	writeJSON(w, d.nucleus.Bus().History(channel, count))
}

func (d *diagServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	count := queryCount(r, 100)
	writeJSON(w, d.nucleus.Bus().AuditTrail(count))
}

func queryCount(r *http.Request, def int) int {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return def
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count <= 0 {
		return def
	}
	return count
}

// queryTime parses an RFC3339 query parameter, zero when absent or
// malformed.
func queryTime(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
