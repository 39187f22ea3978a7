package diag

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"snapblaster-core/internal/model"
	"snapblaster-core/internal/monitor"
)

// Check is one named health check result, same shape as the teacher's
// health_core.go Check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus mirrors the teacher's HealthStatus envelope.
type HealthStatus struct {
	Timestamp time.Time        `json:"timestamp"`
	Status    string           `json:"status"`
	Checks    map[string]Check `json:"checks"`
}

// Server exposes /healthz, /healthz/ready, /healthz/live, /api/status, the
// websocket diagnostics feed, a minimal dashboard page, and /metrics for
// Prometheus scraping. Grounded on the teacher's HealthServer
// (internal/engine/health_core.go, health_handlers.go) and static.go's
// dashboard rendering, rehomed from indexer sync status to engine state.
type Server struct {
	model   *model.Model
	ticks   *monitor.MorphTickWatcher
	hub     *ThrottledHub
	logger  *slog.Logger
	appTitle string
}

func NewServer(m *model.Model, ticks *monitor.MorphTickWatcher, hub *ThrottledHub, appTitle string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{model: m, ticks: ticks, hub: hub, appTitle: appTitle, logger: logger}
}

// Mux builds the HTTP route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Healthz)
	mux.HandleFunc("/healthz/ready", s.Ready)
	mux.HandleFunc("/healthz/live", s.Live)
	mux.HandleFunc("/api/status", s.Status)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/", s.Dashboard)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Status returns a snapshot of engine state for dashboard polling.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	snap := s.model.Snapshot()

	status := map[string]interface{}{
		"current_bank":    snap.CurrentBank,
		"current_snap":    snap.CurrentSnap,
		"active_modifier": snap.ActiveModifier,
		"has_active_morph": snap.ActiveMorph != nil,
		"parameter_count": len(snap.Parameters),
		"bank_count":      len(snap.Banks),
		"morph_tick_rate": s.ticks.Rate.Rate(),
		"timestamp":       time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed_to_encode_status", "err", err)
	}
}

// Healthz reports overall health; the model check is the only check it runs.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Timestamp: time.Now(),
		Checks:    make(map[string]Check),
	}

	allHealthy := true

	modelCheck := s.checkModel()
	status.Checks["model"] = modelCheck
	if modelCheck.Status != "healthy" {
		allHealthy = false
	}

	if allHealthy {
		status.Status = "healthy"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed_to_encode_healthz", "err", err)
	}
}

func (s *Server) checkModel() Check {
	snap := s.model.Snapshot()
	if snap.CurrentBank < 0 || snap.CurrentBank >= model.MaxBanks {
		return Check{Status: "unhealthy", Message: "current bank out of range"}
	}
	return Check{Status: "healthy"}
}

// Ready reports whether the engine is ready to route input.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	check := s.checkModel()
	if check.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "not_ready", "check": check})
}

// Live reports process liveness unconditionally.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

const dashboardTemplate = `<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Bank <span id="bank">-</span> / Snap <span id="snap">-</span></p>
<pre id="log"></pre>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
const log = document.getElementById("log");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  if (ev.type === "bank_selected") document.getElementById("bank").textContent = ev.data.BankID;
  if (ev.type === "snap_selected") document.getElementById("snap").textContent = ev.data.SnapID;
  log.textContent = ev.type + " " + JSON.stringify(ev.data) + "\n" + log.textContent;
};
</script>
</body>
</html>`

// Dashboard renders a minimal live status page. Unlike the teacher's
// static.go, there are no embedded HTML/CSS assets in this tree, so the
// template is inline rather than go:embed'd.
func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.New("dashboard").Parse(dashboardTemplate)
	if err != nil {
		http.Error(w, "template parse error", http.StatusInternalServerError)
		return
	}
	title := s.appTitle
	if title == "" {
		title = "Snapblaster Core"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, struct{ Title string }{Title: title}); err != nil {
		s.logger.Error("failed_to_render_dashboard", "err", err)
	}
}
