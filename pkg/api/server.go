// Package api provides a small read-only HTTP+WebSocket diagnostic surface
// over the running Evaluator set: dump snapshots, decision history, a live
// decision stream, and on-demand root-cause/pattern analysis over the
// decision log. There is no control surface here — no endpoint mutates
// evaluator state — diagnosis only.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/audit"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/telem"
)

// Dumper is satisfied by an evaluator.Evaluator; kept as an interface so
// this package never imports evaluator and can be unit tested with fakes.
type Dumper interface {
	Dump() pkg.DumpSnapshot
}

type evaluatorKey struct {
	slot int
	apn  pkg.ApnKind
}

// Config holds diagnostic-server configuration.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	ReadOnly bool // always true; retained for config-surface symmetry with the teacher
}

// Server is the read-only diagnostic HTTP+WS server.
type Server struct {
	config    *Config
	logger    *logx.Logger
	telemetry *telem.Store
	decisions *audit.DecisionLogger
	startTime time.Time

	evaluators map[evaluatorKey]Dumper

	rootCause *audit.RootCauseAnalyzer
	patterns  *audit.PatternAnalyzer

	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]bool
}

// NewServer creates a diagnostic server with no evaluators registered.
// Evaluators are added with RegisterEvaluator, keyed by (slot, apn), so
// dump requests can be routed without this package depending on the
// evaluator package.
func NewServer(config *Config, telemetry *telem.Store, decisions *audit.DecisionLogger, logger *logx.Logger) *Server {
	if config == nil {
		config = &Config{Enabled: false, Host: "localhost", Port: 9125, ReadOnly: true}
	}
	return &Server{
		config:     config,
		logger:     logger,
		telemetry:  telemetry,
		decisions:  decisions,
		startTime:  time.Now(),
		evaluators: make(map[evaluatorKey]Dumper),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:    make(map[*websocket.Conn]bool),
	}
}

// RegisterEvaluator makes an Evaluator's Dump() reachable at
// /api/v1/dump/{slot}/{apn}.
func (s *Server) RegisterEvaluator(slot int, apn pkg.ApnKind, d Dumper) {
	s.evaluators[evaluatorKey{slot, apn}] = d
}

// SetAnalyzers wires the root-cause and pattern analyzers that back
// /api/v1/decisions/{id}/rootcause and /api/v1/patterns. Both are optional;
// while unset, the root-cause route returns 404 and the patterns route
// returns an empty list.
func (s *Server) SetAnalyzers(rootCause *audit.RootCauseAnalyzer, patterns *audit.PatternAnalyzer) {
	s.rootCause = rootCause
	s.patterns = patterns
}

// Router builds the read-only route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/dump/{slot}/{apn}", s.handleDump).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/dumps", s.handleDumps).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/publishes/{slot}/{apn}", s.handlePublishes).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/decisions", s.handleDecisions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/decisions/{id}", s.handleDecisionByID).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/decisions/stats", s.handleDecisionStats).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/decisions/{id}/rootcause", s.handleRootCause).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/patterns", s.handlePatterns).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/ws", s.handleWebSocket)
	r.HandleFunc("/api/v1/info", s.handleInfo).Methods(http.MethodGet)
	return r
}

// ListenAndServe starts the HTTP server, blocking until it returns (e.g. on
// shutdown or error). It is a no-op returning nil if the server is disabled.
func (s *Server) ListenAndServe() error {
	if !s.config.Enabled {
		s.logger.Info("diagnostic API server disabled")
		return nil
	}
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	s.logger.Info("diagnostic API server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slot, apn, ok := parseSlotApn(vars["slot"], vars["apn"])
	if !ok {
		http.Error(w, "invalid slot or apn", http.StatusBadRequest)
		return
	}

	d, ok := s.evaluators[evaluatorKey{slot, apn}]
	if !ok {
		http.Error(w, "no evaluator for that (slot, apn)", http.StatusNotFound)
		return
	}

	writeJSON(w, d.Dump())
}

func (s *Server) handleDumps(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]pkg.DumpSnapshot, 0, len(s.evaluators))
	for _, d := range s.evaluators {
		snapshots = append(snapshots, d.Dump())
	}
	writeJSON(w, snapshots)
}

func (s *Server) handlePublishes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slot, apn, ok := parseSlotApn(vars["slot"], vars["apn"])
	if !ok {
		http.Error(w, "invalid slot or apn", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.telemetry.GetPublishes(slot, apn, sinceParam(r)))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.telemetry.GetEvents(sinceParam(r), limitParam(r)))
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeJSON(w, []*audit.DecisionRecord{})
		return
	}
	if dt := r.URL.Query().Get("decision_type"); dt != "" {
		writeJSON(w, s.decisions.GetDecisionsByType(dt, limitParam(r)))
		return
	}
	writeJSON(w, s.decisions.GetRecentDecisions(sinceParam(r), limitParam(r)))
}

func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		http.Error(w, "decision log disabled", http.StatusNotFound)
		return
	}
	record := s.decisions.GetDecisionByID(mux.Vars(r)["id"])
	if record == nil {
		http.Error(w, "decision not found", http.StatusNotFound)
		return
	}
	writeJSON(w, record)
}

func (s *Server) handleDecisionStats(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeJSON(w, map[string]interface{}{})
		return
	}
	writeJSON(w, s.decisions.GetDecisionStats(sinceParam(r)))
}

// handleRootCause analyzes why a specific decision happened, using the
// decisions immediately preceding it (same slot+apn) as context.
func (s *Server) handleRootCause(w http.ResponseWriter, r *http.Request) {
	if s.rootCause == nil || s.decisions == nil {
		http.Error(w, "root cause analysis unavailable", http.StatusNotFound)
		return
	}
	record := s.decisions.GetDecisionByID(mux.Vars(r)["id"])
	if record == nil {
		http.Error(w, "decision not found", http.StatusNotFound)
		return
	}
	related := s.decisions.GetRecentDecisions(record.Timestamp.Add(-time.Hour), 50)
	writeJSON(w, s.rootCause.AnalyzeRootCause(record, related))
}

// handlePatterns runs cyclic/trend/anomaly/spike detection over the
// decision history within the requested window (?since=, default 1h).
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if s.patterns == nil || s.decisions == nil {
		writeJSON(w, []*audit.Pattern{})
		return
	}
	since := sinceParam(r)
	records := s.decisions.GetRecentDecisions(since, limitParam(r))
	writeJSON(w, s.patterns.AnalyzePatterns(records, time.Since(since)))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"uptime_s":        time.Since(s.startTime).Seconds(),
		"evaluator_count": len(s.evaluators),
	})
}

// handleWebSocket streams every decision logged after the client connects.
// It never accepts inbound commands from the client — read-only in both
// directions except for protocol-level pings.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.clients[conn] = true
	defer delete(s.clients, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastDecision pushes a decision record to every connected WebSocket
// client. Called by the daemon's decision loop after each logged decision.
func (s *Server) BroadcastDecision(record *audit.DecisionRecord) {
	for conn := range s.clients {
		if err := conn.WriteJSON(record); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func sinceParam(r *http.Request) time.Time {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Now().Add(-time.Hour)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now().Add(-time.Hour)
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 100
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return 100
}

func parseSlotApn(slotStr, apnStr string) (int, pkg.ApnKind, bool) {
	slot, err := strconv.Atoi(slotStr)
	if err != nil {
		return 0, 0, false
	}
	for _, apn := range []pkg.ApnKind{pkg.ApnIMS, pkg.ApnEmergency, pkg.ApnMMS, pkg.ApnXCAP, pkg.ApnCBS} {
		if apn.String() == apnStr {
			return slot, apn, true
		}
	}
	return 0, 0, false
}
