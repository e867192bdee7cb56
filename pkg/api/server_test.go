package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/audit"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/telem"
)

type fakeDumper struct {
	snapshot pkg.DumpSnapshot
}

func (f fakeDumper) Dump() pkg.DumpSnapshot { return f.snapshot }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logx.NewLogger("error", "test")
	store, err := telem.NewStore(24, 16, filepath.Join(t.TempDir(), "telem.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dl := audit.NewDecisionLogger(logger, 100, t.TempDir())
	return NewServer(&Config{Enabled: true, Host: "localhost", Port: 0, ReadOnly: true}, store, dl, logger)
}

func TestHandleDumpReturnsRegisteredEvaluator(t *testing.T) {
	s := newTestServer(t)
	s.RegisterEvaluator(0, pkg.ApnIMS, fakeDumper{snapshot: pkg.DumpSnapshot{Slot: 0, Apn: pkg.ApnIMS}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dump/0/IMS", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap pkg.DumpSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Apn != pkg.ApnIMS {
		t.Fatalf("expected IMS apn in response, got %v", snap.Apn)
	}
}

func TestHandleDumpUnknownEvaluatorReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dump/0/IMS", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered evaluator, got %d", rec.Code)
	}
}

func TestHandleDumpInvalidApnReturns400(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dump/0/BOGUS", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid apn, got %d", rec.Code)
	}
}

func TestHandleDecisionsEmptyWhenLoggerDisabled(t *testing.T) {
	s := newTestServer(t)
	s.decisions = nil

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var records []*audit.DecisionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestHandleDecisionsReturnsLoggedDecision(t *testing.T) {
	s := newTestServer(t)
	s.decisions.LogDecision(context.Background(), &audit.DecisionRecord{
		Timestamp: time.Now(), DecisionID: audit.NewDecisionID(), DecisionType: "publish", Apn: pkg.ApnIMS,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions?since="+time.Now().Add(-time.Hour).Format(time.RFC3339), nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var records []*audit.DecisionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(records))
	}
}

func TestHandleRootCauseUnavailableWithoutAnalyzer(t *testing.T) {
	s := newTestServer(t)
	s.decisions.LogDecision(context.Background(), &audit.DecisionRecord{
		Timestamp: time.Now(), DecisionID: "d1", DecisionType: "publish", Apn: pkg.ApnIMS,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/d1/rootcause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without an analyzer wired, got %d", rec.Code)
	}
}

func TestHandleRootCauseReturnsAnalysisForKnownDecision(t *testing.T) {
	s := newTestServer(t)
	logger := logx.NewLogger("error", "test")
	s.SetAnalyzers(audit.NewRootCauseAnalyzer(logger), audit.NewPatternAnalyzer(logger))
	s.decisions.LogDecision(context.Background(), &audit.DecisionRecord{
		Timestamp: time.Now(), DecisionID: "d1", DecisionType: "handover", Apn: pkg.ApnIMS,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/d1/rootcause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rc audit.RootCause
	if err := json.Unmarshal(rec.Body.Bytes(), &rc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestHandleRootCauseUnknownDecisionReturns404(t *testing.T) {
	s := newTestServer(t)
	logger := logx.NewLogger("error", "test")
	s.SetAnalyzers(audit.NewRootCauseAnalyzer(logger), audit.NewPatternAnalyzer(logger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/missing/rootcause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown decision, got %d", rec.Code)
	}
}

func TestHandlePatternsEmptyWithoutAnalyzer(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var patterns []*audit.Pattern
	if err := json.Unmarshal(rec.Body.Bytes(), &patterns); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns without an analyzer wired, got %d", len(patterns))
	}
}

func TestHandleInfoReportsEvaluatorCount(t *testing.T) {
	s := newTestServer(t)
	s.RegisterEvaluator(0, pkg.ApnIMS, fakeDumper{})
	s.RegisterEvaluator(1, pkg.ApnEmergency, fakeDumper{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/info", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(info["evaluator_count"].(float64)) != 2 {
		t.Fatalf("expected evaluator_count=2, got %+v", info["evaluator_count"])
	}
}
