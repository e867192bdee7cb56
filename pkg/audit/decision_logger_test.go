package audit

import (
	"context"
	"testing"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

func newTestLogger(t *testing.T) *DecisionLogger {
	t.Helper()
	logger := logx.NewLogger("error", "test")
	return NewDecisionLogger(logger, 100, t.TempDir())
}

func TestLogDecisionRoundTrips(t *testing.T) {
	dl := newTestLogger(t)
	id := NewDecisionID()
	if id == "" {
		t.Fatal("expected a non-empty decision ID")
	}

	record := &DecisionRecord{
		Timestamp:    time.Now(),
		DecisionID:   id,
		DecisionType: "publish",
		Slot:         0,
		Apn:          pkg.ApnIMS,
		Trigger:      "EventTelephonyInfoChanged",
		ToNetworks:   []pkg.AccessNetworkKind{pkg.AccessNetworkEUTRAN},
		Success:      true,
	}
	if err := dl.LogDecision(context.Background(), record); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}

	if got := dl.GetDecisionByID(id); got == nil || got.DecisionID != id {
		t.Fatalf("expected GetDecisionByID to find the logged record, got %+v", got)
	}
	if got := dl.GetRecordCount(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestGetRecentDecisionsFiltersByTime(t *testing.T) {
	dl := newTestLogger(t)
	old := &DecisionRecord{
		Timestamp:    time.Now().Add(-2 * time.Hour),
		DecisionID:   NewDecisionID(),
		DecisionType: "fallback",
		Apn:          pkg.ApnMMS,
	}
	recent := &DecisionRecord{
		Timestamp:    time.Now(),
		DecisionID:   NewDecisionID(),
		DecisionType: "fallback",
		Apn:          pkg.ApnMMS,
	}
	dl.LogDecision(context.Background(), old)
	dl.LogDecision(context.Background(), recent)

	got := dl.GetRecentDecisions(time.Now().Add(-1*time.Hour), 10)
	if len(got) != 1 || got[0].DecisionID != recent.DecisionID {
		t.Fatalf("expected only the recent record, got %+v", got)
	}
}

func TestGetDecisionsByTypeFilters(t *testing.T) {
	dl := newTestLogger(t)
	dl.LogDecision(context.Background(), &DecisionRecord{
		Timestamp: time.Now(), DecisionID: NewDecisionID(), DecisionType: "handover", Apn: pkg.ApnIMS,
	})
	dl.LogDecision(context.Background(), &DecisionRecord{
		Timestamp: time.Now(), DecisionID: NewDecisionID(), DecisionType: "fallback", Apn: pkg.ApnIMS,
	})

	got := dl.GetDecisionsByType("handover", 10)
	if len(got) != 1 || got[0].DecisionType != "handover" {
		t.Fatalf("expected only handover records, got %+v", got)
	}
}

func TestDisableSuppressesLogging(t *testing.T) {
	dl := newTestLogger(t)
	dl.Disable()
	if dl.IsEnabled() {
		t.Fatal("expected IsEnabled to be false after Disable")
	}
	dl.LogDecision(context.Background(), &DecisionRecord{
		Timestamp: time.Now(), DecisionID: NewDecisionID(), DecisionType: "publish", Apn: pkg.ApnIMS,
	})
	if got := dl.GetRecordCount(); got != 0 {
		t.Fatalf("expected 0 records while disabled, got %d", got)
	}
}

func TestGetDecisionStatsAggregates(t *testing.T) {
	dl := newTestLogger(t)
	dl.LogDecision(context.Background(), &DecisionRecord{
		Timestamp: time.Now(), DecisionID: NewDecisionID(), DecisionType: "handover",
		Apn: pkg.ApnIMS, Success: true, ExecutionTime: 10 * time.Millisecond,
	})
	dl.LogDecision(context.Background(), &DecisionRecord{
		Timestamp: time.Now(), DecisionID: NewDecisionID(), DecisionType: "handover",
		Apn: pkg.ApnIMS, Success: false, ExecutionTime: 30 * time.Millisecond,
	})

	stats := dl.GetDecisionStats(time.Now().Add(-1 * time.Hour))
	if stats.TotalDecisions != 2 || stats.SuccessfulDecisions != 1 || stats.FailedDecisions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.DecisionTypes["handover"] != 2 {
		t.Fatalf("expected 2 handover decisions in stats, got %+v", stats.DecisionTypes)
	}
}

func TestClearResetsRecords(t *testing.T) {
	dl := newTestLogger(t)
	dl.LogDecision(context.Background(), &DecisionRecord{
		Timestamp: time.Now(), DecisionID: NewDecisionID(), DecisionType: "publish", Apn: pkg.ApnIMS,
	})
	dl.Clear()
	if got := dl.GetRecordCount(); got != 0 {
		t.Fatalf("expected 0 records after Clear, got %d", got)
	}
}
