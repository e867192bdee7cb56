package audit

import (
	"testing"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

func newTestAnalyzer(t *testing.T) *RootCauseAnalyzer {
	t.Helper()
	return NewRootCauseAnalyzer(logx.NewLogger("error", "test"))
}

func TestAnalyzeRootCauseNilRecord(t *testing.T) {
	rca := newTestAnalyzer(t)
	if got := rca.AnalyzeRootCause(nil, nil); got != nil {
		t.Fatalf("expected nil for a nil record, got %+v", got)
	}
}

func TestAnalyzeFallbackRootCauseUsesTrigger(t *testing.T) {
	rca := newTestAnalyzer(t)
	restriction := pkg.RestrictNonPreferredTransport
	record := &DecisionRecord{
		DecisionID:   "d1",
		DecisionType: "fallback",
		Trigger:      "EventRestrictInfoChanged",
		Restriction:  &restriction,
	}

	rc := rca.AnalyzeRootCause(record, nil)
	if rc == nil {
		t.Fatal("expected a non-nil root cause")
	}
	if rc.Category != "restriction" {
		t.Fatalf("expected category 'restriction', got %q", rc.Category)
	}
	if rc.Impact != "high" {
		t.Fatalf("expected high impact for a restriction-driven fallback, got %q", rc.Impact)
	}
}

func TestAnalyzeHandoverRootCauseRecordsNetworkChange(t *testing.T) {
	rca := newTestAnalyzer(t)
	record := &DecisionRecord{
		DecisionID:   "d2",
		DecisionType: "handover",
		FromNetworks: []pkg.AccessNetworkKind{pkg.AccessNetworkIWLAN},
		ToNetworks:   []pkg.AccessNetworkKind{pkg.AccessNetworkEUTRAN},
	}

	rc := rca.AnalyzeRootCause(record, nil)
	if rc.Category != "handover" {
		t.Fatalf("expected category 'handover', got %q", rc.Category)
	}
	found := false
	for _, e := range rc.Evidence {
		if e == "access network changed IWLAN -> EUTRAN" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected evidence describing the network transition, got %+v", rc.Evidence)
	}
}

func TestGetRootCauseStatsAggregatesAcrossRecords(t *testing.T) {
	rca := newTestAnalyzer(t)
	records := []*DecisionRecord{
		{DecisionID: "a", DecisionType: "restrict_armed"},
		{DecisionID: "b", DecisionType: "restrict_released"},
	}
	stats := rca.GetRootCauseStats(records)
	if stats["total_analyzed"] != 2 {
		t.Fatalf("expected total_analyzed=2, got %+v", stats["total_analyzed"])
	}
	if stats["valid_root_causes"] != 2 {
		t.Fatalf("expected valid_root_causes=2, got %+v", stats["valid_root_causes"])
	}
}

func TestAnalyzePatternsRequiresMinimumRecords(t *testing.T) {
	pa := NewPatternAnalyzer(logx.NewLogger("error", "test"))
	records := []*DecisionRecord{
		{DecisionID: "a", Timestamp: time.Now()},
		{DecisionID: "b", Timestamp: time.Now()},
	}
	if got := pa.AnalyzePatterns(records, time.Hour); got != nil {
		t.Fatalf("expected no patterns with fewer than 3 records, got %+v", got)
	}
}

func TestAnalyzePatternsDetectsCyclicDecisions(t *testing.T) {
	pa := NewPatternAnalyzer(logx.NewLogger("error", "test"))
	base := time.Now().Add(-1 * time.Hour)
	var records []*DecisionRecord
	for i := 0; i < 6; i++ {
		records = append(records, &DecisionRecord{
			DecisionID:   "r",
			DecisionType: "fallback",
			Timestamp:    base.Add(time.Duration(i) * 10 * time.Minute),
		})
	}

	patterns := pa.AnalyzePatterns(records, time.Hour)
	foundCyclic := false
	for _, p := range patterns {
		if p.Type == PatternTypeCyclic {
			foundCyclic = true
		}
	}
	if !foundCyclic {
		t.Fatalf("expected a cyclic pattern for evenly-spaced fallback decisions, got %+v", patterns)
	}
}
