package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qns-project/qns-core/pkg"
)

func TestRecordPublishSetsQualifiedNetworkGauges(t *testing.T) {
	r := NewRegistry()
	r.RecordPublish(0, pkg.ApnIMS, []pkg.AccessNetworkKind{pkg.AccessNetworkEUTRAN})

	if got := testutil.ToFloat64(r.qualifiedNetwork.WithLabelValues("0", "IMS", "EUTRAN")); got != 1 {
		t.Fatalf("expected EUTRAN qualified, got %v", got)
	}
	if got := testutil.ToFloat64(r.qualifiedNetwork.WithLabelValues("0", "IMS", "IWLAN")); got != 0 {
		t.Fatalf("expected IWLAN not qualified, got %v", got)
	}
	if got := testutil.ToFloat64(r.publishesTotal.WithLabelValues("0", "IMS")); got != 1 {
		t.Fatalf("expected 1 publish recorded, got %v", got)
	}
}

func TestRecordPublishClearsPreviouslyQualifiedNetwork(t *testing.T) {
	r := NewRegistry()
	r.RecordPublish(0, pkg.ApnIMS, []pkg.AccessNetworkKind{pkg.AccessNetworkIWLAN})
	r.RecordPublish(0, pkg.ApnIMS, []pkg.AccessNetworkKind{pkg.AccessNetworkEUTRAN})

	if got := testutil.ToFloat64(r.qualifiedNetwork.WithLabelValues("0", "IMS", "IWLAN")); got != 0 {
		t.Fatalf("expected IWLAN reset to 0 after re-publish, got %v", got)
	}
}

func TestRecordDecisionCountsErrors(t *testing.T) {
	r := NewRegistry()
	r.RecordDecision(0, pkg.ApnIMS, "handover", true)
	r.RecordDecision(0, pkg.ApnIMS, "handover", false)

	if got := testutil.ToFloat64(r.decisionsTotal.WithLabelValues("0", "IMS", "handover")); got != 2 {
		t.Fatalf("expected 2 decisions recorded, got %v", got)
	}
	if got := testutil.ToFloat64(r.decisionErrors.WithLabelValues("0", "IMS")); got != 1 {
		t.Fatalf("expected 1 decision error recorded, got %v", got)
	}
}

func TestSetRestrictionTogglesGauge(t *testing.T) {
	r := NewRegistry()
	r.SetRestriction(1, pkg.ApnIMS, pkg.TransportCellular, pkg.RestrictIWLANInCall, true)
	if got := testutil.ToFloat64(r.activeRestricts.WithLabelValues("1", "IMS", "CELLULAR", pkg.RestrictIWLANInCall.String())); got != 1 {
		t.Fatalf("expected restriction active, got %v", got)
	}

	r.SetRestriction(1, pkg.ApnIMS, pkg.TransportCellular, pkg.RestrictIWLANInCall, false)
	if got := testutil.ToFloat64(r.activeRestricts.WithLabelValues("1", "IMS", "CELLULAR", pkg.RestrictIWLANInCall.String())); got != 0 {
		t.Fatalf("expected restriction released, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordPolicyReload()

	rec := testutil.CollectAndCount(r.policyReloads)
	if rec != 1 {
		t.Fatalf("expected policyReloads to be collectable, got %d metrics", rec)
	}
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "qnsd_policy_reloads_total 1") {
		t.Fatalf("expected Handler to serve qnsd_policy_reloads_total 1, got:\n%s", rr.Body.String())
	}
}
