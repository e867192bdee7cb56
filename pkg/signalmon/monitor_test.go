package signalmon

import (
	"testing"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

type recordingListener struct {
	crossings []pkg.ThresholdCrossing
}

func (r *recordingListener) OnThresholdCrossed(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing) {
	r.crossings = append(r.crossings, crossing)
}

func TestUpdateMeasurementFiresOnEdgeOnly(t *testing.T) {
	m := NewMonitor(logx.NewLogger("error", "test"))
	listener := &recordingListener{}
	m.RegisterListener(listener, pkg.ApnIMS, 0)

	th := pkg.Threshold{AccessNetwork: pkg.AccessNetworkIWLAN, Measurement: pkg.MeasurementRSSI, Comparator: pkg.ComparatorGE, Value: -70}
	m.UpdateThresholds(pkg.ApnIMS, 0, []pkg.Threshold{th})

	m.UpdateMeasurement(th.Key(), -60) // satisfied: edge fires
	m.UpdateMeasurement(th.Key(), -55) // still satisfied: no new edge
	m.UpdateMeasurement(th.Key(), -80) // unsatisfied: edge fires

	if len(listener.crossings) != 2 {
		t.Fatalf("expected 2 edge-triggered crossings, got %d", len(listener.crossings))
	}
}

func TestDebounceDelaysFiring(t *testing.T) {
	m := NewMonitor(logx.NewLogger("error", "test"))
	listener := &recordingListener{}
	m.RegisterListener(listener, pkg.ApnIMS, 0)

	th := pkg.Threshold{AccessNetwork: pkg.AccessNetworkIWLAN, Measurement: pkg.MeasurementRSSI, Comparator: pkg.ComparatorGE, Value: -70, WaitTimeMS: 30}
	m.UpdateThresholds(pkg.ApnIMS, 0, []pkg.Threshold{th})

	m.UpdateMeasurement(th.Key(), -60)
	if len(listener.crossings) != 0 {
		t.Fatal("debounced crossing should not fire immediately")
	}

	time.Sleep(60 * time.Millisecond)
	if len(listener.crossings) != 1 {
		t.Fatalf("expected debounced crossing to fire after wait time, got %d", len(listener.crossings))
	}
}

func TestEmptyThresholdsUnregisters(t *testing.T) {
	m := NewMonitor(logx.NewLogger("error", "test"))
	listener := &recordingListener{}
	m.RegisterListener(listener, pkg.ApnIMS, 0)

	th := pkg.Threshold{AccessNetwork: pkg.AccessNetworkIWLAN, Measurement: pkg.MeasurementRSSI, Comparator: pkg.ComparatorGE, Value: -70}
	m.UpdateThresholds(pkg.ApnIMS, 0, []pkg.Threshold{th})
	m.UpdateThresholds(pkg.ApnIMS, 0, nil)

	m.UpdateMeasurement(th.Key(), -60)
	if len(listener.crossings) != 0 {
		t.Fatal("unregistered key should not fire")
	}
}

func TestFindUnmatched(t *testing.T) {
	m := NewMonitor(logx.NewLogger("error", "test"))
	good := pkg.Threshold{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP, Comparator: pkg.ComparatorGE, Value: -90}
	bad := pkg.Threshold{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP, Comparator: pkg.ComparatorLE, Value: -105}

	m.UpdateMeasurement(good.Key(), -95) // neither satisfied

	unmatched := m.FindUnmatched([]pkg.Threshold{good, bad})
	if len(unmatched) != 2 || unmatched[0].Comparator != pkg.ComparatorGE || unmatched[1].Comparator != pkg.ComparatorLE {
		t.Fatalf("expected both unmet thresholds unmatched, got %+v", unmatched)
	}
}

func TestReduceThresholdsDropsRedundantGroup(t *testing.T) {
	candidates := []pkg.Threshold{
		{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP, GroupID: 1},
		{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRQ, GroupID: 1},
		{AccessNetwork: pkg.AccessNetworkNGRAN, Measurement: pkg.MeasurementSSRSRP, GroupID: 2},
	}

	reduced := ReduceThresholds(candidates)

	groupIDs := make(map[int]bool)
	for _, t := range reduced {
		groupIDs[t.GroupID] = true
	}
	if !groupIDs[1] || !groupIDs[2] {
		t.Fatalf("reduction must preserve every group id's representation, got %+v", reduced)
	}
	if len(reduced) >= len(candidates) {
		t.Fatalf("expected a redundant threshold to be dropped, got %d of %d", len(reduced), len(candidates))
	}
}

func TestReduceThresholdsNeverDropsUngroupedThreshold(t *testing.T) {
	candidates := []pkg.Threshold{
		{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP, GroupID: -1},
		{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP, GroupID: -1},
	}
	reduced := ReduceThresholds(candidates)
	if len(reduced) != len(candidates) {
		t.Fatalf("group_id<0 thresholds must never be reduced, got %d of %d", len(reduced), len(candidates))
	}
}
