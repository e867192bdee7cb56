package main

import (
	"testing"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/policy"
	"github.com/qns-project/qns-core/pkg/signalmon"
)

func TestParseCallType(t *testing.T) {
	cases := map[string]pkg.CallType{
		"VOICE":     pkg.CallVoice,
		"VIDEO":     pkg.CallVideo,
		"EMERGENCY": pkg.CallEmergency,
		"IDLE":      pkg.CallIdle,
		"":          pkg.CallIdle,
		"BOGUS":     pkg.CallIdle,
	}
	for in, want := range cases {
		if got := parseCallType(in); got != want {
			t.Errorf("parseCallType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRefreshThresholdsRoutesWiFiTagsToWiFiMonitorOnly(t *testing.T) {
	logger := logx.NewLogger("error", "test")
	def, err := policy.NewCarrierConfig("default", map[string]string{}, map[string]string{})
	if err != nil {
		t.Fatalf("NewCarrierConfig: %v", err)
	}

	sp := &slotPipeline{
		slot:        0,
		wifiMonitor: signalmon.NewMonitor(logger),
		cellMonitor: signalmon.NewMonitor(logger),
		store:       policy.NewStore(logger, def),
	}

	var wifiFired, cellFired bool
	sp.wifiMonitor.RegisterListener(signalmon.ListenerFunc(func(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing) {
		wifiFired = true
	}), pkg.ApnIMS, sp.slot)
	sp.cellMonitor.RegisterListener(signalmon.ListenerFunc(func(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing) {
		cellFired = true
	}), pkg.ApnIMS, sp.slot)

	d := &Daemon{logger: logger}
	d.refreshThresholds(nil, sp, pkg.CallIdle)

	// WIFI_GOOD resolves against (IWLAN, RSSI); feeding that measurement
	// should only ever cross a threshold registered with the Wi-Fi monitor.
	key := pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkIWLAN, Measurement: pkg.MeasurementRSSI}
	sp.wifiMonitor.UpdateMeasurement(key, -40)
	sp.cellMonitor.UpdateMeasurement(key, -40)

	if !wifiFired {
		t.Error("expected the Wi-Fi monitor to fire a crossing for a WIFI_GOOD threshold it was registered with")
	}
	if cellFired {
		t.Error("expected the cellular monitor, which was never given an IWLAN/RSSI threshold, not to fire")
	}
}

func TestRefreshThresholdsRegistersForEveryAPN(t *testing.T) {
	logger := logx.NewLogger("error", "test")
	def, err := policy.NewCarrierConfig("default", map[string]string{}, map[string]string{})
	if err != nil {
		t.Fatalf("NewCarrierConfig: %v", err)
	}

	sp := &slotPipeline{
		slot:        1,
		wifiMonitor: signalmon.NewMonitor(logger),
		cellMonitor: signalmon.NewMonitor(logger),
		store:       policy.NewStore(logger, def),
	}

	fired := make(map[pkg.ApnKind]bool)
	for _, apn := range apnSet {
		apn := apn
		sp.cellMonitor.RegisterListener(signalmon.ListenerFunc(func(_ pkg.ApnKind, _ int, _ pkg.ThresholdCrossing) {
			fired[apn] = true
		}), apn, sp.slot)
	}

	d := &Daemon{logger: logger}
	d.refreshThresholds(nil, sp, pkg.CallIdle)

	key := pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP}
	sp.cellMonitor.UpdateMeasurement(key, -80)

	for _, apn := range apnSet {
		if !fired[apn] {
			t.Errorf("expected refreshThresholds to have registered EUTRAN/RSRP thresholds for apn %v", apn)
		}
	}
}
