package evaluator

import (
	"testing"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/dataconn"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/policy"
	"github.com/qns-project/qns-core/pkg/restrictmgr"
	"github.com/qns-project/qns-core/pkg/signalmon"
)

type capturingPublisher struct {
	published []pkg.QualifiedNetworksChanged
}

func (c *capturingPublisher) Publish(q pkg.QualifiedNetworksChanged) {
	c.published = append(c.published, q)
}

func (c *capturingPublisher) last() pkg.QualifiedNetworksChanged {
	return c.published[len(c.published)-1]
}

func newTestEvaluator(t *testing.T, apn pkg.ApnKind, carrier map[string]string) (*Evaluator, *capturingPublisher) {
	t.Helper()
	logger := logx.NewLogger("error", "test")
	cc, err := policy.NewCarrierConfig("test", nil, carrier)
	if err != nil {
		t.Fatalf("NewCarrierConfig: %v", err)
	}
	store := policy.NewStore(logger, cc)
	pub := &capturingPublisher{}

	e := New(Config{
		Slot:        0,
		Apn:         apn,
		Logger:      logger,
		Store:       store,
		WiFiMonitor: signalmon.NewMonitor(logger),
		CellMonitor: signalmon.NewMonitor(logger),
		DataConn:    dataconn.NewTracker(),
		Restrict:    restrictmgr.NewManager(logger),
		Publisher:   pub,
	})
	return e, pub
}

func iwlanEvent(available, crossWFC bool) pkg.InboxEvent {
	return pkg.InboxEvent{
		Kind:              pkg.EventIwlanAvailabilityChanged,
		IwlanAvailability: &pkg.IwlanAvailability{Available: available, CrossWFC: crossWFC},
	}
}

func telephonyEvent(available bool, net pkg.AccessNetworkKind, coverage pkg.Coverage) pkg.InboxEvent {
	return pkg.InboxEvent{
		Kind: pkg.EventTelephonyInfoChanged,
		Telephony: &pkg.TelephonyInfo{
			CellularAvailable: available,
			DataRAT:           net,
			Coverage:          coverage,
		},
	}
}

func TestOnlyCellularAvailablePublishesCurrentNet(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(false, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	if len(pub.published) == 0 {
		t.Fatal("expected a publish once cellular becomes the only available transport")
	}
	if got := pub.last().AccessNetworks; len(got) != 1 || got[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("expected [EUTRAN], got %+v", got)
	}
}

func TestPublishNeverLeaksUnknown(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(false, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkUnknown, pkg.CoverageHome))

	for _, q := range pub.published {
		for _, n := range q.AccessNetworks {
			if n == pkg.AccessNetworkUnknown {
				t.Fatalf("P1 violated: published list contains UNKNOWN: %+v", q)
			}
		}
	}
}

func TestSimAbsentPublishesEmpty(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(false, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	simAbsent := true
	e.HandleSync(pkg.InboxEvent{Kind: pkg.EventSimAbsentChanged, BoolValue: &simAbsent})

	if got := pub.last().AccessNetworks; len(got) != 0 {
		t.Fatalf("expected an empty publish on SIM absent, got %+v", got)
	}
}

func TestPlatformWFCDisabledPublishesCellular(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(true, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	platformOn := true
	e.HandleSync(pkg.InboxEvent{Kind: pkg.EventPlatformWFCChanged, BoolValue: &platformOn})
	platformOff := false
	e.HandleSync(pkg.InboxEvent{Kind: pkg.EventPlatformWFCChanged, BoolValue: &platformOff})

	if got := pub.last().AccessNetworks; len(got) != 1 || got[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("platform-disabled WFC must force-publish cellular, got %+v", got)
	}
}

func TestEmergencyApnNoPublishWhileInactive(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnEmergency, nil)
	e.HandleSync(iwlanEvent(true, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	if len(pub.published) != 0 {
		t.Fatalf("EMERGENCY with an INACTIVE data connection must not publish via the normal pipeline, got %+v", pub.published)
	}
}

func TestEmergencyPreferredTransportPublishesImmediatelyWhileInactive(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnEmergency, nil)
	cellular := pkg.TransportCellular
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))
	e.HandleSync(pkg.InboxEvent{Kind: pkg.EventEmergencyPreferredTransportChanged, EmergencyPreferred: &cellular})

	if len(pub.published) == 0 {
		t.Fatal("expected an immediate publish on emergency-preferred-transport change while INACTIVE")
	}
	if got := pub.last().AccessNetworks; len(got) != 1 || got[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("expected [EUTRAN] (the preferred cellular RAT), got %+v", got)
	}
}

func TestOnlyWiFiAvailablePublishesIWLAN(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(true, false))
	e.HandleSync(telephonyEvent(false, pkg.AccessNetworkUnknown, pkg.CoverageHome))

	if got := pub.last().AccessNetworks; len(got) != 1 || got[0] != pkg.AccessNetworkIWLAN {
		t.Fatalf("expected [IWLAN] when only WiFi is available, got %+v", got)
	}
}

func TestCrossWFCWithCellularAvailableBlocksWiFiAvailability(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(true, true)) // cross_wfc = true
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	if got := pub.last().AccessNetworks; len(got) != 1 || got[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("cross-WFC with cellular available must fall back to cellular, got %+v", got)
	}
}

func TestOverrideIMSPreferenceSecondNetworkEntryAndExit(t *testing.T) {
	e, pub := newTestEvaluator(t, pkg.ApnIMS, map[string]string{
		"ims.override_ims_preference": "true",
	})
	e.HandleSync(iwlanEvent(true, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	cellPref := pkg.PreferenceCellPref
	e.HandleSync(pkg.InboxEvent{Kind: pkg.EventWFCModeChanged, Preference: &cellPref})

	last := pub.last().AccessNetworks
	if len(last) < 1 {
		t.Fatal("expected at least a primary network published")
	}

	wifiPref := pkg.PreferenceWiFiPref
	e.HandleSync(pkg.InboxEvent{Kind: pkg.EventWFCModeChanged, Preference: &wifiPref})

	afterExit := pub.last().AccessNetworks
	if len(afterExit) > 1 {
		t.Fatalf("expected the second IWLAN candidate dropped once preference left CELL_PREF, got %+v", afterExit)
	}
}

func TestVopsNeverGatesHandoverWhileIdle(t *testing.T) {
	e, _ := newTestEvaluator(t, pkg.ApnIMS, nil)
	unsupported := false
	e.vopsSupported = &unsupported
	e.callType = pkg.CallIdle

	if !e.vopsAllowsHandover(pkg.TransportCellular, pkg.TransportWiFi) {
		t.Fatal("IDLE branch must never gate on VoPS")
	}
}

func TestVopsBlocksWWANLastHandoverWithoutCarrierOverride(t *testing.T) {
	e, _ := newTestEvaluator(t, pkg.ApnIMS, nil)
	unsupported := false
	e.vopsSupported = &unsupported
	e.callType = pkg.CallVoice

	if e.vopsAllowsHandover(pkg.TransportCellular, pkg.TransportWiFi) {
		t.Fatal("WWAN-last branch must block a cellular-to-WLAN handover when VoPS is unsupported")
	}
}

func TestVopsIgnoredWhenCarrierOverrideSet(t *testing.T) {
	e, _ := newTestEvaluator(t, pkg.ApnIMS, map[string]string{
		"in_call_ho_decision_wlan_to_wwan_without_vops_condition_bool": "true",
	})
	unsupported := false
	e.vopsSupported = &unsupported
	e.callType = pkg.CallVoice

	if !e.vopsAllowsHandover(pkg.TransportCellular, pkg.TransportWiFi) {
		t.Fatal("carrier override must ignore VoPS on the WWAN-last branch")
	}
}

func TestVopsNeverGatesWLANLastHandover(t *testing.T) {
	e, _ := newTestEvaluator(t, pkg.ApnIMS, nil)
	unsupported := false
	e.vopsSupported = &unsupported
	e.callType = pkg.CallVoice

	if !e.vopsAllowsHandover(pkg.TransportWiFi, pkg.TransportCellular) {
		t.Fatal("WLAN-last branch must never gate on VoPS")
	}
}

func TestDumpReturnsStructuredSnapshot(t *testing.T) {
	e, _ := newTestEvaluator(t, pkg.ApnMMS, nil)
	e.HandleSync(iwlanEvent(false, false))
	e.HandleSync(telephonyEvent(true, pkg.AccessNetworkEUTRAN, pkg.CoverageHome))

	snap := e.Dump()
	if snap.Apn != pkg.ApnMMS {
		t.Fatalf("expected Dump to report the evaluator's APN, got %v", snap.Apn)
	}
	if len(snap.LastPublished) != 1 || snap.LastPublished[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("expected Dump.LastPublished to mirror the last publish, got %+v", snap.LastPublished)
	}
}
