package restrictmgr

import (
	"testing"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/policy"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(logx.NewLogger("error", "test"))
}

func newTestStore(t *testing.T, carrier map[string]string) *policy.Store {
	t.Helper()
	cc, err := policy.NewCarrierConfig("test", nil, carrier)
	if err != nil {
		t.Fatalf("NewCarrierConfig: %v", err)
	}
	return policy.NewStore(logx.NewLogger("error", "test"), cc)
}

func TestAddAndHas(t *testing.T) {
	m := newTestManager(t)
	m.Add(pkg.TransportWiFi, pkg.RestrictGuarding, nil, 0)
	if !m.Has(pkg.TransportWiFi, pkg.RestrictGuarding) {
		t.Fatal("expected GUARDING to be held on WIFI")
	}
	if m.Has(pkg.TransportCellular, pkg.RestrictGuarding) {
		t.Fatal("CELLULAR must not hold a restriction never armed on it")
	}
}

func TestGuardingMutualExclusionAcrossTransports(t *testing.T) {
	m := newTestManager(t)
	m.Add(pkg.TransportCellular, pkg.RestrictGuarding, nil, 0)
	m.Add(pkg.TransportWiFi, pkg.RestrictGuarding, nil, 0)

	if m.Has(pkg.TransportCellular, pkg.RestrictGuarding) {
		t.Fatal("invariant I4: arming GUARDING on WIFI must release it on CELLULAR")
	}
	if !m.Has(pkg.TransportWiFi, pkg.RestrictGuarding) {
		t.Fatal("the newly-armed GUARDING must remain held")
	}
}

func TestTimerFiresAndReleases(t *testing.T) {
	m := newTestManager(t)
	m.Add(pkg.TransportWiFi, pkg.RestrictThrottling, nil, 20)
	if !m.Has(pkg.TransportWiFi, pkg.RestrictThrottling) {
		t.Fatal("expected restriction held immediately after Add")
	}
	time.Sleep(60 * time.Millisecond)
	if m.Has(pkg.TransportWiFi, pkg.RestrictThrottling) {
		t.Fatal("expected restriction released once its timer fires")
	}
}

func TestReAddResetsTimerIdentity(t *testing.T) {
	m := newTestManager(t)
	m.Add(pkg.TransportWiFi, pkg.RestrictThrottling, nil, 20)
	time.Sleep(10 * time.Millisecond)
	m.Add(pkg.TransportWiFi, pkg.RestrictThrottling, nil, 200) // re-arm with a longer deadline

	time.Sleep(30 * time.Millisecond)
	if !m.Has(pkg.TransportWiFi, pkg.RestrictThrottling) {
		t.Fatal("re-arming must reset the deadline, old timer must not fire the release")
	}
}

func TestProcessReleaseEventReleasesMatchingOnly(t *testing.T) {
	m := newTestManager(t)
	m.Add(pkg.TransportWiFi, pkg.RestrictIWLANCSCall, []pkg.ReleaseEvent{pkg.ReleaseCallEnd}, 0)
	m.Add(pkg.TransportWiFi, pkg.RestrictNonPreferredTransport, []pkg.ReleaseEvent{pkg.ReleaseDisconnect}, 0)

	m.ProcessReleaseEvent(pkg.TransportWiFi, pkg.ReleaseCallEnd)

	if m.Has(pkg.TransportWiFi, pkg.RestrictIWLANCSCall) {
		t.Fatal("CALL_END must release RESTRICT_IWLAN_CS_CALL")
	}
	if !m.Has(pkg.TransportWiFi, pkg.RestrictNonPreferredTransport) {
		t.Fatal("CALL_END must not release a restriction not bound to it")
	}
}

func TestIsAllowedOnSingleTransport(t *testing.T) {
	m := newTestManager(t)
	m.Add(pkg.TransportCellular, pkg.RestrictGuarding, nil, 0)
	if !m.IsAllowedOnSingleTransport(pkg.TransportCellular) {
		t.Fatal("GUARDING alone must still allow the transport")
	}
	m.Add(pkg.TransportCellular, pkg.RestrictNonPreferredTransport, nil, 0)
	if m.IsAllowedOnSingleTransport(pkg.TransportCellular) {
		t.Fatal("a non-ignorable restriction must block the transport")
	}
}

func TestNotifyThrottlingDeferredWhileConnectionActive(t *testing.T) {
	m := newTestManager(t)
	m.SetConnectionActive(pkg.TransportWiFi, true)

	m.NotifyThrottling(pkg.TransportWiFi, true, time.Now().Add(50*time.Millisecond))
	if m.Has(pkg.TransportWiFi, pkg.RestrictThrottling) {
		t.Fatal("throttling must be deferred while the connection is active")
	}

	m.SetConnectionActive(pkg.TransportWiFi, false)
	if !m.Has(pkg.TransportWiFi, pkg.RestrictThrottling) {
		t.Fatal("throttling must be replayed once the connection goes inactive")
	}
}

func TestNotifyThrottlingAppliesImmediatelyWhenInactive(t *testing.T) {
	m := newTestManager(t)
	m.NotifyThrottling(pkg.TransportCellular, true, time.Now().Add(50*time.Millisecond))
	if !m.Has(pkg.TransportCellular, pkg.RestrictThrottling) {
		t.Fatal("throttling must apply immediately when no connection is active")
	}
}

// --- PolicyRunner: the nine enforced policies ---

func TestPolicy1HandoverGuardingArmsOtherTransport(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"ims.wifi.hysteresis_ms": "10000",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnHandoverCompleted(pkg.TransportCellular, pkg.CallVoice)

	if !m.Has(pkg.TransportWiFi, pkg.RestrictGuarding) {
		t.Fatal("handing over to CELLULAR must arm GUARDING on WIFI")
	}
}

func TestPolicy1ZeroHysteresisReleasesInsteadOfArming(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, nil) // no hysteresis configured -> 0
	m.Add(pkg.TransportWiFi, pkg.RestrictGuarding, nil, 5000)
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnHandoverCompleted(pkg.TransportCellular, pkg.CallVoice)

	if m.Has(pkg.TransportWiFi, pkg.RestrictGuarding) {
		t.Fatal("a zero-length hysteresis must release any existing GUARDING instead of arming")
	}
}

func TestPolicy1MinGuardingFloorAppliedWhenNonZero(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"ims.wifi.hysteresis_ms": "100",
		"guarding.min_floor_ms":  "2000",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)
	pr.OnHandoverCompleted(pkg.TransportCellular, pkg.CallVoice)

	if !m.Has(pkg.TransportWiFi, pkg.RestrictGuarding) {
		t.Fatal("a small nonzero hysteresis must still arm GUARDING, raised to the floor")
	}
}

func TestPolicy2NonPreferredTransportAtPowerOn(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"non_preferred_transport.wait_ms": "5000",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnPowerOn(false, pkg.PreferenceWiFiPref)
	if !m.Has(pkg.TransportCellular, pkg.RestrictNonPreferredTransport) {
		t.Fatal("WIFI_PREF must restrict the non-preferred CELLULAR transport at power-on")
	}
}

func TestPolicy2SkippedInAirplaneModeOrNonIMS(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{"non_preferred_transport.wait_ms": "5000"})

	pr := NewPolicyRunner(m, store, pkg.ApnIMS)
	pr.OnPowerOn(true, pkg.PreferenceWiFiPref)
	if m.IsRestricted(pkg.TransportCellular) || m.IsRestricted(pkg.TransportWiFi) {
		t.Fatal("airplane mode must suppress the non-preferred-transport policy")
	}

	mmsRunner := NewPolicyRunner(newTestManager(t), store, pkg.ApnMMS)
	mmsRunner.OnPowerOn(false, pkg.PreferenceWiFiPref)
	if mmsRunner.mgr.IsRestricted(pkg.TransportCellular) {
		t.Fatal("non-IMS APNs are not subject to the non-preferred-transport policy")
	}
}

func TestPolicy4RTPLowQualityArmsAndReportsRoveOutClass(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"rtp.cooldown_ms": "15000",
		"rtp.fallback_reason_includes_iwlan_rove_out": "true",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	counts := pr.OnLowRTPQuality(pkg.TransportWiFi, pkg.CallVoice)
	if !counts {
		t.Fatal("expected the configured fallback-reason class to count toward the IWLAN rove-out cap")
	}
	if !m.Has(pkg.TransportWiFi, pkg.RestrictRTPLowQuality) {
		t.Fatal("expected RTP_LOW_QUALITY armed on the current transport")
	}
}

func TestPolicy5IWLANInCallCapArmsAtConfiguredMax(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{"iwlan_in_call.max_rove_out": "2"})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.IncrementIWLANRoveOut()
	if m.Has(pkg.TransportWiFi, pkg.RestrictIWLANInCall) {
		t.Fatal("cap must not arm before reaching the configured maximum")
	}
	pr.IncrementIWLANRoveOut()
	if !m.Has(pkg.TransportWiFi, pkg.RestrictIWLANInCall) {
		t.Fatal("cap must arm once the configured maximum is reached")
	}

	pr.ResetIWLANRoveOutCounter()
	m.ProcessReleaseEvent(pkg.TransportWiFi, pkg.ReleaseCallEnd)
	if m.Has(pkg.TransportWiFi, pkg.RestrictIWLANInCall) {
		t.Fatal("CALL_END must release the IWLAN-in-call cap")
	}
}

func TestPolicy6SrvccBlocksWLANUntilResolved(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, nil)
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnSrvccStarted(true)
	if !m.Has(pkg.TransportWiFi, pkg.RestrictIWLANCSCall) {
		t.Fatal("SRVCC start during an active call must restrict WLAN for CS")
	}

	pr.OnSrvccResolved()
	if m.Has(pkg.TransportWiFi, pkg.RestrictIWLANCSCall) {
		t.Fatal("SRVCC resolution must release the CS-call restriction")
	}
}

func TestPolicy7ImsFallbackToWWANReleasesThenArms(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"fallback_ims_unregistered_rule_list": "cause=101,time=10000",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)
	m.Add(pkg.TransportCellular, pkg.RestrictRTPLowQuality, nil, 5000)
	m.Add(pkg.TransportCellular, pkg.RestrictFallbackOnDataConnectionFail, nil, 5000)

	armed := pr.OnImsFallbackCause(101, pkg.PreferenceWiFiPref, pkg.AccessNetworkEUTRAN, false)

	if !armed {
		t.Fatal("expected a matching cause with IMS-allowed cellular to arm the WWAN fallback")
	}
	if !m.Has(pkg.TransportWiFi, pkg.RestrictFallbackToWWANImsRegiFail) {
		t.Fatal("expected FALLBACK_TO_WWAN_IMS_REGI_FAIL armed on WLAN")
	}
	if m.Has(pkg.TransportCellular, pkg.RestrictRTPLowQuality) || m.Has(pkg.TransportCellular, pkg.RestrictFallbackOnDataConnectionFail) {
		t.Fatal("expected ignorable WWAN restrictions released before arming the WLAN fallback")
	}
}

func TestPolicy7NoMatchingCauseDoesNothing(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"fallback_ims_unregistered_rule_list": "cause=101,time=10000",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	armed := pr.OnImsFallbackCause(999, pkg.PreferenceWiFiPref, pkg.AccessNetworkEUTRAN, false)
	if armed {
		t.Fatal("an unmatched cause code must not arm the WWAN fallback")
	}
	if m.Has(pkg.TransportWiFi, pkg.RestrictFallbackToWWANImsRegiFail) {
		t.Fatal("no restriction should be armed without a matching cause")
	}
}

func TestPolicy8InitialConnectionFallbackOnRetryCount(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"ims.initial_connection_fallback": "3:0:30000:10",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnDataConnectionFailed(pkg.TransportCellular)
	pr.OnDataConnectionFailed(pkg.TransportCellular)
	if m.Has(pkg.TransportCellular, pkg.RestrictFallbackOnDataConnectionFail) {
		t.Fatal("must not arm before reaching the configured retry count")
	}

	pr.OnDataConnectionFailed(pkg.TransportCellular)
	if !m.Has(pkg.TransportCellular, pkg.RestrictFallbackOnDataConnectionFail) {
		t.Fatal("must arm once the configured retry count is reached")
	}

	pr.OnDataConnectionConnected(pkg.TransportCellular)
	if m.Has(pkg.TransportCellular, pkg.RestrictFallbackOnDataConnectionFail) {
		t.Fatal("a successful connection must release the fallback and clear counters")
	}
}

func TestPolicy8DisabledConfigDoesNothing(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, nil)
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	for i := 0; i < 5; i++ {
		pr.OnDataConnectionFailed(pkg.TransportCellular)
	}
	if m.Has(pkg.TransportCellular, pkg.RestrictFallbackOnDataConnectionFail) {
		t.Fatal("an unconfigured initial_connection_fallback must never arm")
	}
}

func TestPolicy9RTTBackhaulFallbackRequiresEnabledAndRegistered(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, map[string]string{
		"rtt_backhaul.enabled":      "true",
		"rtt_backhaul.hysteresis_ms": "20000",
	})
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnRTTBackhaulCheckFailed(false)
	if m.Has(pkg.TransportWiFi, pkg.RestrictFallbackToWWANRTTBackhaulFail) {
		t.Fatal("must not arm while IMS is not registered")
	}

	pr.OnRTTBackhaulCheckFailed(true)
	if !m.Has(pkg.TransportWiFi, pkg.RestrictFallbackToWWANRTTBackhaulFail) {
		t.Fatal("expected the RTT-backhaul fallback armed on WLAN once registered and enabled")
	}
}

func TestPolicy9DisabledNeverArms(t *testing.T) {
	m := newTestManager(t)
	store := newTestStore(t, nil)
	pr := NewPolicyRunner(m, store, pkg.ApnIMS)

	pr.OnRTTBackhaulCheckFailed(true)
	if m.Has(pkg.TransportWiFi, pkg.RestrictFallbackToWWANRTTBackhaulFail) {
		t.Fatal("the RTT-backhaul policy must be opt-in per carrier")
	}
}
