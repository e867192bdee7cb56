package restrictmgr

import (
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/policy"
)

// PolicyRunner binds a Manager to the PolicyStore driving its nine
// enforced restriction policies. It holds no inbox of its own —
// the Evaluator calls these methods synchronously from its own
// single-threaded pipeline.
type PolicyRunner struct {
	mgr   *Manager
	store *policy.Store
	apn   pkg.ApnKind
}

// NewPolicyRunner binds a Manager and PolicyStore for one (slot, apn).
func NewPolicyRunner(mgr *Manager, store *policy.Store, apn pkg.ApnKind) *PolicyRunner {
	return &PolicyRunner{mgr: mgr, store: store, apn: apn}
}

// OnHandoverCompleted implements policy 1 (handover guarding): on
// CONNECTED or successful handover to t, arm GUARDING on the other
// transport for hysteresis_timer(apn, other, call_type) ms; if zero,
// release instead.
func (pr *PolicyRunner) OnHandoverCompleted(t pkg.TransportKind, callType pkg.CallType) {
	other := t.Other()
	if other == pkg.TransportInvalid {
		return
	}
	durationMS := pr.store.HysteresisTimer(pr.apn, other, callType)
	if floor := pr.store.MinGuardingFloorMS(); durationMS > 0 && durationMS < floor {
		durationMS = floor
	}
	if durationMS <= 0 {
		pr.mgr.Release(other, pkg.RestrictGuarding)
		return
	}
	pr.mgr.Add(other, pkg.RestrictGuarding, nil, durationMS)
}

// OnPowerOn implements policy 2 (non-preferred transport at power-on):
// for IMS while not in airplane mode, arm NON_PREFERRED_TRANSPORT on the
// opposite of the current WFC preference for the configured wait.
func (pr *PolicyRunner) OnPowerOn(airplaneMode bool, preference pkg.Preference) {
	if pr.apn != pkg.ApnIMS || airplaneMode {
		return
	}
	waitMS := pr.store.NonPreferredTransportWaitMS()
	if waitMS <= 0 {
		return
	}
	preferred := pkg.TransportWiFi
	if preference == pkg.PreferenceCellPref {
		preferred = pkg.TransportCellular
	}
	pr.mgr.Add(preferred.Other(), pkg.RestrictNonPreferredTransport, nil, waitMS)
}

// OnThrottleSignalled implements policy 3 (throttling): a modem-signalled
// back-off, deferred while the connection is active.
func (pr *PolicyRunner) OnThrottleSignalled(transport pkg.TransportKind, on bool, deadline time.Time) {
	pr.mgr.NotifyThrottling(transport, on, deadline)
}

// OnLowRTPQuality implements policy 4 (RTP quality): during a voice/
// emergency IMS call, arm RTP_LOW_QUALITY on the current transport for
// the configured cooldown; report whether the carrier's fallback reason
// includes this class so the caller can increment the IWLAN-in-call
// rove-out counter.
func (pr *PolicyRunner) OnLowRTPQuality(current pkg.TransportKind, callType pkg.CallType) (countsTowardIWLANCap bool) {
	if pr.apn != pkg.ApnIMS && pr.apn != pkg.ApnEmergency {
		return false
	}
	if callType != pkg.CallVoice && callType != pkg.CallEmergency {
		return false
	}
	pr.mgr.Add(current, pkg.RestrictRTPLowQuality, nil, pr.store.RTPLowQualityCooldownMS())
	return pr.store.RTPFallbackReasonIncludesIWLANRoveOut()
}

// IncrementIWLANRoveOut bumps the counter for policy 5 (IWLAN-in-call
// cap) and arms the cap when the configured maximum is reached.
func (pr *PolicyRunner) IncrementIWLANRoveOut() {
	pr.mgr.mu.Lock()
	pr.mgr.iwlanRoveOutCount++
	count := pr.mgr.iwlanRoveOutCount
	pr.mgr.mu.Unlock()

	if count >= pr.store.IWLANInCallMaxRoveOut() {
		pr.mgr.Add(pkg.TransportWiFi, pkg.RestrictIWLANInCall, []pkg.ReleaseEvent{pkg.ReleaseCallEnd}, 0)
	}
}

// ResetIWLANRoveOutCounter clears policy 5's counter, e.g. on call end.
func (pr *PolicyRunner) ResetIWLANRoveOutCounter() {
	pr.mgr.mu.Lock()
	pr.mgr.iwlanRoveOutCount = 0
	pr.mgr.mu.Unlock()
}

// OnSrvccStarted implements policy 6 (CS call over cellular): on SRVCC
// started while an IMS call is active, arm RESTRICT_IWLAN_CS_CALL on
// WLAN with no timer, released on SRVCC cancel/fail or call idle.
func (pr *PolicyRunner) OnSrvccStarted(callActive bool) {
	if !callActive {
		return
	}
	pr.mgr.Add(pkg.TransportWiFi, pkg.RestrictIWLANCSCall,
		[]pkg.ReleaseEvent{pkg.ReleaseCallEnd}, 0)
}

// OnSrvccResolved releases policy 6's restriction on SRVCC cancel/fail or
// call idle.
func (pr *PolicyRunner) OnSrvccResolved() {
	pr.mgr.Release(pkg.TransportWiFi, pkg.RestrictIWLANCSCall)
}

// OnImsFallbackCause implements policy 7 (IMS fallback to WWAN): on IMS
// unregistered or HO-register-failed on WLAN, if the carrier maps the
// cause to duration > 0 and current cellular is IMS-allowed: release
// ignorable restrictions on WWAN, then arm FALLBACK_TO_WWAN_IMS_REGI_FAIL
// on WLAN for that duration.
func (pr *PolicyRunner) OnImsFallbackCause(cause int, preference pkg.Preference, cellularNet pkg.AccessNetworkKind, hoRegisterFailed bool) bool {
	var durationMS int
	var ok bool
	if hoRegisterFailed {
		durationMS, ok = pr.store.FallbackTimeImsHORegisterFailed(cause, preference)
	} else {
		durationMS, ok = pr.store.FallbackTimeImsUnregistered(cause, preference)
	}
	if !ok || !pr.store.IsAccessNetworkAllowed(cellularNet, pkg.ApnIMS) {
		return false
	}

	for t := range pkg.IgnorableRestrictTypes {
		pr.mgr.Release(pkg.TransportCellular, t)
	}
	pr.mgr.Add(pkg.TransportWiFi, pkg.RestrictFallbackToWWANImsRegiFail,
		[]pkg.ReleaseEvent{pkg.ReleaseDisconnect, pkg.ReleaseWiFiAPChanged, pkg.ReleaseImsNotSupportRAT}, durationMS)
	return true
}

// pdnFailWindow bounds how far apart consecutive data-connection fails
// may be and still count toward the same retry attempt (scenario 5:
// "each ≤60s apart").
const pdnFailWindow = 60 * time.Second

// OnDataConnectionFailed implements policy 8 (initial-PDN-fail
// fallback): accumulates a per-transport fail counter bounded by
// pdnFailWindow; once the configured retry_count or retry_timer_ms is
// reached, arms FALLBACK_ON_DATA_CONNECTION_FAIL for fallback_guard_ms.
func (pr *PolicyRunner) OnDataConnectionFailed(transport pkg.TransportKind) {
	cfg := pr.store.InitialConnectionFallback(pr.apn)
	if !cfg.Enabled {
		return
	}

	pr.mgr.mu.Lock()
	now := time.Now()
	first, seen := pr.mgr.pdnFailFirstAttempt[transport]
	if !seen || now.Sub(first) > pdnFailWindow {
		pr.mgr.pdnFailCounts[transport] = 0
		pr.mgr.pdnFailFirstAttempt[transport] = now
	}
	pr.mgr.pdnFailCounts[transport]++
	count := pr.mgr.pdnFailCounts[transport]
	elapsed := now.Sub(pr.mgr.pdnFailFirstAttempt[transport])
	pr.mgr.mu.Unlock()

	thresholdReached := count >= cfg.RetryCount
	timerReached := cfg.RetryTimerMS > 0 && elapsed >= time.Duration(cfg.RetryTimerMS)*time.Millisecond
	if !thresholdReached && !timerReached {
		return
	}
	if count > cfg.MaxFallbackCount && cfg.MaxFallbackCount > 0 {
		return
	}

	pr.mgr.Add(transport, pkg.RestrictFallbackOnDataConnectionFail,
		[]pkg.ReleaseEvent{pkg.ReleaseDisconnect}, cfg.FallbackGuardMS)
}

// OnDataConnectionConnected clears policy 8's counters on success.
func (pr *PolicyRunner) OnDataConnectionConnected(transport pkg.TransportKind) {
	pr.mgr.mu.Lock()
	delete(pr.mgr.pdnFailCounts, transport)
	delete(pr.mgr.pdnFailFirstAttempt, transport)
	pr.mgr.mu.Unlock()
	pr.mgr.Release(transport, pkg.RestrictFallbackOnDataConnectionFail)
}

// OnRTTBackhaulCheckFailed implements policy 9 (RTT backhaul fallback):
// if the carrier enables periodic ICMP-ping RTT checks on WLAN and a
// check fails during an IMS registered state, arm
// FALLBACK_TO_WWAN_RTT_BACKHAUL_FAIL on WLAN for the configured
// hysteresis. Deliberately omits WFC_PREFER_MODE_CHANGED from the
// release set, matching the source's asymmetry with
// FALLBACK_ON_DATA_CONNECTION_FAIL (open question: preserved
// verbatim, not a bug).
func (pr *PolicyRunner) OnRTTBackhaulCheckFailed(imsRegistered bool) {
	if !pr.store.RTTBackhaulEnabled() || !imsRegistered {
		return
	}
	pr.mgr.Add(pkg.TransportWiFi, pkg.RestrictFallbackToWWANRTTBackhaulFail,
		[]pkg.ReleaseEvent{pkg.ReleaseDisconnect, pkg.ReleaseWiFiAPChanged},
		pr.store.RTTBackhaulHysteresisMS())
}
