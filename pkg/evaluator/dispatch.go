package evaluator

import (
	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/policy"
)

// handle implements the exhaustive inbound-event dispatch table:
// every event mutates cached state then conditionally re-evaluates. Only
// ever invoked on the Evaluator's own goroutine.
func (e *Evaluator) handle(ev pkg.InboxEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case pkg.EventIwlanAvailabilityChanged:
		e.handleIwlanAvailability(ev)
	case pkg.EventTelephonyInfoChanged:
		e.handleTelephonyInfo(ev)
	case pkg.EventRestrictInfoChanged:
		e.evaluate()
	case pkg.EventCallTypeSet:
		e.handleCallTypeSet(ev)
	case pkg.EventDataConnectionStateChanged:
		e.handleDataConnChanged(ev)
	case pkg.EventEmergencyPreferredTransportChanged:
		e.handleEmergencyPreferredTransport(ev)
	case pkg.EventProvisioningInfoChanged:
		e.handleProvisioningInfo(ev)
	case pkg.EventImsRegistrationStateChanged:
		e.handleImsRegistration(ev)
	case pkg.EventThresholdCrossed:
		e.evaluate()
	case pkg.EventWFCEnabledChanged:
		if ev.BoolValue != nil {
			e.wfcUserEnabled = *ev.BoolValue
		}
		e.evaluate()
	case pkg.EventWFCRoamingChanged:
		if ev.BoolValue != nil {
			e.wfcRoaming = *ev.BoolValue
		}
		e.evaluate()
	case pkg.EventWFCModeChanged:
		if ev.Preference != nil {
			e.wfcMode = *ev.Preference
		}
		e.evaluate()
	case pkg.EventPlatformWFCChanged:
		e.handlePlatformWFC(ev)
	case pkg.EventAirplaneModeChanged:
		if ev.BoolValue != nil {
			e.airplaneMode = *ev.BoolValue
		}
		e.evaluate()
	case pkg.EventSimAbsentChanged:
		e.handleSimAbsent(ev)
	case pkg.EventWFCActivationChanged:
		if ev.BoolValue != nil {
			e.wfcActivated = *ev.BoolValue
		}
		e.evaluate()
	case pkg.EventSrvccStateChanged:
		e.handleSrvccState(ev)
	case pkg.EventCallStateChanged:
		e.handleCallState(ev)
	case pkg.EventThrottlingSignalled:
		e.handleThrottlingSignalled(ev)
	case pkg.EventRTPQualityLow:
		e.handleRTPQualityLow(ev)
	case pkg.EventRTTBackhaulCheckFailed:
		e.handleRTTBackhaulCheckFailed(ev)
	}
}

// markPoweredOn runs policy 2 exactly once per Evaluator, on the first
// cached-input event it ever processes — the closest this single-threaded
// pipeline has to a literal "power on" signal.
func (e *Evaluator) markPoweredOn() {
	if e.initialized {
		return
	}
	e.initialized = true
	e.policyRunner.OnPowerOn(e.airplaneMode, e.wfcMode)
}

func (e *Evaluator) handleIwlanAvailability(ev pkg.InboxEvent) {
	if ev.IwlanAvailability != nil {
		e.iwlanAvailable = ev.IwlanAvailability.Available
		e.crossWFC = ev.IwlanAvailability.CrossWFC
		e.notifyDisabled = ev.IwlanAvailability.NotifyDisabled
	}
	e.markPoweredOn()
	e.evaluate()
}

func (e *Evaluator) handleTelephonyInfo(ev pkg.InboxEvent) {
	if t := ev.Telephony; t != nil {
		e.cellularAvailable = t.CellularAvailable
		e.cellularAccessNetwork = t.DataRAT
		e.coverage = t.Coverage
		e.vopsSupported = t.VopsSupported
		if t.CellularAvailable {
			e.latestAvailableCellularNet = t.DataRAT
		}
	}
	e.markPoweredOn()
	e.evaluate()
}

func (e *Evaluator) handleCallTypeSet(ev pkg.InboxEvent) {
	if ev.CallType != nil {
		e.callType = *ev.CallType
	}
	e.evaluate()
}

func (e *Evaluator) handleDataConnChanged(ev pkg.InboxEvent) {
	if ev.DataConnChange == nil {
		return
	}
	change := *ev.DataConnChange
	active := change.State == pkg.DataConnConnectedState || change.State == pkg.DataConnHandover
	e.restrict.SetConnectionActive(change.Transport, active)

	switch change.Event {
	case pkg.DataConnFailed:
		e.policyRunner.OnDataConnectionFailed(change.Transport)
	case pkg.DataConnConnected:
		e.policyRunner.OnDataConnectionConnected(change.Transport)
	case pkg.DataConnDisconnected:
		e.restrict.ProcessReleaseEvent(change.Transport, pkg.ReleaseDisconnect)
	}

	if change.State == pkg.DataConnConnectedState {
		other := change.Transport.Other()
		if !e.restrict.IsRestricted(other) {
			e.evaluate()
			return
		}
	}
	e.evaluate()
}

func (e *Evaluator) handleEmergencyPreferredTransport(ev pkg.InboxEvent) {
	if ev.EmergencyPreferred != nil {
		e.emergencyPreferredTransport = *ev.EmergencyPreferred
	}
	if e.apn == pkg.ApnEmergency && e.dataConn.State() == pkg.DataConnInactive {
		net := pkg.AccessNetworkIWLAN
		if e.emergencyPreferredTransport == pkg.TransportCellular {
			net = e.cellularAccessNetwork
		}
		e.publish([]pkg.AccessNetworkKind{net})
	}
}

func (e *Evaluator) handleProvisioningInfo(ev pkg.InboxEvent) {
	if ev.Provisioning == nil {
		return
	}
	changed := applyProvisioningDiff(&e.provisioning, ev.Provisioning)
	e.store.SetProvisioningOverrides(e.provisioning)
	if changed {
		e.evaluate()
	}
}

// applyProvisioningDiff merges incoming sparse keys into overrides and
// reports whether any threshold-relevant key actually changed value.
func applyProvisioningDiff(overrides *pkg.ProvisioningOverrides, in pkg.ProvisioningInfo) bool {
	changed := false
	setFloat := func(dst **float64, key string) {
		v, ok := in[key]
		if !ok {
			return
		}
		f, ok := v.(float64)
		if !ok {
			return
		}
		if *dst == nil || **dst != f {
			changed = true
		}
		*dst = &f
	}
	setInt := func(dst **int, key string) {
		v, ok := in[key]
		if !ok {
			return
		}
		n, ok := v.(int)
		if !ok {
			return
		}
		if *dst == nil || **dst != n {
			changed = true
		}
		*dst = &n
	}

	setFloat(&overrides.LTETh1, "LTE_TH_1")
	setFloat(&overrides.LTETh2, "LTE_TH_2")
	setFloat(&overrides.LTETh3, "LTE_TH_3")
	setFloat(&overrides.WiFiThA, "WIFI_TH_A")
	setFloat(&overrides.WiFiThB, "WIFI_TH_B")
	setInt(&overrides.LTEEpdgTimerSec, "LTE_EPDG_TIMER_SEC")
	setInt(&overrides.WiFiEpdgTimerSec, "WIFI_EPDG_TIMER_SEC")
	return changed
}

func (e *Evaluator) handleImsRegistration(ev pkg.InboxEvent) {
	if reg := ev.ImsRegistration; reg != nil {
		if reg.Transport == pkg.TransportWiFi {
			e.imsRegisteredOnWLAN = reg.Event == pkg.ImsRegistered
		}
		if reg.Event == pkg.ImsUnregistered && reg.Transport == pkg.TransportWiFi {
			e.policyRunner.OnImsFallbackCause(reg.ReasonCode, e.wfcMode, e.cellularAccessNetwork, false)
		}
		if reg.Event == pkg.ImsAccessNetworkChangeFailed && reg.Transport == pkg.TransportWiFi {
			e.policyRunner.OnImsFallbackCause(reg.ReasonCode, e.wfcMode, e.cellularAccessNetwork, true)
		}
	}
	// On WIFI_WHEN_WFC_AVAILABLE rat-preference with transport=WLAN,
	// an IMS registration change can flip Allowed/Availability: re-evaluate.
	if ev.ImsRegistration != nil && ev.ImsRegistration.Transport == pkg.TransportWiFi &&
		e.store.RatPreference(e.apn) == policy.RatWiFiWhenWFCAvailable {
		e.evaluate()
	}
}

func (e *Evaluator) handlePlatformWFC(ev pkg.InboxEvent) {
	if ev.BoolValue != nil {
		e.wfcPlatformEnabled = *ev.BoolValue
	}
	if !e.wfcPlatformEnabled {
		e.publish([]pkg.AccessNetworkKind{e.cellularAccessNetwork})
		return
	}
	e.evaluate()
}

func (e *Evaluator) handleSimAbsent(ev pkg.InboxEvent) {
	if ev.BoolValue != nil {
		e.simAbsent = *ev.BoolValue
	}
	if e.simAbsent {
		e.publish(nil)
		return
	}
	e.evaluate()
}

func (e *Evaluator) handleSrvccState(ev pkg.InboxEvent) {
	if ev.Srvcc == nil {
		return
	}
	switch *ev.Srvcc {
	case pkg.SrvccStarted:
		e.policyRunner.OnSrvccStarted(e.callState == pkg.CallStateActive)
	case pkg.SrvccCanceled, pkg.SrvccFailed, pkg.SrvccCompleted:
		e.policyRunner.OnSrvccResolved()
	}
	e.srvccState = *ev.Srvcc
	e.evaluate()
}

func (e *Evaluator) handleCallState(ev pkg.InboxEvent) {
	if ev.CallState != nil {
		e.callState = *ev.CallState
		if *ev.CallState == pkg.CallStateIdle {
			e.restrict.ProcessReleaseEvent(pkg.TransportWiFi, pkg.ReleaseCallEnd)
			e.restrict.ProcessReleaseEvent(pkg.TransportCellular, pkg.ReleaseCallEnd)
			e.policyRunner.ResetIWLANRoveOutCounter()
		}
	}
	e.evaluate()
}

func (e *Evaluator) handleThrottlingSignalled(ev pkg.InboxEvent) {
	if ev.Throttling == nil {
		return
	}
	e.policyRunner.OnThrottleSignalled(ev.Throttling.Transport, ev.Throttling.On, ev.Throttling.Deadline)
	e.evaluate()
}

// handleRTPQualityLow implements policy 4's trigger: a low-RTP-quality
// report on the currently-carrying transport during a voice/emergency IMS
// call. When the carrier's fallback config counts this class toward the
// IWLAN-in-call cap and the affected transport is WLAN, it also drives
// policy 5's rove-out counter.
func (e *Evaluator) handleRTPQualityLow(ev pkg.InboxEvent) {
	if ev.Transport == nil {
		return
	}
	countsTowardIWLANCap := e.policyRunner.OnLowRTPQuality(*ev.Transport, e.callType)
	if countsTowardIWLANCap && *ev.Transport == pkg.TransportWiFi {
		e.policyRunner.IncrementIWLANRoveOut()
	}
	e.evaluate()
}

func (e *Evaluator) handleRTTBackhaulCheckFailed(ev pkg.InboxEvent) {
	imsRegistered := ev.BoolValue != nil && *ev.BoolValue
	e.policyRunner.OnRTTBackhaulCheckFailed(imsRegistered)
	e.evaluate()
}
