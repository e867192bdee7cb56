package evaluator

import (
	"context"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/policy"
	"github.com/qns-project/qns-core/pkg/signalmon"
)

// evaluate times one pass of the evaluation pipeline via the Evaluator's
// PerformanceLogger before running it. Must be called with e.mu held (only
// the inbox-draining goroutine ever calls it).
func (e *Evaluator) evaluate() {
	pc := e.perf.StartOperation(context.Background(), "evaluate")
	e.evaluatePipeline()
	pc.Complete(nil)
}

// evaluatePipeline runs the main evaluation pipeline end to end.
func (e *Evaluator) evaluatePipeline() {
	e.refreshGuarding()

	// Step 1.
	if !e.initialized {
		return
	}
	if e.apn == pkg.ApnEmergency && e.dataConn.State() == pkg.DataConnInactive {
		return
	}

	// Handover-policy gate for an active connection riding the
	// last-published transport when the other transport becomes available.
	if !e.handoverGateAllows() {
		return
	}

	allowedIWLAN := e.Allowed(pkg.TransportWiFi)
	allowedCellular := e.Allowed(pkg.TransportCellular)
	availIWLAN := e.Availability(pkg.TransportWiFi, allowedCellular)
	availCellular := e.Availability(pkg.TransportCellular, allowedIWLAN)

	switch {
	case availIWLAN && availCellular:
		e.evaluateBothAvailable()
	case availIWLAN:
		e.evaluateOnlyWiFi()
	case availCellular:
		e.publish([]pkg.AccessNetworkKind{e.cellularAccessNetwork})
	default:
		if e.notifyDisabled {
			e.publish(nil)
		}
		// else: neither transport available and the reason isn't
		// IWLAN_DISABLE — hold the last publication rather than clearing it.
	}
}

// handoverGateAllows: if the current data connection rides the
// last-published transport and the other transport has just become
// available, consult handover_allowed with the documented overrides
// before continuing.
func (e *Evaluator) handoverGateAllows() bool {
	state := e.dataConn.State()
	if state != pkg.DataConnConnectedState && state != pkg.DataConnHandover {
		return true
	}
	current := e.dataConn.LastTransport()
	if current == pkg.TransportInvalid {
		return true
	}
	other := current.Other()
	if !e.rawAvailable(other) {
		return true
	}

	if !e.vopsAllowsHandover(current, other) {
		return false
	}

	src, dst := e.accessNetworkFor(current), e.accessNetworkFor(other)
	if e.store.HandoverAllowed(e.apn, src, dst, e.coverage) {
		return true
	}

	// Documented overrides: these cases bypass handover_allowed entirely.
	if e.apn == pkg.ApnIMS && e.callType == pkg.CallIdle {
		return true
	}
	if (e.apn == pkg.ApnMMS || e.apn == pkg.ApnXCAP || e.apn == pkg.ApnCBS) && other == pkg.TransportWiFi {
		return true
	}
	if e.store.RatPreference(e.apn) == policy.RatWiFiWhenNoCellular && e.cellularAvailable {
		return true
	}
	return false
}

// refreshGuarding mirrors the RestrictionManager's current GUARDING holder
// (at most one transport at a time) into the cached PreCondition fields
// consulted by policy lookup.
func (e *Evaluator) refreshGuarding() {
	switch {
	case e.restrict.Has(pkg.TransportWiFi, pkg.RestrictGuarding):
		e.guarding, e.guardingSet = pkg.GuardingWiFi, true
	case e.restrict.Has(pkg.TransportCellular, pkg.RestrictGuarding):
		e.guarding, e.guardingSet = pkg.GuardingCellular, true
	default:
		e.guarding, e.guardingSet = pkg.GuardingNone, false
	}
}

// vopsAllowsHandover implements the VoPS mid-call handover check's three
// branches. IDLE (no active IMS call): never gated. WWAN-last (current
// data transport is cellular, handing over to WLAN): cellular must support
// VoPS, unless the carrier has set
// in_call_ho_decision_wlan_to_wwan_without_vops_condition_bool to ignore
// the check. WLAN-last (current is WLAN, handing back to cellular): never
// gated on VoPS.
func (e *Evaluator) vopsAllowsHandover(current, other pkg.TransportKind) bool {
	if e.apn != pkg.ApnIMS || e.callType == pkg.CallIdle {
		return true
	}
	if current == pkg.TransportCellular && other == pkg.TransportWiFi {
		if e.store.InCallHandoverIgnoresVoPS() {
			return true
		}
		return e.vopsSupported == nil || *e.vopsSupported
	}
	return true
}

func (e *Evaluator) accessNetworkFor(t pkg.TransportKind) pkg.AccessNetworkKind {
	if t == pkg.TransportWiFi {
		return pkg.AccessNetworkIWLAN
	}
	return e.cellularAccessNetwork
}

// evaluateBothAvailable resolves applicable policies, evaluates
// rove-in/rove-out against live measurements, and publishes the satisfied
// target(s) when both transports are available.
func (e *Evaluator) evaluateBothAvailable() {
	candidates := e.satisfiedCandidates()

	if len(candidates) == 0 {
		if !e.hasPublished {
			candidates = []pkg.AccessNetworkKind{e.preferredNetwork()}
		} else {
			return // no policy fired, a publish already exists: hold
		}
	} else if !e.hasPublished && len(candidates) > 1 {
		candidates = reorderPreferredFirst(candidates, e.preferredNetwork())
	}

	if e.shouldAddSecondNetwork() {
		candidates = appendIfMissing(candidates, pkg.AccessNetworkIWLAN)
		e.secondNetworkActive = true
	} else if e.secondNetworkActive {
		candidates = removeSecondNetworkExit(candidates)
		e.secondNetworkActive = false
	}

	e.publish(candidates)
}

// satisfiedCandidates evaluates every policy applicable to the current
// PreCondition and returns the AccessNetworkKinds each satisfied policy
// yields.
func (e *Evaluator) satisfiedCandidates() []pkg.AccessNetworkKind {
	var out []pkg.AccessNetworkKind
	pc := e.preCondition()
	for _, p := range e.store.PoliciesFor(pc) {
		if !e.policySatisfied(p) {
			continue
		}
		if p.TargetTransport == pkg.TransportWiFi {
			out = appendIfMissing(out, pkg.AccessNetworkIWLAN)
		} else {
			net := e.cellularAccessNetwork
			if !e.cellularAvailable {
				net = pkg.AccessNetworkUnknown
			}
			out = appendIfMissing(out, net)
		}
	}
	return out
}

// policySatisfied reports whether at least one of p's condition groups has
// every condition currently met.
func (e *Evaluator) policySatisfied(p pkg.Policy) bool {
	for _, group := range p.ConditionGroups {
		if e.conditionGroupMet(group, p.PreCondition.CallType) {
			return true
		}
	}
	return false
}

func (e *Evaluator) conditionGroupMet(group []pkg.Condition, callType pkg.CallType) bool {
	for _, c := range group {
		if !e.conditionMet(c, callType) {
			return false
		}
	}
	return len(group) > 0
}

func (e *Evaluator) conditionMet(c pkg.Condition, callType pkg.CallType) bool {
	if c.Tag == pkg.ConditionWiFiAvailable {
		return e.iwlanAvailable
	}
	thresholds := e.store.ResolveConditionForNetwork(c.Tag, callType, e.cellularAccessNetwork)
	monitor := e.monitorFor(c.Tag)
	for _, t := range thresholds {
		if !monitor.IsSatisfied(t) {
			return false
		}
	}
	return len(thresholds) > 0
}

func (e *Evaluator) monitorFor(tag pkg.ConditionTag) *signalmon.Monitor {
	switch tag {
	case pkg.ConditionWiFiGood, pkg.ConditionWiFiBad:
		return e.wifiMonitor
	default:
		return e.cellMonitor
	}
}

// preferredNetwork derives the preferred access network from preference
// and coverage: CELL_PREF resolves to the current cellular RAT,
// WIFI_PREF/WIFI_ONLY resolve to IWLAN.
func (e *Evaluator) preferredNetwork() pkg.AccessNetworkKind {
	if e.wfcMode == pkg.PreferenceCellPref {
		return e.cellularAccessNetwork
	}
	return pkg.AccessNetworkIWLAN
}

func reorderPreferredFirst(candidates []pkg.AccessNetworkKind, preferred pkg.AccessNetworkKind) []pkg.AccessNetworkKind {
	out := make([]pkg.AccessNetworkKind, 0, len(candidates))
	for _, c := range candidates {
		if c == preferred {
			out = append(out, c)
		}
	}
	for _, c := range candidates {
		if c != preferred {
			out = append(out, c)
		}
	}
	return out
}

func appendIfMissing(list []pkg.AccessNetworkKind, net pkg.AccessNetworkKind) []pkg.AccessNetworkKind {
	for _, n := range list {
		if n == net {
			return list
		}
	}
	return append(list, net)
}

// shouldAddSecondNetwork implements the override-ims-preference entry
// rule: CELL_PREF, enabled, cellular IMS-allowed.
func (e *Evaluator) shouldAddSecondNetwork() bool {
	if e.apn != pkg.ApnIMS || !e.store.OverrideIMSPreferenceEnabled() {
		return false
	}
	return e.wfcMode == pkg.PreferenceCellPref && e.cellularIMSCapable()
}

// removeSecondNetworkExit implements the exit rule: evaluateBothAvailable
// calls it whenever a second network is active and shouldAddSecondNetwork
// no longer holds, i.e. preference left CELL_PREF, cellular is no longer
// IMS-capable, or override-ims-preference is now disabled. It keeps only
// the first candidate.
func removeSecondNetworkExit(candidates []pkg.AccessNetworkKind) []pkg.AccessNetworkKind {
	if len(candidates) <= 1 {
		return candidates
	}
	return candidates[:1]
}

// evaluateOnlyWiFi handles the case where only WiFi/IWLAN is available.
func (e *Evaluator) evaluateOnlyWiFi() {
	if !e.crossWFC {
		pc := e.preCondition()
		for _, p := range e.store.PoliciesFor(pc) {
			if p.HasWiFiThresholdWithoutCellularCondition() && e.policySatisfied(p) {
				e.publish([]pkg.AccessNetworkKind{pkg.AccessNetworkIWLAN})
				return
			}
		}
	}
	e.publish([]pkg.AccessNetworkKind{pkg.AccessNetworkIWLAN})
}

// publish emits QualifiedNetworksChanged only on change, classifies
// handover vs. fallback, informs the RestrictionManager of the newly-
// published transport for its guarding arithmetic, and never leaks
// UNKNOWN into the published list.
func (e *Evaluator) publish(networks []pkg.AccessNetworkKind) {
	filtered := make([]pkg.AccessNetworkKind, 0, len(networks))
	for _, n := range networks {
		if n != pkg.AccessNetworkUnknown {
			filtered = append(filtered, n)
		}
	}

	if e.hasPublished && sameNetworks(filtered, e.lastPublished) {
		return
	}

	e.classifyHandoverOrFallback(filtered)

	e.lastPublished = filtered
	e.hasPublished = true

	if e.publisher != nil {
		e.publisher.Publish(pkg.QualifiedNetworksChanged{
			Slot: e.slot, Apn: e.apn, AccessNetworks: filtered, Timestamp: now(),
		})
	}
}

func sameNetworks(a, b []pkg.AccessNetworkKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// classifyHandoverOrFallback: handover needed when the new primary
// target's transport differs from the
// current data-connection transport (and no handover/connection attempt
// is already in progress); fallback when the target transport equals the
// current data-transport but differs from the last qualified network
// (same-transport bounce-back).
func (e *Evaluator) classifyHandoverOrFallback(networks []pkg.AccessNetworkKind) {
	if len(networks) == 0 {
		return
	}
	target := networks[0]
	targetTransport := pkg.TransportOf(target)
	current := e.dataConn.LastTransport()
	state := e.dataConn.State()

	switch {
	case targetTransport != current && state != pkg.DataConnConnecting && state != pkg.DataConnHandover:
		if e.logger != nil {
			e.logger.Debug("handover needed", "apn", e.apn.String(), "target", target.String())
		}
		e.policyRunner.OnHandoverCompleted(targetTransport, e.callType)
	case targetTransport == current && len(e.lastPublished) > 0 && target != e.lastPublished[0]:
		if e.logger != nil {
			e.logger.Debug("fallback bounce-back", "apn", e.apn.String(), "target", target.String())
		}
	}
}
