package evaluator

import (
	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/policy"
)

// wfcEnabled combines platform, user, roaming, airplane, and activation
// overrides into the single effective WFC-enabled flag (Allowed
// predicate).
func (e *Evaluator) wfcEnabled() bool {
	if e.simAbsent || e.airplaneMode {
		return false
	}
	if !e.wfcPlatformEnabled || !e.wfcUserEnabled {
		return false
	}
	if e.coverage == pkg.CoverageRoam && !e.wfcRoaming {
		return e.wfcActivated // activation override can still force it on
	}
	return true
}

// Allowed implements the Allowed(transport) predicate: WFC enablement,
// RAT preference, airplane-mode rule, international-roaming-without-WWAN
// rule, and the IMS/video-over-IWLAN-in-limited-cellular carve-outs.
func (e *Evaluator) Allowed(transport pkg.TransportKind) bool {
	switch transport {
	case pkg.TransportWiFi:
		return e.allowedWiFi()
	case pkg.TransportCellular:
		return e.allowedCellular()
	default:
		return false
	}
}

func (e *Evaluator) allowedWiFi() bool {
	if !e.wfcEnabled() {
		return false
	}
	if e.airplaneMode && !e.wfcActivated {
		return false
	}

	switch e.store.RatPreference(e.apn) {
	case policy.RatWiFiOnly:
		return true
	case policy.RatWiFiWhenWFCAvailable:
		return e.wfcEnabled()
	case policy.RatWiFiWhenNoCellular:
		return !e.cellularAvailable || e.cellularAccessNetwork == pkg.AccessNetworkUnknown
	case policy.RatWiFiWhenHomeNotAvailable:
		return e.coverage == pkg.CoverageRoam
	}

	if e.store.SupportedTransports(e.apn) == policy.SupportsWWANOnly {
		return false
	}

	// allow-IMS-over-IWLAN-in-limited-cellular / allow-video-over-IWLAN
	// carve-outs: when cellular can't carry this APN's class at all, WLAN
	// remains allowed regardless of the cellular-availability checks above.
	if (e.apn == pkg.ApnIMS || e.apn == pkg.ApnEmergency) && !e.cellularIMSCapable() {
		return true
	}
	if e.callType == pkg.CallVideo && !e.cellularAvailable {
		return true
	}

	return true
}

func (e *Evaluator) allowedCellular() bool {
	if e.store.SupportedTransports(e.apn) == policy.SupportsWLANOnly {
		return false
	}
	if e.internationalRoamingBlocksWWAN() {
		return false
	}
	return true
}

// internationalRoamingBlocksWWAN implements the "international-roaming-
// without-WWAN" rule for non-IMS, non-EMERGENCY APNs: it blocks cellular
// when coverage is ROAM and IsAccessNetworkAllowed rejects the current
// cellular access network. For these APNs IsAccessNetworkAllowed rejects
// only UNKNOWN, so roaming on a known RAT does not block cellular.
func (e *Evaluator) internationalRoamingBlocksWWAN() bool {
	if e.apn == pkg.ApnIMS || e.apn == pkg.ApnEmergency {
		return false
	}
	return e.coverage == pkg.CoverageRoam && !e.store.IsAccessNetworkAllowed(e.cellularAccessNetwork, e.apn)
}

func (e *Evaluator) cellularIMSCapable() bool {
	if !e.cellularAvailable {
		return false
	}
	return e.store.IsAccessNetworkAllowed(e.cellularAccessNetwork, pkg.ApnIMS)
}

// Availability implements Availability(transport, other_allowed):
// available ∧ (¬restricted ∨ guarding-only-and-single-transport-ok), and
// for WLAN only, the cross-WFC-with-cellular-available exclusion.
func (e *Evaluator) Availability(transport pkg.TransportKind, otherAllowed bool) bool {
	available := e.rawAvailable(transport)
	if !available {
		return false
	}

	restrictedExceptGuarding := e.restrict.IsRestrictedExceptGuarding(transport)
	guardingOK := !e.restrict.IsRestricted(transport) || (!restrictedExceptGuarding && e.restrict.IsAllowedOnSingleTransport(transport) && otherAllowed)
	if !guardingOK {
		return false
	}

	if transport == pkg.TransportWiFi && e.crossWFC && e.cellularAvailable {
		return false
	}
	return true
}

func (e *Evaluator) rawAvailable(transport pkg.TransportKind) bool {
	if transport == pkg.TransportWiFi {
		return e.iwlanAvailable
	}
	return e.cellularAvailable
}
