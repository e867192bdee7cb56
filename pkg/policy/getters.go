package policy

import (
	"fmt"
	"strings"

	"github.com/qns-project/qns-core/pkg"
)

// RatPreference returns the rove-in bias configured for an APN.
func (s *Store) RatPreference(apn pkg.ApnKind) RatPreference {
	v, ok := s.active.lookup(fmt.Sprintf("%s.rat_preference", apnKey(apn)))
	if !ok {
		return RatDefault
	}
	switch strings.ToUpper(v) {
	case "WIFI_ONLY":
		return RatWiFiOnly
	case "WIFI_WHEN_WFC_AVAILABLE":
		return RatWiFiWhenWFCAvailable
	case "WIFI_WHEN_NO_CELLULAR":
		return RatWiFiWhenNoCellular
	case "WIFI_WHEN_HOME_IS_NOT_AVAILABLE":
		return RatWiFiWhenHomeNotAvailable
	default:
		return RatDefault
	}
}

// SupportedTransports returns which transports an APN may be carried on.
func (s *Store) SupportedTransports(apn pkg.ApnKind) SupportedTransports {
	v, ok := s.active.lookup(fmt.Sprintf("%s.supported_transports", apnKey(apn)))
	if !ok {
		return SupportsBoth
	}
	switch strings.ToUpper(v) {
	case "WWAN":
		return SupportsWWANOnly
	case "WLAN":
		return SupportsWLANOnly
	default:
		return SupportsBoth
	}
}

func apnKey(apn pkg.ApnKind) string {
	return strings.ToLower(apn.String())
}

// thresholdProfileKey builds the carrier-config key prefix for a given
// (network, call_type) threshold profile, e.g. "eutran.voice".
func thresholdProfileKey(net pkg.AccessNetworkKind, callType pkg.CallType) string {
	return fmt.Sprintf("%s.%s", strings.ToLower(net.String()), strings.ToLower(callType.String()))
}

// ThresholdByPreference implements threshold_by_preference: returns
// the {good, bad, worst?} triplet for (network, call_type, measurement),
// with the provisioning-override decorator applied only to LTE RSRP and
// Wi-Fi RSSI.
func (s *Store) ThresholdByPreference(net pkg.AccessNetworkKind, callType pkg.CallType, m pkg.MeasurementType) ThresholdTriplet {
	prefix := thresholdProfileKey(net, callType)
	good := s.getFloat(prefix+".good", defaultGood(net, m))
	bad := s.getFloat(prefix+".bad", defaultBad(net, m))

	good, bad = s.applyProvisioning(net, m, good, bad)

	result := ThresholdTriplet{
		Good: pkg.Threshold{AccessNetwork: net, Measurement: m, Comparator: pkg.ComparatorGE, Value: good},
		Bad:  pkg.Threshold{AccessNetwork: net, Measurement: m, Comparator: pkg.ComparatorLE, Value: bad},
	}

	// IWLAN and two-value profiles omit worst.
	if net == pkg.AccessNetworkIWLAN {
		return result
	}
	if worst, ok := s.active.lookup(prefix + ".worst"); ok {
		var w float64
		if _, err := fmt.Sscanf(worst, "%g", &w); err == nil {
			result.Worst = pkg.Threshold{AccessNetwork: net, Measurement: m, Comparator: pkg.ComparatorLE, Value: w}
			result.HasWorst = true
		}
	}
	return result
}

func (s *Store) getFloat(key string, def float64) float64 { return s.active.getFloat(key, def) }

// applyProvisioning overrides good/bad with LTE_TH_1..3 (EUTRAN RSRP) or
// WIFI_TH_A/B (IWLAN RSSI) provisioning values when present; every other
// (network, measurement) pair passes through untouched.
func (s *Store) applyProvisioning(net pkg.AccessNetworkKind, m pkg.MeasurementType, good, bad float64) (float64, float64) {
	p := s.provisioning
	switch {
	case net == pkg.AccessNetworkEUTRAN && m == pkg.MeasurementRSRP:
		if p.LTETh1 != nil {
			good = *p.LTETh1
		}
		if p.LTETh2 != nil {
			bad = *p.LTETh2
		}
	case net == pkg.AccessNetworkIWLAN && m == pkg.MeasurementRSSI:
		if p.WiFiThA != nil {
			good = *p.WiFiThA
		}
		if p.WiFiThB != nil {
			bad = *p.WiFiThB
		}
	}
	return good, bad
}

func defaultGood(net pkg.AccessNetworkKind, m pkg.MeasurementType) float64 {
	if net == pkg.AccessNetworkIWLAN {
		return -70
	}
	return -90
}

func defaultBad(net pkg.AccessNetworkKind, m pkg.MeasurementType) float64 {
	if net == pkg.AccessNetworkIWLAN {
		return -85
	}
	return -105
}

// HysteresisTimer implements hysteresis_timer(apn, transport, call_type):
// provisioning override (IMS LTE/Wi-Fi EPDG timers) first, then per-apn
// table, then zero.
func (s *Store) HysteresisTimer(apn pkg.ApnKind, transport pkg.TransportKind, callType pkg.CallType) int {
	if apn == pkg.ApnIMS {
		if transport == pkg.TransportCellular && s.provisioning.LTEEpdgTimerSec != nil {
			return *s.provisioning.LTEEpdgTimerSec * 1000
		}
		if transport == pkg.TransportWiFi && s.provisioning.WiFiEpdgTimerSec != nil {
			return *s.provisioning.WiFiEpdgTimerSec * 1000
		}
	}
	key := fmt.Sprintf("%s.%s.hysteresis_ms", apnKey(apn), strings.ToLower(transport.String()))
	return s.active.getInt(key, 0)
}

// HandoverAllowed implements handover_allowed(apn, src, dst, coverage):
// first-match over the ordered handover-rule list; if no rule matches,
// IMS defaults to allow, all other APNs default to deny.
func (s *Store) HandoverAllowed(apn pkg.ApnKind, src, dst pkg.AccessNetworkKind, coverage pkg.Coverage) bool {
	roaming := coverage == pkg.CoverageRoam
	for _, rule := range s.active.handoverRules {
		if rule.Matches(src, dst, roaming) {
			return rule.Allowed
		}
	}
	return apn == pkg.ApnIMS
}

// FallbackTimeImsUnregistered implements
// fallback_time_ims_unregistered(cause_code, preference).
func (s *Store) FallbackTimeImsUnregistered(cause int, pref pkg.Preference) (int, bool) {
	return fallbackTime(s.active.fallbackRules["fallback_ims_unregistered"], cause, pref)
}

// FallbackTimeImsHORegisterFailed implements
// fallback_time_ims_ho_register_failed(cause_code, preference).
func (s *Store) FallbackTimeImsHORegisterFailed(cause int, pref pkg.Preference) (int, bool) {
	return fallbackTime(s.active.fallbackRules["fallback_ho_register_failed"], cause, pref)
}

func fallbackTime(rules []FallbackRule, cause int, pref pkg.Preference) (int, bool) {
	millis, rulePref, ok := TimeForCause(rules, cause)
	if !ok {
		return 0, false
	}
	if rulePref != nil && *rulePref != pref {
		return 0, false
	}
	return millis, millis > 0
}

// RTTBackhaulFallbackRules exposes the parsed rtt-backhaul fallback rule
// set, consulted by the RestrictionManager's RTT-backhaul policy.
func (s *Store) RTTBackhaulFallbackRules() []FallbackRule {
	return s.active.fallbackRules["fallback_rtt_backhaul"]
}

// InitialConnectionFallback implements initial_connection_fallback(apn).
func (s *Store) InitialConnectionFallback(apn pkg.ApnKind) InitialConnectionFallback {
	key := apnKey(apn) + ".initial_connection_fallback"
	v, ok := s.active.lookup(key)
	if !ok {
		return InitialConnectionFallback{}
	}
	// grammar: "<retry_count>:<retry_timer_ms>:<fallback_guard_ms>:<max_fallback_count>"
	parts := strings.Split(v, ":")
	if len(parts) != 4 {
		return InitialConnectionFallback{}
	}
	var retryCount, retryTimer, guard, maxCount int
	if _, err := fmt.Sscanf(parts[0], "%d", &retryCount); err != nil {
		return InitialConnectionFallback{}
	}
	fmt.Sscanf(parts[1], "%d", &retryTimer)
	fmt.Sscanf(parts[2], "%d", &guard)
	fmt.Sscanf(parts[3], "%d", &maxCount)
	return InitialConnectionFallback{
		Enabled: true, RetryCount: retryCount, RetryTimerMS: retryTimer,
		FallbackGuardMS: guard, MaxFallbackCount: maxCount,
	}
}

// RTPMetricsConfig implements rtp_metrics_config().
func (s *Store) RTPMetricsConfig() RTPMetricsConfig {
	return RTPMetricsConfig{
		JitterMS:        s.active.getInt("rtp.jitter_ms", 100),
		LossRatePercent: s.active.getInt("rtp.loss_rate_pct", 10),
		LossTimeMS:      s.active.getInt("rtp.loss_time_ms", 4000),
		NoRTPIntervalMS: s.active.getInt("rtp.no_rtp_interval_ms", 4000),
	}
}

// IsAccessNetworkAllowed implements is_access_network_allowed(network,
// apn): IMS uses the carrier RAT allow-list, EMERGENCY inherits IMS's,
// other APNs allow any known access network.
func (s *Store) IsAccessNetworkAllowed(net pkg.AccessNetworkKind, apn pkg.ApnKind) bool {
	if net == pkg.AccessNetworkUnknown {
		return false
	}
	effectiveApn := apn
	if apn == pkg.ApnEmergency {
		effectiveApn = pkg.ApnIMS
	}
	if effectiveApn != pkg.ApnIMS {
		return true
	}
	allowList := s.active.getStringArray("ims.allowed_rat_list")
	if len(allowList) == 0 {
		return true
	}
	for _, tok := range allowList {
		if strings.EqualFold(tok, net.String()) {
			return true
		}
	}
	return false
}

// IsMMTelCapabilityRequired implements is_mmtel_capability_required(coverage).
func (s *Store) IsMMTelCapabilityRequired(coverage pkg.Coverage) bool {
	if coverage == pkg.CoverageRoam {
		return s.active.getBool("ims.mmtel_required_roaming", false)
	}
	return s.active.getBool("ims.mmtel_required_home", true)
}

// IsVoLTERoamingSupported implements is_volte_roaming_supported(coverage).
func (s *Store) IsVoLTERoamingSupported(coverage pkg.Coverage) bool {
	if coverage != pkg.CoverageRoam {
		return true
	}
	return s.active.getBool("ims.volte_roaming_supported", false)
}

// IsInternationalRoaming implements is_international_roaming(apn,
// roaming_type, plmn).
func (s *Store) IsInternationalRoaming(apn pkg.ApnKind, roamingType pkg.RoamingType, plmn string) pkg.Coverage {
	onList := s.apnOnInternationalRoamingList(apn)
	if !onList {
		if roamingType == pkg.RoamingNone {
			return pkg.CoverageHome
		}
		return pkg.CoverageRoam
	}

	switch roamingType {
	case pkg.RoamingInternational:
		for _, p := range s.active.getStringArray("roaming.domestic_plmn_list") {
			if p == plmn {
				return pkg.CoverageHome
			}
		}
		return pkg.CoverageRoam
	case pkg.RoamingDomestic:
		for _, p := range s.active.getStringArray("roaming.international_plmn_list") {
			if p == plmn {
				return pkg.CoverageRoam
			}
		}
		return pkg.CoverageHome
	default:
		return pkg.CoverageHome
	}
}

func (s *Store) apnOnInternationalRoamingList(apn pkg.ApnKind) bool {
	for _, tok := range s.active.getStringArray("roaming.international_roaming_apn_list") {
		if strings.EqualFold(tok, apn.String()) {
			return true
		}
	}
	return false
}

// InCallHandoverIgnoresVoPS implements the
// in_call_ho_decision_wlan_to_wwan_without_vops_condition_bool carrier
// flag referenced verbatim by VoPS open question.
func (s *Store) InCallHandoverIgnoresVoPS() bool {
	return s.active.getBool("in_call_ho_decision_wlan_to_wwan_without_vops_condition_bool", false)
}

// OverrideIMSPreferenceEnabled reports whether the second-access-network
// dual-publish behaviour is enabled for
// the active carrier.
func (s *Store) OverrideIMSPreferenceEnabled() bool {
	return s.active.getBool("ims.override_ims_preference", false)
}

// IWLANInCallMaxRoveOut is the configured counter ceiling for policy 5
// (IWLAN-in-call cap).
func (s *Store) IWLANInCallMaxRoveOut() int {
	return s.active.getInt("iwlan_in_call.max_rove_out", 3)
}

// MinGuardingFloorMS is the minimum guarding duration floor applied by
// policy 1 when the computed hysteresis timer is non-zero but small.
func (s *Store) MinGuardingFloorMS() int {
	return s.active.getInt("guarding.min_floor_ms", 0)
}

// NonPreferredTransportWaitMS is the configured wait for policy 2
// (non-preferred transport at power-on).
func (s *Store) NonPreferredTransportWaitMS() int {
	return s.active.getInt("non_preferred_transport.wait_ms", 0)
}

// RTPLowQualityCooldownMS is the configured cooldown for policy 4.
func (s *Store) RTPLowQualityCooldownMS() int {
	return s.active.getInt("rtp.cooldown_ms", 60000)
}

// RTPFallbackReasonIncludesIWLANRoveOut reports whether the carrier's RTP
// fallback-reason bitmask includes the IWLAN-rove-out class, per policy 4.
func (s *Store) RTPFallbackReasonIncludesIWLANRoveOut() bool {
	return s.active.getBool("rtp.fallback_reason_includes_iwlan_rove_out", true)
}

// RTTBackhaulEnabled reports whether periodic ICMP RTT checks on WLAN are
// enabled, per policy 9.
func (s *Store) RTTBackhaulEnabled() bool {
	return s.active.getBool("rtt_backhaul.enabled", false)
}

// RTTBackhaulHysteresisMS is the duration policy 9 arms
// FALLBACK_TO_WWAN_RTT_BACKHAUL_FAIL for.
func (s *Store) RTTBackhaulHysteresisMS() int {
	return s.active.getInt("rtt_backhaul.hysteresis_ms", 30000)
}

// RTTBackhaulTargetHost is the probe target for policy 9's periodic RTT
// check, matching the carrier's configured backhaul probe or the
// conventional public resolver default.
func (s *Store) RTTBackhaulTargetHost() string {
	if v, ok := s.active.lookup("rtt_backhaul.target_host"); ok && v != "" {
		return v
	}
	return "8.8.8.8"
}

// RTTBackhaulProbeCount is how many ICMP echoes policy 9's check sends per
// attempt.
func (s *Store) RTTBackhaulProbeCount() int {
	return s.active.getInt("rtt_backhaul.probe_count", 3)
}
