// Package policy implements the PolicyStore, the two-layer carrier
// configuration lookup at the heart of the qualified networks selector: a
// carrier override value beats an asset (shipped default) value, and a
// missing key falls back to a hard-coded default — plus the typed
// getters and rule-string grammars the Evaluator and RestrictionManager
// depend on.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

// RatPreference is the rat_preference_bool_array-style knob controlling
// when IWLAN is preferred over cellular for an APN.
type RatPreference int

const (
	RatDefault RatPreference = iota
	RatWiFiOnly
	RatWiFiWhenWFCAvailable
	RatWiFiWhenNoCellular
	RatWiFiWhenHomeNotAvailable
)

func (r RatPreference) String() string {
	switch r {
	case RatWiFiOnly:
		return "WIFI_ONLY"
	case RatWiFiWhenWFCAvailable:
		return "WIFI_WHEN_WFC_AVAILABLE"
	case RatWiFiWhenNoCellular:
		return "WIFI_WHEN_NO_CELLULAR"
	case RatWiFiWhenHomeNotAvailable:
		return "WIFI_WHEN_HOME_IS_NOT_AVAILABLE"
	default:
		return "DEFAULT"
	}
}

// SupportedTransports enumerates which transports an APN may ride.
type SupportedTransports int

const (
	SupportsBoth SupportedTransports = iota
	SupportsWWANOnly
	SupportsWLANOnly
)

// ThresholdTriplet is the {good, bad, worst?} result of
// threshold_by_preference; HasWorst is false for IWLAN and two-value
// profiles.
type ThresholdTriplet struct {
	Good     pkg.Threshold
	Bad      pkg.Threshold
	Worst    pkg.Threshold
	HasWorst bool
}

// InitialConnectionFallback is the initial_connection_fallback(apn) tuple.
type InitialConnectionFallback struct {
	Enabled          bool
	RetryCount       int
	RetryTimerMS     int
	FallbackGuardMS  int
	MaxFallbackCount int
}

// RTPMetricsConfig is the rtp_metrics_config() tuple.
type RTPMetricsConfig struct {
	JitterMS        int
	LossRatePercent int
	LossTimeMS      int
	NoRTPIntervalMS int
}

// CarrierConfig is one immutable, versioned snapshot of a carrier's
// configuration: an asset (shipped default) layer plus a carrier-override
// layer. Layer lookup order is carrier → asset → hard-coded default,
// mirroring the teacher's uci.Config "parse into typed struct with a
// setDefaults pass" idiom, generalised to two textual layers instead of
// one.
type CarrierConfig struct {
	CarrierID string

	asset    map[string]string
	carrier  map[string]string

	handoverRules []HandoverRule
	fallbackRules map[string][]FallbackRule // keyed by rule family: "fallback_ims_unregistered", "fallback_ho_register_failed", "fallback_rtt_backhaul"
	policies      []pkg.Policy
}

// NewCarrierConfig builds a CarrierConfig from raw asset and carrier
// option maps (as loaded from JSON asset files and UCI "carrier"
// sections respectively).
func NewCarrierConfig(carrierID string, asset, carrier map[string]string) (*CarrierConfig, error) {
	cc := &CarrierConfig{
		CarrierID:     carrierID,
		asset:         asset,
		carrier:       carrier,
		fallbackRules: make(map[string][]FallbackRule),
	}

	if raw, ok := cc.lookup("handover_rule_list"); ok {
		rules, err := ParseHandoverRules(raw)
		if err != nil {
			return nil, fmt.Errorf("carrier %s: %w", carrierID, err)
		}
		cc.handoverRules = rules
	}

	for _, family := range []string{"fallback_ims_unregistered", "fallback_ho_register_failed", "fallback_rtt_backhaul"} {
		if raw, ok := cc.lookup(family + "_rule_list"); ok {
			rules, err := ParseFallbackRules(raw)
			if err != nil {
				return nil, fmt.Errorf("carrier %s: %w", carrierID, err)
			}
			cc.fallbackRules[family] = rules
		}
	}

	return cc, nil
}

// lookup applies the two-layer resolution: carrier overrides asset.
func (cc *CarrierConfig) lookup(key string) (string, bool) {
	if v, ok := cc.carrier[key]; ok {
		return v, true
	}
	if v, ok := cc.asset[key]; ok {
		return v, true
	}
	return "", false
}

func (cc *CarrierConfig) getBool(key string, def bool) bool {
	v, ok := cc.lookup(key)
	if !ok {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func (cc *CarrierConfig) getInt(key string, def int) int {
	v, ok := cc.lookup(key)
	if !ok {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func (cc *CarrierConfig) getFloat(key string, def float64) float64 {
	v, ok := cc.lookup(key)
	if !ok {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return def
	}
	return f
}

func (cc *CarrierConfig) getStringArray(key string) []string {
	v, ok := cc.lookup(key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Store is the PolicyStore: the currently active CarrierConfig snapshot
// plus the provisioning-override decorator layered on the threshold
// getter.
type Store struct {
	logger *logx.Logger

	active       *CarrierConfig
	provisioning pkg.ProvisioningOverrides

	// lastHandoverRuleText/lastThresholdDigest let ReloadCarrier
	// detect a material diff before emitting CONFIG_CHANGED (	// "Configuration change").
	lastHandoverRuleText string
	lastThresholdDigest  string
}

// NewStore creates a PolicyStore around an initial CarrierConfig.
func NewStore(logger *logx.Logger, initial *CarrierConfig) *Store {
	return &Store{logger: logger, active: initial}
}

// SetProvisioningOverrides installs the current OMA-DM provisioning
// overrides, applied only to LTE RSRP / Wi-Fi RSSI thresholds and the
// EPDG hysteresis timers.
func (s *Store) SetProvisioningOverrides(p pkg.ProvisioningOverrides) {
	s.provisioning = p
}

// ReloadCarrier swaps in a new CarrierConfig snapshot atomically and
// reports whether the change is material (threshold set or handover rule
// set differs), per "only on a material diff does it emit
// CONFIG_CHANGED".
func (s *Store) ReloadCarrier(next *CarrierConfig) (changed bool) {
	newDigest := thresholdDigest(next)
	newHandoverText, _ := next.lookup("handover_rule_list")

	thresholdsChanged := newDigest != s.lastThresholdDigest
	rulesChanged := newHandoverText != s.lastHandoverRuleText
	changed = thresholdsChanged || rulesChanged
	s.active = next
	s.lastThresholdDigest = newDigest
	s.lastHandoverRuleText = newHandoverText

	if changed && s.logger != nil {
		s.logger.LogPolicyReload(next.CarrierID, thresholdsChanged, rulesChanged)
	}
	return changed
}

// thresholdDigest is a cheap order-independent fingerprint of every
// threshold-bearing key, good enough to detect a material config change
// without a full structural diff.
func thresholdDigest(cc *CarrierConfig) string {
	keys := append([]string(nil), thresholdKeys...)
	var profileKeys []string
	for _, layer := range []map[string]string{cc.asset, cc.carrier} {
		for k := range layer {
			if strings.HasSuffix(k, ".good") || strings.HasSuffix(k, ".bad") || strings.HasSuffix(k, ".worst") {
				profileKeys = append(profileKeys, k)
			}
		}
	}
	sort.Strings(profileKeys)
	keys = append(keys, profileKeys...)

	var b strings.Builder
	for _, key := range keys {
		if v, ok := cc.lookup(key); ok {
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte(';')
		}
	}
	return b.String()
}

var thresholdKeys = []string{
	"lte_th1", "lte_th2", "lte_th3",
	"nr_th1", "nr_th2", "nr_th3",
	"wifi_tha", "wifi_thb",
	"utran_rscp_th", "geran_rssi_th",
}
