package pkg

import "time"

// RestrictType enumerates the restriction kinds a transport can hold.
type RestrictType int

const (
	RestrictGuarding RestrictType = iota
	RestrictThrottling
	RestrictHandoverNotAllowed
	RestrictNonPreferredTransport
	RestrictRTPLowQuality
	RestrictIWLANInCall
	RestrictIWLANCSCall
	RestrictFallbackToWWANImsRegiFail
	RestrictFallbackOnDataConnectionFail
	RestrictFallbackToWWANRTTBackhaulFail
)

func (r RestrictType) String() string {
	names := [...]string{
		"GUARDING",
		"THROTTLING",
		"HO_NOT_ALLOWED",
		"NON_PREFERRED_TRANSPORT",
		"RTP_LOW_QUALITY",
		"RESTRICT_IWLAN_IN_CALL",
		"RESTRICT_IWLAN_CS_CALL",
		"FALLBACK_TO_WWAN_IMS_REGI_FAIL",
		"FALLBACK_ON_DATA_CONNECTION_FAIL",
		"FALLBACK_TO_WWAN_RTT_BACKHAUL_FAIL",
	}
	if int(r) < 0 || int(r) >= len(names) {
		return "UNKNOWN_RESTRICT_TYPE"
	}
	return names[r]
}

// ReleaseEvent is an external trigger that releases a Restriction early.
type ReleaseEvent int

const (
	ReleaseDisconnect ReleaseEvent = iota
	ReleaseWiFiAPChanged
	ReleaseWFCPreferModeChanged
	ReleaseCallEnd
	ReleaseImsNotSupportRAT
)

func (r ReleaseEvent) String() string {
	names := [...]string{
		"DISCONNECT", "WIFI_AP_CHANGED", "WFC_PREFER_MODE_CHANGED", "CALL_END", "IMS_NOT_SUPPORT_RAT",
	}
	if int(r) < 0 || int(r) >= len(names) {
		return "UNKNOWN_RELEASE_EVENT"
	}
	return names[r]
}

// IgnorableRestrictTypes is the set of restriction types that do not, by
// themselves, block a transport when checked by
// is_allowed_on_single_transport.
var IgnorableRestrictTypes = map[RestrictType]bool{
	RestrictGuarding:                      true,
	RestrictRTPLowQuality:                 true,
	RestrictIWLANInCall:                   true,
	RestrictFallbackToWWANImsRegiFail:     true,
	RestrictFallbackOnDataConnectionFail:  true,
	RestrictFallbackToWWANRTTBackhaulFail: true,
}

// Restriction is one active restriction held against a transport.
type Restriction struct {
	Type          RestrictType
	ReleaseEvents map[ReleaseEvent]bool
	ReleaseTime   *time.Time // nil means timerless (released only by event or explicit release)
}

// HasReleaseEvent reports whether ev is in this restriction's release set.
func (r Restriction) HasReleaseEvent(ev ReleaseEvent) bool {
	return r.ReleaseEvents[ev]
}

// RestrictInfo is the set of restrictions held against one transport.
type RestrictInfo struct {
	Transport    TransportKind
	Restrictions map[RestrictType]*Restriction
}

// NewRestrictInfo creates an empty RestrictInfo for a transport.
func NewRestrictInfo(t TransportKind) *RestrictInfo {
	return &RestrictInfo{Transport: t, Restrictions: make(map[RestrictType]*Restriction)}
}

// IsRestricted reports whether any restriction is held.
func (ri *RestrictInfo) IsRestricted() bool {
	return len(ri.Restrictions) > 0
}

// IsRestrictedExceptGuarding reports whether any NON-guarding restriction
// is held.
func (ri *RestrictInfo) IsRestrictedExceptGuarding() bool {
	for t := range ri.Restrictions {
		if t != RestrictGuarding {
			return true
		}
	}
	return false
}

// IsAllowedOnSingleTransport reports true iff every held restriction is in
// the ignorable set.
func (ri *RestrictInfo) IsAllowedOnSingleTransport() bool {
	for t := range ri.Restrictions {
		if !IgnorableRestrictTypes[t] {
			return false
		}
	}
	return true
}
