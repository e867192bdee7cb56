// Package pkg holds the QNS core data model: the enumerations, value types,
// and small interfaces shared by every component (signalmon, dataconn,
// policy, restriction, evaluator). It has no dependencies on any other
// package in this module.
package pkg

import "fmt"

// AccessNetworkKind is a radio technology reachable for an APN.
type AccessNetworkKind int

const (
	AccessNetworkUnknown AccessNetworkKind = iota
	AccessNetworkGERAN
	AccessNetworkUTRAN
	AccessNetworkEUTRAN
	AccessNetworkNGRAN
	AccessNetworkIWLAN
)

func (a AccessNetworkKind) String() string {
	switch a {
	case AccessNetworkGERAN:
		return "GERAN"
	case AccessNetworkUTRAN:
		return "UTRAN"
	case AccessNetworkEUTRAN:
		return "EUTRAN"
	case AccessNetworkNGRAN:
		return "NGRAN"
	case AccessNetworkIWLAN:
		return "IWLAN"
	default:
		return "UNKNOWN"
	}
}

// TransportKind is the carrier of packets for an access network.
type TransportKind int

const (
	TransportInvalid TransportKind = iota
	TransportCellular
	TransportWiFi
)

func (t TransportKind) String() string {
	switch t {
	case TransportCellular:
		return "CELLULAR"
	case TransportWiFi:
		return "WIFI"
	default:
		return "INVALID"
	}
}

// Other returns the opposite transport. TransportInvalid maps to itself.
func (t TransportKind) Other() TransportKind {
	switch t {
	case TransportCellular:
		return TransportWiFi
	case TransportWiFi:
		return TransportCellular
	default:
		return TransportInvalid
	}
}

// TransportOf implements the AccessNetworkKind<->TransportKind bijection:
// IWLAN maps to WIFI, everything else (including UNKNOWN) maps to CELLULAR.
func TransportOf(net AccessNetworkKind) TransportKind {
	if net == AccessNetworkIWLAN {
		return TransportWiFi
	}
	return TransportCellular
}

// ApnKind is the logical packet-data profile this evaluator instance serves.
type ApnKind int

const (
	ApnIMS ApnKind = iota
	ApnEmergency
	ApnMMS
	ApnXCAP
	ApnCBS
)

func (a ApnKind) String() string {
	switch a {
	case ApnIMS:
		return "IMS"
	case ApnEmergency:
		return "EMERGENCY"
	case ApnMMS:
		return "MMS"
	case ApnXCAP:
		return "XCAP"
	case ApnCBS:
		return "CBS"
	default:
		return "UNKNOWN_APN"
	}
}

// CallType is the active call classification driving pre-condition lookup.
type CallType int

const (
	CallIdle CallType = iota
	CallVoice
	CallVideo
	CallEmergency
)

func (c CallType) String() string {
	switch c {
	case CallVoice:
		return "VOICE"
	case CallVideo:
		return "VIDEO"
	case CallEmergency:
		return "EMERGENCY"
	default:
		return "IDLE"
	}
}

// Preference is the user/platform Wi-Fi calling preference.
type Preference int

const (
	PreferenceWiFiOnly Preference = iota
	PreferenceWiFiPref
	PreferenceCellPref
)

func (p Preference) String() string {
	switch p {
	case PreferenceWiFiOnly:
		return "WIFI_ONLY"
	case PreferenceWiFiPref:
		return "WIFI_PREF"
	default:
		return "CELL_PREF"
	}
}

// Coverage is HOME or ROAM, derived from PLMN/roaming-type comparisons.
type Coverage int

const (
	CoverageHome Coverage = iota
	CoverageRoam
)

func (c Coverage) String() string {
	if c == CoverageRoam {
		return "ROAM"
	}
	return "HOME"
}

// Guarding names which transport (if any) currently holds a post-handover
// guarding window. At most one of WIFI/CELLULAR may be set at a time
// (invariant I4).
type Guarding int

const (
	GuardingNone Guarding = iota
	GuardingWiFi
	GuardingCellular
)

func (g Guarding) String() string {
	switch g {
	case GuardingWiFi:
		return "WIFI"
	case GuardingCellular:
		return "CELLULAR"
	default:
		return "NONE"
	}
}

// Comparator is the relational operator a Threshold applies to a
// measurement.
type Comparator int

const (
	ComparatorGE Comparator = iota // >=
	ComparatorLE                   // <=
)

func (c Comparator) Satisfied(latest, value float64) bool {
	if c == ComparatorGE {
		return latest >= value
	}
	return latest <= value
}

func (c Comparator) String() string {
	if c == ComparatorGE {
		return ">="
	}
	return "<="
}

// MeasurementType enumerates the raw signal measurements QNS reasons about.
type MeasurementType int

const (
	MeasurementRSRP MeasurementType = iota
	MeasurementRSRQ
	MeasurementRSSNR
	MeasurementSSRSRP
	MeasurementSSRSRQ
	MeasurementSSSINR
	MeasurementRSCP
	MeasurementRSSI
	MeasurementECNO
)

func (m MeasurementType) String() string {
	names := [...]string{"RSRP", "RSRQ", "RSSNR", "SSRSRP", "SSRSRQ", "SSSINR", "RSCP", "RSSI", "ECNO"}
	if int(m) < 0 || int(m) >= len(names) {
		return fmt.Sprintf("MEASUREMENT_%d", int(m))
	}
	return names[m]
}
