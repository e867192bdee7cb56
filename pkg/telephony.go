package pkg

import "time"

// TelephonyInfo mirrors the modem/IMS-stack registration snapshot for one
// (slot, apn). The VoPS/emergency-VoPS/voice-barred/emergency-barred fields
// are only meaningful (and only populated by the external collaborator)
// when Apn is IMS or EMERGENCY.
type TelephonyInfo struct {
	Apn                     ApnKind
	VoiceRAT                AccessNetworkKind
	DataRAT                 AccessNetworkKind
	DataRegState            string
	Coverage                Coverage
	RoamingType             RoamingType
	RegisteredPLMN          string
	CellularAvailable       bool
	VopsSupported           *bool
	VopsEmergencySupported  *bool
	VoiceBarred             *bool
	EmergencyBarred         *bool
}

// RoamingType distinguishes domestic vs. international roaming for the
// is_international_roaming PLMN-list override.
type RoamingType int

const (
	RoamingNone RoamingType = iota
	RoamingDomestic
	RoamingInternational
)

// IwlanAvailability is the IWLAN-side availability snapshot.
type IwlanAvailability struct {
	Available      bool
	CrossWFC       bool
	NotifyDisabled bool
}

// DataConnEvent enumerates the events DataConnectionTracker emits/consumes.
type DataConnEvent int

const (
	DataConnStarted DataConnEvent = iota
	DataConnConnected
	DataConnDisconnected
	DataConnFailed
	DataConnHandoverStarted
	DataConnHandoverSuccess
	DataConnHandoverFailed
	DataConnSuspended // treated specially: in HANDOVER on a different transport, behaves as HandoverSuccess
)

func (e DataConnEvent) String() string {
	names := [...]string{
		"STARTED", "CONNECTED", "DISCONNECTED", "FAILED",
		"HANDOVER_STARTED", "HANDOVER_SUCCESS", "HANDOVER_FAILED", "DATA_SUSPENDED",
	}
	if int(e) < 0 || int(e) >= len(names) {
		return "UNKNOWN_DATA_CONN_EVENT"
	}
	return names[e]
}

// DataConnState is a DataConnectionTracker state.
type DataConnState int

const (
	DataConnInactive DataConnState = iota
	DataConnConnecting
	DataConnConnectedState
	DataConnHandover
)

func (s DataConnState) String() string {
	switch s {
	case DataConnConnecting:
		return "CONNECTING"
	case DataConnConnectedState:
		return "CONNECTED"
	case DataConnHandover:
		return "HANDOVER"
	default:
		return "INACTIVE"
	}
}

// DataConnectionChange is emitted on every DataConnectionTracker
// transition.
type DataConnectionChange struct {
	Event     DataConnEvent
	State     DataConnState
	Transport TransportKind
	Timestamp time.Time
}

// SrvccState enumerates SRVCC (legacy CS voice handover) states.
type SrvccState int

const (
	SrvccNone SrvccState = iota
	SrvccStarted
	SrvccCompleted
	SrvccCanceled
	SrvccFailed
)

// CallState enumerates the coarse call state the evaluator reacts to
// (distinct from CallType, which is the call's media classification).
type CallState int

const (
	CallStateIdle CallState = iota
	CallStateActive
)

// ImsRegEvent enumerates IMS registration change events.
type ImsRegEvent int

const (
	ImsRegistered ImsRegEvent = iota
	ImsUnregistered
	ImsAccessNetworkChangeFailed
)

// ImsRegistrationChange is the inbound event shape for IMS registration
// transitions.
type ImsRegistrationChange struct {
	Transport  TransportKind
	Event      ImsRegEvent
	ReasonCode int
}

// ThrottlingSignal is the inbound event shape for policy 3: a
// modem-signalled back-off on one transport, lifted at deadline.
type ThrottlingSignal struct {
	Transport TransportKind
	On        bool
	Deadline  time.Time
}

// ProvisioningOverrides is the sparse mapping of OMA-DM/carrier provisioning
// overrides applied as a decorator in front of PolicyStore's threshold
// getter.
type ProvisioningOverrides struct {
	LTETh1            *float64
	LTETh2            *float64
	LTETh3            *float64
	WiFiThA           *float64
	WiFiThB           *float64
	LTEEpdgTimerSec   *int
	WiFiEpdgTimerSec  *int
	WFCModeOverride   *Preference
	WFCRoamingOverride *bool
	WFCEnabledOverride *bool
}
