package pkg

// EventKind tags the closed inbound-event set the Evaluator's inbox
// dispatches on: the event set is closed, modeled as a tagged variant,
// never dispatched ad-hoc by string tag.
type EventKind int

const (
	EventIwlanAvailabilityChanged EventKind = iota
	EventTelephonyInfoChanged
	EventRestrictInfoChanged
	EventCallTypeSet
	EventDataConnectionStateChanged
	EventEmergencyPreferredTransportChanged
	EventProvisioningInfoChanged
	EventImsRegistrationStateChanged
	EventThresholdCrossed
	EventWFCEnabledChanged
	EventWFCRoamingChanged
	EventWFCModeChanged
	EventPlatformWFCChanged
	EventAirplaneModeChanged
	EventSimAbsentChanged
	EventWFCActivationChanged
	EventSrvccStateChanged
	EventCallStateChanged
	EventThrottlingSignalled
	EventRTPQualityLow
	EventRTTBackhaulCheckFailed
)

func (k EventKind) String() string {
	names := [...]string{
		"IWLAN_AVAILABILITY_CHANGED",
		"TELEPHONY_INFO_CHANGED",
		"RESTRICT_INFO_CHANGED",
		"CALL_TYPE_SET",
		"DATA_CONNECTION_STATE_CHANGED",
		"EMERGENCY_PREFERRED_TRANSPORT_CHANGED",
		"PROVISIONING_INFO_CHANGED",
		"IMS_REGISTRATION_STATE_CHANGED",
		"THRESHOLD_CROSSED",
		"WFC_ENABLED_CHANGED",
		"WFC_ROAMING_CHANGED",
		"WFC_MODE_CHANGED",
		"PLATFORM_WFC_CHANGED",
		"AIRPLANE_MODE_CHANGED",
		"SIM_ABSENT_CHANGED",
		"WFC_ACTIVATION_CHANGED",
		"SRVCC_STATE_CHANGED",
		"CALL_STATE_CHANGED",
		"THROTTLING_SIGNALLED",
		"RTP_QUALITY_LOW",
		"RTT_BACKHAUL_CHECK_FAILED",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UNKNOWN_EVENT"
	}
	return names[k]
}

// ThresholdCrossing is the inbound event shape for a measurement crossing
// a registered threshold.
type ThresholdCrossing struct {
	AccessNetwork AccessNetworkKind
	Measurement   MeasurementType
	Value         float64
}

// ProvisioningInfo is the sparse integer/bool map carried by the
// ProvisioningInfoChanged event; keys mirror ProvisioningOverrides'
// fields textually so the Evaluator can diff by key.
type ProvisioningInfo map[string]interface{}

// InboxEvent is the closed tagged union the Evaluator's single-threaded
// inbox consumes. Exactly one of the typed payload fields is meaningful,
// selected by Kind.
type InboxEvent struct {
	Kind EventKind

	IwlanAvailability     *IwlanAvailability
	Telephony             *TelephonyInfo
	RestrictInfo          *RestrictInfoChanged
	CallType              *CallType
	DataConnChange        *DataConnectionChange
	EmergencyPreferred    *TransportKind
	Provisioning          ProvisioningInfo
	ImsRegistration       *ImsRegistrationChange
	ThresholdCrossing     *ThresholdCrossing
	BoolValue             *bool
	Preference            *Preference
	Srvcc                 *SrvccState
	CallState             *CallState
	Throttling            *ThrottlingSignal
	Transport             *TransportKind

	// IwlanDisableReason, when true, marks that the IWLAN availability
	// change carried the specific reason IWLAN_DISABLE. No pipeline step
	// reads it; step 7 uses IwlanAvailability.NotifyDisabled.
	IwlanDisableReason bool
}
