// Package telephony provides a gRPC client for the modem/RIL vendor service
// that actually carries signal measurements, registration state, and call
// state. It is the only component in this tree that crosses the process
// boundary into the telephony stack; everything upstream of it (signalmon,
// dataconn, evaluator) consumes its output as plain values.
package telephony

// SignalStrengthResponse mirrors the vendor RIL's getSignalStrength reply,
// one sub-struct per access-network family. Fields the vendor leaves unset
// arrive as their RIL "unknown" sentinel and are translated to absent
// measurements by the caller rather than by this package.
type SignalStrengthResponse struct {
	GetSignalStrength struct {
		LTE struct {
			RSRP  int `json:"rsrp"`
			RSRQ  int `json:"rsrq"`
			RSSNR int `json:"rssnr"`
		} `json:"lte"`
		NR struct {
			SSRSRP int `json:"ssRsrp"`
			SSRSRQ int `json:"ssRsrq"`
			SSSINR int `json:"ssSinr"`
		} `json:"nr"`
		WCDMA struct {
			RSCP int `json:"rscp"`
			ECNO int `json:"ecno"`
		} `json:"wcdma"`
		GSM struct {
			RSSI int `json:"rssi"`
		} `json:"gsm"`
		WiFi struct {
			RSSI int `json:"rssi"`
		} `json:"wifi"`
	} `json:"getSignalStrength"`
}

// ServiceStateResponse mirrors getServiceState/getDataRegistrationState.
type ServiceStateResponse struct {
	GetServiceState struct {
		VoiceRAT          string `json:"voiceRat"`
		DataRAT           string `json:"dataRat"`
		DataRegState      string `json:"dataRegState"`
		RegisteredPLMN    string `json:"registeredPlmn"`
		RoamingType       string `json:"roamingType"`
		CellularAvailable bool   `json:"cellularAvailable"`
	} `json:"getServiceState"`
}

// ImsRegistrationResponse mirrors getImsRegistrationState, scoped to a
// single APN (IMS or EMERGENCY; other APNs don't carry VoPS/barred state).
// Registered/Transport/ReasonCode describe the current IMS registration
// transport and cause, used to detect WLAN registration transitions for
// policy 7 (IMS fallback to WWAN).
type ImsRegistrationResponse struct {
	GetImsRegistrationState struct {
		VopsSupported          *bool  `json:"vopsSupported"`
		VopsEmergencySupported *bool  `json:"vopsEmergencySupported"`
		VoiceBarred            *bool  `json:"voiceBarred"`
		EmergencyBarred        *bool  `json:"emergencyBarred"`
		Registered             *bool  `json:"registered"`
		Transport              string `json:"transport"`
		ReasonCode             int    `json:"reasonCode"`
	} `json:"getImsRegistrationState"`
}

// ThrottleStatusResponse mirrors getThrottleStatus: a modem-signalled
// back-off on one transport, per policy 3.
type ThrottleStatusResponse struct {
	GetThrottleStatus struct {
		Transport      string `json:"transport"`
		Throttled      bool   `json:"throttled"`
		DeadlineUnixMS int64  `json:"deadlineUnixMs"`
	} `json:"getThrottleStatus"`
}

// CallQualityResponse mirrors getCallQuality: the active call's RTP-quality
// classification on its carrying transport, per policy 4.
type CallQualityResponse struct {
	GetCallQuality struct {
		Transport  string `json:"transport"`
		LowQuality bool   `json:"lowQuality"`
	} `json:"getCallQuality"`
}

// IwlanAvailabilityResponse mirrors getIwlanAvailability.
type IwlanAvailabilityResponse struct {
	GetIwlanAvailability struct {
		Available      bool `json:"available"`
		CrossWfc       bool `json:"crossWfc"`
		NotifyDisabled bool `json:"notifyDisabled"`
	} `json:"getIwlanAvailability"`
}

// CallStateResponse mirrors getCallState.
type CallStateResponse struct {
	GetCallState struct {
		Active    bool   `json:"active"`
		CallType  string `json:"callType"`
		SrvccState string `json:"srvccState"`
	} `json:"getCallState"`
}
