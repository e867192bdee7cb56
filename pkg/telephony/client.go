package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
)

// Client talks to the vendor RIL/telephony gRPC service over the loopback
// socket the modem stack exposes, using reflection so qnsd never needs the
// vendor's compiled proto definitions at build time.
type Client struct {
	host    string
	port    int
	timeout time.Duration
	logger  *logx.Logger
}

// NewClient creates a client bound to the given vendor RIL gRPC endpoint.
func NewClient(host string, port int, timeout time.Duration, logger *logx.Logger) *Client {
	return &Client{host: host, port: port, timeout: timeout, logger: logger}
}

// DefaultClient creates a client bound to the conventional loopback address
// the vendor RIL gRPC bridge listens on.
func DefaultClient(logger *logx.Logger) *Client {
	return NewClient("127.0.0.1", 9400, 5*time.Second, logger)
}

// Method identifies one of the vendor telephony gRPC service's RPCs.
type Method string

const (
	MethodGetSignalStrength     Method = "get_signal_strength"
	MethodGetServiceState       Method = "get_service_state"
	MethodGetImsRegistration    Method = "get_ims_registration_state"
	MethodGetIwlanAvailability  Method = "get_iwlan_availability"
	MethodGetCallState          Method = "get_call_state"
	MethodGetThrottleStatus     Method = "get_throttle_status"
	MethodGetCallQuality        Method = "get_call_quality"
)

// CallMethod invokes method for (slot, apn) and returns the raw JSON reply.
func (c *Client) CallMethod(ctx context.Context, slot int, apn pkg.ApnKind, method Method) (string, error) {
	conn, err := grpc.DialContext(ctx, fmt.Sprintf("%s:%d", c.host, c.port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithTimeout(c.timeout))
	if err != nil {
		return "", fmt.Errorf("failed to connect to telephony service: %w", err)
	}
	defer conn.Close()

	reflectionClient := grpcreflect.NewClient(ctx, grpc_reflection_v1alpha.NewServerReflectionClient(conn))
	descSource := grpcurl.DescriptorSourceFromServer(ctx, reflectionClient)

	requestJSON := fmt.Sprintf(`{"%s":{"slot":%d,"apn":"%s"}}`, string(method), slot, apn.String())
	requestReader := grpcurl.NewJSONRequestParser(strings.NewReader(requestJSON), grpcurl.AnyResolverFromDescriptorSource(descSource))

	var responseBuffer strings.Builder
	formatter := grpcurl.NewJSONFormatter(false, grpcurl.AnyResolverFromDescriptorSource(descSource))
	handler := &grpcurl.DefaultEventHandler{
		Out:            &responseBuffer,
		Formatter:      formatter,
		VerbosityLevel: 0,
	}

	methodName := "vendor.telephony.RadioIndication/Handle"
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, methodName, nil, handler, requestReader.Next); err != nil {
		return "", fmt.Errorf("gRPC call failed: %w", err)
	}

	return responseBuffer.String(), nil
}

// GetSignalStrength retrieves the current raw measurements for slot.
func (c *Client) GetSignalStrength(ctx context.Context, slot int) (*SignalStrengthResponse, error) {
	raw, err := c.CallMethod(ctx, slot, pkg.ApnIMS, MethodGetSignalStrength)
	if err != nil {
		return nil, err
	}
	var resp SignalStrengthResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse signal strength response: %w", err)
	}
	return &resp, nil
}

// GetServiceState retrieves voice/data RAT and registration state for slot.
func (c *Client) GetServiceState(ctx context.Context, slot int) (*ServiceStateResponse, error) {
	raw, err := c.CallMethod(ctx, slot, pkg.ApnIMS, MethodGetServiceState)
	if err != nil {
		return nil, err
	}
	var resp ServiceStateResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse service state response: %w", err)
	}
	return &resp, nil
}

// GetImsRegistrationState retrieves VoPS/barred state for (slot, apn). Only
// meaningful for IMS and EMERGENCY; other APNs return zero-value fields.
func (c *Client) GetImsRegistrationState(ctx context.Context, slot int, apn pkg.ApnKind) (*ImsRegistrationResponse, error) {
	raw, err := c.CallMethod(ctx, slot, apn, MethodGetImsRegistration)
	if err != nil {
		return nil, err
	}
	var resp ImsRegistrationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse IMS registration response: %w", err)
	}
	return &resp, nil
}

// GetIwlanAvailability retrieves the current IWLAN-side availability
// snapshot for slot.
func (c *Client) GetIwlanAvailability(ctx context.Context, slot int) (*IwlanAvailabilityResponse, error) {
	raw, err := c.CallMethod(ctx, slot, pkg.ApnIMS, MethodGetIwlanAvailability)
	if err != nil {
		return nil, err
	}
	var resp IwlanAvailabilityResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse IWLAN availability response: %w", err)
	}
	return &resp, nil
}

// GetCallState retrieves the active call classification for slot.
func (c *Client) GetCallState(ctx context.Context, slot int) (*CallStateResponse, error) {
	raw, err := c.CallMethod(ctx, slot, pkg.ApnIMS, MethodGetCallState)
	if err != nil {
		return nil, err
	}
	var resp CallStateResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse call state response: %w", err)
	}
	return &resp, nil
}

// GetThrottleStatus retrieves the modem's current back-off state on one
// transport for slot, used to drive policy 3 (OnThrottleSignalled).
func (c *Client) GetThrottleStatus(ctx context.Context, slot int, apn pkg.ApnKind) (*ThrottleStatusResponse, error) {
	raw, err := c.CallMethod(ctx, slot, apn, MethodGetThrottleStatus)
	if err != nil {
		return nil, err
	}
	var resp ThrottleStatusResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse throttle status response: %w", err)
	}
	return &resp, nil
}

// GetCallQuality retrieves the active call's RTP-quality classification for
// slot, used to drive policy 4 (OnLowRTPQuality).
func (c *Client) GetCallQuality(ctx context.Context, slot int, apn pkg.ApnKind) (*CallQualityResponse, error) {
	raw, err := c.CallMethod(ctx, slot, apn, MethodGetCallQuality)
	if err != nil {
		return nil, err
	}
	var resp CallQualityResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse call quality response: %w", err)
	}
	return &resp, nil
}

// GetTelephonyInfo assembles a TelephonyInfo snapshot for (slot, apn) from
// the service-state and IMS-registration RPCs.
func (c *Client) GetTelephonyInfo(ctx context.Context, slot int, apn pkg.ApnKind) (*pkg.TelephonyInfo, error) {
	svc, err := c.GetServiceState(ctx, slot)
	if err != nil {
		return nil, err
	}

	info := &pkg.TelephonyInfo{
		Apn:               apn,
		VoiceRAT:          parseAccessNetwork(svc.GetServiceState.VoiceRAT),
		DataRAT:           parseAccessNetwork(svc.GetServiceState.DataRAT),
		DataRegState:      svc.GetServiceState.DataRegState,
		RegisteredPLMN:    svc.GetServiceState.RegisteredPLMN,
		CellularAvailable: svc.GetServiceState.CellularAvailable,
		RoamingType:       parseRoamingType(svc.GetServiceState.RoamingType),
	}
	if svc.GetServiceState.RoamingType != "" && info.RoamingType != pkg.RoamingNone {
		info.Coverage = pkg.CoverageRoam
	} else {
		info.Coverage = pkg.CoverageHome
	}

	if apn == pkg.ApnIMS || apn == pkg.ApnEmergency {
		ims, err := c.GetImsRegistrationState(ctx, slot, apn)
		if err != nil {
			c.logger.Warn("failed to fetch IMS registration state", "slot", slot, "apn", apn.String(), "error", err)
		} else {
			info.VopsSupported = ims.GetImsRegistrationState.VopsSupported
			info.VopsEmergencySupported = ims.GetImsRegistrationState.VopsEmergencySupported
			info.VoiceBarred = ims.GetImsRegistrationState.VoiceBarred
			info.EmergencyBarred = ims.GetImsRegistrationState.EmergencyBarred
		}
	}

	return info, nil
}

func parseAccessNetwork(s string) pkg.AccessNetworkKind {
	switch strings.ToUpper(s) {
	case "GERAN":
		return pkg.AccessNetworkGERAN
	case "UTRAN":
		return pkg.AccessNetworkUTRAN
	case "EUTRAN":
		return pkg.AccessNetworkEUTRAN
	case "NGRAN":
		return pkg.AccessNetworkNGRAN
	case "IWLAN":
		return pkg.AccessNetworkIWLAN
	default:
		return pkg.AccessNetworkUnknown
	}
}

func parseRoamingType(s string) pkg.RoamingType {
	switch strings.ToUpper(s) {
	case "DOMESTIC":
		return pkg.RoamingDomestic
	case "INTERNATIONAL":
		return pkg.RoamingInternational
	default:
		return pkg.RoamingNone
	}
}
