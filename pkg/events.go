package pkg

import "time"

// QualifiedNetworksChanged is the Evaluator's sole externally meaningful
// output. An empty AccessNetworks list means "treat as cellular default"
// (invariant I2) except at the very first publish after init, where empty
// vs. [current cellular] are genuinely distinguished by the caller.
type QualifiedNetworksChanged struct {
	Slot           int
	Apn            ApnKind
	AccessNetworks []AccessNetworkKind
	Timestamp      time.Time
}

// RestrictInfoChanged is emitted by the RestrictionManager back into the
// Evaluator's inbox, and is also visible to external collaborators for
// telemetry.
type RestrictInfoChanged struct {
	Slot      int
	Apn       ApnKind
	Transport TransportKind
	Info      *RestrictInfo
	Timestamp time.Time
}

// DumpSnapshot is the structured, side-effect-free diagnostic dump:
// "no CLI in core; diagnostic dump is a pure function".
type DumpSnapshot struct {
	Slot                  int
	Apn                   ApnKind
	LastPublished         []AccessNetworkKind
	CachedInputs          map[string]interface{}
	ActivePolicies        []Policy
	RestrictionsPerTransport map[TransportKind][]RestrictType
	ProvisioningOverrides ProvisioningOverrides
}

// Publisher is the outbound call surface an Evaluator uses to hand its
// qualified-network list to the modem consumer (the modem-side consumer
// itself is out of scope here — only this call surface is specified).
type Publisher interface {
	Publish(QualifiedNetworksChanged)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(QualifiedNetworksChanged)

func (f PublisherFunc) Publish(q QualifiedNetworksChanged) { f(q) }
