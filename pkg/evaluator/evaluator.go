// Package evaluator implements the orchestrator that owns one (slot, APN)
// pair's single-threaded inbox, fuses the cached inputs from every other
// component into a PreCondition and an allowed/available transport pair,
// and publishes the qualified-network list.
package evaluator

import (
	"context"
	"sync"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/dataconn"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/policy"
	"github.com/qns-project/qns-core/pkg/restrictmgr"
	"github.com/qns-project/qns-core/pkg/signalmon"
)

// Evaluator owns the evaluation pipeline for one (slot, APN). Every
// mutation of its cached inputs and every re-evaluation happens on the
// single goroutine draining its inbox — Submit is the only
// concurrency-safe entry point from other goroutines.
type Evaluator struct {
	slot int
	apn  pkg.ApnKind

	logger       *logx.Logger
	perf         *logx.PerformanceLogger
	store        *policy.Store
	wifiMonitor  *signalmon.Monitor
	cellMonitor  *signalmon.Monitor
	dataConn     *dataconn.Tracker
	restrict     *restrictmgr.Manager
	policyRunner *restrictmgr.PolicyRunner
	publisher    pkg.Publisher

	inbox chan pkg.InboxEvent
	done  chan struct{}

	mu sync.Mutex // guards state below; taken by handle (inbox-draining goroutine or HandleSync) and by Dump

	initialized bool

	// cached inputs, each mutated by its own dispatch handler
	iwlanAvailable bool
	crossWFC       bool
	notifyDisabled bool

	cellularAvailable          bool
	cellularAccessNetwork      pkg.AccessNetworkKind
	coverage                   pkg.Coverage
	latestAvailableCellularNet pkg.AccessNetworkKind

	callType   pkg.CallType
	callState  pkg.CallState
	srvccState pkg.SrvccState

	wfcPlatformEnabled bool
	wfcUserEnabled     bool
	wfcRoaming         bool
	wfcMode            pkg.Preference
	airplaneMode       bool
	simAbsent          bool
	wfcActivated       bool

	provisioning pkg.ProvisioningOverrides

	emergencyPreferredTransport pkg.TransportKind

	imsRegisteredOnWLAN bool
	vopsSupported       *bool

	guarding    pkg.Guarding
	guardingSet bool

	lastPublished       []pkg.AccessNetworkKind
	hasPublished         bool
	secondNetworkActive  bool // override-ims-preference dual-publish state
}

// Config bundles the collaborators one Evaluator needs at construction.
type Config struct {
	Slot        int
	Apn         pkg.ApnKind
	Logger      *logx.Logger
	Store       *policy.Store
	WiFiMonitor *signalmon.Monitor
	CellMonitor *signalmon.Monitor
	DataConn    *dataconn.Tracker
	Restrict    *restrictmgr.Manager
	Publisher   pkg.Publisher
}

// New creates an Evaluator for one (slot, APN). The caller must call Run
// to start draining the inbox.
func New(cfg Config) *Evaluator {
	e := &Evaluator{
		slot:                  cfg.Slot,
		apn:                   cfg.Apn,
		logger:                cfg.Logger,
		perf:                  logx.NewPerformanceLogger(cfg.Logger),
		store:                 cfg.Store,
		wifiMonitor:           cfg.WiFiMonitor,
		cellMonitor:           cfg.CellMonitor,
		dataConn:              cfg.DataConn,
		restrict:              cfg.Restrict,
		policyRunner:          restrictmgr.NewPolicyRunner(cfg.Restrict, cfg.Store, cfg.Apn),
		publisher:             cfg.Publisher,
		inbox:                 make(chan pkg.InboxEvent, 64),
		done:                  make(chan struct{}),
		wfcMode:               pkg.PreferenceCellPref,
		emergencyPreferredTransport: pkg.TransportInvalid,
		latestAvailableCellularNet:  pkg.AccessNetworkUnknown,
		cellularAccessNetwork:       pkg.AccessNetworkUnknown,
	}
	return e
}

// Submit enqueues an inbound event. Safe to call from any goroutine; the
// event is processed on the Evaluator's own goroutine in arrival order
// per source.
func (e *Evaluator) Submit(ev pkg.InboxEvent) {
	select {
	case e.inbox <- ev:
	case <-e.done:
	}
}

// Run drains the inbox until ctx is cancelled or Close is called. It is
// the Evaluator's single scheduling goroutine.
func (e *Evaluator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case ev := <-e.inbox:
			e.handle(ev)
		}
	}
}

// Close stops Run and causes pending Submit calls to return without
// blocking.
func (e *Evaluator) Close() {
	close(e.done)
}

// LogPerformanceSummary reports slow evaluation passes and elevated error
// rates for this (slot, apn)'s evaluation pipeline. Intended to be called
// periodically by the owning daemon, not from the inbox goroutine.
func (e *Evaluator) LogPerformanceSummary() {
	e.perf.LogSlowOperations(200 * time.Millisecond)
	e.perf.LogHighErrorRates(90.0)
}

// HandleSync processes one event synchronously on the caller's goroutine,
// bypassing the inbox channel entirely. Used by tests that need
// deterministic, immediately-observable state after each event — Run's
// channel-based dispatch is for production callers where events genuinely
// arrive from other goroutines.
func (e *Evaluator) HandleSync(ev pkg.InboxEvent) {
	e.handle(ev)
}

// Dump returns a pure-function diagnostic snapshot of the evaluator's
// current cached state, active policies, and per-transport restrictions.
func (e *Evaluator) Dump() pkg.DumpSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.refreshGuarding()

	restrictions := make(map[pkg.TransportKind][]pkg.RestrictType)
	for _, t := range []pkg.TransportKind{pkg.TransportCellular, pkg.TransportWiFi} {
		info := e.restrict.Snapshot(t)
		var types []pkg.RestrictType
		for rt := range info.Restrictions {
			types = append(types, rt)
		}
		restrictions[t] = types
	}

	return pkg.DumpSnapshot{
		Slot:          e.slot,
		Apn:           e.apn,
		LastPublished: append([]pkg.AccessNetworkKind(nil), e.lastPublished...),
		CachedInputs: map[string]interface{}{
			"iwlan_available":     e.iwlanAvailable,
			"cross_wfc":           e.crossWFC,
			"cellular_available":  e.cellularAvailable,
			"coverage":            e.coverage.String(),
			"call_type":           e.callType.String(),
			"wfc_mode":            e.wfcMode.String(),
			"airplane_mode":       e.airplaneMode,
			"sim_absent":          e.simAbsent,
			"second_network_active": e.secondNetworkActive,
		},
		ActivePolicies:           e.store.PoliciesFor(e.preCondition()),
		RestrictionsPerTransport: restrictions,
		ProvisioningOverrides:    e.provisioning,
	}
}

func (e *Evaluator) preCondition() pkg.PreCondition {
	return pkg.PreCondition{
		CallType:    e.callType,
		Preference:  e.wfcMode,
		Coverage:    e.coverage,
		Guarding:    e.guarding,
		GuardingSet: e.guardingSet,
	}
}

func now() time.Time { return time.Now() }
