package main

import (
	"context"
	"fmt"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/api"
	"github.com/qns-project/qns-core/pkg/audit"
	"github.com/qns-project/qns-core/pkg/dataconn"
	"github.com/qns-project/qns-core/pkg/evaluator"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/metrics"
	"github.com/qns-project/qns-core/pkg/mqtt"
	"github.com/qns-project/qns-core/pkg/policy"
	"github.com/qns-project/qns-core/pkg/restrictmgr"
	"github.com/qns-project/qns-core/pkg/rttcheck"
	"github.com/qns-project/qns-core/pkg/signalmon"
	"github.com/qns-project/qns-core/pkg/telem"
	"github.com/qns-project/qns-core/pkg/telephony"
	"github.com/qns-project/qns-core/pkg/uci"
	"golang.org/x/sync/errgroup"
)

// apnSet is the fixed set of APNs the evaluator pool serves, per "IMS,
// EMERGENCY, MMS, XCAP, CBS".
var apnSet = []pkg.ApnKind{pkg.ApnIMS, pkg.ApnEmergency, pkg.ApnMMS, pkg.ApnXCAP, pkg.ApnCBS}

// slotPipeline holds the singletons shared by every APN evaluator on one
// cellular slot: the monitors and policy store are genuinely slot-scoped
// (one SIM, one active carrier config, one set of radio measurements),
// while the data-connection tracker and restriction manager are scoped per
// (slot, apn) since each APN owns its own PDN/bearer.
type slotPipeline struct {
	slot        int
	wifiMonitor *signalmon.Monitor
	cellMonitor *signalmon.Monitor
	store       *policy.Store
	evaluators  map[pkg.ApnKind]*evaluator.Evaluator
	dataConns   map[pkg.ApnKind]*dataconn.Tracker
	restrict    map[pkg.ApnKind]*restrictmgr.Manager

	// Poll-loop edge-detection state: each tracks the prior poll's reading
	// so pollSlot only submits events on a genuine transition, not every
	// tick.
	lastCellAvail     map[pkg.ApnKind]bool
	imsRegisteredWiFi map[pkg.ApnKind]*bool
	lastThrottled     map[throttleKey]bool
}

// throttleKey scopes a throttle reading to the (apn, transport) pair it
// describes.
type throttleKey struct {
	apn       pkg.ApnKind
	transport pkg.TransportKind
}

// Daemon wires every QNS component into a running process: one slotPipeline
// per cellular slot, the shared carrier-config set, and the outbound
// surfaces (telemetry, metrics, MQTT, diagnostic API, audit trail) fed by
// every evaluator's publish.
type Daemon struct {
	cfg    *uci.Config
	logger *logx.Logger

	carrierConfigs map[string]*policy.CarrierConfig
	slots          []*slotPipeline

	telephonyClient *telephony.Client
	telemetry       *telem.Store
	metricsRegistry *metrics.Registry
	mqttClient      *mqtt.Client
	decisionLog     *audit.DecisionLogger
	rootCause       *audit.RootCauseAnalyzer
	patterns        *audit.PatternAnalyzer
	apiServer       *api.Server

	pollInterval time.Duration
}

// newDaemon constructs every collaborator and wires the per-(slot, apn)
// Evaluator pool, but starts nothing — call Run to begin polling and
// serving.
func newDaemon(cfg *uci.Config, numSlots int, pollInterval time.Duration, logger *logx.Logger) (*Daemon, error) {
	assets, err := loadDefaultAssets(cfg.PolicyAssetDir)
	if err != nil {
		return nil, err
	}
	carrierConfigs, err := buildCarrierConfigs(assets, cfg.Carriers)
	if err != nil {
		return nil, err
	}
	active := selectActiveCarrier(cfg, carrierConfigs)

	d := &Daemon{
		cfg:             cfg,
		logger:          logger,
		carrierConfigs:  carrierConfigs,
		telephonyClient: telephony.DefaultClient(logger),
		pollInterval:    pollInterval,
	}

	d.telemetry, err = telem.NewStore(cfg.TelemRetentionHours, 16, cfg.TelemDBPath)
	if err != nil {
		return nil, fmt.Errorf("init telemetry store: %w", err)
	}

	d.metricsRegistry = metrics.NewRegistry()

	mqttConfig := mqtt.DefaultConfig()
	mqttConfig.Enabled = cfg.MQTTEnabled
	mqttConfig.Broker = cfg.MQTTBroker
	mqttConfig.Port = cfg.MQTTPort
	mqttConfig.ClientID = cfg.MQTTClientID
	mqttConfig.Username = cfg.MQTTUsername
	mqttConfig.Password = cfg.MQTTPassword
	mqttConfig.TopicPrefix = cfg.MQTTTopicPrefix
	mqttConfig.QoS = cfg.MQTTQoS
	d.mqttClient = mqtt.NewClient(mqttConfig, logger)

	d.decisionLog = audit.NewDecisionLogger(logger, 1000, cfg.AuditLogPath)
	if !cfg.AuditEnabled {
		d.decisionLog.Disable()
	}
	d.rootCause = audit.NewRootCauseAnalyzer(logger)
	d.patterns = audit.NewPatternAnalyzer(logger)

	d.apiServer = api.NewServer(&api.Config{
		Enabled:  cfg.APIListener,
		Host:     "0.0.0.0",
		Port:     cfg.APIPort,
		ReadOnly: true,
	}, d.telemetry, d.decisionLog, logger)
	d.apiServer.SetAnalyzers(d.rootCause, d.patterns)

	for slot := 0; slot < numSlots; slot++ {
		sp := &slotPipeline{
			slot:              slot,
			wifiMonitor:       signalmon.NewMonitor(logger),
			cellMonitor:       signalmon.NewMonitor(logger),
			store:             policy.NewStore(logger, active),
			evaluators:        make(map[pkg.ApnKind]*evaluator.Evaluator),
			dataConns:         make(map[pkg.ApnKind]*dataconn.Tracker),
			restrict:          make(map[pkg.ApnKind]*restrictmgr.Manager),
			lastCellAvail:     make(map[pkg.ApnKind]bool),
			imsRegisteredWiFi: make(map[pkg.ApnKind]*bool),
			lastThrottled:     make(map[throttleKey]bool),
		}

		for _, apn := range apnSet {
			tracker := dataconn.NewTracker()
			restrict := restrictmgr.NewManager(logger)
			sp.dataConns[apn] = tracker
			sp.restrict[apn] = restrict

			eval := evaluator.New(evaluator.Config{
				Slot:        slot,
				Apn:         apn,
				Logger:      logger,
				Store:       sp.store,
				WiFiMonitor: sp.wifiMonitor,
				CellMonitor: sp.cellMonitor,
				DataConn:    tracker,
				Restrict:    restrict,
				Publisher:   d.publisherFor(slot, apn),
			})
			sp.evaluators[apn] = eval
			d.apiServer.RegisterEvaluator(slot, apn, eval)

			tracker.Subscribe(dataconn.ObserverFunc(func(c pkg.DataConnectionChange) {
				eval.Submit(pkg.InboxEvent{Kind: pkg.EventDataConnectionStateChanged, DataConnChange: &c})
			}))
			restrict.Subscribe(restrictmgr.ObserverFunc(d.onRestrictInfoChanged(slot, apn, eval)))
			sp.wifiMonitor.RegisterListener(signalmon.ListenerFunc(func(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing) {
				eval.Submit(pkg.InboxEvent{Kind: pkg.EventThresholdCrossed, ThresholdCrossing: &crossing})
			}), apn, slot)
			sp.cellMonitor.RegisterListener(signalmon.ListenerFunc(func(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing) {
				eval.Submit(pkg.InboxEvent{Kind: pkg.EventThresholdCrossed, ThresholdCrossing: &crossing})
			}), apn, slot)
		}

		d.slots = append(d.slots, sp)
	}

	return d, nil
}

// publisherFor builds the fan-out Publisher an Evaluator hands its
// QualifiedNetworksChanged output to: telemetry, metrics, MQTT, the audit
// trail, and the live diagnostic WebSocket feed.
func (d *Daemon) publisherFor(slot int, apn pkg.ApnKind) pkg.Publisher {
	return pkg.PublisherFunc(func(q pkg.QualifiedNetworksChanged) {
		d.telemetry.AddPublish(q.Slot, q.Apn, q.AccessNetworks)
		d.metricsRegistry.RecordPublish(q.Slot, q.Apn, q.AccessNetworks)

		if err := d.mqttClient.PublishQualifiedNetworksChanged(q); err != nil {
			d.logger.Warn("mqtt publish failed", "slot", q.Slot, "apn", q.Apn.String(), "error", err)
		}

		record := &audit.DecisionRecord{
			Timestamp:    q.Timestamp,
			DecisionID:   audit.NewDecisionID(),
			DecisionType: "publish",
			Slot:         q.Slot,
			Apn:          q.Apn,
			Trigger:      "qualified_networks_changed",
			ToNetworks:   q.AccessNetworks,
			Success:      true,
		}
		if err := d.decisionLog.LogDecision(context.Background(), record); err != nil {
			d.logger.Warn("decision log failed", "error", err)
		}
		d.apiServer.BroadcastDecision(record)
	})
}

// onRestrictInfoChanged returns a RestrictionManager observer that feeds
// the change back into the owning Evaluator's inbox (triggering
// re-evaluation, per the dispatch table) and mirrors it out to telemetry
// and metrics for diagnosis.
func (d *Daemon) onRestrictInfoChanged(slot int, apn pkg.ApnKind, eval *evaluator.Evaluator) func(pkg.TransportKind, *pkg.RestrictInfo) {
	return func(transport pkg.TransportKind, info *pkg.RestrictInfo) {
		change := pkg.RestrictInfoChanged{Slot: slot, Apn: apn, Transport: transport, Info: info, Timestamp: time.Now()}
		eval.Submit(pkg.InboxEvent{Kind: pkg.EventRestrictInfoChanged, RestrictInfo: &change})

		d.telemetry.AddEvent(slot, apn, pkg.InboxEvent{Kind: pkg.EventRestrictInfoChanged, RestrictInfo: &change})

		active := map[pkg.RestrictType]bool{}
		if info != nil {
			for rt := range info.Restrictions {
				active[rt] = true
				d.metricsRegistry.SetRestriction(slot, apn, transport, rt, true)
			}
		}
		for _, rt := range allRestrictTypes {
			if !active[rt] {
				d.metricsRegistry.SetRestriction(slot, apn, transport, rt, false)
			}
		}
	}
}

var allRestrictTypes = []pkg.RestrictType{
	pkg.RestrictGuarding,
	pkg.RestrictThrottling,
	pkg.RestrictHandoverNotAllowed,
	pkg.RestrictNonPreferredTransport,
	pkg.RestrictRTPLowQuality,
	pkg.RestrictIWLANInCall,
	pkg.RestrictIWLANCSCall,
	pkg.RestrictFallbackToWWANImsRegiFail,
	pkg.RestrictFallbackOnDataConnectionFail,
	pkg.RestrictFallbackToWWANRTTBackhaulFail,
}

// Run starts every Evaluator's inbox goroutine, the per-slot telephony poll
// loop, and the metrics/diagnostic HTTP listeners, blocking until ctx is
// cancelled or a listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, sp := range d.slots {
		for _, eval := range sp.evaluators {
			eval := eval
			g.Go(func() error {
				eval.Run(ctx)
				return nil
			})
		}
		sp := sp
		g.Go(func() error {
			d.pollSlot(ctx, sp)
			return nil
		})
		g.Go(func() error {
			d.runRTTBackhaulCheck(ctx, sp)
			return nil
		})
	}

	g.Go(func() error {
		d.logPerformanceSummaries(ctx)
		return nil
	})

	if d.cfg.MQTTEnabled {
		if err := d.mqttClient.Connect(); err != nil {
			d.logger.Warn("mqtt connect failed, continuing without it", "error", err)
		}
	}

	if d.cfg.MetricsListener {
		g.Go(func() error {
			return runListener(ctx, d.logger, "metrics", d.cfg.MetricsPort, d.metricsRegistry.Handler())
		})
	}
	if d.cfg.APIListener {
		g.Go(func() error {
			return d.apiServer.ListenAndServe()
		})
	}

	return g.Wait()
}

// logPerformanceSummaries periodically reports slow or error-prone
// evaluation passes across every (slot, apn) evaluator.
func (d *Daemon) logPerformanceSummaries(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sp := range d.slots {
				for _, eval := range sp.evaluators {
					eval.LogPerformanceSummary()
				}
			}
		}
	}
}

// runRTTBackhaulCheck implements policy 9's periodic probe: while the
// carrier enables rtt_backhaul checks and the slot's IMS registration is
// currently on WLAN, ping the configured target host through the
// configured WLAN interface and submit EventRTTBackhaulCheckFailed on
// failure.
func (d *Daemon) runRTTBackhaulCheck(ctx context.Context, sp *slotPipeline) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !sp.store.RTTBackhaulEnabled() {
			continue
		}
		registered := sp.imsRegisteredWiFi[pkg.ApnIMS]
		if registered == nil || !*registered {
			continue
		}

		prober := rttcheck.NewProber(sp.store.RTTBackhaulTargetHost(), sp.store.RTTBackhaulProbeCount())
		probeCtx, cancel := context.WithTimeout(ctx, d.pollInterval)
		err := prober.Check(probeCtx, d.cfg.WLANInterface)
		cancel()
		if err == nil {
			continue
		}
		d.logger.Warn("rtt backhaul check failed", "slot", sp.slot, "error", err)

		imsRegistered := true
		for _, eval := range sp.evaluators {
			eval.Submit(pkg.InboxEvent{Kind: pkg.EventRTTBackhaulCheckFailed, BoolValue: &imsRegistered})
		}
	}
}

// Close releases every held resource (telemetry bbolt handle, MQTT
// connection). Safe to call once, after Run returns.
func (d *Daemon) Close() {
	if err := d.telemetry.Close(); err != nil {
		d.logger.Warn("telemetry store close failed", "error", err)
	}
	if d.mqttClient.IsConnected() {
		if err := d.mqttClient.Disconnect(); err != nil {
			d.logger.Warn("mqtt disconnect failed", "error", err)
		}
	}
}
