package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/telephony"
)

// pollSlot repeatedly queries the vendor telephony client for one slot's
// signal measurements, service state, IWLAN availability, IMS registration,
// throttle status and call quality, feeds each APN's Evaluator the
// resulting events, and refreshes the slot's shared signal-measurement
// thresholds for the currently active call type.
func (d *Daemon) pollSlot(ctx context.Context, sp *slotPipeline) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	callType := pkg.CallIdle
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		iwlan, err := d.telephonyClient.GetIwlanAvailability(ctx, sp.slot)
		if err != nil {
			d.logger.Warn("iwlan availability poll failed", "slot", sp.slot, "error", err)
		} else {
			avail := pkg.IwlanAvailability{
				Available:      iwlan.GetIwlanAvailability.Available,
				CrossWFC:       iwlan.GetIwlanAvailability.CrossWfc,
				NotifyDisabled: iwlan.GetIwlanAvailability.NotifyDisabled,
			}
			for _, e := range sp.evaluators {
				e.Submit(pkg.InboxEvent{Kind: pkg.EventIwlanAvailabilityChanged, IwlanAvailability: &avail})
			}
		}

		signal, err := d.telephonyClient.GetSignalStrength(ctx, sp.slot)
		if err != nil {
			d.logger.Warn("signal strength poll failed", "slot", sp.slot, "error", err)
		} else {
			applySignalMeasurements(sp, signal)
		}

		callState, err := d.telephonyClient.GetCallState(ctx, sp.slot)
		if err != nil {
			d.logger.Warn("call state poll failed", "slot", sp.slot, "error", err)
		} else {
			callType = parseCallType(callState.GetCallState.CallType)
			for _, e := range sp.evaluators {
				e.Submit(pkg.InboxEvent{Kind: pkg.EventCallTypeSet, CallType: &callType})
			}
		}

		for _, apn := range apnSet {
			info, err := d.telephonyClient.GetTelephonyInfo(ctx, sp.slot, apn)
			if err != nil {
				d.logger.Warn("telephony info poll failed", "slot", sp.slot, "apn", apn.String(), "error", err)
				continue
			}
			sp.evaluators[apn].Submit(pkg.InboxEvent{Kind: pkg.EventTelephonyInfoChanged, Telephony: info})
			d.applyDataConnTransition(sp, apn, info)
		}

		for _, apn := range []pkg.ApnKind{pkg.ApnIMS, pkg.ApnEmergency} {
			d.pollImsRegistration(ctx, sp, apn)
		}

		for _, apn := range apnSet {
			d.pollThrottleStatus(ctx, sp, apn)
		}

		if callType == pkg.CallVoice || callType == pkg.CallEmergency {
			d.pollCallQuality(ctx, sp)
		}

		d.refreshThresholds(ctx, sp, callType)
	}
}

// applySignalMeasurements feeds one poll's raw signal-strength reading into
// the slot's cellular and Wi-Fi monitors, keyed by access network family so
// signalmon's debounced crossing detection sees every family independently.
func applySignalMeasurements(sp *slotPipeline, r *telephony.SignalStrengthResponse) {
	g := r.GetSignalStrength
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRP}, float64(g.LTE.RSRP))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSRQ}, float64(g.LTE.RSRQ))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkEUTRAN, Measurement: pkg.MeasurementRSSNR}, float64(g.LTE.RSSNR))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkNGRAN, Measurement: pkg.MeasurementSSRSRP}, float64(g.NR.SSRSRP))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkNGRAN, Measurement: pkg.MeasurementSSRSRQ}, float64(g.NR.SSRSRQ))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkNGRAN, Measurement: pkg.MeasurementSSSINR}, float64(g.NR.SSSINR))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkUTRAN, Measurement: pkg.MeasurementRSCP}, float64(g.WCDMA.RSCP))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkUTRAN, Measurement: pkg.MeasurementECNO}, float64(g.WCDMA.ECNO))
	sp.cellMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkGERAN, Measurement: pkg.MeasurementRSSI}, float64(g.GSM.RSSI))
	sp.wifiMonitor.UpdateMeasurement(pkg.ThresholdKey{AccessNetwork: pkg.AccessNetworkIWLAN, Measurement: pkg.MeasurementRSSI}, float64(g.WiFi.RSSI))
}

// applyDataConnTransition derives a DataConnEvent from the edge on
// ServiceState's cellular-availability bit and drives the APN's tracker
// with it, mirroring the edge-triggered polling idiom elsewhere in this
// file (pollImsRegistration, pollThrottleStatus).
func (d *Daemon) applyDataConnTransition(sp *slotPipeline, apn pkg.ApnKind, info *pkg.TelephonyInfo) {
	was := sp.lastCellAvail[apn]
	sp.lastCellAvail[apn] = info.CellularAvailable

	tracker := sp.dataConns[apn]
	switch {
	case !was && info.CellularAvailable:
		tracker.Apply(pkg.DataConnStarted, pkg.TransportCellular)
		tracker.Apply(pkg.DataConnConnected, pkg.TransportCellular)
	case was && !info.CellularAvailable:
		tracker.Apply(pkg.DataConnDisconnected, pkg.TransportCellular)
	}
}

// pollImsRegistration polls IMS registration state for apn and, on a WLAN
// registered/unregistered edge, submits EventImsRegistrationStateChanged so
// the dispatch table can run policy 7's fallback-cause handling.
func (d *Daemon) pollImsRegistration(ctx context.Context, sp *slotPipeline, apn pkg.ApnKind) {
	reg, err := d.telephonyClient.GetImsRegistrationState(ctx, sp.slot, apn)
	if err != nil {
		d.logger.Warn("ims registration poll failed", "slot", sp.slot, "apn", apn.String(), "error", err)
		return
	}
	state := reg.GetImsRegistrationState
	transport := parseTransport(state.Transport)
	if transport != pkg.TransportWiFi || state.Registered == nil {
		return
	}

	was := sp.imsRegisteredWiFi[apn]
	now := *state.Registered
	sp.imsRegisteredWiFi[apn] = &now
	if was != nil && *was == now {
		return
	}

	event := pkg.ImsUnregistered
	if now {
		event = pkg.ImsRegistered
	}
	change := pkg.ImsRegistrationChange{Transport: transport, Event: event, ReasonCode: state.ReasonCode}
	sp.evaluators[apn].Submit(pkg.InboxEvent{Kind: pkg.EventImsRegistrationStateChanged, ImsRegistration: &change})
}

// pollThrottleStatus polls the modem's back-off state for apn and submits
// EventThrottlingSignalled on a throttled/cleared edge, driving policy 3.
func (d *Daemon) pollThrottleStatus(ctx context.Context, sp *slotPipeline, apn pkg.ApnKind) {
	resp, err := d.telephonyClient.GetThrottleStatus(ctx, sp.slot, apn)
	if err != nil {
		d.logger.Warn("throttle status poll failed", "slot", sp.slot, "apn", apn.String(), "error", err)
		return
	}
	status := resp.GetThrottleStatus
	transport := parseTransport(status.Transport)
	if transport == pkg.TransportInvalid {
		return
	}

	key := throttleKey{apn: apn, transport: transport}
	if sp.lastThrottled[key] == status.Throttled {
		return
	}
	sp.lastThrottled[key] = status.Throttled

	signal := pkg.ThrottlingSignal{
		Transport: transport,
		On:        status.Throttled,
		Deadline:  time.UnixMilli(status.DeadlineUnixMS),
	}
	sp.evaluators[apn].Submit(pkg.InboxEvent{Kind: pkg.EventThrottlingSignalled, Throttling: &signal})
}

// pollCallQuality polls RTP quality for every APN carrying the active
// voice/emergency call and submits EventRTPQualityLow when the vendor
// reports degraded quality, driving policies 4 and 5.
func (d *Daemon) pollCallQuality(ctx context.Context, sp *slotPipeline) {
	for _, apn := range []pkg.ApnKind{pkg.ApnIMS, pkg.ApnEmergency} {
		resp, err := d.telephonyClient.GetCallQuality(ctx, sp.slot, apn)
		if err != nil {
			d.logger.Warn("call quality poll failed", "slot", sp.slot, "apn", apn.String(), "error", err)
			continue
		}
		if !resp.GetCallQuality.LowQuality {
			continue
		}
		transport := parseTransport(resp.GetCallQuality.Transport)
		if transport == pkg.TransportInvalid {
			continue
		}
		sp.evaluators[apn].Submit(pkg.InboxEvent{Kind: pkg.EventRTPQualityLow, Transport: &transport})
	}
}

// parseTransport maps the vendor RIL's transport string onto TransportKind.
func parseTransport(s string) pkg.TransportKind {
	switch strings.ToUpper(s) {
	case "WIFI", "WLAN":
		return pkg.TransportWiFi
	case "CELLULAR", "WWAN":
		return pkg.TransportCellular
	default:
		return pkg.TransportInvalid
	}
}

// parseCallType maps the vendor RIL's call-type string onto CallType,
// defaulting unrecognized values to idle rather than guessing a media kind.
func parseCallType(s string) pkg.CallType {
	switch s {
	case "VOICE":
		return pkg.CallVoice
	case "VIDEO":
		return pkg.CallVideo
	case "EMERGENCY":
		return pkg.CallEmergency
	default:
		return pkg.CallIdle
	}
}

// refreshThresholds resolves the threshold set of every ConditionTag
// except WIFI_AVAILABLE (which has no threshold) for the slot's current call type and re-registers it with
// the shared monitors, so signalmon's debounced crossing detection stays
// aligned with the carrier config and call type currently in effect.
func (d *Daemon) refreshThresholds(ctx context.Context, sp *slotPipeline, callType pkg.CallType) {
	tags := []pkg.ConditionTag{
		pkg.ConditionWiFiGood, pkg.ConditionWiFiBad,
		pkg.ConditionCellularGood, pkg.ConditionCellularBad,
		pkg.ConditionEUTRANGood, pkg.ConditionEUTRANBad, pkg.ConditionEUTRANWorst,
		pkg.ConditionNGRANGood, pkg.ConditionNGRANBad, pkg.ConditionNGRANWorst,
		pkg.ConditionUTRANAvailable, pkg.ConditionGERANAvailable,
	}

	for _, apn := range apnSet {
		var wifiThresholds, cellThresholds []pkg.Threshold
		for _, tag := range tags {
			resolved := sp.store.ResolveCondition(tag, callType)
			if tag == pkg.ConditionWiFiGood || tag == pkg.ConditionWiFiBad {
				wifiThresholds = append(wifiThresholds, resolved...)
			} else {
				cellThresholds = append(cellThresholds, resolved...)
			}
		}
		sp.wifiMonitor.UpdateThresholds(apn, sp.slot, wifiThresholds)
		sp.cellMonitor.UpdateThresholds(apn, sp.slot, cellThresholds)
	}
}

// runListener serves handler on port until ctx is cancelled, then shuts
// down gracefully. Used for the Prometheus metrics listener, which — unlike
// the diagnostic API — has no owning type of its own to carry a
// context-aware ListenAndServe.
func runListener(ctx context.Context, logger *logx.Logger, name string, port int, handler http.Handler) error {
	srv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(name+" server listening", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(name+" server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
