// Package signalmon implements the SignalQualityMonitor: one
// instance per transport (cellular, Wi-Fi), tracking the latest
// measurement per (access_network, measurement_type) and firing
// debounced crossing events against a registered threshold set.
package signalmon

import (
	"sync"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

// Listener is notified when a registered threshold crosses.
type Listener interface {
	OnThresholdCrossed(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing)

func (f ListenerFunc) OnThresholdCrossed(apn pkg.ApnKind, slot int, crossing pkg.ThresholdCrossing) {
	f(apn, slot, crossing)
}

type listenerKey struct {
	apn  pkg.ApnKind
	slot int
}

type registration struct {
	thresholds map[pkg.ThresholdKey][]pkg.Threshold // registered set for this (apn, slot)
	debounce   map[pkg.ThresholdKey]*time.Timer     // one pending debounce timer per measurement key
}

// Monitor is one SignalQualityMonitor instance, shared at the slot level
// across every APN riding the same transport ("Global/slot-wide
// singletons").
type Monitor struct {
	mu     sync.Mutex
	logger *logx.Logger

	latest map[pkg.ThresholdKey]float64 // cache of the latest measurement per key
	last   map[pkg.ThresholdKey]bool    // last-known satisfaction, for edge-triggering

	regs      map[listenerKey]*registration
	listeners map[listenerKey]Listener
}

// NewMonitor creates an empty Monitor for one transport.
func NewMonitor(logger *logx.Logger) *Monitor {
	return &Monitor{
		logger:    logger,
		latest:    make(map[pkg.ThresholdKey]float64),
		last:      make(map[pkg.ThresholdKey]bool),
		regs:      make(map[listenerKey]*registration),
		listeners: make(map[listenerKey]Listener),
	}
}

// RegisterListener subscribes to crossing events for (apn, slot).
func (m *Monitor) RegisterListener(listener Listener, apn pkg.ApnKind, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[listenerKey{apn, slot}] = listener
}

// UnregisterListener removes the subscription and any pending debounce
// timers for (apn, slot).
func (m *Monitor) UnregisterListener(apn pkg.ApnKind, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := listenerKey{apn, slot}
	delete(m.listeners, key)
	if reg, ok := m.regs[key]; ok {
		for _, timer := range reg.debounce {
			timer.Stop()
		}
	}
	delete(m.regs, key)
}

// UpdateThresholds replaces the monitored set for (apn, slot). An empty
// set unregisters entirely ("empty thresholds set unregisters
// entirely").
func (m *Monitor) UpdateThresholds(apn pkg.ApnKind, slot int, thresholds []pkg.Threshold) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := listenerKey{apn, slot}
	if len(thresholds) == 0 {
		if reg, ok := m.regs[key]; ok {
			for _, timer := range reg.debounce {
				timer.Stop()
			}
		}
		delete(m.regs, key)
		return
	}

	byKey := make(map[pkg.ThresholdKey][]pkg.Threshold)
	for _, t := range thresholds {
		tk := t.Key()
		byKey[tk] = append(byKey[tk], t)
	}

	m.regs[key] = &registration{
		thresholds: byKey,
		debounce:   make(map[pkg.ThresholdKey]*time.Timer),
	}
}

// UpdateMeasurement feeds a new latest value for (access_network,
// measurement_type) and evaluates every registration's thresholds on
// that key. A measurement gap (this function simply not being called)
// never fires.
func (m *Monitor) UpdateMeasurement(tk pkg.ThresholdKey, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest[tk] = value

	for key, reg := range m.regs {
		thresholds, ok := reg.thresholds[tk]
		if !ok {
			continue
		}
		for _, t := range thresholds {
			m.evaluateLocked(key, reg, t, value)
		}
	}
}

func (m *Monitor) evaluateLocked(key listenerKey, reg *registration, t pkg.Threshold, value float64) {
	satisfied := t.Comparator.Satisfied(value, t.Value)
	tk := t.Key()

	if m.last[tk] == satisfied {
		return // no edge: never re-fires on stable measurements
	}

	fire := func() {
		m.mu.Lock()
		m.last[tk] = satisfied
		listener := m.listeners[key]
		m.mu.Unlock()

		if listener != nil {
			listener.OnThresholdCrossed(key.apn, key.slot, pkg.ThresholdCrossing{
				AccessNetwork: t.AccessNetwork, Measurement: t.Measurement, Value: value,
			})
		}
	}

	if t.WaitTimeMS <= 0 {
		fire()
		return
	}

	if existing, ok := reg.debounce[tk]; ok {
		existing.Stop()
	}
	reg.debounce[tk] = time.AfterFunc(time.Duration(t.WaitTimeMS)*time.Millisecond, fire)
}

// IsSatisfied reports whether the latest cached measurement for t's key
// currently satisfies t. A threshold with no cached measurement yet is
// treated as unsatisfied, matching FindUnmatched's conservative default.
func (m *Monitor) IsSatisfied(t pkg.Threshold) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest, ok := m.latest[t.Key()]
	if !ok {
		return false
	}
	return t.Comparator.Satisfied(latest, t.Value)
}

// FindUnmatched returns the subset of candidate thresholds whose
// condition is NOT currently satisfied by the latest cached measurement.
// A threshold with no cached measurement yet is treated as
// unmatched (conservative: register it).
func (m *Monitor) FindUnmatched(candidates []pkg.Threshold) []pkg.Threshold {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unmatched []pkg.Threshold
	for _, t := range candidates {
		latest, ok := m.latest[t.Key()]
		if !ok || !t.Comparator.Satisfied(latest, t.Value) {
			unmatched = append(unmatched, t)
		}
	}
	return unmatched
}
