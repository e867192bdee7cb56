// Package restrictmgr implements the RestrictionManager: a
// per-transport set of named restrictions, each with its own release
// triggers and optional deadline timer, plus the nine concrete policies
// that arm and release them.
package restrictmgr

import (
	"sync"
	"time"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

// Observer is notified whenever a transport's RestrictInfo changes.
type Observer interface {
	OnRestrictInfoChanged(transport pkg.TransportKind, info *pkg.RestrictInfo)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(pkg.TransportKind, *pkg.RestrictInfo)

func (f ObserverFunc) OnRestrictInfoChanged(t pkg.TransportKind, i *pkg.RestrictInfo) { f(t, i) }

// timerHandle backs one armed restriction's deadline with a single
// cancellable timer, stamped with an identity so a race between "timer
// fires" and "release arrives first" can be resolved by comparing
// identities.
type timerHandle struct {
	timer *time.Timer
	id    uint64
}

// Manager is the RestrictionManager for one (slot, apn): it owns both
// transports' restriction sets.
type Manager struct {
	mu sync.Mutex

	logger    *logx.Logger
	infos     map[pkg.TransportKind]*pkg.RestrictInfo
	timers    map[timerKey]*timerHandle
	observers []Observer
	nextID    uint64

	// per-policy counters/state, grounded on engine.go's map-of-deadlines
	// idiom generalised to small integer/bool state machines.
	iwlanRoveOutCount   int
	pdnFailCounts       map[pkg.TransportKind]int
	pdnFailFirstAttempt map[pkg.TransportKind]time.Time
	throttleDeferred    map[pkg.TransportKind]*deferredThrottle
	connectionActive    map[pkg.TransportKind]bool
}

type timerKey struct {
	transport pkg.TransportKind
	restrict  pkg.RestrictType
}

type deferredThrottle struct {
	on       bool
	deadline time.Time
}

// NewManager creates a Manager with both transports starting unrestricted.
func NewManager(logger *logx.Logger) *Manager {
	return &Manager{
		logger: logger,
		infos: map[pkg.TransportKind]*pkg.RestrictInfo{
			pkg.TransportCellular: pkg.NewRestrictInfo(pkg.TransportCellular),
			pkg.TransportWiFi:     pkg.NewRestrictInfo(pkg.TransportWiFi),
		},
		timers:              make(map[timerKey]*timerHandle),
		pdnFailCounts:       make(map[pkg.TransportKind]int),
		pdnFailFirstAttempt: make(map[pkg.TransportKind]time.Time),
		throttleDeferred:    make(map[pkg.TransportKind]*deferredThrottle),
		connectionActive:    make(map[pkg.TransportKind]bool),
	}
}

// Subscribe registers an Observer for RestrictInfo changes.
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) notifyLocked(transport pkg.TransportKind) {
	info := m.infos[transport]
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range observers {
		o.OnRestrictInfoChanged(transport, info)
	}
	m.mu.Lock()
}

// Has reports whether transport currently holds restrictType.
func (m *Manager) Has(transport pkg.TransportKind, restrictType pkg.RestrictType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.infos[transport].Restrictions[restrictType]
	return ok
}

// IsRestricted reports whether transport holds any restriction.
func (m *Manager) IsRestricted(transport pkg.TransportKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infos[transport].IsRestricted()
}

// IsRestrictedExceptGuarding reports whether transport holds any
// non-GUARDING restriction.
func (m *Manager) IsRestrictedExceptGuarding(transport pkg.TransportKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infos[transport].IsRestrictedExceptGuarding()
}

// IsAllowedOnSingleTransport reports whether every restriction on
// transport is in the ignorable set.
func (m *Manager) IsAllowedOnSingleTransport(transport pkg.TransportKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infos[transport].IsAllowedOnSingleTransport()
}

// Snapshot returns a shallow, read-only-intent copy of transport's
// RestrictInfo for diagnostic dumps.
func (m *Manager) Snapshot(transport pkg.TransportKind) *pkg.RestrictInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.infos[transport]
	out := pkg.NewRestrictInfo(transport)
	for k, v := range src.Restrictions {
		out.Restrictions[k] = v
	}
	return out
}

// Add arms restrictType on transport with the given release events and
// duration (0 means timerless). Idempotent per type: an existing
// same-type restriction has its deadline re-armed rather than duplicated.
func (m *Manager) Add(transport pkg.TransportKind, restrictType pkg.RestrictType, releaseEvents []pkg.ReleaseEvent, durationMS int) {
	if transport == pkg.TransportInvalid {
		if m.logger != nil {
			m.logger.Warn("restriction add ignored: invalid transport", "type", restrictType)
		}
		return
	}

	m.mu.Lock()

	evSet := make(map[pkg.ReleaseEvent]bool, len(releaseEvents))
	for _, e := range releaseEvents {
		evSet[e] = true
	}

	r := &pkg.Restriction{Type: restrictType, ReleaseEvents: evSet}

	key := timerKey{transport, restrictType}
	if existing, ok := m.timers[key]; ok {
		existing.timer.Stop()
		delete(m.timers, key)
	}

	if durationMS > 0 {
		deadline := time.Now().Add(time.Duration(durationMS) * time.Millisecond)
		r.ReleaseTime = &deadline

		m.nextID++
		id := m.nextID
		handle := &timerHandle{id: id}
		handle.timer = time.AfterFunc(time.Duration(durationMS)*time.Millisecond, func() {
			m.fireTimer(transport, restrictType, id)
		})
		m.timers[key] = handle
	}

	m.infos[transport].Restrictions[restrictType] = r

	if restrictType == pkg.RestrictGuarding {
		m.clearGuardingOtherLocked(transport)
	}

	if m.logger != nil {
		m.logger.LogRestriction(transport.String(), restrictType.String(), "armed", int64(durationMS))
	}

	m.notifyLocked(transport)
	m.mu.Unlock()
}

// clearGuardingOtherLocked enforces invariant I4: at most one GUARDING
// restriction across both transports.
func (m *Manager) clearGuardingOtherLocked(justArmed pkg.TransportKind) {
	other := justArmed.Other()
	if other == pkg.TransportInvalid {
		return
	}
	if _, ok := m.infos[other].Restrictions[pkg.RestrictGuarding]; ok {
		m.releaseLocked(other, pkg.RestrictGuarding, false)
	}
}

func (m *Manager) fireTimer(transport pkg.TransportKind, restrictType pkg.RestrictType, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := timerKey{transport, restrictType}
	handle, ok := m.timers[key]
	if !ok || handle.id != id {
		return // raced with an explicit release/re-arm; identity mismatch, ignore
	}
	delete(m.timers, key)
	m.releaseLocked(transport, restrictType, false)
}

// Release releases restrictType on transport, stopping any pending timer.
// skipNotify suppresses the observer callback (used internally when a
// caller will emit a single batched notification itself).
func (m *Manager) Release(transport pkg.TransportKind, restrictType pkg.RestrictType, skipNotify ...bool) {
	m.mu.Lock()
	skip := len(skipNotify) > 0 && skipNotify[0]
	m.releaseLocked(transport, restrictType, skip)
	m.mu.Unlock()
}

func (m *Manager) releaseLocked(transport pkg.TransportKind, restrictType pkg.RestrictType, skipNotify bool) {
	if _, ok := m.infos[transport].Restrictions[restrictType]; !ok {
		return
	}
	delete(m.infos[transport].Restrictions, restrictType)

	key := timerKey{transport, restrictType}
	if handle, ok := m.timers[key]; ok {
		handle.timer.Stop()
		delete(m.timers, key)
	}

	if m.logger != nil {
		m.logger.LogRestriction(transport.String(), restrictType.String(), "released", 0)
	}

	if !skipNotify {
		m.notifyLocked(transport)
	}
}

// ProcessReleaseEvent releases every restriction on transport whose
// release-event set contains ev. A process_release_event call is
// processed to completion before the Evaluator's inbox admits the next
// external event.
func (m *Manager) ProcessReleaseEvent(transport pkg.TransportKind, ev pkg.ReleaseEvent) {
	m.mu.Lock()
	var toRelease []pkg.RestrictType
	for t, r := range m.infos[transport].Restrictions {
		if r.HasReleaseEvent(ev) {
			toRelease = append(toRelease, t)
		}
	}
	for _, t := range toRelease {
		m.releaseLocked(transport, t, true)
	}
	if len(toRelease) > 0 {
		m.notifyLocked(transport)
	}
	m.mu.Unlock()
}

// NotifyThrottling implements notify_throttling(on, deadline, transport):
// deferred while a data connection is active on transport, installed
// immediately on disconnect.
func (m *Manager) NotifyThrottling(transport pkg.TransportKind, on bool, deadline time.Time) {
	m.mu.Lock()
	active := m.connectionActive[transport]
	if active {
		m.throttleDeferred[transport] = &deferredThrottle{on: on, deadline: deadline}
	}
	m.mu.Unlock()

	if !active {
		m.applyThrottling(transport, on, deadline)
	}
}

// applyThrottling must be called with no lock held; it takes the lock
// itself via Add/Release.
func (m *Manager) applyThrottling(transport pkg.TransportKind, on bool, deadline time.Time) {
	if !on {
		m.Release(transport, pkg.RestrictThrottling)
		return
	}
	durationMS := int(time.Until(deadline) / time.Millisecond)
	if durationMS <= 0 {
		return
	}
	m.Add(transport, pkg.RestrictThrottling, []pkg.ReleaseEvent{pkg.ReleaseDisconnect}, durationMS)
}

// SetConnectionActive flags whether transport currently carries an active
// data connection, driving the deferred-throttling replay on disconnect.
func (m *Manager) SetConnectionActive(transport pkg.TransportKind, active bool) {
	m.mu.Lock()
	wasActive := m.connectionActive[transport]
	m.connectionActive[transport] = active

	var replay *deferredThrottle
	if wasActive && !active {
		replay = m.throttleDeferred[transport]
		delete(m.throttleDeferred, transport)
	}
	m.mu.Unlock()

	if replay != nil {
		m.applyThrottling(transport, replay.on, replay.deadline)
	}
}
