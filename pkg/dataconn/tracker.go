// Package dataconn implements the DataConnectionTracker: the
// per-(slot, APN) data-connection state machine and its transition
// observers.
package dataconn

import (
	"sync"
	"time"

	"github.com/qns-project/qns-core/pkg"
)

// Observer is notified on every DataConnectionTracker transition.
type Observer interface {
	OnDataConnectionChange(change pkg.DataConnectionChange)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(pkg.DataConnectionChange)

func (f ObserverFunc) OnDataConnectionChange(c pkg.DataConnectionChange) { f(c) }

// Tracker mirrors one APN's data-connection state and the transport it
// rides, per state diagram.
type Tracker struct {
	mu        sync.Mutex
	state     pkg.DataConnState
	transport pkg.TransportKind
	observers []Observer
}

// NewTracker creates a Tracker starting INACTIVE.
func NewTracker() *Tracker {
	return &Tracker{state: pkg.DataConnInactive, transport: pkg.TransportInvalid}
}

// Subscribe registers an Observer for transition events.
func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// State returns the tracker's current state.
func (t *Tracker) State() pkg.DataConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastTransport returns the carrying transport, or INVALID outside
// CONNECTED/HANDOVER.
func (t *Tracker) LastTransport() pkg.TransportKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == pkg.DataConnConnectedState || t.state == pkg.DataConnHandover {
		return t.transport
	}
	return pkg.TransportInvalid
}

// Apply drives the state machine with an incoming event on the given
// transport, returning the resulting DataConnectionChange (always
// non-nil; the caller should only treat it as "no-op" via ignoring a
// change whose State equals the prior state and Event is a silent
// re-arm).
func (t *Tracker) Apply(event pkg.DataConnEvent, transport pkg.TransportKind) pkg.DataConnectionChange {
	t.mu.Lock()
	change := t.applyLocked(event, transport)
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	for _, o := range observers {
		o.OnDataConnectionChange(change)
	}
	return change
}

func (t *Tracker) applyLocked(event pkg.DataConnEvent, transport pkg.TransportKind) pkg.DataConnectionChange {
	now := time.Now()

	switch t.state {
	case pkg.DataConnInactive:
		switch event {
		case pkg.DataConnStarted:
			t.state = pkg.DataConnConnecting
			t.transport = transport
		}

	case pkg.DataConnConnecting:
		switch event {
		case pkg.DataConnConnected:
			t.state = pkg.DataConnConnectedState
			t.transport = transport
		case pkg.DataConnFailed, pkg.DataConnDisconnected:
			t.state = pkg.DataConnInactive
			t.transport = pkg.TransportInvalid
		}

	case pkg.DataConnConnectedState:
		switch event {
		case pkg.DataConnHandoverStarted:
			t.state = pkg.DataConnHandover
			// transport unchanged until handover resolves
		case pkg.DataConnDisconnected:
			t.state = pkg.DataConnInactive
			t.transport = pkg.TransportInvalid
		}

	case pkg.DataConnHandover:
		switch event {
		case pkg.DataConnStarted:
			if transport == t.transport {
				// silent re-arm for a retry on the same side; state
				// and transport both stay put.
				break
			}
		case pkg.DataConnHandoverSuccess:
			t.state = pkg.DataConnConnectedState
			t.transport = transport
		case pkg.DataConnSuspended:
			if transport != t.transport {
				// DATA_SUSPENDED on a different transport while in HANDOVER
				// is treated as a successful handover.
				t.state = pkg.DataConnConnectedState
				t.transport = transport
			}
		case pkg.DataConnHandoverFailed:
			t.state = pkg.DataConnConnectedState
			// transport reverts to whatever it was pre-handover (unchanged)
		case pkg.DataConnDisconnected:
			t.state = pkg.DataConnInactive
			t.transport = pkg.TransportInvalid
		}
	}

	return pkg.DataConnectionChange{Event: event, State: t.state, Transport: t.transport, Timestamp: now}
}
