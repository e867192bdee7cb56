package dataconn

import (
	"testing"

	"github.com/qns-project/qns-core/pkg"
)

func TestTrackerHappyPath(t *testing.T) {
	tr := NewTracker()

	if tr.State() != pkg.DataConnInactive {
		t.Fatal("tracker must start INACTIVE")
	}
	if tr.LastTransport() != pkg.TransportInvalid {
		t.Fatal("LastTransport must be INVALID outside CONNECTED/HANDOVER")
	}

	tr.Apply(pkg.DataConnStarted, pkg.TransportCellular)
	if tr.State() != pkg.DataConnConnecting {
		t.Fatalf("expected CONNECTING, got %v", tr.State())
	}

	tr.Apply(pkg.DataConnConnected, pkg.TransportCellular)
	if tr.State() != pkg.DataConnConnectedState {
		t.Fatalf("expected CONNECTED, got %v", tr.State())
	}
	if tr.LastTransport() != pkg.TransportCellular {
		t.Fatal("LastTransport should report CELLULAR once connected")
	}
}

func TestHandoverSuccessOtherTransport(t *testing.T) {
	tr := NewTracker()
	tr.Apply(pkg.DataConnStarted, pkg.TransportCellular)
	tr.Apply(pkg.DataConnConnected, pkg.TransportCellular)
	tr.Apply(pkg.DataConnHandoverStarted, pkg.TransportCellular)

	tr.Apply(pkg.DataConnHandoverSuccess, pkg.TransportWiFi)
	if tr.State() != pkg.DataConnConnectedState {
		t.Fatalf("expected CONNECTED after handover success, got %v", tr.State())
	}
	if tr.LastTransport() != pkg.TransportWiFi {
		t.Fatal("transport should update to the new side after a cross-transport handover")
	}
}

func TestDataSuspendedDifferentTransportTreatedAsHandoverSuccess(t *testing.T) {
	tr := NewTracker()
	tr.Apply(pkg.DataConnStarted, pkg.TransportCellular)
	tr.Apply(pkg.DataConnConnected, pkg.TransportCellular)
	tr.Apply(pkg.DataConnHandoverStarted, pkg.TransportCellular)

	tr.Apply(pkg.DataConnSuspended, pkg.TransportWiFi)
	if tr.State() != pkg.DataConnConnectedState {
		t.Fatalf("DATA_SUSPENDED on a different transport during HANDOVER must resolve to CONNECTED, got %v", tr.State())
	}
	if tr.LastTransport() != pkg.TransportWiFi {
		t.Fatal("transport should reflect the new side")
	}
}

func TestSameTransportConnectingInHandoverIsSilentReArm(t *testing.T) {
	tr := NewTracker()
	tr.Apply(pkg.DataConnStarted, pkg.TransportCellular)
	tr.Apply(pkg.DataConnConnected, pkg.TransportCellular)
	tr.Apply(pkg.DataConnHandoverStarted, pkg.TransportCellular)

	change := tr.Apply(pkg.DataConnStarted, pkg.TransportCellular)
	if tr.State() != pkg.DataConnHandover {
		t.Fatalf("same-transport CONNECTING during HANDOVER must stay in HANDOVER, got %v", tr.State())
	}
	if change.State != pkg.DataConnHandover {
		t.Fatal("emitted change must reflect the unchanged HANDOVER state")
	}
}

func TestObserverNotifiedOnEveryTransition(t *testing.T) {
	tr := NewTracker()
	var changes []pkg.DataConnectionChange
	tr.Subscribe(ObserverFunc(func(c pkg.DataConnectionChange) {
		changes = append(changes, c)
	}))

	tr.Apply(pkg.DataConnStarted, pkg.TransportCellular)
	tr.Apply(pkg.DataConnConnected, pkg.TransportCellular)
	tr.Apply(pkg.DataConnDisconnected, pkg.TransportCellular)

	if len(changes) != 3 {
		t.Fatalf("expected 3 transition notifications, got %d", len(changes))
	}
	if changes[2].State != pkg.DataConnInactive {
		t.Fatal("disconnect must return the tracker to INACTIVE")
	}
}
