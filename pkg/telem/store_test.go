package telem

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/qns-project/qns-core/pkg"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "telem.db")
	store, err := NewStore(24, 16, dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddPublishRoundTrips(t *testing.T) {
	s := newTestStore(t)
	s.AddPublish(0, pkg.ApnIMS, []pkg.AccessNetworkKind{pkg.AccessNetworkEUTRAN})

	got := s.GetPublishes(0, pkg.ApnIMS, time.Now().Add(-time.Minute))
	if len(got) != 1 {
		t.Fatalf("expected 1 publish sample, got %d", len(got))
	}
	if got[0].Networks[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("unexpected networks: %+v", got[0].Networks)
	}
}

func TestGetPublishesIsolatesBySlotAndApn(t *testing.T) {
	s := newTestStore(t)
	s.AddPublish(0, pkg.ApnIMS, []pkg.AccessNetworkKind{pkg.AccessNetworkEUTRAN})
	s.AddPublish(1, pkg.ApnIMS, []pkg.AccessNetworkKind{pkg.AccessNetworkIWLAN})
	s.AddPublish(0, pkg.ApnMMS, []pkg.AccessNetworkKind{pkg.AccessNetworkUTRAN})

	got := s.GetPublishes(0, pkg.ApnIMS, time.Now().Add(-time.Minute))
	if len(got) != 1 || got[0].Networks[0] != pkg.AccessNetworkEUTRAN {
		t.Fatalf("expected only slot0/IMS publish, got %+v", got)
	}
}

func TestAddEventRoundTrips(t *testing.T) {
	s := newTestStore(t)
	s.AddEvent(0, pkg.ApnIMS, pkg.InboxEvent{Kind: pkg.EventThresholdCrossed})

	got := s.GetEvents(time.Now().Add(-time.Minute), 10)
	if len(got) != 1 || got[0].Event.Kind != pkg.EventThresholdCrossed {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestCountryCodePersists(t *testing.T) {
	s := newTestStore(t)

	code, err := s.GetCountryCode()
	if err != nil {
		t.Fatalf("GetCountryCode: %v", err)
	}
	if code != "" {
		t.Fatalf("expected empty country code initially, got %q", code)
	}

	if err := s.SetCountryCode("US"); err != nil {
		t.Fatalf("SetCountryCode: %v", err)
	}
	code, err = s.GetCountryCode()
	if err != nil {
		t.Fatalf("GetCountryCode: %v", err)
	}
	if code != "US" {
		t.Fatalf("expected US, got %q", code)
	}
}

func TestRingBufferGetSinceFiltersByTime(t *testing.T) {
	rb := NewRingBuffer(10)
	old := &PublishSample{Slot: 0, Timestamp: time.Now().Add(-time.Hour)}
	recent := &PublishSample{Slot: 0, Timestamp: time.Now()}
	rb.Add(old)
	rb.Add(recent)

	got := rb.GetSince(time.Now().Add(-time.Minute))
	if len(got) != 1 {
		t.Fatalf("expected 1 item since cutoff, got %d", len(got))
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(&PublishSample{Slot: i, Timestamp: time.Now()})
	}
	if rb.Size() != 3 {
		t.Fatalf("expected size capped at capacity 3, got %d", rb.Size())
	}
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	s := newTestStore(t)
	s.publishes[pkg.ApnIMS] = map[int]*RingBuffer{0: NewRingBuffer(10)}
	s.publishes[pkg.ApnIMS][0].Add(&PublishSample{Slot: 0, Timestamp: time.Now().Add(-200 * time.Hour)})

	s.Cleanup()

	if got := s.GetPublishes(0, pkg.ApnIMS, time.Now().Add(-300*time.Hour)); len(got) != 0 {
		t.Fatalf("expected stale entries removed, got %+v", got)
	}
}
