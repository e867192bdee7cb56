// Package telem keeps a bounded in-RAM history of what the Evaluator did
// (for the diagnostic dump and pattern analysis) plus the one piece of
// state that must survive a process restart: the last-known ISO country
// code used for international-roaming detection.
package telem

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qns-project/qns-core/pkg"
	bolt "go.etcd.io/bbolt"
)

// Store manages in-RAM telemetry ring buffers and the bbolt-backed
// persisted country code, one instance shared across every (slot, apn)
// Evaluator.
type Store struct {
	mu sync.RWMutex

	retentionHours int
	maxRAMMB       int

	publishes map[pkg.ApnKind]map[int]*RingBuffer // per (apn, slot) QualifiedNetworksChanged history
	events    *RingBuffer                         // InboxEvent history, across all (slot, apn)

	memoryUsage int64
	lastCleanup time.Time

	db *bolt.DB
}

var countryCodeBucket = []byte("country_code")

// PublishSample records one QualifiedNetworksChanged the Evaluator emitted.
type PublishSample struct {
	Slot      int                     `json:"slot"`
	Apn       pkg.ApnKind             `json:"apn"`
	Networks  []pkg.AccessNetworkKind `json:"networks"`
	Timestamp time.Time               `json:"timestamp"`
}

// EventSample records one InboxEvent the Evaluator consumed, stamped with
// wall-clock time for time-windowed queries (InboxEvent itself carries no
// timestamp — it's dispatched synchronously).
type EventSample struct {
	Event     pkg.InboxEvent `json:"event"`
	Slot      int            `json:"slot"`
	Apn       pkg.ApnKind    `json:"apn"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewStore creates a telemetry store. dbPath, if non-empty, opens a bbolt
// file for the persisted country code; an empty path means
// GetCountryCode/SetCountryCode are RAM-only for the process lifetime
// (suitable for tests).
func NewStore(retentionHours, maxRAMMB int, dbPath string) (*Store, error) {
	if retentionHours < 1 || retentionHours > 168 {
		return nil, fmt.Errorf("retention_hours must be between 1 and 168")
	}
	if maxRAMMB < 1 || maxRAMMB > 128 {
		return nil, fmt.Errorf("max_ram_mb must be between 1 and 128")
	}

	store := &Store{
		retentionHours: retentionHours,
		maxRAMMB:       maxRAMMB,
		publishes:      make(map[pkg.ApnKind]map[int]*RingBuffer),
		events:         NewRingBuffer(1000),
		lastCleanup:    time.Now(),
	}

	if dbPath != "" {
		db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry database: %w", err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(countryCodeBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize telemetry database: %w", err)
		}
		store.db = db
	}

	return store, nil
}

// AddPublish records a qualified-networks publish for (apn, slot).
func (s *Store) AddPublish(slot int, apn pkg.ApnKind, networks []pkg.AccessNetworkKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publishes[apn] == nil {
		s.publishes[apn] = make(map[int]*RingBuffer)
	}
	if s.publishes[apn][slot] == nil {
		s.publishes[apn][slot] = NewRingBuffer(1000)
	}

	sample := &PublishSample{Slot: slot, Apn: apn, Networks: networks, Timestamp: time.Now()}
	s.publishes[apn][slot].Add(sample)
	s.checkMemoryPressure()
}

// AddEvent records an InboxEvent the Evaluator for (slot, apn) consumed.
func (s *Store) AddEvent(slot int, apn pkg.ApnKind, event pkg.InboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Add(&EventSample{Event: event, Slot: slot, Apn: apn, Timestamp: time.Now()})
	s.checkMemoryPressure()
}

// GetPublishes returns publish history for (slot, apn) since the given time.
func (s *Store) GetPublishes(slot int, apn pkg.ApnKind, since time.Time) []*PublishSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySlot, ok := s.publishes[apn]
	if !ok {
		return nil
	}
	buffer, ok := bySlot[slot]
	if !ok {
		return nil
	}

	items := buffer.GetSince(since)
	result := make([]*PublishSample, 0, len(items))
	for _, item := range items {
		if sample, ok := item.(*PublishSample); ok {
			result = append(result, sample)
		}
	}
	return result
}

// GetEvents returns event history since the given time, optionally limited.
func (s *Store) GetEvents(since time.Time, limit int) []*EventSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.events.GetSince(since)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	result := make([]*EventSample, 0, len(items))
	for _, item := range items {
		if sample, ok := item.(*EventSample); ok {
			result = append(result, sample)
		}
	}
	return result
}

// GetCountryCode returns the persisted last-known ISO country code, or ""
// if none has been stored yet.
func (s *Store) GetCountryCode() (string, error) {
	if s.db == nil {
		return "", nil
	}

	var code string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(countryCodeBucket)
		v := b.Get([]byte("last"))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &code)
	})
	return code, err
}

// SetCountryCode persists the last-known ISO country code.
func (s *Store) SetCountryCode(code string) error {
	if s.db == nil {
		return nil
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal country code: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(countryCodeBucket)
		return b.Put([]byte("last"), data)
	})
}

// GetMemoryUsage returns current estimated RAM usage in MB.
func (s *Store) GetMemoryUsage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.memoryUsage / 1024 / 1024)
}

// Cleanup drops ring buffer entries older than the retention window.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(s.retentionHours) * time.Hour)

	for _, bySlot := range s.publishes {
		for _, buffer := range bySlot {
			buffer.RemoveBefore(cutoff)
		}
	}
	s.events.RemoveBefore(cutoff)

	s.updateMemoryUsage()
}

// Close releases the bbolt handle, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publishes = make(map[pkg.ApnKind]map[int]*RingBuffer)
	s.events = nil

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) checkMemoryPressure() {
	s.updateMemoryUsage()

	if s.memoryUsage > int64(s.maxRAMMB*1024*1024) {
		s.downsample()
	}

	if time.Since(s.lastCleanup) > time.Hour {
		go s.Cleanup()
		s.lastCleanup = time.Now()
	}
}

func (s *Store) updateMemoryUsage() {
	var usage int64
	for _, bySlot := range s.publishes {
		for _, buffer := range bySlot {
			usage += int64(buffer.Size() * 256)
		}
	}
	usage += int64(s.events.Size() * 256)
	s.memoryUsage = usage
}

func (s *Store) downsample() {
	for _, bySlot := range s.publishes {
		for _, buffer := range bySlot {
			buffer.Downsample(3)
		}
	}
}

// RingBuffer implements a thread-safe, fixed-capacity ring buffer with
// time-based retention, carried from the teacher's telemetry store
// unchanged: it only deals in opaque timestamped items.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []timestamped
	capacity int
	head     int
	tail     int
	size     int
}

type timestamped interface {
	occurredAt() time.Time
}

func (p *PublishSample) occurredAt() time.Time { return p.Timestamp }
func (e *EventSample) occurredAt() time.Time   { return e.Timestamp }

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		data:     make([]timestamped, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the ring buffer, overwriting the oldest entry once
// full.
func (rb *RingBuffer) Add(item timestamped) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.tail] = item
	rb.tail = (rb.tail + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// GetSince returns items added after since, oldest first.
func (rb *RingBuffer) GetSince(since time.Time) []interface{} {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]interface{}, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		idx := (rb.head + i) % rb.capacity
		item := rb.data[idx]
		if item != nil && item.occurredAt().After(since) {
			result = append(result, item)
		}
	}
	return result
}

// RemoveBefore empties the buffer when every item is at or before the given
// time, returning the count removed. When any item is newer, nothing is
// removed and it returns 0 (a "reset if everything is stale" approach
// rather than a partial-shift compaction).
func (rb *RingBuffer) RemoveBefore(before time.Time) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	allOld := true
	for i := 0; i < rb.size; i++ {
		idx := (rb.head + i) % rb.capacity
		item := rb.data[idx]
		if item != nil && item.occurredAt().After(before) {
			allOld = false
			break
		}
	}

	if !allOld {
		return 0
	}

	removed := rb.size
	rb.head, rb.tail, rb.size = 0, 0, 0
	return removed
}

// Downsample keeps every nth item, oldest first.
func (rb *RingBuffer) Downsample(n int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 || n <= 1 {
		return
	}

	newData := make([]timestamped, rb.capacity)
	newSize := 0
	for i := 0; i < rb.size; i += n {
		idx := (rb.head + i) % rb.capacity
		newData[newSize] = rb.data[idx]
		newSize++
	}

	rb.data = newData
	rb.head = 0
	rb.tail = newSize % rb.capacity
	rb.size = newSize
}

// Size returns the current number of items held.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the buffer's fixed capacity.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
