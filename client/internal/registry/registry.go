package registry

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

const subscriptionBuffer = 8

// Snapshot is a self-consistent copy of the whole store plus the derived
// idle flags, published atomically to subscribers.
type Snapshot struct {
	Records map[string]Record
	// DownloadsIdle is true when no record has an active transfer.
	DownloadsIdle bool
	// Busy is true when any record carries an unfinished task.
	Busy bool
}

// Subscription streams store snapshots to one consumer. Slow consumers
// miss intermediate snapshots instead of blocking publishers; every
// delivered snapshot is complete, so a missed one carries nothing the next
// one lacks.
type Subscription struct {
	id     string
	events chan Snapshot
}

// Events returns the snapshot stream for this subscription.
func (s *Subscription) Events() <-chan Snapshot {
	return s.events
}

// Store holds the package records shared by every component of the update
// workflow. All access is serialized through one mutex; every mutation
// publishes a full snapshot, and batch mutations publish exactly once so
// subscribers never observe a partially applied batch.
type Store struct {
	mu            sync.Mutex
	records       map[string]Record
	subscriptions map[string]*Subscription
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{
		records:       make(map[string]Record),
		subscriptions: make(map[string]*Subscription),
	}
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Upsert stores rec and publishes one snapshot.
func (s *Store) Upsert(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	s.notifyLocked()
}

// UpsertBatch stores every record as a single mutation. Subscribers observe
// either none or all of the batch, never an intermediate mix.
func (s *Store) UpsertBatch(recs []Record) {
	if len(recs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		s.records[rec.ID] = rec
	}
	s.notifyLocked()
}

// Update applies mutate to the record for id under the store lock and
// publishes one snapshot. It reports whether the record existed; unknown
// ids are left untouched.
func (s *Store) Update(id string, mutate func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	mutate(&rec)
	s.records[id] = rec
	s.notifyLocked()
	return true
}

// Clear drops every record and publishes the empty snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return
	}
	s.records = make(map[string]Record)
	s.notifyLocked()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// Subscribe registers a snapshot consumer. The caller must drain the
// subscription and hand it back to Unsubscribe when done.
func (s *Store) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		id:     uuid.NewString(),
		events: make(chan Snapshot, subscriptionBuffer),
	}
	s.subscriptions[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its stream.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.id]; !ok {
		return
	}
	delete(s.subscriptions, sub.id)
	close(sub.events)
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Records:       maps.Clone(s.records),
		DownloadsIdle: true,
	}
	for _, rec := range s.records {
		if rec.Download.State == DownloadActive {
			snap.DownloadsIdle = false
		}
		if rec.Task.Active() {
			snap.Busy = true
		}
	}
	return snap
}

func (s *Store) notifyLocked() {
	if len(s.subscriptions) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, sub := range s.subscriptions {
		select {
		case sub.events <- snap:
		default:
			log.Debugf("dropping store snapshot for slow subscriber %s", sub.id)
		}
	}
}
