package appmanager

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/registry"
)

// RefreshResult reports how a Refresh call ended.
type RefreshResult int

const (
	// RefreshSkipped means no fetch happened: a refresh was already in
	// flight or the registry was considered fresh enough.
	RefreshSkipped RefreshResult = iota
	// RefreshCompleted means the catalog was fetched and merged.
	RefreshCompleted
	// RefreshFailed means the fetch or merge failed; the registry kept its
	// previous contents.
	RefreshFailed
)

func (r RefreshResult) String() string {
	switch r {
	case RefreshSkipped:
		return "skipped"
	case RefreshCompleted:
		return "completed"
	case RefreshFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// refreshFlight is the shared state of one in-flight refresh. result and
// err are written before done is closed, so anyone returning after a
// receive on done reads them safely.
type refreshFlight struct {
	done   chan struct{}
	cancel context.CancelFunc
	result RefreshResult
	err    error
}

// Refresh fetches the catalog and merges it into the record store. At
// most one refresh runs at a time: a non-forced call is a no-op while a
// refresh is in flight or while the registry is already populated, and a
// forced call joins an in-flight refresh instead of starting a second
// one. Starting a refresh never cancels another; CancelRefresh is the
// only preemption point.
func (m *Manager) Refresh(ctx context.Context, force bool) (RefreshResult, error) {
	m.mu.Lock()
	if flight := m.refreshFlight; flight != nil {
		m.mu.Unlock()
		if !force {
			return RefreshSkipped, nil
		}
		select {
		case <-flight.done:
			return flight.result, flight.err
		case <-ctx.Done():
			return RefreshSkipped, ctx.Err()
		}
	}
	if !force && m.store.Len() > 0 {
		m.mu.Unlock()
		log.Debugf("skipping catalog refresh, %d records already present", m.store.Len())
		return RefreshSkipped, nil
	}

	flightCtx, cancel := context.WithCancel(ctx)
	flight := &refreshFlight{done: make(chan struct{}), cancel: cancel}
	m.refreshFlight = flight
	m.mu.Unlock()

	result, err := m.doRefresh(flightCtx)
	cancel()

	m.mu.Lock()
	m.refreshFlight = nil
	m.mu.Unlock()

	flight.result, flight.err = result, err
	close(flight.done)
	return result, err
}

// CancelRefresh aborts an in-flight refresh and waits until it unwound.
// It is a no-op when nothing is running.
func (m *Manager) CancelRefresh() {
	m.mu.Lock()
	flight := m.refreshFlight
	m.mu.Unlock()

	if flight == nil {
		return
	}
	flight.cancel()
	<-flight.done
}

func (m *Manager) doRefresh(ctx context.Context) (RefreshResult, error) {
	index, err := m.catalog.FetchIndex(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Debugf("catalog refresh aborted: %v", err)
			return RefreshFailed, err
		}
		log.Errorf("catalog refresh failed (%s): %v", catalog.Classify(err), err)
		m.notifyMessage(fmt.Sprintf("Catalog refresh failed: %v", err))
		return RefreshFailed, err
	}

	records := make([]registry.Record, 0, len(index.Apps))
	for _, entry := range index.Apps {
		rec, err := m.resolveRecord(entry)
		if err != nil {
			log.Errorf("catalog refresh failed on entry %s: %v", entry.PackageID, err)
			m.notifyMessage(fmt.Sprintf("Catalog refresh failed: %v", err))
			return RefreshFailed, err
		}
		records = append(records, rec)
	}

	m.store.UpsertBatch(records)
	log.Infof("catalog refreshed, %d packages known", len(records))
	return RefreshCompleted, nil
}
