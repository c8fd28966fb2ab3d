package appmanager

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/fetcher"
	"github.com/appdockio/appdock/client/internal/registry"
)

// BatchOutcome is the per package result of a multi package download.
type BatchOutcome int

const (
	// BatchInstalled means the package was downloaded and installed.
	BatchInstalled BatchOutcome = iota
	// BatchDownloadFailed means the artifact could not be fetched or
	// verified.
	BatchDownloadFailed
	// BatchInstallFailed means the install session did not end in an
	// installed state.
	BatchInstallFailed
	// BatchAborted means an earlier batch member failed under the
	// all-or-nothing policy, so this one was reverted without an install
	// attempt.
	BatchAborted
)

func (o BatchOutcome) String() string {
	switch o {
	case BatchInstalled:
		return "installed"
	case BatchDownloadFailed:
		return "download failed"
	case BatchInstallFailed:
		return "install failed"
	case BatchAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// BatchResult pairs a batch member with its outcome.
type BatchResult struct {
	PackageID string
	Outcome   BatchOutcome
	Err       error
}

// DownloadOne fetches and verifies the artifact of a variant, tracking
// progress on the package's record. A fresh task occupies the record's
// task slot for the duration; the task is finished on success and failure
// alike so the busy signal always clears. The staged artifact files are
// returned for hand-off to the installer.
func (m *Manager) DownloadOne(ctx context.Context, variant catalog.Variant) ([]string, error) {
	taskID := m.taskSeq.Add(1)
	m.store.Update(variant.PackageID, func(r *registry.Record) {
		r.Download = registry.Downloading(0)
		r.Task = registry.TaskInfo{ID: taskID, Label: variant.DisplayName()}
	})

	progress := func(read, total int64, percent int, completed bool) {
		// unknown-size transfers report a sentinel percent; those events
		// keep the connection alive but carry nothing to display
		if percent == fetcher.UnknownProgress {
			return
		}
		m.store.Update(variant.PackageID, func(r *registry.Record) {
			r.Download = registry.Downloading(percent)
			r.Task.Progress = percent
		})
	}

	files, err := m.fetcher.Fetch(ctx, variant, progress)
	if err != nil {
		m.store.Update(variant.PackageID, func(r *registry.Record) {
			r.Download = registry.DownloadFailure(err.Error())
			r.Task.Progress = registry.TaskDone
		})
		log.Errorf("download of %s (%d) failed: %v", variant.PackageID, variant.VersionCode, err)
		m.notifyMessage(fmt.Sprintf("Download of %s failed: %v", variant.DisplayName(), err))
		return nil, err
	}

	m.store.Update(variant.PackageID, func(r *registry.Record) {
		r.Download = registry.DownloadStatus{}
		r.Task.Progress = registry.TaskDone
	})
	return files, nil
}

// DownloadMany downloads a batch of variants concurrently, then installs
// the successful ones strictly sequentially in input order. Each member
// is marked Pending when its download begins. With allOrNothing set, the
// first non-success reverts every subsequent member to its resolved
// install status without attempting installation; already installed
// members are not rolled back.
func (m *Manager) DownloadMany(ctx context.Context, variants []catalog.Variant, allOrNothing bool) []BatchResult {
	type fetchResult struct {
		files []string
		err   error
	}

	fetched := make([]fetchResult, len(variants))
	sem := semaphore.NewWeighted(m.downloadSlots)
	var wg sync.WaitGroup
	for i, variant := range variants {
		wg.Add(1)
		go func(i int, variant catalog.Variant) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				fetched[i] = fetchResult{err: err}
				return
			}
			defer sem.Release(1)

			m.store.Update(variant.PackageID, func(r *registry.Record) {
				r.Install = registry.Pending()
			})
			files, err := m.DownloadOne(ctx, variant)
			fetched[i] = fetchResult{files: files, err: err}
		}(i, variant)
	}
	wg.Wait()

	results := make([]BatchResult, 0, len(variants))
	failed := false
	for i, variant := range variants {
		res := fetched[i]
		switch {
		case res.err != nil:
			m.revertResolved(variant)
			results = append(results, BatchResult{PackageID: variant.PackageID, Outcome: BatchDownloadFailed, Err: res.err})
			failed = true
		case allOrNothing && failed:
			m.revertResolved(variant)
			results = append(results, BatchResult{PackageID: variant.PackageID, Outcome: BatchAborted})
		default:
			if m.InstallApps(ctx, variant.PackageID, res.files) {
				results = append(results, BatchResult{PackageID: variant.PackageID, Outcome: BatchInstalled})
			} else {
				results = append(results, BatchResult{PackageID: variant.PackageID, Outcome: BatchInstallFailed})
				failed = true
			}
		}
	}
	return results
}
