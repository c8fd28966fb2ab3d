package updatemanager

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/client/internal/appmanager"
	"github.com/appdockio/appdock/client/internal/registry"
)

const defaultPeriod = 6 * time.Hour

// Summary is the outcome of one seamless update run, listing package
// display names per bucket.
type Summary struct {
	Updated           []string
	Failed            []string
	NeedsConfirmation []string
}

// Empty reports whether the run touched nothing.
func (s Summary) Empty() bool {
	return len(s.Updated) == 0 && len(s.Failed) == 0 && len(s.NeedsConfirmation) == 0
}

// UpdateManager performs unattended update runs on a schedule. A run never
// overlaps a foreground user, another run, or an interactive refresh.
type UpdateManager struct {
	manager *appmanager.Manager
	prefs   appmanager.Preferences

	period    time.Duration
	condition func() bool

	trigger chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	running atomic.Bool
}

// NewUpdateManager wires the seamless workflow on top of the orchestration
// core. A non-positive period falls back to the default schedule.
func NewUpdateManager(manager *appmanager.Manager, prefs appmanager.Preferences, period time.Duration) *UpdateManager {
	if period <= 0 {
		period = defaultPeriod
	}
	return &UpdateManager{
		manager: manager,
		prefs:   prefs,
		period:  period,
		trigger: make(chan struct{}, 1),
	}
}

// SetCondition installs a predicate consulted before every scheduled run,
// typically a network reachability check. A nil condition always passes.
func (u *UpdateManager) SetCondition(condition func() bool) {
	u.condition = condition
}

// Start launches the schedule loop. Must not be called twice without an
// intervening Stop.
func (u *UpdateManager) Start(ctx context.Context) {
	if u.cancel != nil {
		log.Errorf("update manager already started")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	u.wg.Add(1)
	go u.updateLoop(ctx)
	log.Infof("seamless update schedule started, period %s", u.period)
}

// Trigger requests an immediate run outside the schedule. Coalesces when a
// trigger is already queued.
func (u *UpdateManager) Trigger() {
	select {
	case u.trigger <- struct{}{}:
	default:
	}
}

// Stop terminates the schedule loop and waits for it to unwind.
func (u *UpdateManager) Stop() {
	if u.cancel == nil {
		return
	}
	u.cancel()
	u.wg.Wait()
	u.cancel = nil
}

func (u *UpdateManager) updateLoop(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-u.trigger:
		}

		if u.condition != nil && !u.condition() {
			log.Debugf("skipping seamless update run, condition not met")
			continue
		}

		summary := u.RunSeamlessUpdate(ctx)
		if !summary.Empty() {
			log.Infof("seamless update run finished: %d updated, %d failed, %d awaiting confirmation",
				len(summary.Updated), len(summary.Failed), len(summary.NeedsConfirmation))
		}
	}
}

// RunSeamlessUpdate refreshes the catalog from scratch and walks every
// updatable package strictly sequentially: download, then auto-install
// when the preference allows it, otherwise park the package for
// confirmation. A present foreground user or an already running job makes
// the call a neutral no-op; a failed refresh leaves retry to the next
// schedule tick.
func (u *UpdateManager) RunSeamlessUpdate(ctx context.Context) Summary {
	if u.manager.Foreground() {
		log.Debugf("skipping seamless update run, foreground context active")
		return Summary{}
	}
	if !u.running.CompareAndSwap(false, true) {
		log.Debugf("seamless update run already in progress")
		return Summary{}
	}
	defer u.running.Store(false)

	// cancel before clearing so the interactive flight cannot repopulate
	// the store behind the wipe
	u.manager.CancelRefresh()
	u.manager.Registry().Clear()

	result, err := u.manager.Refresh(ctx, true)
	if result != appmanager.RefreshCompleted {
		log.Warnf("seamless update run aborted, refresh %s: %v", result, err)
		return Summary{}
	}

	snapshot := u.manager.Registry().Snapshot()
	ids := make([]string, 0, len(snapshot.Records))
	for id, rec := range snapshot.Records {
		if rec.Install.State == registry.StateUpdatable {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	log.Debugf("seamless update run covers %d updatable packages", len(ids))

	var summary Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		rec := snapshot.Records[id]

		files, err := u.manager.DownloadOne(ctx, rec.Selected)
		if err != nil {
			summary.Failed = append(summary.Failed, rec.DisplayName())
			continue
		}

		if !u.prefs.AutoInstall() {
			u.manager.RequestInstall(ctx, id, files, false)
			summary.NeedsConfirmation = append(summary.NeedsConfirmation, rec.DisplayName())
			continue
		}

		if installed, _ := u.manager.RequestInstall(ctx, id, files, true); installed {
			summary.Updated = append(summary.Updated, rec.DisplayName())
		} else {
			summary.Failed = append(summary.Failed, rec.DisplayName())
		}
	}
	return summary
}
