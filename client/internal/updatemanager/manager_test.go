package updatemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appdockio/appdock/client/internal/appmanager"
	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/fetcher"
	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/installer"
	"github.com/appdockio/appdock/client/internal/registry"
)

const (
	pkgEditor = "io.example.editor"
	pkgPlayer = "io.example.player"

	installerID = "appdock"
)

type fakeCatalog struct {
	mu      sync.Mutex
	index   *catalog.Index
	err     error
	fetches atomic.Int32
}

func (c *fakeCatalog) FetchIndex(context.Context) (*catalog.Index, error) {
	c.fetches.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.index, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	failFor map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, variant catalog.Variant, progress fetcher.Progress) ([]string, error) {
	f.mu.Lock()
	failure := f.failFor[variant.PackageID]
	f.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	progress(100, 100, 100, true)
	return []string{"/staging/" + variant.PackageID + ".pkg"}, nil
}

type fakeInstaller struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]installer.SessionRequest
}

func (i *fakeInstaller) BeginSession(_ context.Context, req installer.SessionRequest) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.seq++
	id := fmt.Sprintf("session-%d", i.seq)
	if i.sessions == nil {
		i.sessions = make(map[string]installer.SessionRequest)
	}
	i.sessions[id] = req
	return id, nil
}

func (i *fakeInstaller) Uninstall(context.Context, string) error { return nil }

func (i *fakeInstaller) sessionFor(packageID string) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	for id, req := range i.sessions {
		if req.PackageID == packageID {
			return id
		}
	}
	return ""
}

func (i *fakeInstaller) sessionCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.sessions)
}

type fakeHost struct {
	mu        sync.Mutex
	installed map[string]*hostdb.InstalledInfo
}

func (h *fakeHost) Installed(packageID string) (*hostdb.InstalledInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info, ok := h.installed[packageID]
	if !ok {
		return nil, nil
	}
	clone := *info
	return &clone, nil
}

func (h *fakeHost) set(packageID string, versionCode int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed == nil {
		h.installed = make(map[string]*hostdb.InstalledInfo)
	}
	h.installed[packageID] = &hostdb.InstalledInfo{
		PackageID:   packageID,
		VersionCode: versionCode,
		Installer:   installerID,
	}
}

type fakePrefs struct {
	autoInstall atomic.Bool
}

func (p *fakePrefs) Channel(string) string { return catalog.DefaultChannel }
func (p *fakePrefs) AutoInstall() bool     { return p.autoInstall.Load() }

type seamlessEnv struct {
	update    *UpdateManager
	manager   *appmanager.Manager
	catalog   *fakeCatalog
	fetcher   *fakeFetcher
	installer *fakeInstaller
	host      *fakeHost
	prefs     *fakePrefs
}

func newSeamlessEnv(t *testing.T) *seamlessEnv {
	t.Helper()

	env := &seamlessEnv{
		catalog:   &fakeCatalog{index: seamlessIndex()},
		fetcher:   &fakeFetcher{},
		installer: &fakeInstaller{},
		host:      &fakeHost{},
		prefs:     &fakePrefs{},
	}
	env.manager = appmanager.NewManager(env.catalog, env.fetcher, env.installer, env.host, env.prefs, installerID)
	env.update = NewUpdateManager(env.manager, env.prefs, time.Hour)
	return env
}

// completeEditorInstall plays the installer for the editor session:
// ledger change first, success callback second.
func (e *seamlessEnv) completeEditorInstall(t *testing.T) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if id := e.installer.sessionFor(pkgEditor); id != "" {
			e.host.set(pkgEditor, 5)
			e.manager.HandlePackageChange(hostdb.ChangeEvent{
				Action:      hostdb.ActionReplaced,
				PackageID:   pkgEditor,
				VersionCode: 5,
			})
			e.manager.OnInstallSuccess(id)
			return
		}
		if time.Now().After(deadline) {
			t.Errorf("no session created for %s", pkgEditor)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func seamlessVariant(packageID, name string, code int64) catalog.Variant {
	return catalog.Variant{
		PackageID:   packageID,
		Name:        name,
		Channel:     catalog.DefaultChannel,
		VersionCode: code,
		VersionName: fmt.Sprintf("v%d", code),
		SHA256:      "0000000000000000000000000000000000000000000000000000000000000000",
		DownloadURL: "https://repo.example.com/" + packageID + ".pkg",
		SizeBytes:   1 << 20,
	}
}

func seamlessIndex() *catalog.Index {
	return &catalog.Index{
		GeneratedAt: time.Now().UTC(),
		Apps: []catalog.Entry{
			{
				PackageID: pkgEditor,
				Name:      "Editor",
				Variants:  []catalog.Variant{seamlessVariant(pkgEditor, "Editor", 5)},
			},
			{
				PackageID: pkgPlayer,
				Name:      "Player",
				Variants:  []catalog.Variant{seamlessVariant(pkgPlayer, "Player", 12)},
			},
		},
	}
}

func TestRunSeamlessUpdateAutoInstalls(t *testing.T) {
	env := newSeamlessEnv(t)
	env.prefs.autoInstall.Store(true)
	// editor is outdated, player is current
	env.host.set(pkgEditor, 3)
	env.host.set(pkgPlayer, 12)

	go env.completeEditorInstall(t)
	summary := env.update.RunSeamlessUpdate(context.Background())

	assert.Equal(t, []string{"Editor"}, summary.Updated)
	assert.Empty(t, summary.Failed)
	assert.Empty(t, summary.NeedsConfirmation)

	rec, ok := env.manager.Registry().Get(pkgEditor)
	require.True(t, ok)
	assert.Equal(t, registry.StateUpdated, rec.Install.State)
	assert.Equal(t, 1, env.installer.sessionCount(), "current packages are left alone")
}

func TestRunSeamlessUpdateParksForConfirmation(t *testing.T) {
	env := newSeamlessEnv(t)
	env.host.set(pkgEditor, 3)

	summary := env.update.RunSeamlessUpdate(context.Background())

	assert.Empty(t, summary.Updated)
	assert.Equal(t, []string{"Editor"}, summary.NeedsConfirmation)
	assert.Zero(t, env.installer.sessionCount(), "without auto-install nothing is installed")

	// the parked package installs when the user shows up
	go env.completeEditorInstall(t)
	env.manager.SetForeground(true)
	require.Eventually(t, func() bool {
		rec, ok := env.manager.Registry().Get(pkgEditor)
		return ok && rec.Install.State == registry.StateUpdated
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunSeamlessUpdateRecordsFailures(t *testing.T) {
	env := newSeamlessEnv(t)
	env.prefs.autoInstall.Store(true)
	env.host.set(pkgEditor, 3)
	env.fetcher.failFor = map[string]error{pkgEditor: errors.New("connection reset")}

	summary := env.update.RunSeamlessUpdate(context.Background())

	assert.Equal(t, []string{"Editor"}, summary.Failed)
	assert.Empty(t, summary.Updated)

	rec, ok := env.manager.Registry().Get(pkgEditor)
	require.True(t, ok)
	assert.Equal(t, registry.DownloadFailed, rec.Download.State)
}

func TestRunSeamlessUpdateNeutralUnderForeground(t *testing.T) {
	env := newSeamlessEnv(t)
	env.host.set(pkgEditor, 3)

	// seed the registry, then watch that the run leaves it alone
	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)
	env.manager.SetForeground(true)

	sub := env.manager.Registry().Subscribe()
	defer env.manager.Registry().Unsubscribe(sub)

	summary := env.update.RunSeamlessUpdate(context.Background())
	assert.True(t, summary.Empty())

	select {
	case snap := <-sub.Events():
		t.Fatalf("foreground run mutated the registry: %d records", len(snap.Records))
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(1), env.catalog.fetches.Load(), "only the seed refresh may fetch")
}

func TestRunSeamlessUpdateSingleFlight(t *testing.T) {
	env := newSeamlessEnv(t)
	env.host.set(pkgEditor, 3)

	env.update.running.Store(true)
	summary := env.update.RunSeamlessUpdate(context.Background())
	assert.True(t, summary.Empty())
	assert.Zero(t, env.catalog.fetches.Load())
	env.update.running.Store(false)
}

func TestRunSeamlessUpdateNeutralOnRefreshFailure(t *testing.T) {
	env := newSeamlessEnv(t)
	env.host.set(pkgEditor, 3)
	env.catalog.mu.Lock()
	env.catalog.err = errors.New("repository unreachable")
	env.catalog.mu.Unlock()

	summary := env.update.RunSeamlessUpdate(context.Background())
	assert.True(t, summary.Empty())
	assert.Zero(t, env.manager.Registry().Len())
}

func TestRunSeamlessUpdateReplacesInteractiveState(t *testing.T) {
	env := newSeamlessEnv(t)
	env.prefs.autoInstall.Store(true)

	// interactive refresh first; everything current, so the run only
	// rebuilds the registry
	env.host.set(pkgEditor, 5)
	env.host.set(pkgPlayer, 12)
	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	summary := env.update.RunSeamlessUpdate(context.Background())
	assert.True(t, summary.Empty())
	assert.Equal(t, 2, env.manager.Registry().Len(), "run rebuilds the registry from a forced refresh")
	assert.Equal(t, int32(2), env.catalog.fetches.Load())
}

func TestSchedulerTriggerAndStop(t *testing.T) {
	env := newSeamlessEnv(t)
	env.host.set(pkgEditor, 5)
	env.host.set(pkgPlayer, 12)

	env.update.Start(context.Background())
	env.update.Trigger()

	require.Eventually(t, func() bool {
		return env.catalog.fetches.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	env.update.Stop()
	fetchesAtStop := env.catalog.fetches.Load()

	env.update.Trigger()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, fetchesAtStop, env.catalog.fetches.Load(), "a stopped scheduler runs nothing")
}

func TestSchedulerConditionGate(t *testing.T) {
	env := newSeamlessEnv(t)
	env.update.SetCondition(func() bool { return false })

	env.update.Start(context.Background())
	defer env.update.Stop()

	env.update.Trigger()
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, env.catalog.fetches.Load(), "a failing condition blocks the run")
}
