package appmanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/fetcher"
	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/installer"
)

const (
	pkgEditor = "io.example.editor"
	pkgPlayer = "io.example.player"
	pkgViewer = "io.example.viewer"

	installerID = "appdock"
)

type mockCatalog struct {
	mu      sync.Mutex
	index   *catalog.Index
	err     error
	fetches atomic.Int32
	// when gate is non-nil FetchIndex blocks on it, signalling entered
	// first so the test can synchronize
	gate    chan struct{}
	entered chan struct{}
}

func (c *mockCatalog) FetchIndex(ctx context.Context) (*catalog.Index, error) {
	c.fetches.Add(1)

	c.mu.Lock()
	gate, entered := c.gate, c.entered
	index, err := c.index, c.err
	c.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return index, nil
}

type mockFetcher struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	// percents replayed through the progress callback before completion
	emit []int
}

func (f *mockFetcher) Fetch(_ context.Context, variant catalog.Variant, progress fetcher.Progress) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, variant.PackageID)
	failure := f.failFor[variant.PackageID]
	emit := f.emit
	f.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	for _, percent := range emit {
		progress(int64(percent), 100, percent, false)
	}
	progress(100, 100, 100, true)
	return []string{"/staging/" + variant.PackageID + ".pkg"}, nil
}

func (f *mockFetcher) fetchedPackages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type mockInstaller struct {
	mu           sync.Mutex
	seq          int
	sessions     map[string]installer.SessionRequest
	beginErr     error
	uninstalled  []string
	uninstallErr error
}

func (i *mockInstaller) BeginSession(_ context.Context, req installer.SessionRequest) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.beginErr != nil {
		return "", i.beginErr
	}
	i.seq++
	id := fmt.Sprintf("session-%d", i.seq)
	if i.sessions == nil {
		i.sessions = make(map[string]installer.SessionRequest)
	}
	i.sessions[id] = req
	return id, nil
}

func (i *mockInstaller) Uninstall(_ context.Context, packageID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.uninstallErr != nil {
		return i.uninstallErr
	}
	i.uninstalled = append(i.uninstalled, packageID)
	return nil
}

func (i *mockInstaller) sessionCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.sessions)
}

func (i *mockInstaller) lastSession() (string, installer.SessionRequest) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id := fmt.Sprintf("session-%d", i.seq)
	return id, i.sessions[id]
}

func (i *mockInstaller) sessionFor(packageID string) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	for id, req := range i.sessions {
		if req.PackageID == packageID {
			return id
		}
	}
	return ""
}

type mockHost struct {
	mu        sync.Mutex
	installed map[string]*hostdb.InstalledInfo
	err       error
}

func (h *mockHost) Installed(packageID string) (*hostdb.InstalledInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return nil, h.err
	}
	info, ok := h.installed[packageID]
	if !ok {
		return nil, nil
	}
	clone := *info
	return &clone, nil
}

func (h *mockHost) set(packageID string, versionCode int64, installedBy string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed == nil {
		h.installed = make(map[string]*hostdb.InstalledInfo)
	}
	h.installed[packageID] = &hostdb.InstalledInfo{
		PackageID:   packageID,
		VersionCode: versionCode,
		VersionName: fmt.Sprintf("v%d", versionCode),
		Installer:   installedBy,
	}
}

type mockPrefs struct {
	mu          sync.Mutex
	channels    map[string]string
	autoInstall bool
}

func (p *mockPrefs) Channel(packageID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if channel, ok := p.channels[packageID]; ok {
		return channel
	}
	return catalog.DefaultChannel
}

func (p *mockPrefs) AutoInstall() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoInstall
}

func (p *mockPrefs) setChannel(packageID, channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channels == nil {
		p.channels = make(map[string]string)
	}
	p.channels[packageID] = channel
}

type testEnv struct {
	manager   *Manager
	catalog   *mockCatalog
	fetcher   *mockFetcher
	installer *mockInstaller
	host      *mockHost
	prefs     *mockPrefs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		catalog:   &mockCatalog{index: testIndex()},
		fetcher:   &mockFetcher{},
		installer: &mockInstaller{},
		host:      &mockHost{},
		prefs:     &mockPrefs{},
	}
	env.manager = NewManager(env.catalog, env.fetcher, env.installer, env.host, env.prefs, installerID)
	// keep a hung install from stalling the suite for the full production
	// timeout
	env.manager.installWait = 10 * time.Second
	return env
}

// completeInstall plays the installer role for the newest session of a
// package: ledger change first, success callback second. Safe to run from
// a helper goroutine.
func (e *testEnv) completeInstall(t *testing.T, packageID string, versionCode int64, action hostdb.Action) {
	t.Helper()

	var sessionID string
	deadline := time.Now().Add(5 * time.Second)
	for sessionID == "" {
		if time.Now().After(deadline) {
			t.Errorf("no session created for %s", packageID)
			return
		}
		sessionID = e.installer.sessionFor(packageID)
		if sessionID == "" {
			time.Sleep(5 * time.Millisecond)
		}
	}

	e.host.set(packageID, versionCode, installerID)
	e.manager.HandlePackageChange(hostdb.ChangeEvent{
		Action:      action,
		PackageID:   packageID,
		VersionCode: versionCode,
		VersionName: fmt.Sprintf("v%d", versionCode),
	})
	e.manager.OnInstallSuccess(sessionID)
}

func makeVariant(packageID, name, channel string, code int64) catalog.Variant {
	return catalog.Variant{
		PackageID:   packageID,
		Name:        name,
		Channel:     channel,
		VersionCode: code,
		VersionName: fmt.Sprintf("v%d", code),
		SHA256:      "0000000000000000000000000000000000000000000000000000000000000000",
		DownloadURL: "https://repo.example.com/" + packageID + ".pkg",
		SizeBytes:   1 << 20,
	}
}

func testIndex() *catalog.Index {
	return &catalog.Index{
		GeneratedAt: time.Now().UTC(),
		Apps: []catalog.Entry{
			{
				PackageID: pkgEditor,
				Name:      "Editor",
				Variants: []catalog.Variant{
					makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5),
					makeVariant(pkgEditor, "Editor", "beta", 7),
				},
			},
			{
				PackageID: pkgPlayer,
				Name:      "Player",
				Variants: []catalog.Variant{
					makeVariant(pkgPlayer, "Player", catalog.DefaultChannel, 12),
				},
			},
			{
				PackageID: pkgViewer,
				Name:      "Viewer",
				Variants: []catalog.Variant{
					makeVariant(pkgViewer, "Viewer", catalog.DefaultChannel, 3),
				},
			},
		},
	}
}
