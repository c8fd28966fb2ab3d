package appmanager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/fetcher"
	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/installer"
	"github.com/appdockio/appdock/client/internal/registry"
)

const (
	installWaitTimeout   = 5 * time.Minute
	defaultDownloadSlots = 3
)

// HostInfo answers what is currently installed on this host.
type HostInfo interface {
	Installed(packageID string) (*hostdb.InstalledInfo, error)
}

// Preferences supplies the per package channel selection and the
// auto-install flag. Implementations are read only from the manager's
// point of view.
type Preferences interface {
	Channel(packageID string) string
	AutoInstall() bool
}

// MessageHandler receives free text progress and result messages for user
// initiated operations.
type MessageHandler func(message string)

// session tracks one outstanding install request. done is closed exactly
// once, by the outcome callback. active is cleared when the waiter gave up
// so the entry no longer counts against new install requests while the
// late outcome can still be applied.
type session struct {
	packageID string
	done      chan struct{}
	active    bool
}

// Manager owns the package record store and coordinates refresh, download
// and install operations against it. All methods are safe for concurrent
// use.
type Manager struct {
	store     *registry.Store
	catalog   catalog.Client
	fetcher   fetcher.Fetcher
	installer installer.Service
	host      HostInfo
	prefs     Preferences

	installerID string

	mu             sync.Mutex
	refreshFlight  *refreshFlight
	sessions       map[string]*session
	pending        map[string][]string
	foreground     bool
	createInFlight bool
	msgHandler     MessageHandler

	// createMu serializes installer session creation process wide.
	createMu sync.Mutex
	taskSeq  atomic.Int64

	downloadSlots int64
	installWait   time.Duration
}

// NewManager wires the orchestration core. installerID is the installer
// of record written to the host ledger; packages installed under a
// different id resolve to ReinstallRequired.
func NewManager(catalogClient catalog.Client, artifactFetcher fetcher.Fetcher, installService installer.Service, host HostInfo, prefs Preferences, installerID string) *Manager {
	return &Manager{
		store:         registry.NewStore(),
		catalog:       catalogClient,
		fetcher:       artifactFetcher,
		installer:     installService,
		host:          host,
		prefs:         prefs,
		installerID:   installerID,
		sessions:      make(map[string]*session),
		pending:       make(map[string][]string),
		downloadSlots: defaultDownloadSlots,
		installWait:   installWaitTimeout,
	}
}

// Registry exposes the record store for subscribers and status consumers.
func (m *Manager) Registry() *registry.Store {
	return m.store
}

// SetMessageHandler registers the callback receiving user facing
// operation messages. A nil handler silences them.
func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgHandler = handler
}

// SetForeground records whether a foreground context is available.
// Turning it on drains the confirmation queue.
func (m *Manager) SetForeground(active bool) {
	m.mu.Lock()
	m.foreground = active
	m.mu.Unlock()

	if active {
		m.flushPending()
	}
}

// Foreground reports whether a foreground context is currently available.
func (m *Manager) Foreground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foreground
}

func (m *Manager) notifyMessage(message string) {
	m.mu.Lock()
	handler := m.msgHandler
	m.mu.Unlock()

	if handler == nil {
		return
	}
	handler(message)
}

func (m *Manager) takeSession(sessionID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(m.sessions, sessionID)
	return sess
}

func (m *Manager) activeSessionsLocked() int {
	active := 0
	for _, sess := range m.sessions {
		if sess.active {
			active++
		}
	}
	return active
}

func (m *Manager) hasActiveSession(packageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		if sess.active && sess.packageID == packageID {
			return true
		}
	}
	return false
}

func (m *Manager) displayName(packageID string) string {
	if rec, ok := m.store.Get(packageID); ok {
		return rec.DisplayName()
	}
	return packageID
}

var _ installer.ResultSink = (*Manager)(nil)
