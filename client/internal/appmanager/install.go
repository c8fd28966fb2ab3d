package appmanager

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/client/internal/installer"
	"github.com/appdockio/appdock/client/internal/registry"
)

// RequestInstall routes an install request. Background requests proceed
// immediately. A foreground request proceeds only when a foreground
// context exists, no session is outstanding and no session creation is in
// flight; otherwise the package is parked in the confirmation queue to be
// flushed when a foreground context becomes available. Returns whether
// the package ended up installed and whether it was queued instead.
func (m *Manager) RequestInstall(ctx context.Context, packageID string, files []string, background bool) (installed bool, queued bool) {
	if background {
		return m.InstallApps(ctx, packageID, files), false
	}

	m.mu.Lock()
	immediate := m.foreground && m.activeSessionsLocked() == 0 && !m.createInFlight
	if !immediate {
		m.pending[packageID] = files
		m.mu.Unlock()
		log.Infof("install of %s queued for confirmation", packageID)
		m.notifyMessage(fmt.Sprintf("%s is ready to install", m.displayName(packageID)))
		return false, true
	}
	m.mu.Unlock()

	return m.InstallApps(ctx, packageID, files), false
}

// InstallApps begins an install session for the downloaded artifact files
// and waits for its outcome. Session creation is serialized process wide.
// The wait is resolved by the installer's outcome callback and bounded by
// a timeout; on expiry the call fails but a late outcome is still applied
// when it arrives. Success means the record ended up Installed or
// Updated.
func (m *Manager) InstallApps(ctx context.Context, packageID string, files []string) bool {
	rec, ok := m.store.Get(packageID)
	if !ok {
		log.Errorf("install requested for unknown package %s", packageID)
		return false
	}

	m.createMu.Lock()
	m.mu.Lock()
	m.createInFlight = true
	m.mu.Unlock()

	sessionID, err := m.installer.BeginSession(ctx, installer.SessionRequest{
		PackageID:   packageID,
		VersionCode: rec.Selected.VersionCode,
		VersionName: rec.Selected.VersionName,
		Files:       files,
	})

	m.mu.Lock()
	m.createInFlight = false
	var sess *session
	if err == nil {
		sess = &session{packageID: packageID, done: make(chan struct{}), active: true}
		m.sessions[sessionID] = sess
		// publish Installing in the same critical section that registers
		// the session: outcome callbacks find the session through this
		// lock, so they can never write the final state first
		m.store.Update(packageID, func(r *registry.Record) {
			r.Install = registry.Installing()
			r.Session = &registry.SessionInfo{ID: sessionID, Active: true}
		})
	}
	m.mu.Unlock()
	m.createMu.Unlock()

	if err != nil {
		log.Errorf("failed to begin install session for %s: %v", packageID, err)
		m.store.Update(packageID, func(r *registry.Record) {
			r.Install = registry.Failed(err.Error(), false)
		})
		m.notifyMessage(fmt.Sprintf("Install of %s failed: %v", rec.DisplayName(), err))
		return false
	}
	log.Infof("install session %s started for %s (%d)", sessionID, packageID, rec.Selected.VersionCode)

	timeout := time.NewTimer(m.installWait)
	defer timeout.Stop()
	select {
	case <-sess.done:
	case <-timeout.C:
		m.abandonSession(sessionID, sess)
		log.Errorf("install session %s for %s produced no outcome in time", sessionID, packageID)
		return false
	case <-ctx.Done():
		m.abandonSession(sessionID, sess)
		return false
	}

	final, ok := m.store.Get(packageID)
	if !ok {
		return false
	}
	return final.Install.State == registry.StateInstalled || final.Install.State == registry.StateUpdated
}

// abandonSession stops counting a session against new install requests
// and detaches it from the record, while keeping the id mapped so a late
// outcome callback still lands.
func (m *Manager) abandonSession(sessionID string, sess *session) {
	m.mu.Lock()
	sess.active = false
	m.mu.Unlock()

	m.store.Update(sess.packageID, func(r *registry.Record) {
		r.Session = nil
	})
}

// OnInstallSuccess clears the session. The install status was already
// moved to Installed or Updated by the host package change delivered
// before this callback, so waiters resolved here observe the final state.
// With a foreground context present the confirmation queue is flushed.
func (m *Manager) OnInstallSuccess(sessionID string) {
	sess := m.takeSession(sessionID)
	if sess == nil {
		log.Warnf("success reported for unknown install session %s", sessionID)
		return
	}

	m.store.Update(sess.packageID, func(r *registry.Record) {
		r.Session = nil
	})
	close(sess.done)

	log.Infof("install session %s for %s succeeded", sessionID, sess.packageID)
	m.notifyMessage(fmt.Sprintf("%s installed", m.displayName(sess.packageID)))
	m.flushPending()
}

// OnInstallResult clears the session and marks the package failed,
// keeping the user-declined distinction.
func (m *Manager) OnInstallResult(sessionID string, errorMessage string, userDeclined bool) {
	sess := m.takeSession(sessionID)
	if sess == nil {
		log.Warnf("failure reported for unknown install session %s", sessionID)
		return
	}

	m.store.Update(sess.packageID, func(r *registry.Record) {
		r.Session = nil
		r.Install = registry.Failed(errorMessage, userDeclined)
	})
	close(sess.done)

	if userDeclined {
		log.Infof("install session %s for %s declined by the user", sessionID, sess.packageID)
		m.notifyMessage(fmt.Sprintf("Install of %s declined", m.displayName(sess.packageID)))
		return
	}
	log.Errorf("install session %s for %s failed: %s", sessionID, sess.packageID, errorMessage)
	m.notifyMessage(fmt.Sprintf("Install of %s failed: %s", m.displayName(sess.packageID), errorMessage))
}

// flushPending drains the confirmation queue as independent concurrent
// installs. Packages with a session already outstanding are skipped so a
// flush never doubles up on session creation.
func (m *Manager) flushPending() {
	m.mu.Lock()
	if !m.foreground || len(m.pending) == 0 {
		m.mu.Unlock()
		return
	}
	flush := m.pending
	m.pending = make(map[string][]string)
	m.mu.Unlock()

	for packageID, files := range flush {
		if m.hasActiveSession(packageID) {
			log.Debugf("skipping queued install of %s, session already outstanding", packageID)
			continue
		}
		go func(packageID string, files []string) {
			m.InstallApps(context.Background(), packageID, files)
		}(packageID, files)
	}
}

// Uninstall removes a package through the installer service. The host
// ledger's removed event moves the record back to Installable.
func (m *Manager) Uninstall(ctx context.Context, packageID string) error {
	m.store.Update(packageID, func(r *registry.Record) {
		r.Install = registry.Uninstalling()
	})

	if err := m.installer.Uninstall(ctx, packageID); err != nil {
		m.store.Update(packageID, func(r *registry.Record) {
			r.Install = registry.Failed(err.Error(), false)
		})
		m.notifyMessage(fmt.Sprintf("Uninstall of %s failed: %v", m.displayName(packageID), err))
		return fmt.Errorf("uninstall %s: %w", packageID, err)
	}

	m.notifyMessage(fmt.Sprintf("%s removed", m.displayName(packageID)))
	return nil
}
