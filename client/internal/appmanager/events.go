package appmanager

import (
	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/registry"
)

// HandlePackageChange maps a host ledger change onto the owning record's
// install status, independent of any orchestration in flight. Changes for
// packages the catalog never mentioned are ignored.
func (m *Manager) HandlePackageChange(ev hostdb.ChangeEvent) {
	rec, ok := m.store.Get(ev.PackageID)
	if !ok {
		log.Debugf("ignoring %s event for unknown package %s", ev.Action, ev.PackageID)
		return
	}
	latest := rec.Selected.VersionCode

	var status registry.InstallStatus
	switch ev.Action {
	case hostdb.ActionAdded:
		status = registry.Installed(ev.VersionCode, latest)
	case hostdb.ActionReplaced:
		status = registry.Updated(ev.VersionCode, latest)
	case hostdb.ActionRemoved:
		status = registry.Installable(latest)
	default:
		log.Warnf("unhandled package change action %q for %s", ev.Action, ev.PackageID)
		return
	}

	m.store.Update(ev.PackageID, func(r *registry.Record) {
		r.Install = status
	})
	log.Debugf("package %s moved to %s after host %s event", ev.PackageID, status.State, ev.Action)
}
