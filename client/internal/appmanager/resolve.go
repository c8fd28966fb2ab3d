package appmanager

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/registry"
)

// resolveStatus computes the install status of a package relative to the
// latest version code published for it. Not installed means installable;
// installed by a different installer means the package has to be taken
// over with a reinstall; otherwise the version codes decide between
// updatable and installed.
func (m *Manager) resolveStatus(packageID string, latestCode int64) (registry.InstallStatus, error) {
	info, err := m.host.Installed(packageID)
	if err != nil {
		return registry.InstallStatus{}, fmt.Errorf("query installed package %s: %w", packageID, err)
	}

	switch {
	case info == nil:
		return registry.Installable(latestCode), nil
	case info.Installer != m.installerID:
		return registry.ReinstallRequired(info.VersionCode, latestCode), nil
	case info.VersionCode < latestCode:
		return registry.Updatable(info.VersionCode, latestCode), nil
	default:
		return registry.Installed(info.VersionCode, latestCode), nil
	}
}

// resolveRecord merges one catalog entry with the host state and the
// channel preference into a record, carrying over the download, session
// and task sub-state of any existing record for the package.
func (m *Manager) resolveRecord(entry catalog.Entry) (registry.Record, error) {
	variant, err := entry.VariantFor(m.prefs.Channel(entry.PackageID))
	if err != nil {
		return registry.Record{}, &catalog.FetchError{Kind: catalog.FailureMalformed, Err: err}
	}

	status, err := m.resolveStatus(entry.PackageID, variant.VersionCode)
	if err != nil {
		return registry.Record{}, err
	}

	rec := registry.NewRecord(entry.PackageID, variant, entry.Variants, status)
	if existing, ok := m.store.Get(entry.PackageID); ok {
		rec.Download = existing.Download
		rec.Session = existing.Session
		rec.Task = existing.Task
	}
	return rec, nil
}

// ApplyChannelChange re-resolves the selected variant and install status
// of a package after its channel preference changed, using the variants
// already known from the last refresh.
func (m *Manager) ApplyChannelChange(packageID string) error {
	rec, ok := m.store.Get(packageID)
	if !ok {
		return fmt.Errorf("unknown package: %s", packageID)
	}

	entry := catalog.Entry{PackageID: rec.ID, Variants: rec.Variants}
	variant, err := entry.VariantFor(m.prefs.Channel(packageID))
	if err != nil {
		return err
	}

	status, err := m.resolveStatus(packageID, variant.VersionCode)
	if err != nil {
		return err
	}

	m.store.Update(packageID, func(r *registry.Record) {
		r.Selected = variant
		r.Install = status
	})
	log.Infof("package %s switched to channel %s (%s)", packageID, variant.Channel, variant.VersionName)
	return nil
}

// revertResolved drops a package back to the install status derived from
// the host state, discarding any transient batch marking.
func (m *Manager) revertResolved(variant catalog.Variant) {
	status, err := m.resolveStatus(variant.PackageID, variant.VersionCode)
	if err != nil {
		log.Errorf("failed to re-resolve %s: %v", variant.PackageID, err)
		return
	}
	m.store.Update(variant.PackageID, func(r *registry.Record) {
		r.Install = status
	})
}
