package registry

// InstallState enumerates the lifecycle states of a package on this host.
type InstallState int

const (
	// StateInstallable marks a package known from the catalog but not
	// installed here.
	StateInstallable InstallState = iota
	// StateInstalling marks a package with an install session in flight.
	StateInstalling
	// StateInstalled marks a package installed at the latest known version.
	StateInstalled
	// StateUpdatable marks an installed package with a newer version
	// available on its selected channel.
	StateUpdatable
	// StateUpdated marks a package that just finished updating.
	StateUpdated
	// StateReinstallRequired marks a package installed by a different
	// installer, which must be reinstalled before it can be managed here.
	StateReinstallRequired
	// StateUninstalling marks a package with a removal in flight.
	StateUninstalling
	// StateFailed marks a package whose last install attempt failed.
	StateFailed
	// StatePending marks a package queued in a batch whose download phase
	// has started.
	StatePending
)

func (s InstallState) String() string {
	switch s {
	case StateInstallable:
		return "installable"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateUpdatable:
		return "updatable"
	case StateUpdated:
		return "updated"
	case StateReinstallRequired:
		return "reinstall required"
	case StateUninstalling:
		return "uninstalling"
	case StateFailed:
		return "failed"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// InstallStatus carries the install state of a package together with the
// version information relevant for that state.
type InstallStatus struct {
	State InstallState
	// InstalledCode is the version code present on the host, zero when the
	// package is not installed.
	InstalledCode int64
	// LatestCode is the newest version code published for the selected
	// variant.
	LatestCode int64
	// Error holds the failure message when State is StateFailed.
	Error string
	// UserDeclined marks a failure caused by the user rejecting the
	// install prompt.
	UserDeclined bool
}

// Installable builds the status for a package absent from the host.
func Installable(latest int64) InstallStatus {
	return InstallStatus{State: StateInstallable, LatestCode: latest}
}

// Installing builds the status for a package with an install session open.
func Installing() InstallStatus {
	return InstallStatus{State: StateInstalling}
}

// Installed builds the status for a package current with its channel.
func Installed(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateInstalled, InstalledCode: installed, LatestCode: latest}
}

// Updatable builds the status for an installed package with a newer
// published version.
func Updatable(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateUpdatable, InstalledCode: installed, LatestCode: latest}
}

// Updated builds the status for a package that just finished updating.
func Updated(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateUpdated, InstalledCode: installed, LatestCode: latest}
}

// ReinstallRequired builds the status for a package owned by a foreign
// installer.
func ReinstallRequired(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateReinstallRequired, InstalledCode: installed, LatestCode: latest}
}

// Uninstalling builds the status for a package with a removal in flight.
func Uninstalling() InstallStatus {
	return InstallStatus{State: StateUninstalling}
}

// Failed builds the status for a failed install attempt. declined marks
// failures caused by the user rejecting the prompt rather than an error.
func Failed(message string, declined bool) InstallStatus {
	return InstallStatus{State: StateFailed, Error: message, UserDeclined: declined}
}

// Pending builds the status for a package waiting in a started batch.
func Pending() InstallStatus {
	return InstallStatus{State: StatePending}
}

// DownloadState enumerates the download sub-state of a record.
type DownloadState int

const (
	// DownloadIdle marks a record with no download activity.
	DownloadIdle DownloadState = iota
	// DownloadActive marks a record with a transfer in progress.
	DownloadActive
	// DownloadFailed marks a record whose last transfer failed.
	DownloadFailed
)

func (s DownloadState) String() string {
	switch s {
	case DownloadIdle:
		return "idle"
	case DownloadActive:
		return "downloading"
	case DownloadFailed:
		return "download failed"
	default:
		return "unknown"
	}
}

// DownloadStatus tracks the transfer attached to a record. Percent is only
// meaningful while State is DownloadActive.
type DownloadStatus struct {
	State   DownloadState
	Percent int
	Error   string
}

// Downloading builds an active download status at the given percentage.
func Downloading(percent int) DownloadStatus {
	return DownloadStatus{State: DownloadActive, Percent: percent}
}

// DownloadFailure builds a failed download status.
func DownloadFailure(message string) DownloadStatus {
	return DownloadStatus{State: DownloadFailed, Error: message}
}
