package hostdb

import "time"

// Action identifies the kind of host package change.
type Action string

const (
	ActionAdded    Action = "added"
	ActionReplaced Action = "replaced"
	ActionRemoved  Action = "removed"
)

// InstalledInfo describes one package present on the host.
type InstalledInfo struct {
	PackageID   string
	VersionCode int64
	VersionName string
	// Installer records which tool placed the package. Packages placed by
	// a foreign installer must be reinstalled before they can be managed
	// here.
	Installer   string
	InstalledAt time.Time
}

// ChangeEvent is dispatched to the registered listener after a ledger
// mutation committed.
type ChangeEvent struct {
	Action      Action
	PackageID   string
	VersionCode int64
	VersionName string
}

// EventRecord is one entry of the package change history.
type EventRecord struct {
	ID          int64
	PackageID   string
	Action      Action
	VersionCode int64
	OccurredAt  time.Time
}
