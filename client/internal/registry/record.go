package registry

import "github.com/appdockio/appdock/client/internal/catalog"

// TaskDone is the sentinel progress value marking a task slot as finished.
const TaskDone = -1

// TaskInfo tracks one long running operation attached to a record. A zero
// ID means the record never carried a task; Progress TaskDone means the
// last task finished.
type TaskInfo struct {
	ID       int64
	Label    string
	Progress int
}

// Active reports whether the task slot holds a running operation.
func (t TaskInfo) Active() bool {
	return t.ID != 0 && t.Progress != TaskDone
}

// SessionInfo identifies an install session delegated to the installer
// service. Values are treated as immutable: mutations replace the pointer
// on the record, they never write through it.
type SessionInfo struct {
	ID     string
	Active bool
}

// Record is the authoritative view of one package: the variant selected
// for this host, every published variant, and the install, download,
// session and task sub-state. Records are stored and returned by value;
// the Variants slice and Session pointer are shared and must not be
// mutated by consumers.
type Record struct {
	ID       string
	Selected catalog.Variant
	Variants []catalog.Variant
	Install  InstallStatus
	Download DownloadStatus
	Session  *SessionInfo
	Task     TaskInfo
}

// NewRecord builds a record with an idle task slot.
func NewRecord(id string, selected catalog.Variant, variants []catalog.Variant, install InstallStatus) Record {
	return Record{
		ID:       id,
		Selected: selected,
		Variants: variants,
		Install:  install,
		Task:     TaskInfo{Progress: TaskDone},
	}
}

// DisplayName returns the human readable name of the record's package.
func (r *Record) DisplayName() string {
	if name := r.Selected.DisplayName(); name != "" {
		return name
	}
	return r.ID
}
