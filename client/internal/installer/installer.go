package installer

import "context"

// SessionRequest describes one install session handed to the installer
// service. Files are staged artifacts already verified by the caller.
type SessionRequest struct {
	PackageID   string
	VersionCode int64
	VersionName string
	Files       []string
}

// ResultSink receives session outcomes. OnInstallSuccess fires only after
// the host package ledger reflects the change, so a consumer reading the
// ledger from inside the callback observes the new state. OnInstallResult
// reports failed sessions; userDeclined distinguishes a rejected
// confirmation prompt from an error.
type ResultSink interface {
	OnInstallSuccess(sessionID string)
	OnInstallResult(sessionID string, errorMessage string, userDeclined bool)
}

// Service drives install sessions and removals on this host. BeginSession
// returns as soon as the session is underway; the outcome arrives through
// the ResultSink.
type Service interface {
	BeginSession(ctx context.Context, req SessionRequest) (string, error)
	Uninstall(ctx context.Context, packageID string) error
}
