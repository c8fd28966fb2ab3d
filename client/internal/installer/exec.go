package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/util"
)

// DefaultWatchTimeout bounds how long a session watcher waits for the
// helper outcome. It is intentionally much longer than the interactive
// wait of callers: a late outcome is still honored.
const DefaultWatchTimeout = 30 * time.Minute

// ExecService runs every install session in a detached helper process and
// reports outcomes through the configured ResultSink. The helper survives
// a restart of the client, so a session can finish even when its initiator
// is gone.
type ExecService struct {
	sessionsDir string
	installRoot string
	host        *hostdb.DB
	installerID string

	// helperCmd overrides the helper command: first element the binary,
	// the rest leading arguments. Empty means re-executing our own binary
	// with the session-helper command.
	helperCmd    []string
	watchTimeout time.Duration

	sinkMu sync.Mutex
	sink   ResultSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecService creates an installer service keeping session workspaces
// under sessionsDir and installing packages below installRoot. installerID
// is recorded in the ledger as the owner of the placed packages.
func NewExecService(sessionsDir, installRoot string, host *hostdb.DB, installerID string) *ExecService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecService{
		sessionsDir:  sessionsDir,
		installRoot:  installRoot,
		host:         host,
		installerID:  installerID,
		watchTimeout: DefaultWatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetSink registers the outcome consumer. Must be called before the first
// session begins.
func (s *ExecService) SetSink(sink ResultSink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

// SetHelperCommand overrides the helper process command, mainly for tests
// and for hosts with an external package installer.
func (s *ExecService) SetHelperCommand(cmd []string) {
	s.helperCmd = cmd
}

// BeginSession prepares a session workspace, launches the detached helper
// and starts watching for its outcome. It returns the session id as soon
// as the helper is underway.
func (s *ExecService) BeginSession(ctx context.Context, req SessionRequest) (string, error) {
	if len(req.Files) == 0 {
		return "", fmt.Errorf("install session for %s has no files", req.PackageID)
	}

	sessionID := uuid.NewString()
	sessionDir := filepath.Join(s.sessionsDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	manifest := Manifest{
		SessionID:   sessionID,
		PackageID:   req.PackageID,
		InstallRoot: s.installRoot,
		Files:       req.Files,
	}
	if err := util.WriteJson(ctx, filepath.Join(sessionDir, manifestFile), manifest); err != nil {
		s.removeSessionDir(sessionDir)
		return "", fmt.Errorf("write session manifest: %w", err)
	}

	if err := s.startHelper(sessionDir); err != nil {
		s.removeSessionDir(sessionDir)
		return "", err
	}

	s.wg.Add(1)
	go s.watchSession(sessionID, sessionDir, req)

	log.Infof("install session %s started for %s %s", sessionID, req.PackageID, req.VersionName)
	return sessionID, nil
}

// Uninstall removes the package directory below the install root and drops
// the package from the ledger, which dispatches the removed event.
func (s *ExecService) Uninstall(ctx context.Context, packageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := s.host.Installed(packageID)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("package %s is not installed", packageID)
	}

	target := filepath.Join(s.installRoot, packageID)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove %s: %w", target, err)
	}

	return s.host.Remove(packageID)
}

// Close stops all session watchers and waits for them to drain. Helpers
// already launched keep running; their results are picked up from disk on
// the next session for the same package or ignored.
func (s *ExecService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *ExecService) startHelper(sessionDir string) error {
	bin, args, err := s.helperCommand(sessionDir)
	if err != nil {
		return err
	}

	helper := exec.Command(bin, args...)
	log.Infof("starting install helper: %s", helper.String())

	// Run the helper in its own session/process group so it survives the
	// client being stopped mid-install
	setHelperProcAttr(helper)

	if err := helper.Start(); err != nil {
		return fmt.Errorf("start install helper: %w", err)
	}

	log.Debugf("install helper started with PID %d", helper.Process.Pid)

	// Release the process so the OS can fully detach it
	if err := helper.Process.Release(); err != nil {
		log.Warnf("failed to release install helper process: %v", err)
	}

	return nil
}

func (s *ExecService) helperCommand(sessionDir string) (string, []string, error) {
	if len(s.helperCmd) > 0 {
		args := append([]string{}, s.helperCmd[1:]...)
		return s.helperCmd[0], append(args, "--session-dir", sessionDir), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolve own binary: %w", err)
	}
	return exe, []string{"session-helper", "--session-dir", sessionDir}, nil
}

// watchSession waits for the helper outcome. The watch is bounded by the
// service timeout rather than the request context: callers may stop
// waiting while the helper can still finish.
func (s *ExecService) watchSession(sessionID, sessionDir string, req SessionRequest) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.watchTimeout)
	defer cancel()

	handler := NewResultHandler(sessionDir)
	result, err := handler.Watch(ctx)
	if err != nil {
		s.dispatchFailure(sessionID, sessionDir, fmt.Sprintf("no outcome from install helper: %v", err), false)
		return
	}

	if !result.Success {
		s.dispatchFailure(sessionID, sessionDir, result.Error, result.Declined)
		return
	}

	// Record the host change first: the ledger listener updates consumers
	// before the success callback fires.
	if _, err := s.host.Apply(req.PackageID, req.VersionCode, req.VersionName, s.installerID); err != nil {
		log.Errorf("failed to record install of %s: %v", req.PackageID, err)
		s.dispatchFailure(sessionID, sessionDir, fmt.Sprintf("record install: %v", err), false)
		return
	}

	if sink := s.getSink(); sink != nil {
		sink.OnInstallSuccess(sessionID)
	}
	s.removeSessionDir(sessionDir)
}

func (s *ExecService) dispatchFailure(sessionID, sessionDir, message string, declined bool) {
	if sink := s.getSink(); sink != nil {
		sink.OnInstallResult(sessionID, message, declined)
	}
	s.removeSessionDir(sessionDir)
}

func (s *ExecService) getSink() ResultSink {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	return s.sink
}

func (s *ExecService) removeSessionDir(sessionDir string) {
	if err := os.RemoveAll(sessionDir); err != nil {
		log.Warnf("failed to remove session directory %s: %v", sessionDir, err)
	}
}
