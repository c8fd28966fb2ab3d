package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/util"
)

const manifestFile = "manifest.json"

// Manifest tells the install helper what to place where. It is written by
// the service into the session directory before the helper starts.
type Manifest struct {
	SessionID   string   `json:"sessionId"`
	PackageID   string   `json:"packageId"`
	InstallRoot string   `json:"installRoot"`
	Files       []string `json:"files"`
}

// RunHelper executes the helper side of an install session: it reads the
// manifest from sessionDir, places the artifacts below the install root and
// reports the outcome through the session result file. It runs in its own
// process so the install finishes even when the initiating client goes
// away.
func RunHelper(sessionDir string) error {
	handler := NewResultHandler(sessionDir)

	manifest, err := readManifest(sessionDir)
	if err != nil {
		if writeErr := handler.WriteErr(err); writeErr != nil {
			log.Errorf("failed to write error result: %v", writeErr)
		}
		return err
	}

	if err := applyManifest(manifest); err != nil {
		if writeErr := handler.WriteErr(err); writeErr != nil {
			log.Errorf("failed to write error result: %v", writeErr)
		}
		return err
	}

	return handler.Write(Result{
		Success:    true,
		ExecutedAt: time.Now().UTC(),
	})
}

func readManifest(sessionDir string) (*Manifest, error) {
	read, err := util.ReadJson(filepath.Join(sessionDir, manifestFile), &Manifest{})
	if err != nil {
		return nil, fmt.Errorf("read session manifest: %w", err)
	}

	manifest := read.(*Manifest)
	if manifest.PackageID == "" || manifest.InstallRoot == "" {
		return nil, fmt.Errorf("session manifest misses package id or install root")
	}
	if len(manifest.Files) == 0 {
		return nil, fmt.Errorf("session manifest lists no files")
	}
	return manifest, nil
}

// applyManifest places the artifacts into a staging directory next to the
// target and swaps it into place, stashing any previous version aside until
// the new one landed.
func applyManifest(m *Manifest) error {
	target := filepath.Join(m.InstallRoot, m.PackageID)
	staging := target + ".partial"
	backup := target + ".previous"

	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear stale staging target: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging target: %w", err)
	}

	for _, file := range m.Files {
		dst := filepath.Join(staging, filepath.Base(file))
		log.Debugf("placing %s at %s", file, dst)
		if err := util.CopyFileContents(file, dst); err != nil {
			return fmt.Errorf("place %s: %w", filepath.Base(file), err)
		}
	}

	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("clear stale backup: %w", err)
	}
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("stash previous version: %w", err)
		}
	}

	if err := os.Rename(staging, target); err != nil {
		// put the previous version back, best effort
		if restoreErr := os.Rename(backup, target); restoreErr != nil && !os.IsNotExist(restoreErr) {
			log.Errorf("failed to restore previous version of %s: %v", m.PackageID, restoreErr)
		}
		return fmt.Errorf("activate new version: %w", err)
	}

	if err := os.RemoveAll(backup); err != nil {
		log.Warnf("failed to remove previous version of %s: %v", m.PackageID, err)
	}

	return nil
}
