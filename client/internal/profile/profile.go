package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/util"
)

// Preferences is the on-disk user profile consumed by the update workflow.
type Preferences struct {
	// Channels maps package ids to their preferred release channel.
	// Packages without an entry follow catalog.DefaultChannel.
	Channels map[string]string `json:"channels"`
	// AutoInstall lets the unattended update workflow install downloaded
	// updates without waiting for confirmation.
	AutoInstall bool `json:"autoInstall"`
}

func defaultPreferences() Preferences {
	return Preferences{Channels: make(map[string]string)}
}

// Store serves preferences to the update workflow and keeps them current
// when the profile file changes on disk.
type Store struct {
	path string

	mu       sync.RWMutex
	prefs    Preferences
	onReload func()
}

// Load reads the profile at path. A missing file is replaced with the
// default profile, which is also written out so later edits have a file to
// start from.
func Load(path string) (*Store, error) {
	s := &Store{path: path, prefs: defaultPreferences()}

	err := s.reload()
	if err == nil {
		return s, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	if err := util.WriteJson(context.Background(), path, s.prefs); err != nil {
		return nil, fmt.Errorf("write default profile %s: %w", path, err)
	}
	log.Infof("created default profile at %s", path)
	return s, nil
}

// Channel returns the preferred release channel for packageID.
func (s *Store) Channel(packageID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ch, ok := s.prefs.Channels[packageID]; ok && ch != "" {
		return ch
	}
	return catalog.DefaultChannel
}

// AutoInstall reports whether unattended installs are enabled.
func (s *Store) AutoInstall() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.prefs.AutoInstall
}

// SetOnReload registers a callback fired after the profile was re-read
// because the file changed on disk. Direct Set calls do not fire it.
func (s *Store) SetOnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onReload = fn
}

// SetChannel persists the preferred channel for packageID. An empty channel
// removes the preference.
func (s *Store) SetChannel(ctx context.Context, packageID, channel string) error {
	s.mu.Lock()
	if channel == "" {
		delete(s.prefs.Channels, packageID)
	} else {
		s.prefs.Channels[packageID] = channel
	}
	prefs := s.cloneLocked()
	s.mu.Unlock()

	return util.WriteJson(ctx, s.path, prefs)
}

// SetAutoInstall persists the auto-install toggle.
func (s *Store) SetAutoInstall(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.prefs.AutoInstall = enabled
	prefs := s.cloneLocked()
	s.mu.Unlock()

	return util.WriteJson(ctx, s.path, prefs)
}

func (s *Store) cloneLocked() Preferences {
	prefs := s.prefs
	prefs.Channels = maps.Clone(s.prefs.Channels)
	return prefs
}

func (s *Store) reload() error {
	read, err := util.ReadJson(s.path, &Preferences{})
	if err != nil {
		return err
	}

	prefs := read.(*Preferences)
	if prefs.Channels == nil {
		prefs.Channels = make(map[string]string)
	}

	s.mu.Lock()
	s.prefs = *prefs
	s.mu.Unlock()
	return nil
}

// Watch keeps the in-memory preferences in sync with the profile file until
// ctx is done. Intended to run on its own goroutine.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create profile watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warnf("failed to close profile watcher: %v", err)
		}
	}()

	// Watch the directory, not the file: atomic writes rename a fresh file
	// into place, which would silently detach a file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch profile directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if event.Name != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := s.reload(); err != nil {
					log.Warnf("failed to reload profile %s: %v", s.path, err)
					continue
				}
				log.Debugf("profile reloaded from %s", s.path)

				s.mu.RLock()
				onReload := s.onReload
				s.mu.RUnlock()
				if onReload != nil {
					onReload()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			log.Warnf("profile watcher error: %v", err)
		}
	}
}
