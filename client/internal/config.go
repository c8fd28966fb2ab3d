package internal

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/appdockio/appdock/util"
)

const (
	// DefaultCatalogURL points to the AppDock hosted package repository.
	DefaultCatalogURL = "https://pkgs.appdock.io/catalog"
	// DefaultCatalogPublicKey is the hex encoded ed25519 key the hosted
	// repository signs its index with.
	DefaultCatalogPublicKey = "7d1e4f2b9c8f3a6d5e0b1c7a4f9d2e8b6a3c5d7f1e9b0a2c4d6e8f0a1b3c5d7e"
	// DefaultSeamlessIntervalMinutes is the period between unattended
	// update runs in agent mode.
	DefaultSeamlessIntervalMinutes = 360
	// InstallerID is recorded in the package ledger as the owner of every
	// package this client installs. Packages owned by a different installer
	// are reported as ReinstallRequired.
	InstallerID = "appdock"
)

// ConfigInput carries configuration changes to the client
type ConfigInput struct {
	ConfigPath       string
	CatalogURL       string
	CatalogPublicKey *string
	DataDir          string
	InstallRoot      *string
	InstallerCmd     []string
	SeamlessInterval *int
	RequireNetwork   *bool
}

// Config Configuration type
type Config struct {
	// CatalogURL is the base URL of the signed package repository
	CatalogURL *url.URL
	// CatalogPublicKey is the hex encoded ed25519 repository signing key.
	// An empty value disables index signature verification and is only
	// acceptable for local development repositories.
	CatalogPublicKey string

	// DataDir roots everything the client persists; the derived paths
	// below default underneath it
	DataDir string
	// InstallRoot is where finished packages land, one directory per package
	InstallRoot string
	// StagingDir receives downloads before digest verification hands them
	// over to the installer
	StagingDir string
	// SessionsDir keeps one workspace directory per install session
	SessionsDir string
	// DatabasePath is the installed-package ledger
	DatabasePath string
	// ProfilePath is the user preferences file (release channels,
	// auto-install flag)
	ProfilePath string

	// InstallerCmd overrides the install helper command: the first element
	// is the binary, the rest leading arguments. Empty re-executes the
	// appdock binary in session-helper mode.
	InstallerCmd []string

	// SeamlessIntervalMinutes is the period between unattended update runs
	SeamlessIntervalMinutes int
	// RequireNetwork gates unattended update runs on host connectivity
	RequireNetwork *bool
}

// ReadConfig read config file and return with Config. If it is not exists create a new with default values
func ReadConfig(configPath string) (*Config, error) {
	if configFileIsExists(configPath) {
		config := &Config{}
		if _, err := util.ReadJson(configPath, config); err != nil {
			return nil, err
		}
		// initialize through apply() without changes
		if changed, err := config.apply(ConfigInput{}); err != nil {
			return nil, err
		} else if changed {
			if err = WriteOutConfig(configPath, config); err != nil {
				return nil, err
			}
		}

		return config, nil
	}

	cfg, err := createNewConfig(ConfigInput{ConfigPath: configPath})
	if err != nil {
		return nil, err
	}

	err = WriteOutConfig(configPath, cfg)
	return cfg, err
}

// UpdateConfig update existing configuration according to input configuration and return with the configuration
func UpdateConfig(input ConfigInput) (*Config, error) {
	if !configFileIsExists(input.ConfigPath) {
		return nil, fmt.Errorf("config file %s doesn't exist", input.ConfigPath)
	}

	return update(input)
}

// UpdateOrCreateConfig reads existing config or generates a new one
func UpdateOrCreateConfig(input ConfigInput) (*Config, error) {
	if !configFileIsExists(input.ConfigPath) {
		log.Infof("generating new config %s", input.ConfigPath)
		cfg, err := createNewConfig(input)
		if err != nil {
			return nil, err
		}
		err = WriteOutConfig(input.ConfigPath, cfg)
		return cfg, err
	}

	return update(input)
}

// CreateInMemoryConfig generate a new config but do not write out it to the store
func CreateInMemoryConfig(input ConfigInput) (*Config, error) {
	return createNewConfig(input)
}

// WriteOutConfig write put the prepared config to the given path. The
// config pins the repository signing key, so the parent directory is
// restricted to its owner.
func WriteOutConfig(path string, config *Config) error {
	return util.WriteJsonWithRestrictedPermission(context.Background(), path, config)
}

// createNewConfig creates a new config pinned to the hosted repository key
func createNewConfig(input ConfigInput) (*Config, error) {
	config := &Config{
		CatalogPublicKey: DefaultCatalogPublicKey,
	}

	if _, err := config.apply(input); err != nil {
		return nil, err
	}

	return config, nil
}

func update(input ConfigInput) (*Config, error) {
	config := &Config{}

	if _, err := util.ReadJson(input.ConfigPath, config); err != nil {
		return nil, err
	}

	updated, err := config.apply(input)
	if err != nil {
		return nil, err
	}

	if updated {
		if err := util.WriteJsonWithRestrictedPermission(context.Background(), input.ConfigPath, config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (config *Config) apply(input ConfigInput) (updated bool, err error) {
	if config.CatalogURL == nil {
		log.Infof("using default repository URL %s", DefaultCatalogURL)
		config.CatalogURL, err = parseURL("Catalog URL", DefaultCatalogURL)
		if err != nil {
			return false, err
		}
		updated = true
	}
	if input.CatalogURL != "" && input.CatalogURL != config.CatalogURL.String() {
		log.Infof("new repository URL provided, updated to %#v (old value %#v)",
			input.CatalogURL, config.CatalogURL.String())
		URL, err := parseURL("Catalog URL", input.CatalogURL)
		if err != nil {
			return false, err
		}
		config.CatalogURL = URL
		updated = true
	}

	if input.CatalogPublicKey != nil && *input.CatalogPublicKey != config.CatalogPublicKey {
		if *input.CatalogPublicKey == "" {
			log.Warnf("repository signing key cleared, index verification is disabled")
		} else {
			log.Infof("new repository signing key provided, replacing old key")
		}
		config.CatalogPublicKey = *input.CatalogPublicKey
		updated = true
	}

	if input.DataDir != "" && input.DataDir != config.DataDir {
		log.Infof("updating data directory %#v (old value %#v)", input.DataDir, config.DataDir)
		config.DataDir = input.DataDir
		updated = true
	} else if config.DataDir == "" {
		config.DataDir = defaultDataDir()
		log.Infof("using default data directory %s", config.DataDir)
		updated = true
	}

	if input.InstallRoot != nil && *input.InstallRoot != config.InstallRoot {
		log.Infof("updating install root %#v (old value %#v)", *input.InstallRoot, config.InstallRoot)
		config.InstallRoot = *input.InstallRoot
		updated = true
	} else if config.InstallRoot == "" {
		config.InstallRoot = filepath.Join(config.DataDir, "apps")
		updated = true
	}

	// the remaining paths always default below the data directory
	if config.StagingDir == "" {
		config.StagingDir = filepath.Join(config.DataDir, "staging")
		updated = true
	}
	if config.SessionsDir == "" {
		config.SessionsDir = filepath.Join(config.DataDir, "sessions")
		updated = true
	}
	if config.DatabasePath == "" {
		config.DatabasePath = filepath.Join(config.DataDir, "packages.db")
		updated = true
	}
	if config.ProfilePath == "" {
		config.ProfilePath = filepath.Join(config.DataDir, "profile.json")
		updated = true
	}

	if len(input.InstallerCmd) > 0 && !reflect.DeepEqual(config.InstallerCmd, input.InstallerCmd) {
		log.Infof("updating install helper command [ %s ] (old value: [ %s ])",
			strings.Join(input.InstallerCmd, " "),
			strings.Join(config.InstallerCmd, " "))
		config.InstallerCmd = input.InstallerCmd
		updated = true
	}

	if input.SeamlessInterval != nil && *input.SeamlessInterval != config.SeamlessIntervalMinutes {
		log.Infof("updating seamless update interval to %d minutes (old value %d)",
			*input.SeamlessInterval, config.SeamlessIntervalMinutes)
		config.SeamlessIntervalMinutes = *input.SeamlessInterval
		updated = true
	} else if config.SeamlessIntervalMinutes == 0 {
		config.SeamlessIntervalMinutes = DefaultSeamlessIntervalMinutes
		log.Infof("using default seamless update interval %d minutes", config.SeamlessIntervalMinutes)
		updated = true
	}

	if input.RequireNetwork != nil && (config.RequireNetwork == nil || *input.RequireNetwork != *config.RequireNetwork) {
		if *input.RequireNetwork {
			log.Infof("unattended updates will wait for network connectivity")
		} else {
			log.Infof("unattended updates no longer wait for network connectivity")
		}
		config.RequireNetwork = input.RequireNetwork
		updated = true
	} else if config.RequireNetwork == nil {
		config.RequireNetwork = util.True()
		updated = true
	}

	return updated, nil
}

// parseURL parses and validates a service URL
func parseURL(serviceName, serviceURL string) (*url.URL, error) {
	parsedURL, err := url.ParseRequestURI(serviceURL)
	if err != nil {
		log.Errorf("failed parsing %s URL %s: [%s]", serviceName, serviceURL, err.Error())
		return nil, err
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return nil, fmt.Errorf(
			"invalid %s URL provided %s. Supported format [http|https]://[host]:[port]",
			serviceName, serviceURL)
	}

	return parsedURL, nil
}

// defaultDataDir is the root for the client state when the config does not
// name one.
func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("PROGRAMDATA"), "Appdock")
	}
	return "/var/lib/appdock"
}

func configFileIsExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
