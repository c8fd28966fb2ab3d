package internal

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	aderrors "github.com/appdockio/appdock/client/errors"
	"github.com/appdockio/appdock/client/internal/appmanager"
	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/fetcher"
	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/installer"
	"github.com/appdockio/appdock/client/internal/profile"
	"github.com/appdockio/appdock/client/internal/updatemanager"
	"github.com/appdockio/appdock/version"
)

// Client is the assembled AppDock core: catalog, fetcher, installer, ledger
// and profile wired to the manager, ready for one-shot commands or the
// agent loop.
type Client struct {
	Config  *Config
	Host    *hostdb.DB
	Profile *profile.Store
	Manager *appmanager.Manager
	Updates *updatemanager.UpdateManager

	installService *installer.ExecService
}

// NewClient assembles the core from the given configuration. The caller
// owns the result and must Close it.
func NewClient(config *Config) (*Client, error) {
	catalogClient, err := catalog.NewHTTPClient(config.CatalogURL.String(), config.CatalogPublicKey)
	if err != nil {
		return nil, fmt.Errorf("create catalog client: %w", err)
	}

	host, err := hostdb.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open package ledger: %w", err)
	}

	prefs, err := profile.Load(config.ProfilePath)
	if err != nil {
		if closeErr := host.Close(); closeErr != nil {
			log.Warnf("failed closing package ledger: %v", closeErr)
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}

	installService := installer.NewExecService(config.SessionsDir, config.InstallRoot, host, InstallerID)
	if len(config.InstallerCmd) > 0 {
		installService.SetHelperCommand(config.InstallerCmd)
	}

	manager := appmanager.NewManager(catalogClient, fetcher.NewHTTPFetcher(config.StagingDir), installService, host, prefs, InstallerID)
	installService.SetSink(manager)
	host.SetListener(manager.HandlePackageChange)

	updates := updatemanager.NewUpdateManager(manager, prefs, time.Duration(config.SeamlessIntervalMinutes)*time.Minute)
	if config.RequireNetwork == nil || *config.RequireNetwork {
		updates.SetCondition(hasNetwork)
	}

	return &Client{
		Config:         config,
		Host:           host,
		Profile:        prefs,
		Manager:        manager,
		Updates:        updates,
		installService: installService,
	}, nil
}

// Close releases everything NewClient assembled, in reverse order.
func (c *Client) Close() error {
	var result *multierror.Error

	c.installService.Close()
	if err := c.Host.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close package ledger: %w", err))
	}

	return aderrors.FormatErrorOrNil(result)
}

// RunAgent with main logic: assemble the core, warm the catalog, keep the
// profile fresh and drive unattended updates until ctx is cancelled.
func RunAgent(ctx context.Context, config *Config) error {
	client, err := NewClient(config)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Errorf("failed closing client: %v", err)
		}
	}()

	client.Manager.SetMessageHandler(func(message string) {
		log.Info(message)
	})

	// a profile edited behind our back re-selects variants for every known
	// package, the same as an explicit channel change would
	client.Profile.SetOnReload(func() {
		snap := client.Manager.Registry().Snapshot()
		for id := range snap.Records {
			if err := client.Manager.ApplyChannelChange(id); err != nil {
				log.Warnf("failed re-resolving %s after profile change: %v", id, err)
			}
		}
	})

	go func() {
		if err := client.Profile.Watch(ctx); err != nil {
			log.Warnf("profile watcher stopped: %v", err)
		}
	}()

	selfUpdate := version.NewUpdate()
	defer selfUpdate.StopWatch()
	selfUpdate.SetOnUpdateListener(func(available string) {
		log.Infof("a newer appdock release %s is available, visit %s", available, version.DownloadUrl())
	})

	// an unreachable repository at boot must not leave the agent without a
	// catalog until the first seamless run
	operation := func() error {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := client.Manager.Refresh(ctx, false); err != nil {
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(startupBackOff(), ctx)); err != nil {
		log.Warnf("initial catalog refresh did not complete: %v", err)
	}

	client.Updates.Start(ctx)
	defer client.Updates.Stop()
	// first unattended pass right away instead of waiting a full period
	client.Updates.Trigger()

	log.Infof("appdock agent started, unattended updates every %d minutes", config.SeamlessIntervalMinutes)
	<-ctx.Done()

	log.Info("stopping appdock agent")
	return nil
}

func startupBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Minute,
		MaxElapsedTime:      10 * time.Minute,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// hasNetwork reports whether any non loopback interface carries a global
// unicast address. A failed probe never blocks updates.
func hasNetwork() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Warnf("failed listing interface addresses: %v", err)
		return true
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}
