package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal"
	"github.com/appdockio/appdock/util"
)

const (
	catalogURLFlag  = "catalog-url"
	dataDirFlag     = "data-dir"
	installRootFlag = "install-root"
)

var (
	configPath        string
	defaultConfigPath string
	logLevel          string
	defaultLogFileDir string
	defaultLogFile    string
	logFile           string
	catalogURL        string
	dataDir           string
	installRoot       string
	serviceName       string

	rootCmd = &cobra.Command{
		Use:          "appdock",
		Short:        "",
		Long:         "",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultConfigPathDir := "/etc/appdock/"
	defaultLogFileDir = "/var/log/appdock/"

	if runtime.GOOS == "windows" {
		defaultConfigPathDir = os.Getenv("PROGRAMDATA") + "\\Appdock\\"
		defaultLogFileDir = os.Getenv("PROGRAMDATA") + "\\Appdock\\"
	}

	defaultConfigPath = defaultConfigPathDir + "config.json"
	defaultLogFile = defaultLogFileDir + "client.log"

	defaultServiceName := "appdock"
	if runtime.GOOS == "windows" {
		defaultServiceName = "Appdock"
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Appdock config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets Appdock log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", defaultLogFile, "sets Appdock log path. If console is specified the log will be output to stdout")
	rootCmd.PersistentFlags().StringVar(&catalogURL, catalogURLFlag, "", fmt.Sprintf("Package repository URL [http|https]://[host]:[port] (default \"%s\")", internal.DefaultCatalogURL))
	rootCmd.PersistentFlags().StringVar(&dataDir, dataDirFlag, "", "Directory keeping the client state: staging area, install sessions, package ledger and profile (default \"/var/lib/appdock\")")
	rootCmd.PersistentFlags().StringVar(&installRoot, installRootFlag, "", "Directory packages are installed under, one subdirectory per package (default \"<data-dir>/apps\")")
	rootCmd.PersistentFlags().StringVarP(&serviceName, "service", "s", defaultServiceName, "Appdock system service name")

	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionHelperCmd)

	serviceCmd.AddCommand(runCmd, startCmd, stopCmd, restartCmd, svcStatusCmd) // service control commands are subcommands of service
	serviceCmd.AddCommand(svcInstallCmd, svcUninstallCmd, reconfigureCmd)      // service installer commands are subcommands of service

	channelCmd.AddCommand(channelGetCmd, channelSetCmd)
}

// SetupCloseHandler handles SIGTERM signal and exits with success
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		done := ctx.Done()
		select {
		case <-done:
		case <-termCh:
		}

		log.Info("shutdown signal received")
		cancel()
	}()
}

// getConfig reads the client configuration, creating it with defaults on
// first use, and persists any override provided on the command line.
func getConfig() (*internal.Config, error) {
	input := internal.ConfigInput{
		ConfigPath: configPath,
		CatalogURL: catalogURL,
		DataDir:    dataDir,
	}
	if installRoot != "" {
		input.InstallRoot = &installRoot
	}

	return internal.UpdateOrCreateConfig(input)
}

// buildClient assembles the in-process core for one-shot commands. The
// caller must hand the result to closeClient when done.
func buildClient(cmd *cobra.Command) (*internal.Client, error) {
	util.SetFlagsFromEnvVars(rootCmd)
	cmd.SetOut(cmd.OutOrStdout())

	if err := util.InitLog(logLevel, "console"); err != nil {
		return nil, fmt.Errorf("failed initializing log %v", err)
	}

	config, err := getConfig()
	if err != nil {
		return nil, err
	}

	return internal.NewClient(config)
}

func closeClient(client *internal.Client) {
	if err := client.Close(); err != nil {
		log.Warnf("failed closing client: %v", err)
	}
}

// WithBackOff execute function in backoff cycle.
func WithBackOff(bf func() error) error {
	return backoff.RetryNotify(bf, CLIBackOffSettings, func(err error, duration time.Duration) {
		log.Warnf("retrying in %v due to error %v", duration, err)
	})
}

// CLIBackOffSettings is default backoff settings for CLI commands.
var CLIBackOffSettings = &backoff.ExponentialBackOff{
	InitialInterval:     time.Second,
	RandomizationFactor: backoff.DefaultRandomizationFactor,
	Multiplier:          backoff.DefaultMultiplier,
	MaxInterval:         10 * time.Second,
	MaxElapsedTime:      30 * time.Second,
	Stop:                backoff.Stop,
	Clock:               backoff.SystemClock,
}
