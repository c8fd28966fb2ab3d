package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/util"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "show the package change history of this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)
		cmd.SetOut(cmd.OutOrStdout())

		if err := util.InitLog(logLevel, "console"); err != nil {
			return fmt.Errorf("init log: %w", err)
		}

		config, err := getConfig()
		if err != nil {
			return err
		}

		ledger, err := hostdb.New(config.DatabasePath)
		if err != nil {
			return fmt.Errorf("open package ledger: %w", err)
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				log.Warnf("failed closing package ledger: %v", err)
			}
		}()

		events, err := ledger.History(historyLimit)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(events) == 0 {
			cmd.Println("no package changes recorded")
			return nil
		}

		for _, event := range events {
			cmd.Printf("%s  %-8s  %s (%d)\n",
				event.OccurredAt.Format("2006-01-02 15:04:05"), event.Action, event.PackageID, event.VersionCode)
		}
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 0, "maximum number of entries to show (default 50)")
}
