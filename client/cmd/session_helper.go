package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/installer"
	"github.com/appdockio/appdock/util"
)

var sessionDir string

// sessionHelperCmd is the detached install worker. The agent launches it
// per session; it is not meant to be invoked by hand.
var sessionHelperCmd = &cobra.Command{
	Use:    "session-helper",
	Short:  "executes one install session and reports its outcome",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)

		if err := util.InitLog(logLevel, logFile); err != nil {
			return fmt.Errorf("init log: %w", err)
		}

		return installer.RunHelper(sessionDir)
	},
}

func init() {
	sessionHelperCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", "", "session workspace directory to execute")
	if err := sessionHelperCmd.MarkPersistentFlagRequired("session-dir"); err != nil {
		panic(err)
	}
}
