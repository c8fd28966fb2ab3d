package cmd

import (
	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/version"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints appdock version",
		Run: func(cmd *cobra.Command, cmd_args []string) {
			cmd.Println(version.AppDockVersion())
		},
	}
)
