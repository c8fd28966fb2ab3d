package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package-id>",
	Short: "remove an installed application package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient(cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		client.Manager.SetMessageHandler(func(message string) {
			cmd.Println(message)
		})

		// populate the registry so the removed package keeps a record to
		// carry its state; removal itself works from the ledger alone
		if _, err := client.Manager.Refresh(ctx, false); err != nil {
			log.Warnf("could not refresh catalog before uninstall: %v", err)
		}

		return client.Manager.Uninstall(ctx, args[0])
	},
}
