package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/profile"
	"github.com/appdockio/appdock/util"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "read or change the release channel of a package",
}

var channelGetCmd = &cobra.Command{
	Use:   "get <package-id>",
	Short: "print the channel a package follows",
	Args:  cobra.ExactArgs(1),
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

		prefs, err := profile.Load(config.ProfilePath)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}

		cmd.Printf("%s follows channel %s\n", args[0], prefs.Channel(args[0]))
		return nil
	},
}

var channelSetCmd = &cobra.Command{
	Use:   "set <package-id> <channel>",
	Short: "pin a package to a release channel",
	Long: `Pins the package to the named channel and re-reads the catalog so the
selected version reflects the change. Setting the default channel removes
the pin.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		packageID, channel := args[0], args[1]

		client, err := buildClient(cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		if err := client.Profile.SetChannel(ctx, packageID, channel); err != nil {
			return fmt.Errorf("set channel: %w", err)
		}

		// the resolver reads the preference on the next pass, so one
		// refresh is enough to re-select the variant
		if _, err := client.Manager.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}

		rec, ok := client.Manager.Registry().Get(packageID)
		if !ok {
			cmd.Printf("%s now follows channel %s, the catalog carries no such package yet\n", packageID, channel)
			return nil
		}

		cmd.Printf("%s now follows channel %s, selected version %s (%d)\n",
			rec.DisplayName(), client.Profile.Channel(packageID), rec.Selected.VersionName, rec.Selected.VersionCode)
		return nil
	},
}
