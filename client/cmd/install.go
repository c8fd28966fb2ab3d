package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/registry"
)

var installCmd = &cobra.Command{
	Use:   "install <package-id>",
	Short: "download and install an application package",
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
		// an interactive command is a foreground context
		client.Manager.SetForeground(true)

		if _, err := client.Manager.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}

		packageID := args[0]
		rec, ok := client.Manager.Registry().Get(packageID)
		if !ok {
			return fmt.Errorf("package %s is not in the catalog", packageID)
		}

		if rec.Install.State == registry.StateInstalled || rec.Install.State == registry.StateUpdated {
			cmd.Printf("%s is already installed at version %s\n", rec.DisplayName(), rec.Selected.VersionName)
			return nil
		}

		files, err := client.Manager.DownloadOne(ctx, rec.Selected)
		if err != nil {
			return fmt.Errorf("download %s: %w", rec.DisplayName(), err)
		}

		installed, queued := client.Manager.RequestInstall(ctx, packageID, files, false)
		if queued {
			cmd.Printf("%s is queued for installation\n", rec.DisplayName())
			return nil
		}
		if !installed {
			rec, _ = client.Manager.Registry().Get(packageID)
			if rec.Install.State == registry.StateFailed {
				if rec.Install.UserDeclined {
					return fmt.Errorf("installation of %s was declined", rec.DisplayName())
				}
				return fmt.Errorf("installation of %s failed: %s", rec.DisplayName(), rec.Install.Error)
			}
			return fmt.Errorf("installation of %s did not finish", rec.DisplayName())
		}

		rec, _ = client.Manager.Registry().Get(packageID)
		cmd.Printf("%s %s installed\n", rec.DisplayName(), rec.Selected.VersionName)
		return nil
	},
}
