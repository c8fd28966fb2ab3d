package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/appmanager"
	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/registry"
)

var allOrNothing bool

var updateCmd = &cobra.Command{
	Use:   "update [package-id...]",
	Short: "update installed application packages",
	Long: `Updates the named packages, or every package with a newer version on its
selected channel when none are named. Downloads run concurrently, installs
strictly one after another.`,
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
		client.Manager.SetForeground(true)

		if _, err := client.Manager.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}

		variants, err := collectUpdatable(client.Manager, args)
		if err != nil {
			return err
		}
		if len(variants) == 0 {
			cmd.Println("everything is up to date")
			return nil
		}

		results := client.Manager.DownloadMany(ctx, variants, allOrNothing)

		failed := 0
		for _, res := range results {
			name := res.PackageID
			if rec, ok := client.Manager.Registry().Get(res.PackageID); ok {
				name = rec.DisplayName()
			}
			switch res.Outcome {
			case appmanager.BatchInstalled:
				cmd.Printf("%s: updated\n", name)
			case appmanager.BatchAborted:
				cmd.Printf("%s: skipped, an earlier update failed\n", name)
			default:
				failed++
				if res.Err != nil {
					cmd.Printf("%s: %s: %v\n", name, res.Outcome, res.Err)
				} else {
					cmd.Printf("%s: %s\n", name, res.Outcome)
				}
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d updates failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	updateCmd.PersistentFlags().BoolVar(&allOrNothing, "all-or-nothing", false, "stop at the first failure and leave the remaining packages untouched")
}

// collectUpdatable resolves the update set: the named packages, which must
// be updatable, or every updatable package in id order.
func collectUpdatable(manager *appmanager.Manager, packageIDs []string) ([]catalog.Variant, error) {
	var variants []catalog.Variant

	if len(packageIDs) > 0 {
		for _, id := range packageIDs {
			rec, ok := manager.Registry().Get(id)
			if !ok {
				return nil, fmt.Errorf("package %s is not in the catalog", id)
			}
			if rec.Install.State != registry.StateUpdatable {
				return nil, fmt.Errorf("package %s has no pending update (state %s)", id, rec.Install.State)
			}
			variants = append(variants, rec.Selected)
		}
		return variants, nil
	}

	snapshot := manager.Registry().Snapshot()
	for _, rec := range snapshot.Records {
		if rec.Install.State == registry.StateUpdatable {
			variants = append(variants, rec.Selected)
		}
	}
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].PackageID < variants[j].PackageID
	})
	return variants, nil
}
