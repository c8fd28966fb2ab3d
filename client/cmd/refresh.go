package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/registry"
)

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "fetch the package catalog and re-evaluate every package",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient(cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		err = WithBackOff(func() error {
			_, err := client.Manager.Refresh(ctx, refreshForce)
			if err == nil {
				return nil
			}
			// a broken or tampered index will not fix itself on retry
			var fetchErr *catalog.FetchError
			if errors.As(err, &fetchErr) &&
				(fetchErr.Kind == catalog.FailureMalformed || fetchErr.Kind == catalog.FailureIntegrity) {
				return backoff.Permanent(err)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}

		updatable := 0
		snapshot := client.Manager.Registry().Snapshot()
		for _, rec := range snapshot.Records {
			if rec.Install.State == registry.StateUpdatable {
				updatable++
			}
		}

		cmd.Printf("catalog refreshed, %d packages known, %d updatable\n", len(snapshot.Records), updatable)
		return nil
	},
}

func init() {
	refreshCmd.PersistentFlags().BoolVarP(&refreshForce, "force", "f", false, "refresh even when the catalog was already fetched")
}
