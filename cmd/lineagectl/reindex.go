package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lineage/api/internal/app"
	"lineage/api/internal/store"
)

var reindexChange int64

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push changes from Postgres into Meilisearch",
	Long: `Rebuild the Meilisearch change index from the authoritative Postgres tables.

Related-change queries keep working while the index lags; reindexing only
restores the fast path. With --change only that change is refreshed, and it
is removed from the index when Postgres no longer has it.

Examples:
  lineagectl reindex
  lineagectl reindex --change 1042`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().Int64Var(&reindexChange, "change", 0, "Refresh a single change by number")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	backend, _, _, err := openBackend(cmd.Context(), app.BackendOptions{})
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx := cmd.Context()
	if reindexChange <= 0 {
		n, err := backend.Search.ReindexAllFromPG(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d changes.\n", n)
		return nil
	}

	change, err := backend.Store.LoadChange(ctx, reindexChange)
	if errors.Is(err, store.ErrChangeNotFound) {
		if err := backend.Search.DeleteChange(ctx, reindexChange); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Change %d removed from the index.\n", reindexChange)
		return nil
	}
	if err != nil {
		return err
	}
	if err := backend.Search.IndexChange(ctx, change); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Change %d reindexed.\n", reindexChange)
	return nil
}
