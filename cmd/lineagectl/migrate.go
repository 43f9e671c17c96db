package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lineage/api/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _, _, err := openBackend(cmd.Context(), app.BackendOptions{Migrate: true})
		if err != nil {
			return err
		}
		defer backend.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
