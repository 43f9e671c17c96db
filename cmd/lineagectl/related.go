package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lineage/api/internal/app"
	"lineage/api/internal/related"
)

var (
	relatedAccount string
	relatedJSON    bool
)

var relatedCmd = &cobra.Command{
	Use:   "related <project> <change> <revision>",
	Short: "Show the changes related to a revision",
	Long: `Resolve and print the changes related to a revision, in review order.

Examples:
  lineagectl related platform/core 1042 3
  lineagectl related platform/core 1042 edit --account 1000042
  lineagectl related platform/core 1042 3 --json`,
	Args: cobra.ExactArgs(3),
	RunE: runRelated,
}

func init() {
	relatedCmd.Flags().StringVar(&relatedAccount, "account", "", "Account whose edit to resolve (revision must be edit)")
	relatedCmd.Flags().BoolVar(&relatedJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(relatedCmd)
}

func runRelated(cmd *cobra.Command, args []string) error {
	req, err := parseRelatedArgs(args, relatedAccount)
	if err != nil {
		return err
	}

	backend, _, _, err := openBackend(cmd.Context(), app.BackendOptions{})
	if err != nil {
		return err
	}
	defer backend.Close()

	entries, err := backend.Resolver.Resolve(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("resolve related changes: %w", err)
	}
	if relatedJSON {
		return writeRelatedJSON(cmd.OutOrStdout(), entries)
	}
	return writeRelatedTable(cmd.OutOrStdout(), entries)
}

func parseRelatedArgs(args []string, account string) (related.Request, error) {
	changeID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || changeID <= 0 {
		return related.Request{}, fmt.Errorf("invalid change %q", args[1])
	}
	req := related.Request{Project: args[0], ChangeID: changeID}
	if args[2] == app.EditRevision {
		if account == "" {
			return related.Request{}, fmt.Errorf("--account is required to resolve an edit")
		}
		req.Edit = true
		req.Account = account
		return req, nil
	}
	number, err := strconv.Atoi(args[2])
	if err != nil || number <= 0 {
		return related.Request{}, fmt.Errorf("invalid revision %q", args[2])
	}
	req.PatchSet = number
	return req, nil
}

func writeRelatedJSON(w io.Writer, entries []related.Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"changes": entries})
}

func writeRelatedTable(w io.Writer, entries []related.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No related changes.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANGE\tPS\tSTATUS\tCOMMIT\tSUBJECT")
	for _, e := range entries {
		ps := strconv.Itoa(e.PatchSet)
		if e.PatchSet != e.CurrentPatchSet {
			ps = fmt.Sprintf("%d/%d", e.PatchSet, e.CurrentPatchSet)
		}
		hash := e.Commit.Hash
		if len(hash) > 10 {
			hash = hash[:10]
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ChangeID, ps, e.Status, hash, e.Commit.Subject)
	}
	return tw.Flush()
}
