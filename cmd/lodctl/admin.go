package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	// ingest: POST the batch from a file or stdin
	ingestCmd := &cobra.Command{
		Use:   "ingest [FILE]",
		Short: "Submit a newline-delimited JSON-LD batch (stdin when no file given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch []byte
			var err error
			if len(args) == 1 {
				batch, err = os.ReadFile(args[0])
			} else {
				batch, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			return call(client().R().
				SetHeader("Content-Type", "application/x-ndjson").
				SetBody(batch).
				Post("/ingest"))
		},
	}
	rootCmd.AddCommand(ingestCmd)

	// reconcile
	reconcileCmd := &cobra.Command{
		Use:   "reconcile ENTITY_ID...",
		Short: "Re-push graph state for entity ids from the record store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(client().R().
				SetBody(map[string]interface{}{"ids": args}).
				Post("/reconcile"))
		},
	}
	rootCmd.AddCommand(reconcileCmd)

	// truncate
	var keep int
	var keepOldest bool
	truncateCmd := &cobra.Command{
		Use:   "truncate ENTITY_ID",
		Short: "Remove old activity events for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative")
			}
			return call(client().R().
				SetBody(map[string]interface{}{"keep": keep, "keepOldest": keepOldest}).
				Post("/activity-stream/truncate/" + args[0]))
		},
	}
	truncateCmd.Flags().IntVarP(&keep, "keep", "k", 100, "Number of most recent events to keep")
	truncateCmd.Flags().BoolVar(&keepOldest, "keep-oldest", false, "Also keep the entity's very first event")
	rootCmd.AddCommand(truncateCmd)
}
