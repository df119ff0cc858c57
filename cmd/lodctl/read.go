package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(client().R().Get("/health"))
		},
	}
	rootCmd.AddCommand(healthCmd)

	var page int
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Fetch the activity stream collection or one page of it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/activity-stream"
			if page > 0 {
				path = fmt.Sprintf("/activity-stream/page/%d", page)
			}
			return call(client().R().Get(path))
		},
	}
	feedCmd.Flags().IntVarP(&page, "page", "p", 0, "Page number (collection document when omitted)")
	rootCmd.AddCommand(feedCmd)

	timemapCmd := &cobra.Command{
		Use:   "timemap ENTITY_ID",
		Short: "Fetch the Memento timemap for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(client().R().Get("/timemap/" + args[0]))
		},
	}
	rootCmd.AddCommand(timemapCmd)
}
