package commands

import (
	"context"

	"github.com/spf13/cobra"

	"Mopro-Bridge/sdk/go/mopro"
)

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent calls from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.Recent(ctx, recentLimit)
		})
	},
}

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List registered methods and their arguments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.Methods(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(recentCmd, methodsCmd)
	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "number of calls to show")
}
