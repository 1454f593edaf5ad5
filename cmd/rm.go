package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/micheldegeofroy/unidown/internal/utils"
)

var rmCmd = &cobra.Command{
	Use:   "rm <listing-id> [listing-id...]",
	Short: "Delete stored listings and their downloaded images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		for _, id := range args {
			if err := a.ingest.Delete(ctx, id); err != nil {
				return err
			}
			utils.Log.Infof("Deleted %s", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
