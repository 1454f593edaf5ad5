package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/micheldegeofroy/unidown/internal/utils"
	"github.com/micheldegeofroy/unidown/pkg/imagededup"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe <listing-id>",
	Short: "Detect near-duplicate images on a stored listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyName, _ := cmd.Flags().GetString("strategy")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		apply, _ := cmd.Flags().GetBool("apply")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		strategy, err := imagededup.StrategyByName(strategyName, a.hash, a.embedding)
		if err != nil {
			return err
		}
		if threshold == 0 {
			switch strategy.Name() {
			case "embedding":
				threshold = viper.GetFloat64("dedup.embedding_threshold")
			default:
				threshold = viper.GetFloat64("dedup.hash_threshold")
			}
		}

		result, err := a.ingest.DedupeImages(context.Background(), args[0], threshold, strategy, apply)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d duplicates removed, %d kept\n",
			args[0], len(result.Removed), len(result.Unique))
		for _, img := range result.Removed {
			fmt.Printf("  duplicate: %s\n", img.Key())
		}
		if result.Truncated > 0 {
			utils.Log.Warnf("%d images skipped by the %s strategy's per-call cap", result.Truncated, strategy.Name())
		}
		if apply && len(result.Removed) > 0 {
			utils.Log.Infof("Saved %s with %d images", args[0], len(result.Unique))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
	dedupeCmd.Flags().StringP("strategy", "s", "hash", "Similarity strategy: hash or embedding")
	dedupeCmd.Flags().Float64P("threshold", "t", 0, "Similarity threshold (0 uses the strategy default)")
	dedupeCmd.Flags().Bool("apply", false, "Write the deduplicated image list back to the listing")
}
