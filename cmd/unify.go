package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/micheldegeofroy/unidown/pkg/unify"
)

var unifyCmd = &cobra.Command{
	Use:   "unify <left-id> <right-id>",
	Short: "Merge two stored listings into a cross-platform unified listing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		deleteSources, _ := cmd.Flags().GetBool("delete-sources")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		out, err := a.ingest.Unify(context.Background(), args[0], args[1], unify.Edited{
			Title:       title,
			Description: description,
		}, deleteSources)
		if err != nil {
			return err
		}

		fmt.Println(out.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unifyCmd)
	unifyCmd.Flags().String("title", "", "Override the unified title")
	unifyCmd.Flags().String("description", "", "Override the unified description")
	unifyCmd.Flags().Bool("delete-sources", false, "Delete the source listings after unification")
}
