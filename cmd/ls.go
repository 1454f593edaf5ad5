package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/micheldegeofroy/unidown/internal/utils"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		rebuild, _ := cmd.Flags().GetBool("rebuild-index")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if rebuild {
			if err := a.store.RebuildIndex(); err != nil {
				return err
			}
			utils.Log.Info("Index rebuilt from the listing folders")
		}

		listings, err := a.store.List()
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(listings)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tTITLE\tIMAGES\tUPDATES")
		for _, l := range listings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", l.ID, l.Platform, l.Title, len(l.Images), l.UpdateCount)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "Print listings as JSON")
	lsCmd.Flags().Bool("rebuild-index", false, "Rebuild the side index from the listing folders first")
}
