package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/micheldegeofroy/unidown/internal/utils"
	"github.com/micheldegeofroy/unidown/pkg/identity"
	"github.com/micheldegeofroy/unidown/pkg/listing"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url> [url...]",
	Short: "Scrape listing URLs and merge them into the local store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		failed := 0
		for _, url := range args {
			name := platform
			if name == "" {
				if p, ok := identity.DetectPlatform(url); ok {
					name = string(p)
				}
			}
			scraper, ok := a.scrapers[name]
			if !ok {
				utils.Log.Errorf("No scraper for %s (%s)", url, name)
				failed++
				continue
			}
			stored, err := a.ingest.ScrapeAndIngest(ctx, scraper, url)
			if err != nil {
				utils.Log.Errorf("Scrape %s failed: %v", url, err)
				failed++
				continue
			}
			fmt.Println(stored.ID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d URLs failed", failed, len(args))
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json> [file.json...]",
	Short: "Ingest pre-scraped listing payloads from JSON files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		for _, path := range args {
			payload, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			scraped, err := listing.ParseScraped(payload)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			stored, err := a.ingest.Ingest(ctx, scraped)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Println(stored.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(ingestCmd)
	scrapeCmd.Flags().StringP("platform", "p", "", "Force a platform scraper instead of detecting from the URL")
}
