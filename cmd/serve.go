package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/micheldegeofroy/unidown/internal/server"
	"github.com/micheldegeofroy/unidown/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the unidown web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv := &server.Server{
			Store:     a.store,
			Index:     a.index,
			Ingest:    a.ingest,
			Dedup:     a.dedup,
			Hash:      a.hash,
			Embedding: a.embedding,
			Scrapers:  a.scrapers,
			Static:    viper.GetString("static.dir"),
			Log:       utils.Log,
		}
		return srv.Start(listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
}
