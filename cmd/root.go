package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/micheldegeofroy/unidown/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `             _     _
 _   _ _ __ (_) __| | _____      ___ __
| | | | '_ \| |/ _' |/ _ \ \ /\ / / '_ \
| |_| | | | | | (_| | (_) \ V  V /| | | |
 \__,_|_| |_|_|\__,_|\___/ \_/\_/ |_| |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "unidown",
	Short: "A vacation-rental listing scraper and unifier.",
	Long: LOGO + `unidown collects vacation-rental listings from Airbnb, Booking.com and VRBO,
merges repeat scrapes of the same property without losing data, deduplicates
photos perceptually, and unifies cross-platform listings of one property
into a single record.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.unidown.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".unidown")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.unidown.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	viper.SetDefault("downloads.dir", "downloads")
	viper.SetDefault("static.dir", "static")
	viper.SetDefault("index.path", "")
	viper.SetDefault("lock.timeout_ms", 10000)
	viper.SetDefault("lock.sweep_interval_s", 30)
	viper.SetDefault("dedup.hash_threshold", 5)
	viper.SetDefault("dedup.embedding_threshold", 0.92)
	viper.SetDefault("embedding.endpoint", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
