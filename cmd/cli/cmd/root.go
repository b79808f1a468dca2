package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "altctl",
	Short: "altctl is a command line tool for the altlens accessibility analyzer",
	Long: `altctl is the command-line interface for the altlens service, which
generates accessibility descriptions for the images on a web page.

Common workflows:

  Analyze a single page and wait for the result:
    altctl submit https://example.com --wait

  Start a batch run over a whole site:
    altctl submit https://example.com --batch --max-images 100

  Check a running analysis:
    altctl status <job-id>

Configuration:
  Set the API endpoint via flag, environment variable or a config file:
    ALTLENS_URL       API endpoint (default: http://localhost:8090)
    ALTLENS_SESSION   Session token to reuse across invocations`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".altctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".altctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "ALTLENS_VARNAME"
	viper.SetEnvPrefix("ALTLENS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.altctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8090", "altlens server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("session", "s", "", "Session token to reuse")
	viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
}
