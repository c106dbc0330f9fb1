// Package cmd provides the command-line interface for flick.
//
// Configuration is read, highest priority first, from command-line flags,
// FLICK_<SECTION>_<OPTION> environment variables, the file named by
// --config or FLICK_CONFIG_FILE, and finally .flick.yml in the current
// directory.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flick",
	Short: "Live preview server for Flutter apps on real devices",
	Long: `Flick serves a Flutter project to connected devices over WebSocket.

Source edits under lib/ are pushed to every device as they happen, and
devices can ask the server to compile Dart snippets to dart_eval bytecode
which is cached and announced to the whole session.

Quick Start:
  flick start                 Serve the project in the current directory
  flick start -p 9000         Serve on another port
  flick version               Show version information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .flick.yml, can also use FLICK_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig points viper at the config file and enables FLICK_ env
// overrides. A missing config file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("FLICK_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".flick")
	}

	viper.SetEnvPrefix("FLICK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
