package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hexaflow/hexaflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "hexaflow",
	Short: "Heterogeneous task execution engine",
	Long: `Hexaflow runs pipelines of heterogeneous tasks under per-task
execution strategies: sequential, parallel, divide-and-conquer,
pipeline, recursive and streaming. Tasks declare a type, dependencies
and optional hints; the engine picks a strategy for each task and
executes everything on a bounded worker pool.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/hexaflow/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/hexaflow")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HEXAFLOW")
	// Replace dots with underscores for nested keys in env vars
	// e.g., HEXAFLOW_ENGINE_MAX_CONCURRENCY for engine.max_concurrency
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
