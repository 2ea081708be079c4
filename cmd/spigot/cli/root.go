package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, used by serve for telemetry
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spigot",
		Short: "REST API gateway for your data tables",
		Long: `Spigot: a governed REST gateway over your SQL tables.

Spigot fronts one or more SQL databases with a REST API that adds the request
governance production deployments need: hashed API keys with scoped
permissions, per-client token-bucket rate limiting, an async job scheduler
with webhook notifications, media storage, OpenAPI docs, and a built-in MCP
server for AI agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./spigot.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "state directory for PID and instance files (default: ~/.spigot)")

	cobra.OnInitialize(initViper)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newJobCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())

	return cmd
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("spigot")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.spigot")
	}

	viper.SetEnvPrefix("SPIGOT")
	viper.AutomaticEnv()
	viper.ReadInConfig() // config file is optional
}
