package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	port       string
	httpPort   string
	configPath string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "quiz-server",
		Short:        "Line-protocol quiz server for teachers and students",
		SilenceUsage: true,
	}

	// An empty port defers to the config file, then to the default 9999.
	cmd.PersistentFlags().StringVar(&port, "port", os.Getenv("PORT"), "TCP port to listen on")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewStartCmd(&configPath, &port, &httpPort))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewSeedCmd(&configPath))
	return cmd
}
