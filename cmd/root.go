package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stak",
	Short: "Turn streamed model replies into files and commands",
	Long: `stak sends a prompt to a local model, writes the files its reply declares
into a sandboxed project and runs the shell commands it asks for. Build and
runtime errors are reported back to the model automatically.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("prompt") == "" {
			return cmd.Help()
		}
		return runPrompt(cmd)
	},
}

// loadConfig reads settings and starts the logger before any subcommand runs
func loadConfig(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(cfgFile); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if used := config.GetConfigFileUsed(); used != "" {
		logger.Debug("Using config file: %s", used)
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .stak/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("model", "", "Ollama model to use")
	viper.BindPFlag("ollama.model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentFlags().String("sandbox", "", "directory commands and files are confined to")
	viper.BindPFlag("sandbox.root", rootCmd.PersistentFlags().Lookup("sandbox"))

	rootCmd.PersistentFlags().StringP("prompt", "p", "", "execute a prompt directly")
	viper.BindPFlag("prompt", rootCmd.PersistentFlags().Lookup("prompt"))

	addRunFlags(rootCmd)
}
