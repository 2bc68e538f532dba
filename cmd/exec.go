package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/headless"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <command>...",
	Short: "Run commands through the executor policy",
	Long: `Run each argument as a shell command inside the sandbox project, with the
same validation, batching, timeouts and caching a model reply gets.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts, err := buildComponents(config.Get())
		if err != nil {
			return err
		}
		defer parts.Close()

		out := headless.NewOutput(cmd.OutOrStdout())
		parts.executor.WithTerminal(out.Terminal)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		results := parts.executor.ExecuteAll(ctx, args)
		out.Commands(results)

		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d commands failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
