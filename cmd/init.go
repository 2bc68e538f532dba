package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/sandbox"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold the sandbox project",
	Long: `Create a Vite project in the sandbox, install its dependencies and check that
the entry file exists. With --serve the dev server keeps running until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		parts, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer parts.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		project := sandbox.NewProject(parts.sandbox, cfg.ProjectPath(), cfg.Sandbox.Template, out)
		if _, err := project.Init(ctx); err != nil {
			return fmt.Errorf("project setup failed: %w", err)
		}
		fmt.Fprintf(out, "✅ Project ready in %s\n", cfg.ProjectPath())

		serve, _ := cmd.Flags().GetBool("serve")
		if !serve {
			return nil
		}

		done, err := project.StartDevServer(ctx)
		if err != nil {
			return err
		}
		if err := <-done; err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("serve", false, "start the dev server after setup")
	rootCmd.AddCommand(initCmd)
}
