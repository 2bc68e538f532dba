package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/headless"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one prompt and its error follow-ups",
	Long: `Send a prompt to the model, stream the reply, write the files it declares and
run its commands inside the sandbox project. Errors seen while running are
sent back as follow-up turns.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			viper.Set("prompt", args[0])
		}
		if viper.GetString("prompt") == "" {
			return errors.New("a prompt is required: stak run \"...\" or --prompt")
		}
		return runPrompt(cmd)
	},
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("render", false, "render each finished reply with highlighting instead of streaming raw text")
	cmd.Flags().Int("max-follow-ups", headless.DefaultMaxFollowUps, "error reports sent back to the model per run (0 disables)")
	cmd.Flags().Bool("no-feedback", false, "do not report errors back to the model")
	cmd.Flags().String("system-prompt", "", "override the default system prompt entirely")
	cmd.Flags().String("append-system-prompt", "", "append additional instructions to the system prompt")
	cmd.Flags().Bool("skip-health-check", false, "do not check the Ollama server before running")
}

func runPrompt(cmd *cobra.Command) error {
	flags := cmd.Flags()
	render, _ := flags.GetBool("render")
	maxFollowUps, _ := flags.GetInt("max-follow-ups")
	noFeedback, _ := flags.GetBool("no-feedback")
	systemPrompt, _ := flags.GetString("system-prompt")
	appendPrompt, _ := flags.GetString("append-system-prompt")
	skipHealth, _ := flags.GetBool("skip-health-check")

	if maxFollowUps <= 0 {
		maxFollowUps = -1
	}

	cfg := config.Get()
	if noFeedback {
		cfg.Feedback.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return RunApplication(ctx, &AppConfig{
		Config:             cfg,
		DirectPrompt:       viper.GetString("prompt"),
		SystemPrompt:       systemPrompt,
		AppendSystemPrompt: appendPrompt,
		Render:             render,
		MaxFollowUps:       maxFollowUps,
		SkipHealthCheck:    skipHealth,
	})
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
