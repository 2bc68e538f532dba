package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/llm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	Long:  `List all models that have been downloaded from Ollama`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := llm.CheckHealth(ctx, nil, cfg.Ollama.URL)
		if err != nil {
			return err
		}
		if status.Error != nil {
			return status.Error
		}

		out := cmd.OutOrStdout()
		for _, name := range status.Models {
			marker := " "
			if name == cfg.Ollama.Model || (status.HasModel(cfg.Ollama.Model) && name == cfg.Ollama.Model+":latest") {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
		}
		if len(status.Models) == 0 {
			fmt.Fprintln(out, "no models pulled")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
