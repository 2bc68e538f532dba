package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/killallgit/stak/pkg/command"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/headless"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Show how a model reply splits into text, files and commands",
	Long: `Parse a saved model reply (a file, or stdin when no file or "-" is given) and
print its chunks. Nothing is written or executed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		result := parser.New(config.Get().Parser.CacheSize).Parse(input)
		out := cmd.OutOrStdout()

		asJSON, _ := cmd.Flags().GetBool("json")
		onlyCommands, _ := cmd.Flags().GetBool("commands")

		switch {
		case onlyCommands:
			policy := command.NewPolicy(config.Get().Executor)
			for _, c := range policy.ExtractCommands(strings.Join(parser.Commands(result.Chunks), "\n")) {
				fmt.Fprintln(out, c)
			}
		case asJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result.Chunks); err != nil {
				return fmt.Errorf("failed to encode chunks: %w", err)
			}
		default:
			headless.NewOutput(out).Chunks(result.Chunks)
			fmt.Fprintf(out, "\n[%s]\n", result.Summary())
		}
		return nil
	},
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func init() {
	parseCmd.Flags().Bool("json", false, "print chunks as JSON")
	parseCmd.Flags().Bool("commands", false, "print only the commands that would run")
	rootCmd.AddCommand(parseCmd)
}
