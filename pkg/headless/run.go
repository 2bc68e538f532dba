package headless

import (
	"context"
	"fmt"
	"strings"
)

// RunHeadless executes a single prompt in headless mode, followed by at most
// opts.MaxFollowUps automatic error reports
// This is the main entry point for headless/CLI execution
func RunHeadless(ctx context.Context, opts Options, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt cannot be empty in headless mode")
	}

	runner, err := newRunner(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize headless mode: %w", err)
	}
	defer runner.cleanup()

	if err := runner.run(ctx, prompt); err != nil {
		return fmt.Errorf("failed to execute prompt: %w", err)
	}
	return nil
}
