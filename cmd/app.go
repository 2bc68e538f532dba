package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/killallgit/stak/pkg/command"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/headless"
	"github.com/killallgit/stak/pkg/llm"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/sandbox"
	"github.com/killallgit/stak/pkg/tokens"
)

// AppConfig contains all configuration needed to run the application
type AppConfig struct {
	Config             *config.Config
	DirectPrompt       string
	SystemPrompt       string
	AppendSystemPrompt string
	Render             bool
	MaxFollowUps       int
	SkipHealthCheck    bool
}

// components are the pieces every subcommand assembles from configuration
type components struct {
	sandbox      *sandbox.Local
	executor     *executor.Executor
	materializer *materializer.Materializer
	parser       *parser.Parser
}

func (c *components) Close() {
	if c.executor != nil {
		c.executor.Close()
	}
}

// buildComponents opens the sandbox and wires the executor and materializer
// onto it
func buildComponents(cfg *config.Config) (*components, error) {
	if err := os.MkdirAll(cfg.Sandbox.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}
	sb, err := sandbox.NewLocal(cfg.Sandbox.Root, cfg.Sandbox.Shell)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox: %w", err)
	}

	project := cfg.ProjectPath()
	return &components{
		sandbox:      sb,
		executor:     executor.New(sb, command.NewPolicy(cfg.Executor), cfg.Executor, project),
		materializer: materializer.New(sb, project, cfg.Materializer),
		parser:       parser.New(cfg.Parser.CacheSize),
	}, nil
}

// applyPromptCustomizations builds the system prompt from the override and
// appended text
func applyPromptCustomizations(base, override, appendText string) string {
	prompt := base
	if override != "" {
		prompt = override
	}
	if appendText == "" {
		return prompt
	}
	if prompt == "" {
		return appendText
	}
	return prompt + "\n\n" + appendText
}

// RunApplication is the main entry point for a prompt run
func RunApplication(ctx context.Context, appCfg *AppConfig) error {
	log := logger.WithComponent("app")
	cfg := appCfg.Config
	log.Info("Application starting", "model", cfg.Ollama.Model, "sandbox", cfg.Sandbox.Root)
	log.Info("Executing prompt", "prompt_preview", truncateString(appCfg.DirectPrompt, 100))

	if !appCfg.SkipHealthCheck && cfg.Provider == "ollama" {
		checkOllama(ctx, cfg)
	}

	modelCfg := *cfg
	modelCfg.Ollama.SystemPrompt = applyPromptCustomizations(
		firstNonEmpty(cfg.Ollama.SystemPrompt, llm.DefaultSystemPrompt),
		appCfg.SystemPrompt,
		appCfg.AppendSystemPrompt,
	)
	model, err := llm.DefaultRegistry().New(&modelCfg)
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}

	parts, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer parts.Close()

	counter, err := tokens.NewTokenCounter(cfg.Ollama.Model)
	if err != nil {
		log.Warn("Could not initialize token counter, estimating instead", "error", err)
		counter = tokens.NewEstimator()
	}

	err = headless.RunHeadless(ctx, headless.Options{
		Model:        model,
		ModelName:    cfg.Ollama.Model,
		Executor:     parts.executor,
		Materializer: parts.materializer,
		Parser:       parts.parser,
		Session:      cfg.Session,
		Feedback:     cfg.Feedback,
		PartialMin:   cfg.Parser.PartialMinLength,
		MaxFollowUps: appCfg.MaxFollowUps,
		Render:       appCfg.Render,
		Out:          os.Stdout,
		Tokens:       counter,
	}, appCfg.DirectPrompt)

	log.Info("Application shutting down")
	return err
}

// checkOllama warns when the server is unreachable or lacks the model. The
// run goes ahead either way.
func checkOllama(ctx context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := llm.CheckHealth(ctx, nil, cfg.Ollama.URL)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	case !status.Available || status.Error != nil:
		fmt.Fprintf(os.Stderr, "Warning: %v\n", status.Error)
	case !status.HasModel(cfg.Ollama.Model):
		fmt.Fprintf(os.Stderr, "Warning: model %s is not pulled; try `ollama pull %s`\n", cfg.Ollama.Model, cfg.Ollama.Model)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
