package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/stream"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaModel streams chat completions from an Ollama server
type OllamaModel struct {
	llm          llms.Model
	name         string
	systemPrompt string
	timeout      time.Duration
	log          *logger.Logger
}

// NewOllamaModel connects to the server described by cfg
func NewOllamaModel(cfg config.OllamaConfig) (*OllamaModel, error) {
	client, err := ollama.New(
		ollama.WithServerURL(cfg.URL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
	}
	return NewLangchainModel(client, cfg.Model, cfg.SystemPrompt, cfg.Timeout), nil
}

// NewLangchainModel wraps any langchaingo model. An empty systemPrompt uses
// DefaultSystemPrompt; a zero timeout leaves the stream unbounded.
func NewLangchainModel(model llms.Model, name, systemPrompt string, timeout time.Duration) *OllamaModel {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &OllamaModel{
		llm:          model,
		name:         name,
		systemPrompt: systemPrompt,
		timeout:      timeout,
		log:          logger.WithComponent("ollama"),
	}
}

func (m *OllamaModel) Name() string {
	return m.name
}

// Stream starts generation in the background and returns its output as a
// reader. Closing the reader cancels generation.
func (m *OllamaModel) Stream(ctx context.Context, messages []chat.Message) (io.ReadCloser, error) {
	content, err := ToMessageContent(m.systemPrompt, messages)
	if err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	r, h := stream.NewPipe()
	m.log.Debug("stream started", "model", m.name, "messages", len(content))

	go func() {
		defer cancel()
		_, err := m.llm.GenerateContent(ctx, content, llms.WithStreamingFunc(stream.ToStreamingFunc(h)))
		if err != nil {
			m.log.Warn("stream failed", "model", m.name, "error", err)
			h.OnError(fmt.Errorf("ollama stream error: %w", err))
			return
		}
		_ = h.OnComplete("")
		m.log.Debug("stream finished", "model", m.name)
	}()

	return &cancelReader{ReadCloser: r, cancel: cancel}, nil
}

type cancelReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReader) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

var _ Model = (*OllamaModel)(nil)
