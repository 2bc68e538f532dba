package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/killallgit/stak/pkg/chat"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Model streams a reply to a conversation. The returned reader yields raw
// fragments that may split multi-byte characters; closing it abandons the
// stream.
type Model interface {
	Stream(ctx context.Context, messages []chat.Message) (io.ReadCloser, error)
}

// ModelFunc adapts a function to Model
type ModelFunc func(ctx context.Context, messages []chat.Message) (io.ReadCloser, error)

func (f ModelFunc) Stream(ctx context.Context, messages []chat.Message) (io.ReadCloser, error) {
	return f(ctx, messages)
}

// ToMessageContent converts conversation messages into langchaingo messages,
// prepending systemPrompt when it is not empty. Empty assistant placeholders
// are dropped.
func ToMessageContent(systemPrompt string, messages []chat.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}

	for _, msg := range messages {
		var msgType schema.ChatMessageType
		switch msg.Role {
		case chat.RoleUser:
			msgType = schema.ChatMessageTypeHuman
		case chat.RoleAssistant:
			msgType = schema.ChatMessageTypeAI
		case chat.RoleSystem:
			msgType = schema.ChatMessageTypeSystem
		default:
			msgType = schema.ChatMessageTypeGeneric
		}

		if msg.IsAssistant() && msg.Content == "" {
			continue
		}

		content := llms.MessageContent{Role: msgType}
		if msg.Content != "" {
			content.Parts = append(content.Parts, llms.TextContent{Text: msg.Content})
		}
		for _, img := range msg.Images {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image %q: %w", img.Name, err)
			}
			content.Parts = append(content.Parts, llms.BinaryPart(img.MimeType, data))
		}
		if len(content.Parts) == 0 {
			continue
		}
		out = append(out, content)
	}
	return out, nil
}
