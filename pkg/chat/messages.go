package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/stak/pkg/parser"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Image is an attachment sent along with a user message
type Image struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
	Name     string `json:"name,omitempty"`
}

type Message struct {
	ID        string               `json:"id"`
	Role      Role                 `json:"role"`
	Content   string               `json:"content"`
	Images    []Image              `json:"images,omitempty"`
	Chunks    []parser.RenderChunk `json:"chunks,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func NewUserMessage(content string, images ...Image) Message {
	m := newMessage(RoleUser, strings.TrimSpace(content))
	if len(images) > 0 {
		m.Images = append([]Image(nil), images...)
	}
	return m
}

func NewAssistantMessage(content string) Message {
	return newMessage(RoleAssistant, content)
}

func NewSystemMessage(content string) Message {
	return newMessage(RoleSystem, content)
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

func (m Message) HasImages() bool {
	return len(m.Images) > 0
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Images) == 0
}

// WithContent returns a copy with new content and chunks, keeping the identity
func (m Message) WithContent(content string, chunks []parser.RenderChunk) Message {
	out := m
	out.Content = content
	out.Chunks = chunks
	return out
}
