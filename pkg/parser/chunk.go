package parser

import (
	"fmt"
	"strings"
)

// ChunkType identifies the kind of a RenderChunk
type ChunkType int

const (
	ChunkText ChunkType = iota
	ChunkCodeFile
	ChunkCommand
	ChunkFileTree
)

// String returns the wire name of the chunk type
func (t ChunkType) String() string {
	switch t {
	case ChunkText:
		return "text"
	case ChunkCodeFile:
		return "code-file"
	case ChunkCommand:
		return "command"
	case ChunkFileTree:
		return "file-tree"
	default:
		return fmt.Sprintf("ChunkType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler
func (t ChunkType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ChunkType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*t = ChunkText
	case "code-file":
		*t = ChunkCodeFile
	case "command":
		*t = ChunkCommand
	case "file-tree":
		*t = ChunkFileTree
	default:
		return fmt.Errorf("unknown chunk type %q", string(b))
	}
	return nil
}

// ChunkMetadata carries optional display details
type ChunkMetadata struct {
	Status string `json:"status,omitempty"`
	Size   int    `json:"size,omitempty"`
	Path   string `json:"path,omitempty"`
}

// RenderChunk is one typed span of a model response. Chunks are values and are
// never modified after a parse pass returns them.
type RenderChunk struct {
	ID       string         `json:"id"`
	Type     ChunkType      `json:"type"`
	Content  string         `json:"content"`
	Filename string         `json:"filename,omitempty"`
	Language string         `json:"language,omitempty"`
	Metadata *ChunkMetadata `json:"metadata,omitempty"`
}

// IsStructured reports whether the chunk came from a marker grammar
func (c RenderChunk) IsStructured() bool {
	return c.Type != ChunkText
}

// Result is the output of one parse pass
type Result struct {
	Chunks              []RenderChunk
	HasStructuredChunks bool
}

// Files returns the completed code-file chunks in source order
func (r Result) Files() []RenderChunk {
	return r.ofType(ChunkCodeFile)
}

// CommandBlocks returns the command chunks in source order
func (r Result) CommandBlocks() []RenderChunk {
	return r.ofType(ChunkCommand)
}

func (r Result) ofType(t ChunkType) []RenderChunk {
	var out []RenderChunk
	for _, c := range r.Chunks {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// Summary gives a one-line description used in logs
func (r Result) Summary() string {
	counts := map[ChunkType]int{}
	for _, c := range r.Chunks {
		counts[c.Type]++
	}
	parts := make([]string, 0, 4)
	for _, t := range []ChunkType{ChunkText, ChunkCodeFile, ChunkCommand, ChunkFileTree} {
		if counts[t] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", t, counts[t]))
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}
