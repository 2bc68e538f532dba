package materializer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/sandbox"
)

// EditorSink receives the content of entry files so an editor view can show
// the current code
type EditorSink interface {
	SetCode(path, content string)
}

// EditorFunc adapts a function to EditorSink
type EditorFunc func(path, content string)

func (f EditorFunc) SetCode(path, content string) { f(path, content) }

// FileProcessingResult reports one file block
type FileProcessingResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Entry    bool   `json:"entry,omitempty"`
}

// Materializer writes completed file blocks into the project directory.
// Each (normalized path, content fingerprint) pair is written successfully at
// most once until Reset.
type Materializer struct {
	fs         sandbox.FileSystem
	projectDir string
	cfg        config.MaterializerConfig
	log        *logger.Logger

	mu        sync.Mutex
	editor    EditorSink
	processed map[string]struct{}
	rejected  map[string]struct{}
}

// New returns a Materializer writing below projectDir
func New(fs sandbox.FileSystem, projectDir string, cfg config.MaterializerConfig) *Materializer {
	if cfg.SourceDir == "" {
		cfg.SourceDir = "src"
	}
	if cfg.RootFiles == nil {
		cfg.RootFiles = config.DefaultRootFiles
	}
	if cfg.EntryFiles == nil {
		cfg.EntryFiles = config.DefaultEntryFiles
	}
	if cfg.KeptPrefixes == nil {
		cfg.KeptPrefixes = config.DefaultKeptPrefixes
	}
	return &Materializer{
		fs:         fs,
		projectDir: projectDir,
		cfg:        cfg,
		log:        logger.WithComponent("materializer"),
		processed:  make(map[string]struct{}),
		rejected:   make(map[string]struct{}),
	}
}

// WithEditor sets the sink notified about entry files
func (m *Materializer) WithEditor(editor EditorSink) *Materializer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editor = editor
	return m
}

// Reset forgets every processed file so the next response writes again
func (m *Materializer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = make(map[string]struct{})
	m.rejected = make(map[string]struct{})
}

// Processed reports how many distinct file blocks have been written
func (m *Materializer) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}

// Fingerprint is a cheap content identity: length plus the first 50 runes
func Fingerprint(content string) string {
	prefix := content
	if utf8.RuneCountInString(content) > 50 {
		prefix = string([]rune(content)[:50])
	}
	return fmt.Sprintf("%d:%s", len(content), prefix)
}

// NormalizePath maps a model supplied filename onto its place in the project
func (m *Materializer) NormalizePath(filename string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.TrimLeft(name, "/")
	name = strings.TrimPrefix(name, "./")

	cleaned, err := sandbox.Clean(name)
	if err != nil {
		return "", err
	}
	if cleaned == "." {
		return "", fmt.Errorf("empty filename %q", filename)
	}
	name = cleaned

	for _, root := range m.cfg.RootFiles {
		if name == root {
			return name, nil
		}
	}
	for _, prefix := range m.cfg.KeptPrefixes {
		if strings.HasPrefix(name, prefix) {
			return name, nil
		}
	}

	nested := strings.Contains(name, "/")
	capitalised := startsUpper(name)

	switch path.Ext(name) {
	case ".css":
		if nested || capitalised {
			return path.Join(m.cfg.SourceDir, name), nil
		}
	case ".ts", ".tsx", ".js", ".jsx":
		if !nested || capitalised {
			return path.Join(m.cfg.SourceDir, name), nil
		}
	}
	return name, nil
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r) && r <= unicode.MaxASCII
}

// IsEntryFile reports whether a normalized path is one of the application
// entry files shown in the editor
func (m *Materializer) IsEntryFile(normalized string) bool {
	for _, entry := range m.cfg.EntryFiles {
		if normalized == entry || strings.HasSuffix(normalized, "/"+entry) {
			return true
		}
	}
	return false
}

// Materialize writes a single file. A block already written with the same
// content fingerprint is reported as skipped.
func (m *Materializer) Materialize(ctx context.Context, filename, content string) FileProcessingResult {
	result, _ := m.materialize(ctx, filename, content)
	return result
}

func (m *Materializer) materialize(ctx context.Context, filename, content string) (FileProcessingResult, bool) {
	result := FileProcessingResult{Filename: filename}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result, false
	}

	normalized, err := m.NormalizePath(filename)
	if err != nil {
		result.Error = fmt.Sprintf("invalid path: %v", err)
		m.mu.Lock()
		_, reported := m.rejected[filename]
		m.rejected[filename] = struct{}{}
		m.mu.Unlock()
		if !reported {
			m.log.Warn("file rejected", "filename", filename, "error", err)
		}
		return result, reported
	}
	result.Path = normalized
	result.Entry = m.IsEntryFile(normalized)

	if result.Entry && strings.TrimSpace(content) == "" {
		result.Success, result.Skipped = true, true
		return result, false
	}

	// the key is claimed while the write runs and released if it fails
	key := normalized + ":" + Fingerprint(content)
	m.mu.Lock()
	if _, seen := m.processed[key]; seen {
		m.mu.Unlock()
		result.Success, result.Skipped = true, true
		return result, true
	}
	m.processed[key] = struct{}{}
	editor := m.editor
	m.mu.Unlock()

	if err := m.write(normalized, content); err != nil {
		m.mu.Lock()
		delete(m.processed, key)
		m.mu.Unlock()
		result.Error = err.Error()
		m.log.Error("file write failed", "filename", filename, "path", normalized, "error", err)
		return result, false
	}

	if result.Entry && editor != nil {
		editor.SetCode(normalized, content)
	}
	result.Success = true
	m.log.Info("file written", "path", normalized, "bytes", len(content), "entry", result.Entry)
	return result, false
}

func (m *Materializer) write(normalized, content string) error {
	target := path.Join(m.projectDir, normalized)
	if dir := path.Dir(target); dir != "." {
		if err := m.fs.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := m.fs.WriteFile(target, []byte(content)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ProcessChunks writes every code file chunk. Blocks already written are left
// out of the results.
func (m *Materializer) ProcessChunks(ctx context.Context, chunks []parser.RenderChunk) []FileProcessingResult {
	var results []FileProcessingResult
	for _, c := range chunks {
		if c.Type != parser.ChunkCodeFile {
			continue
		}
		r, duplicate := m.materialize(ctx, c.Filename, c.Content)
		if duplicate {
			continue
		}
		results = append(results, r)
	}
	return results
}

// ProcessResponse writes every completed file block of a full response
func (m *Materializer) ProcessResponse(ctx context.Context, buffer string) []FileProcessingResult {
	return m.ProcessChunks(ctx, parser.Parse(buffer).Files())
}

// ProcessStreaming writes file blocks that have closed so far. It is meant to
// be called on every stream update; unfinished blocks are ignored until their
// end marker arrives.
func (m *Materializer) ProcessStreaming(ctx context.Context, partial string) []FileProcessingResult {
	results := m.ProcessResponse(ctx, partial)
	if len(results) > 0 {
		m.log.Debug("files materialized during stream", "count", len(results))
	}
	return results
}
