package headless

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Output handles console output for headless mode
type Output struct {
	mu    sync.Mutex
	w     io.Writer
	style string
}

// NewOutput creates a new output handler writing to w
func NewOutput(w io.Writer) *Output {
	return &Output{w: w, style: "monokai"}
}

func (o *Output) print(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprint(o.w, s)
}

// Text prints streamed text as is
func (o *Output) Text(s string) {
	o.print(s)
}

// Terminal prints raw process output
func (o *Output) Terminal(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = o.w.Write(data)
}

// Error prints an error line and logs it
func (o *Output) Error(msg string) {
	logger.Error(msg)
	o.print(failureStyle.Render("Error: "+msg) + "\n")
}

// Chunks renders a parsed response: text as is, file blocks highlighted and
// command blocks styled
func (o *Output) Chunks(chunks []parser.RenderChunk) {
	var b strings.Builder
	for _, c := range chunks {
		switch c.Type {
		case parser.ChunkText:
			b.WriteString(c.Content)
		case parser.ChunkCodeFile:
			b.WriteString("\n" + headerStyle.Render("── "+c.Filename+" ──") + "\n")
			b.WriteString(o.highlight(c.Content, c.Language))
			b.WriteString("\n")
		case parser.ChunkCommand:
			for _, line := range strings.Split(c.Content, "\n") {
				if strings.TrimSpace(line) == "" {
					continue
				}
				b.WriteString(commandStyle.Render("$ "+line) + "\n")
			}
		case parser.ChunkFileTree:
			b.WriteString(dimStyle.Render(c.Content) + "\n")
		}
	}
	o.print(b.String())
}

// Files prints one line per written file
func (o *Output) Files(results []materializer.FileProcessingResult) {
	var b strings.Builder
	for _, r := range results {
		switch {
		case r.Skipped:
		case r.Success:
			b.WriteString(successStyle.Render("✓ wrote "+r.Path) + "\n")
		default:
			b.WriteString(failureStyle.Render(fmt.Sprintf("✗ %s: %s", r.Filename, r.Error)) + "\n")
		}
	}
	o.print(b.String())
}

// Commands prints one line per finished command
func (o *Output) Commands(results []executor.CommandResult) {
	var b strings.Builder
	for _, r := range results {
		line := fmt.Sprintf("%s (exit %d, %s)", r.Command, r.ExitCode, r.Duration.Round(1e6))
		if r.Cached {
			line += " cached"
		}
		if r.Success {
			b.WriteString(successStyle.Render("✓ "+line) + "\n")
			continue
		}
		b.WriteString(failureStyle.Render("✗ "+line) + "\n")
		if r.Error != "" {
			b.WriteString(dimStyle.Render("  "+r.Error) + "\n")
		}
	}
	o.print(b.String())
}

func (o *Output) highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(o.style)
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		logger.Debug("highlighting failed: %v", err)
		return code
	}
	var b strings.Builder
	if err := formatter.Format(&b, style, iterator); err != nil {
		logger.Debug("highlighting failed: %v", err)
		return code
	}
	return b.String()
}
