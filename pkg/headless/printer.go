package headless

import (
	"strings"
	"sync"

	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/process"
	"github.com/killallgit/stak/pkg/session"
)

// printer is the session observer for headless mode. It prints the growing
// assistant reply as deltas, or nothing when the reply is rendered at the end.
// Files written while a streamed reply is still arriving are held back until
// the reply is complete so they do not split its text.
type printer struct {
	session.NopObserver

	out    *Output
	stream bool

	mu        sync.Mutex
	replyID   string
	shown     string
	receiving bool
	held      []materializer.FileProcessingResult
}

func newPrinter(out *Output, stream bool) *printer {
	return &printer{out: out, stream: stream}
}

func (p *printer) OnMessages(messages []chat.Message) {
	if !p.stream || len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if !last.IsAssistant() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if last.ID != p.replyID {
		p.replyID, p.shown = last.ID, ""
	}
	// a reply only grows; content that does not extend what was shown is the
	// error placeholder, reported by the runner instead
	if !strings.HasPrefix(last.Content, p.shown) {
		return
	}
	if delta := last.Content[len(p.shown):]; delta != "" {
		p.out.Text(delta)
		p.shown = last.Content
	}
}

func (p *printer) OnPartialFile(file parser.PartialFile) {
	logger.Debug("writing %s (%d bytes so far)", file.Filename, len(file.Content))
}

func (p *printer) OnTerminal(data []byte) {
	p.out.Terminal(data)
}

func (p *printer) OnFiles(results []materializer.FileProcessingResult) {
	p.mu.Lock()
	if p.stream && p.receiving {
		p.held = append(p.held, results...)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.out.Files(results)
}

func (p *printer) OnCommands(results []executor.CommandResult) {
	p.out.Commands(results)
}

func (p *printer) OnState(state process.State) {
	p.mu.Lock()
	p.receiving = state == process.StateReceiving
	var held []materializer.FileProcessingResult
	if !p.receiving {
		held, p.held = p.held, nil
	}
	p.mu.Unlock()
	if len(held) > 0 {
		p.out.Files(held)
	}

	if state.Busy() {
		logger.Debug("%s %s", state.GetIcon(), state.GetDisplayName())
	}
}
