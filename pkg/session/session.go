package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/feedback"
	"github.com/killallgit/stak/pkg/llm"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/process"
	"github.com/killallgit/stak/pkg/stream"
)

// ErrEmptyMessage is returned by Send for blank input without images
var ErrEmptyMessage = errors.New("message content cannot be empty")

// ErrorPlaceholder replaces the assistant message when the stream fails
const ErrorPlaceholder = "[Error receiving response]"

// TurnResult is what one turn produced
type TurnResult struct {
	ID       string                              `json:"id"`
	Message  chat.Message                        `json:"message"`
	Files    []materializer.FileProcessingResult `json:"files,omitempty"`
	Commands []executor.CommandResult            `json:"commands,omitempty"`
}

// Options wires a Session. Model, Executor and Materializer are required.
type Options struct {
	Model        llm.Model
	ModelName    string
	Parser       *parser.Parser
	Executor     *executor.Executor
	Materializer *materializer.Materializer
	Feedback     *feedback.Loop
	Observer     Observer
	Config       config.SessionConfig
	PartialMin   int
}

// Session drives turns: it streams a reply, keeps the conversation current
// while the reply grows, writes finished files and runs the commands the
// reply asks for. Only one turn is in flight; a new Send aborts the previous.
type Session struct {
	id         string
	model      llm.Model
	parser     *parser.Parser
	exec       *executor.Executor
	mat        *materializer.Materializer
	loop       *feedback.Loop
	observer   Observer
	interval   time.Duration
	chunkBytes int
	partialMin int
	log        *logger.Logger

	mu     sync.Mutex
	conv   chat.Conversation
	state  process.State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Session and attaches it to the executor's terminal output
func New(opts Options) *Session {
	s := &Session{
		id:         uuid.NewString(),
		model:      opts.Model,
		parser:     opts.Parser,
		exec:       opts.Executor,
		mat:        opts.Materializer,
		loop:       opts.Feedback,
		observer:   opts.Observer,
		interval:   opts.Config.ThrottleInterval,
		chunkBytes: opts.Config.ThrottleBytes,
		partialMin: opts.PartialMin,
		conv:       chat.NewConversation(opts.ModelName),
	}
	if s.parser == nil {
		s.parser = parser.New(parser.DefaultCacheSize)
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.interval <= 0 {
		s.interval = 100 * time.Millisecond
	}
	if s.chunkBytes <= 0 {
		s.chunkBytes = 256
	}
	s.log = logger.WithComponent("session").With("session", s.id)

	s.exec.WithTerminal(s.onTerminal)
	if s.loop != nil {
		s.loop.WithTerminal(func(text string) { s.observer.OnTerminal([]byte(text)) })
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) onTerminal(data []byte) {
	s.observer.OnTerminal(data)
	if s.loop != nil {
		s.loop.OnOutput(string(data))
	}
}

// Messages returns a copy of the conversation
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.GetMessages(s.conv)
}

// Busy reports whether a turn is in flight
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// State reports the phase of the turn in flight
func (s *Session) State() process.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state process.State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.observer.OnState(state)
	}
}

// Cancel aborts the turn in flight, if any
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until no turn is in flight or ctx ends
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset aborts the turn in flight and starts over with an empty conversation
func (s *Session) Reset() {
	s.Cancel()
	_ = s.Wait(context.Background())

	s.mu.Lock()
	s.conv = chat.NewConversation(s.conv.Model)
	messages := chat.GetMessages(s.conv)
	s.mu.Unlock()

	s.parser.Reset()
	s.mat.Reset()
	s.log.Info("session reset")
	s.observer.OnMessages(messages)
}

// Submit sends text once the current turn has finished. It is the entry point
// for automatic follow-ups, which must not abort the turn that triggered them.
func (s *Session) Submit(ctx context.Context, text string) error {
	if err := s.Wait(ctx); err != nil {
		return err
	}
	_, err := s.Send(ctx, text)
	return err
}

// Send runs one turn
func (s *Session) Send(ctx context.Context, text string, images ...chat.Image) (result *TurnResult, err error) {
	userMsg := chat.NewUserMessage(text, images...)
	if userMsg.IsEmpty() {
		return nil, ErrEmptyMessage
	}

	turnCtx, done := s.begin(ctx)
	defer done()

	placeholder := chat.NewAssistantMessage("")
	s.mu.Lock()
	s.conv = chat.AddMessage(s.conv, userMsg)
	history := chat.GetMessages(s.conv)
	s.conv = chat.AddMessage(s.conv, placeholder)
	s.mu.Unlock()
	s.notify()
	s.setState(process.StateSending)

	log := s.log.With("turn", placeholder.ID)
	log.Info("turn started", "bytes", len(userMsg.Content), "images", len(userMsg.Images))

	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked", "panic", r)
			s.mu.Lock()
			s.conv = chat.RemoveMessage(s.conv, placeholder.ID)
			s.mu.Unlock()
			s.appendSystem(fmt.Sprintf("❌ Internal error: %v", r))
			result, err = nil, fmt.Errorf("turn failed: %v", r)
		}
	}()

	rc, err := s.model.Stream(turnCtx, history)
	if err != nil {
		return nil, s.abandon(turnCtx, placeholder, err)
	}

	s.setState(process.StateReceiving)
	tr := &TurnResult{ID: placeholder.ID}
	reply, err := s.consume(turnCtx, rc, placeholder, tr)
	if err != nil {
		return nil, s.abandon(turnCtx, placeholder, err)
	}

	parsed := s.parser.Parse(reply)
	tr.Message = placeholder.WithContent(reply, parsed.Chunks)
	s.replace(tr.Message)
	log.Info("response complete", "bytes", len(reply), "chunks", parsed.Summary())

	s.setState(process.StateWriting)
	if files := s.mat.ProcessChunks(turnCtx, parsed.Chunks); len(files) > 0 {
		tr.Files = append(tr.Files, files...)
		s.observer.OnFiles(files)
	}

	if commands := s.commands(parsed.Chunks); len(commands) > 0 {
		s.setState(process.StateExecuting)
		tr.Commands = s.exec.ExecuteAll(turnCtx, commands)
		s.observer.OnCommands(tr.Commands)
	}

	s.summarize(tr)
	log.Info("turn finished", "files", len(tr.Files), "commands", len(tr.Commands))
	return tr, turnCtx.Err()
}

// begin cancels the previous turn, waits for it to unwind and registers a new
// one
func (s *Session) begin(ctx context.Context) (context.Context, func()) {
	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}

	return turnCtx, func() {
		cancel()
		s.mu.Lock()
		idle := s.done == done
		if idle {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		if idle {
			s.setState(process.StateIdle)
		}
		close(done)
	}
}

// consume reads the stream to the end, publishing throttled updates
func (s *Session) consume(ctx context.Context, rc io.ReadCloser, placeholder chat.Message, tr *TurnResult) (string, error) {
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()
	defer rc.Close()

	dec := stream.NewDecoder()
	buf := make([]byte, 4096)
	lastUpdate := time.Now()
	lastLen := 0

	for {
		n, err := rc.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			if time.Since(lastUpdate) >= s.interval || dec.Len()-lastLen >= s.chunkBytes {
				s.update(ctx, placeholder, dec.Text(), tr)
				lastUpdate, lastLen = time.Now(), dec.Len()
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dec.Text(), ctxErr
		}
		if err == io.EOF {
			dec.Flush()
			return dec.Text(), nil
		}
		if err != nil {
			return dec.Text(), err
		}
	}
}

// update republishes the growing reply and writes file blocks that closed
func (s *Session) update(ctx context.Context, placeholder chat.Message, text string, tr *TurnResult) {
	parsed := s.parser.Parse(text)
	s.replace(placeholder.WithContent(text, parsed.Chunks))

	if files := s.mat.ProcessChunks(ctx, parsed.Chunks); len(files) > 0 {
		tr.Files = append(tr.Files, files...)
		s.observer.OnFiles(files)
	}

	if partial, ok := parser.ParsePartialFile(text, s.partialMin); ok {
		s.observer.OnPartialFile(partial)
	}
}

// commands collects the executable lines of every command block, in order and
// without duplicates
func (s *Session) commands(chunks []parser.RenderChunk) []string {
	var blocks []string
	for _, c := range chunks {
		if c.Type == parser.ChunkCommand {
			blocks = append(blocks, c.Content)
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return s.exec.Policy().ExtractCommands(strings.Join(blocks, "\n"))
}

// abandon handles a turn whose stream did not complete. An aborted turn
// leaves no trace of its reply; any other failure leaves an error placeholder.
func (s *Session) abandon(ctx context.Context, placeholder chat.Message, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.mu.Lock()
		s.conv = chat.RemoveMessage(s.conv, placeholder.ID)
		s.mu.Unlock()
		s.notify()
		s.log.Info("turn aborted", "turn", placeholder.ID)
		return ctxErr
	}

	s.replace(placeholder.WithContent(ErrorPlaceholder, nil))
	s.log.Error("stream failed", "turn", placeholder.ID, "error", err)
	return fmt.Errorf("failed to receive response: %w", err)
}

func (s *Session) replace(msg chat.Message) {
	s.mu.Lock()
	s.conv = chat.ReplaceMessage(s.conv, msg)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) appendSystem(content string) {
	s.mu.Lock()
	s.conv = chat.AddMessage(s.conv, chat.NewSystemMessage(content))
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.observer.OnMessages(s.Messages())
}

// summarize appends one system message describing the side effects of a turn
func (s *Session) summarize(tr *TurnResult) {
	var lines []string
	for _, f := range tr.Files {
		switch {
		case f.Skipped:
		case f.Success:
			lines = append(lines, fmt.Sprintf("✅ File written: %s", f.Path))
		default:
			lines = append(lines, fmt.Sprintf("❌ Failed to write %s: %s", f.Filename, f.Error))
		}
	}
	for _, c := range tr.Commands {
		if c.Success {
			lines = append(lines, fmt.Sprintf("✅ Command completed: %s", c.Command))
			continue
		}
		lines = append(lines, fmt.Sprintf("❌ Command failed: %s (exit code: %d)\n%s", c.Command, c.ExitCode, truncate(c.Error, 300)))
	}
	if len(lines) > 0 {
		s.appendSystem(strings.Join(lines, "\n"))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
