package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/logger"
)

// DefaultDebounce is the quiet period before a burst of errors is reported
const DefaultDebounce = time.Second

// SubmitFunc sends a message to the model as a new user turn
type SubmitFunc func(ctx context.Context, text string) error

// Prompt wraps error context into the message submitted to the model
func Prompt(errorContext string) string {
	return fmt.Sprintf("⚠️ I noticed an error while running your code:\n\n%s\n\nWould you like me to try fixing it?", strings.TrimSpace(errorContext))
}

// Loop turns runtime and build failures into follow-up turns. Candidates are
// debounced through a single timer: every new candidate restarts it and the
// last context of a burst is the one submitted.
type Loop struct {
	submit   SubmitFunc
	debounce time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	enabled  bool
	ctx      context.Context
	terminal func(string)
	timer    *time.Timer
	pending  string
	gen      uint64
	stopped  bool
	submits  int
}

// New returns a Loop submitting through submit
func New(submit SubmitFunc, cfg config.FeedbackConfig) *Loop {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Loop{
		submit:   submit,
		debounce: debounce,
		enabled:  cfg.Enabled,
		ctx:      context.Background(),
		log:      logger.WithComponent("feedback"),
	}
}

// WithContext sets the context handed to submit
func (l *Loop) WithContext(ctx context.Context) *Loop {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx = ctx
	return l
}

// WithTerminal sets where preview console output is echoed
func (l *Loop) WithTerminal(fn func(string)) *Loop {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminal = fn
	return l
}

// SetEnabled switches reporting on or off. Disabling drops a pending report.
func (l *Loop) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
	if !enabled {
		l.cancelLocked()
	}
}

func (l *Loop) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Submits reports how many prompts have been handed to submit
func (l *Loop) Submits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits
}

// OnOutput inspects process output for failures
func (l *Loop) OnOutput(data string) {
	if msg, ok := DetectError(data); ok {
		l.ReportCandidateError(msg)
	}
}

// OnRuntimeError reports an uncaught error from the preview
func (l *Loop) OnRuntimeError(e RuntimeError) {
	l.ReportCandidateError(e.String())
}

// OnPreviewMessage handles a raw message posted by the preview page
func (l *Loop) OnPreviewMessage(raw string) {
	msg := ParsePreviewMessage(raw)
	switch msg.Kind {
	case PreviewConsole:
		l.mu.Lock()
		terminal := l.terminal
		l.mu.Unlock()
		if terminal != nil {
			terminal("\r\n" + msg.Text + "\r\n")
		}
	case PreviewError:
		l.ReportCandidateError(msg.Text)
	}
}

// ReportCandidateError schedules errorContext for submission once the
// debounce window passes without another candidate
func (l *Loop) ReportCandidateError(errorContext string) {
	errorContext = strings.TrimSpace(errorContext)
	if errorContext == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.stopped {
		return
	}

	l.cancelLocked()
	l.pending = errorContext
	l.gen++
	gen := l.gen
	l.timer = time.AfterFunc(l.debounce, func() { l.fire(gen) })
}

func (l *Loop) cancelLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pending = ""
}

func (l *Loop) fire(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.stopped || l.pending == "" {
		l.mu.Unlock()
		return
	}
	text := l.pending
	l.pending = ""
	l.timer = nil
	ctx := l.ctx
	l.submits++
	l.mu.Unlock()

	l.send(ctx, text)
}

// Flush submits a pending report immediately
func (l *Loop) Flush() {
	l.mu.Lock()
	if l.pending == "" || l.stopped {
		l.mu.Unlock()
		return
	}
	text := l.pending
	l.cancelLocked()
	l.gen++
	ctx := l.ctx
	l.submits++
	l.mu.Unlock()

	l.send(ctx, text)
}

// Stop cancels any pending report; later candidates are ignored
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.cancelLocked()
}

func (l *Loop) send(ctx context.Context, errorContext string) {
	l.log.Info("submitting error report", "bytes", len(errorContext))
	if err := l.submit(ctx, Prompt(errorContext)); err != nil {
		l.log.Warn("error report not submitted", "error", err)
	}
}

// Inject installs ErrorCaptureScript through inj. A cross-origin preview is
// tolerated; every other failure is returned.
func (l *Loop) Inject(ctx context.Context, inj Injector) error {
	err := inj.InjectScript(ctx, ErrorCaptureScript)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCrossOrigin):
		l.log.Debug("error capture script not injected", "reason", err)
		return nil
	default:
		return fmt.Errorf("failed to inject error capture script: %w", err)
	}
}
