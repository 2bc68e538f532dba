package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/feedback"
	"github.com/killallgit/stak/pkg/llm"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/session"
	"github.com/killallgit/stak/pkg/tokens"
)

// DefaultMaxFollowUps bounds how many error reports one run sends back
const DefaultMaxFollowUps = 2

// Options wires a headless run. The caller owns the executor and closes it.
type Options struct {
	Model        llm.Model
	ModelName    string
	Executor     *executor.Executor
	Materializer *materializer.Materializer
	Parser       *parser.Parser
	Session      config.SessionConfig
	Feedback     config.FeedbackConfig
	PartialMin   int
	// MaxFollowUps is DefaultMaxFollowUps when zero; negative disables
	// follow-ups
	MaxFollowUps int
	// Render prints each finished reply with highlighting instead of
	// streaming raw text
	Render bool
	Out    io.Writer
	// Tokens counts prompt and reply tokens; nil estimates
	Tokens *tokens.TokenCounter
}

// runner runs the session in headless mode
type runner struct {
	session      *session.Session
	loop         *feedback.Loop
	output       *Output
	render       bool
	maxFollowUps int
	followUps    chan string
	counter      *tokens.TokenCounter

	tokensSent int
	tokensRecv int
	turns      int
	files      int
	commands   int
}

func newRunner(opts Options) (*runner, error) {
	if opts.Model == nil {
		return nil, errors.New("no model configured")
	}
	if opts.Executor == nil || opts.Materializer == nil {
		return nil, errors.New("executor and materializer are required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Tokens == nil {
		opts.Tokens = tokens.NewEstimator()
	}
	if opts.MaxFollowUps < 0 {
		opts.MaxFollowUps = 0
	} else if opts.MaxFollowUps == 0 {
		opts.MaxFollowUps = DefaultMaxFollowUps
	}

	r := &runner{
		output:       NewOutput(opts.Out),
		render:       opts.Render,
		maxFollowUps: opts.MaxFollowUps,
		followUps:    make(chan string, 1),
		counter:      opts.Tokens,
	}

	// reports are queued and sent by run so that every turn is awaited
	if opts.Feedback.Enabled {
		r.loop = feedback.New(r.queueFollowUp, opts.Feedback)
	}

	r.session = session.New(session.Options{
		Model:        opts.Model,
		ModelName:    opts.ModelName,
		Parser:       opts.Parser,
		Executor:     opts.Executor,
		Materializer: opts.Materializer,
		Feedback:     r.loop,
		Observer:     newPrinter(r.output, !opts.Render),
		Config:       opts.Session,
		PartialMin:   opts.PartialMin,
	})
	return r, nil
}

func (r *runner) queueFollowUp(_ context.Context, text string) error {
	select {
	case r.followUps <- text:
		return nil
	default:
		return errors.New("a follow-up is already queued")
	}
}

// run sends prompt, then keeps answering error reports until none is pending
// or the follow-up budget is spent
func (r *runner) run(ctx context.Context, prompt string) error {
	logger.Debug("User prompt: %s", prompt)

	if err := r.turn(ctx, prompt); err != nil {
		return err
	}

	for i := 0; r.loop != nil; i++ {
		r.loop.Flush()
		var next string
		select {
		case next = <-r.followUps:
		default:
		}
		if next == "" {
			break
		}
		if i >= r.maxFollowUps {
			r.output.Text(dimStyle.Render(fmt.Sprintf("\nerror reports stopped after %d follow-ups", r.maxFollowUps)) + "\n")
			break
		}
		r.output.Text("\n" + headerStyle.Render("── sending error report ──") + "\n")
		if err := r.turn(ctx, next); err != nil {
			return err
		}
	}

	r.output.Text(fmt.Sprintf("\n[Turns: %d, Files: %d, Commands: %d]\n", r.turns, r.files, r.commands))
	r.output.Text(fmt.Sprintf("[Tokens - Sent: %d, Received: %d, Total: %d]\n",
		r.tokensSent, r.tokensRecv, r.tokensSent+r.tokensRecv))
	logger.Debug("Total tokens - Sent: %d, Received: %d", r.tokensSent, r.tokensRecv)
	return nil
}

func (r *runner) turn(ctx context.Context, text string) error {
	r.turns++
	r.tokensSent += r.counter.CountTokens(text)
	res, err := r.session.Send(ctx, text)
	if err != nil {
		r.output.Error(fmt.Sprintf("Generation error: %v", err))
		return err
	}

	if r.render {
		r.output.Chunks(res.Message.Chunks)
	}
	r.output.Text("\n")
	r.tokensRecv += r.counter.CountTokens(res.Message.Content)
	r.files += len(res.Files)
	r.commands += len(res.Commands)
	return nil
}

func (r *runner) messages() []chat.Message {
	return r.session.Messages()
}

// cleanup stops pending error reports; the executor is closed by the caller
// since it owns the executor lifecycle
func (r *runner) cleanup() {
	if r.loop != nil {
		r.loop.Stop()
	}
}
