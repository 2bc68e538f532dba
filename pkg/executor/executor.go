package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/killallgit/stak/pkg/command"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/logger"
	"github.com/killallgit/stak/pkg/sandbox"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is reported for commands submitted after Close
var ErrClosed = errors.New("executor closed")

// State is the lifecycle position of a single command
type State int

const (
	StateQueued State = iota
	StateValidating
	StateRejected
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateValidating:
		return "validating"
	case StateRejected:
		return "rejected"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow
func (s State) Terminal() bool {
	return s == StateRejected || s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// CommandResult is produced exactly once per command. Success holds iff
// ExitCode is zero.
type CommandResult struct {
	Command  string        `json:"command"`
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	State    State         `json:"state"`
	Duration time.Duration `json:"duration"`
	Cached   bool          `json:"cached,omitempty"`
}

// Event is a state transition of one command
type Event struct {
	Command   string         `json:"command"`
	State     State          `json:"state"`
	Message   string         `json:"message,omitempty"`
	Result    *CommandResult `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TerminalSink receives raw process output as it arrives
type TerminalSink func(data []byte)

type job struct {
	ctx        context.Context
	commands   []string
	cwd        string
	enqueuedAt time.Time
	done       chan []CommandResult
}

// Executor runs shell commands in the sandbox. Batches are taken from a FIFO
// queue by a single worker, so two turns never interleave their commands.
type Executor struct {
	runner  sandbox.Runner
	policy  *command.Policy
	cfg     config.ExecutorConfig
	workdir string
	cache   *resultCache
	log     *logger.Logger

	mu       sync.RWMutex
	events   chan<- Event
	terminal TerminalSink

	queue     chan *job
	closed    chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts an executor whose commands run in workdir inside runner
func New(runner sandbox.Runner, policy *command.Policy, cfg config.ExecutorConfig, workdir string) *Executor {
	if policy == nil {
		policy = command.NewPolicy(cfg)
	}
	e := &Executor{
		runner:  runner,
		policy:  policy,
		cfg:     withDefaults(cfg),
		workdir: workdir,
		log:     logger.WithComponent("executor"),
		queue:   make(chan *job, 64),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	e.cache = newResultCache(e.cfg.Cache.TTL, e.cfg.Cache.MaxSize)

	e.wg.Add(1)
	go e.worker()
	return e
}

func withDefaults(cfg config.ExecutorConfig) config.ExecutorConfig {
	if cfg.Timeouts.Default <= 0 {
		cfg.Timeouts.Default = 15 * time.Second
	}
	if cfg.Timeouts.Build <= 0 {
		cfg.Timeouts.Build = 45 * time.Second
	}
	if cfg.Timeouts.Install <= 0 {
		cfg.Timeouts.Install = 60 * time.Second
	}
	if cfg.OutputGrace <= 0 {
		cfg.OutputGrace = 2 * time.Second
	}
	return cfg
}

// WithEventSink sets a channel receiving state transitions. Sends never
// block; events are dropped when the channel is full.
func (e *Executor) WithEventSink(sink chan<- Event) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = sink
	return e
}

// WithTerminal sets the raw output callback
func (e *Executor) WithTerminal(sink TerminalSink) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminal = sink
	return e
}

// Policy returns the command policy in use
func (e *Executor) Policy() *command.Policy {
	return e.policy
}

// CacheStats reports result cache usage
func (e *Executor) CacheStats() CacheStats {
	return e.cache.snapshot()
}

// ClearCache drops every cached result
func (e *Executor) ClearCache() {
	e.cache.clear()
}

// Close stops the worker. Queued batches are answered with ErrClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	e.wg.Wait()
}

// Execute runs one command
func (e *Executor) Execute(ctx context.Context, cmd string) CommandResult {
	if r, ok := e.cachedResult(cmd); ok {
		return r
	}
	results := e.ExecuteAll(ctx, []string{cmd})
	if len(results) == 0 {
		return failed(cmd, StateFailed, "no result produced")
	}
	return results[0]
}

// ExecuteAll runs a batch. A batch containing a dependency install runs
// strictly in order and stops at the first failure, so the result slice may be
// shorter than commands. Any other batch runs concurrently and yields one
// result per command, in input order.
func (e *Executor) ExecuteAll(ctx context.Context, commands []string) []CommandResult {
	if len(commands) == 0 {
		return nil
	}

	j := &job{
		ctx:        ctx,
		commands:   append([]string(nil), commands...),
		cwd:        e.workdir,
		enqueuedAt: time.Now(),
		done:       make(chan []CommandResult, 1),
	}

	select {
	case <-e.closed:
		return failAll(commands, ErrClosed.Error())
	default:
	}

	for _, c := range commands {
		e.emit(Event{Command: c, State: StateQueued})
	}

	select {
	case e.queue <- j:
	case <-e.closed:
		return failAll(commands, ErrClosed.Error())
	case <-ctx.Done():
		return failAll(commands, ctx.Err().Error())
	}

	select {
	case r := <-j.done:
		return r
	case <-e.stopped:
		select {
		case r := <-j.done:
			return r
		default:
			return failAll(commands, ErrClosed.Error())
		}
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	defer close(e.stopped)
	for {
		select {
		case <-e.closed:
			e.drain()
			return
		case j := <-e.queue:
			e.log.Debug("batch dequeued", "commands", len(j.commands), "waited", time.Since(j.enqueuedAt))
			j.done <- e.runBatch(j)
		}
	}
}

func (e *Executor) drain() {
	for {
		select {
		case j := <-e.queue:
			j.done <- failAll(j.commands, ErrClosed.Error())
		default:
			return
		}
	}
}

func (e *Executor) runBatch(j *job) []CommandResult {
	serial := false
	for _, c := range j.commands {
		if e.policy.IsInstall(c) {
			serial = true
			break
		}
	}

	if serial {
		results := make([]CommandResult, 0, len(j.commands))
		for _, c := range j.commands {
			r := e.runOne(j.ctx, c, j.cwd)
			results = append(results, r)
			if !r.Success {
				e.writeTerminal(fmt.Sprintf("\x1b[31mError: Command failed: %s. Stopping execution.\x1b[0m\r\n", c))
				e.log.Warn("serial batch stopped", "command", c, "remaining", len(j.commands)-len(results))
				break
			}
		}
		return results
	}

	results := make([]CommandResult, len(j.commands))
	var g errgroup.Group
	for i, c := range j.commands {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.runOne(j.ctx, c, j.cwd)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) cachedResult(cmd string) (CommandResult, bool) {
	if !e.policy.IsCacheable(cmd) {
		return CommandResult{}, false
	}
	r, ok := e.cache.get(cmd)
	if !ok {
		return CommandResult{}, false
	}
	r.Cached = true
	r.Duration = 0
	e.log.Debug("cache hit", "command", cmd)
	e.emit(Event{Command: cmd, State: StateSucceeded, Message: "cached", Result: &r})
	return r, true
}

// TimeoutFor returns the deadline budget for a command
func (e *Executor) TimeoutFor(cmd string) time.Duration {
	switch e.policy.Classify(cmd) {
	case command.ClassInstall:
		return e.cfg.Timeouts.Install
	case command.ClassBuild:
		return e.cfg.Timeouts.Build
	default:
		return e.cfg.Timeouts.Default
	}
}

func (e *Executor) runOne(ctx context.Context, cmd, cwd string) (result CommandResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("command panicked", "command", cmd, "panic", r)
			result = failed(cmd, StateFailed, fmt.Sprintf("internal error: %v", r))
		}
		result.Command = cmd
		if !result.Cached {
			result.Duration = time.Since(start)
			final := result
			e.emit(Event{Command: cmd, State: final.State, Message: final.Error, Result: &final})
		}
	}()

	if r, ok := e.cachedResult(cmd); ok {
		return r
	}

	e.emit(Event{Command: cmd, State: StateValidating})
	v := e.policy.Validate(cmd)
	if !v.Valid {
		e.writeTerminal(fmt.Sprintf("\x1b[31mError: %s\x1b[0m\r\n", v.Warning))
		e.log.Warn("command rejected", "command", cmd, "reason", v.Warning)
		return failed(cmd, StateRejected, v.Warning)
	}
	if v.Warning != "" {
		e.log.Warn("command warning", "command", cmd, "warning", v.Warning)
	}

	if err := ctx.Err(); err != nil {
		return failed(cmd, StateFailed, err.Error())
	}

	result = e.spawn(ctx, cmd, cwd)
	if result.Success && e.policy.IsCacheable(cmd) {
		e.cache.put(cmd, result)
	}
	return result
}

type exit struct {
	code int
	err  error
}

func (e *Executor) spawn(ctx context.Context, cmd, cwd string) CommandResult {
	timeout := e.TimeoutFor(cmd)

	// without kill-on-timeout the process is bound to the caller's context only
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.KillOnTimeout {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	proc, err := e.runner.Spawn(runCtx, cmd, cwd)
	if err != nil {
		e.writeTerminal(fmt.Sprintf("\x1b[31mError: %s\x1b[0m\r\n", err))
		return failed(cmd, StateFailed, err.Error())
	}
	e.emit(Event{Command: cmd, State: StateRunning, Message: fmt.Sprintf("timeout %v", timeout)})
	e.log.Debug("running", "command", cmd, "cwd", cwd, "timeout", timeout)

	var (
		outMu sync.Mutex
		out   bytes.Buffer
	)
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		buf := make([]byte, 4096)
		r := proc.Output()
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				outMu.Lock()
				out.Write(chunk)
				outMu.Unlock()
				e.writeTerminalBytes(chunk)
			}
			if rerr != nil {
				if rerr != io.EOF {
					e.log.Debug("output stream ended", "command", cmd, "error", rerr)
				}
				return
			}
		}
	}()

	exited := make(chan exit, 1)
	go func() {
		code, werr := proc.Wait()
		exited <- exit{code, werr}
	}()

	collected := func() string {
		outMu.Lock()
		defer outMu.Unlock()
		return CleanOutput(out.String())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case x := <-exited:
		select {
		case <-outDone:
		case <-time.After(e.cfg.OutputGrace):
			e.log.Debug("output grace period elapsed", "command", cmd)
		}
		output := collected()
		if x.err != nil && x.code == 0 {
			x.code = -1
		}
		r := CommandResult{Command: cmd, Output: output, ExitCode: x.code, Success: x.code == 0}
		if r.Success {
			r.State = StateSucceeded
		} else {
			r.State = StateFailed
			r.Error = output
			if r.Error == "" && x.err != nil {
				r.Error = x.err.Error()
			}
		}
		return r

	case <-timer.C:
		msg := fmt.Sprintf("command timed out after %v", timeout)
		if e.cfg.KillOnTimeout {
			cancel()
			if kerr := proc.Kill(); kerr != nil {
				msg += fmt.Sprintf("; kill failed (%v), final process state unknown", kerr)
			}
		} else {
			msg += "; process left running, final state unknown"
		}
		e.writeTerminal(fmt.Sprintf("\x1b[31mError: %s\x1b[0m\r\n", msg))
		e.log.Warn("command timed out", "command", cmd, "timeout", timeout)
		return CommandResult{Command: cmd, Output: collected(), ExitCode: -1, Error: msg, State: StateTimedOut}

	case <-ctx.Done():
		_ = proc.Kill()
		return CommandResult{Command: cmd, Output: collected(), ExitCode: -1, Error: ctx.Err().Error(), State: StateFailed}
	}
}

func (e *Executor) emit(ev Event) {
	e.mu.RLock()
	sink := e.events
	e.mu.RUnlock()
	if sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case sink <- ev:
	default:
	}
}

func (e *Executor) writeTerminal(s string) {
	e.writeTerminalBytes([]byte(s))
}

func (e *Executor) writeTerminalBytes(b []byte) {
	e.mu.RLock()
	sink := e.terminal
	e.mu.RUnlock()
	if sink != nil {
		sink(b)
	}
}

func failed(cmd string, state State, msg string) CommandResult {
	return CommandResult{Command: cmd, Success: false, ExitCode: 1, Error: msg, State: state}
}

func failAll(commands []string, msg string) []CommandResult {
	out := make([]CommandResult, len(commands))
	for i, c := range commands {
		out[i] = failed(c, StateFailed, msg)
	}
	return out
}
