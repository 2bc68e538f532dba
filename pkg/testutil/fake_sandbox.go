package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/stak/pkg/sandbox"
	"github.com/spf13/afero"
)

// FakeResult scripts what a fake command does
type FakeResult struct {
	Output   string
	ExitCode int
	Delay    time.Duration // before output is produced
	Block    bool          // never exits on its own
	KillErr  error         // returned by Kill
	SpawnErr error         // returned by Spawn
}

// CommandHandler computes a result per invocation
type CommandHandler func(command, cwd string) FakeResult

type handler struct {
	match string
	exact bool
	fn    CommandHandler
}

// FakeSandbox implements sandbox.Sandbox over an in-memory filesystem with
// scripted command results
type FakeSandbox struct {
	mu         sync.Mutex
	fs         afero.Fs
	handlers   []handler
	fallback   FakeResult
	spawns     []string
	cwds       []string
	failWrites map[string]error
	running    int
	maxRunning int
}

// NewFakeSandbox returns a sandbox where unknown commands exit 0 silently
func NewFakeSandbox() *FakeSandbox {
	return &FakeSandbox{
		fs:         afero.NewMemMapFs(),
		failWrites: make(map[string]error),
	}
}

// On scripts every command starting with prefix
func (f *FakeSandbox) On(prefix string, res FakeResult) *FakeSandbox {
	return f.OnFunc(prefix, func(string, string) FakeResult { return res })
}

// OnExact scripts a single literal command
func (f *FakeSandbox) OnExact(command string, res FakeResult) *FakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{match: command, exact: true, fn: func(string, string) FakeResult { return res }})
	return f
}

// OnFunc scripts commands starting with prefix through fn
func (f *FakeSandbox) OnFunc(prefix string, fn CommandHandler) *FakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{match: prefix, fn: fn})
	return f
}

// Otherwise sets the result for unscripted commands
func (f *FakeSandbox) Otherwise(res FakeResult) *FakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = res
	return f
}

// FailWrites makes WriteFile on name return err
func (f *FakeSandbox) FailWrites(name string, err error) *FakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites[name] = err
	return f
}

// RestoreWrites undoes FailWrites for name
func (f *FakeSandbox) RestoreWrites(name string) *FakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failWrites, name)
	return f
}

// Spawns returns every spawned command in order
func (f *FakeSandbox) Spawns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spawns...)
}

// Cwds returns the working directory of every spawn in order
func (f *FakeSandbox) Cwds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cwds...)
}

// SpawnCount counts spawns of one literal command
func (f *FakeSandbox) SpawnCount(command string) int {
	n := 0
	for _, s := range f.Spawns() {
		if s == command {
			n++
		}
	}
	return n
}

// MaxConcurrent reports the highest number of commands running at once
func (f *FakeSandbox) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

func (f *FakeSandbox) lookup(command, cwd string) FakeResult {
	f.mu.Lock()
	f.spawns = append(f.spawns, command)
	f.cwds = append(f.cwds, cwd)

	var fn CommandHandler
	for _, h := range f.handlers {
		if h.exact && h.match == command {
			fn = h.fn
			break
		}
	}
	if fn == nil {
		best := -1
		for i, h := range f.handlers {
			if !h.exact && strings.HasPrefix(command, h.match) && (best < 0 || len(h.match) > len(f.handlers[best].match)) {
				best = i
			}
		}
		if best >= 0 {
			fn = f.handlers[best].fn
		}
	}
	fallback := f.fallback
	f.mu.Unlock()

	if fn != nil {
		return fn(command, cwd)
	}
	return fallback
}

func (f *FakeSandbox) track(delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running += delta
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
}

// Spawn implements sandbox.Runner
func (f *FakeSandbox) Spawn(ctx context.Context, command, cwd string) (sandbox.Process, error) {
	res := f.lookup(command, cwd)
	if res.SpawnErr != nil {
		return nil, res.SpawnErr
	}

	pr, pw := io.Pipe()
	p := &fakeProcess{out: pr, done: make(chan struct{}), kill: make(chan struct{}), killErr: res.KillErr}
	f.track(1)

	go func() {
		defer close(p.done)
		defer f.track(-1)

		stop := func(err error) {
			p.code, p.err = -1, err
			pw.Close()
		}

		if res.Delay > 0 {
			select {
			case <-time.After(res.Delay):
			case <-ctx.Done():
				stop(ctx.Err())
				return
			case <-p.kill:
				stop(nil)
				return
			}
		}
		if res.Block {
			if res.Output != "" {
				_, _ = pw.Write([]byte(res.Output))
			}
			select {
			case <-ctx.Done():
				stop(ctx.Err())
			case <-p.kill:
				stop(nil)
			}
			return
		}
		if res.Output != "" {
			_, _ = pw.Write([]byte(res.Output))
		}
		p.code = res.ExitCode
		pw.Close()
	}()

	return p, nil
}

type fakeProcess struct {
	out      *io.PipeReader
	done     chan struct{}
	kill     chan struct{}
	killOnce sync.Once
	killErr  error
	code     int
	err      error
}

func (p *fakeProcess) Output() io.Reader { return p.out }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

func (p *fakeProcess) Kill() error {
	if p.killErr != nil {
		return p.killErr
	}
	p.killOnce.Do(func() { close(p.kill) })
	return nil
}

// WriteFile implements sandbox.FileSystem
func (f *FakeSandbox) WriteFile(name string, data []byte) error {
	c, err := sandbox.Clean(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	failErr, fail := f.failWrites[c]
	f.mu.Unlock()
	if fail {
		return failErr
	}
	if dir := path.Dir(c); dir != "." {
		if err := f.fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return afero.WriteFile(f.fs, c, data, 0644)
}

// ReadFile implements sandbox.FileSystem
func (f *FakeSandbox) ReadFile(name string) ([]byte, error) {
	c, err := sandbox.Clean(name)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(f.fs, c)
}

// MkdirAll implements sandbox.FileSystem
func (f *FakeSandbox) MkdirAll(name string) error {
	c, err := sandbox.Clean(name)
	if err != nil {
		return err
	}
	return f.fs.MkdirAll(c, 0755)
}

// ReadDir implements sandbox.FileSystem
func (f *FakeSandbox) ReadDir(name string) ([]os.FileInfo, error) {
	c, err := sandbox.Clean(name)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(f.fs, c)
}

// MustRead returns a file's content or a marker when it is missing
func (f *FakeSandbox) MustRead(name string) string {
	data, err := f.ReadFile(name)
	if err != nil {
		return fmt.Sprintf("<missing %s: %v>", name, err)
	}
	return string(data)
}

// Exists reports whether name exists in the fake filesystem
func (f *FakeSandbox) Exists(name string) bool {
	c, err := sandbox.Clean(name)
	if err != nil {
		return false
	}
	_, err = f.fs.Stat(c)
	return err == nil
}

// ErrDiskFull is a canned write failure for tests
var ErrDiskFull = errors.New("no space left on device")

var _ sandbox.Sandbox = (*FakeSandbox)(nil)
