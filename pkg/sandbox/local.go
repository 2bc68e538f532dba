package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	"github.com/killallgit/stak/pkg/logger"
	"github.com/spf13/afero"
)

// Local is a sandbox jailed to a host directory. Files go through an afero
// BasePathFs; commands run under a shell with their working directory inside
// the root.
type Local struct {
	root      string
	shell     string
	fs        afero.Fs
	waitDelay time.Duration
	log       *logger.Logger
}

// NewLocal creates the root directory if needed and returns a Local sandbox
func NewLocal(root, shell string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}
	if shell == "" {
		shell = "sh"
	}

	return &Local{
		root:      abs,
		shell:     shell,
		fs:        afero.NewBasePathFs(afero.NewOsFs(), abs),
		waitDelay: 2 * time.Second,
		log:       logger.WithComponent("sandbox"),
	}, nil
}

// WithWaitDelay bounds how long output copying may outlive the process
func (l *Local) WithWaitDelay(d time.Duration) *Local {
	l.waitDelay = d
	return l
}

// Root returns the absolute host path of the sandbox
func (l *Local) Root() string {
	return l.root
}

// Fs exposes the jailed filesystem
func (l *Local) Fs() afero.Fs {
	return l.fs
}

func (l *Local) WriteFile(name string, data []byte) error {
	clean, err := Clean(name)
	if err != nil {
		return err
	}
	if dir := path.Dir(clean); dir != "." {
		if err := l.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return afero.WriteFile(l.fs, clean, data, 0644)
}

func (l *Local) ReadFile(name string) ([]byte, error) {
	clean, err := Clean(name)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(l.fs, clean)
}

func (l *Local) MkdirAll(name string) error {
	clean, err := Clean(name)
	if err != nil {
		return err
	}
	return l.fs.MkdirAll(clean, 0755)
}

func (l *Local) ReadDir(name string) ([]os.FileInfo, error) {
	clean, err := Clean(name)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(l.fs, clean)
}

// Spawn runs command through the shell with cwd relative to the root
func (l *Local) Spawn(ctx context.Context, command, cwd string) (Process, error) {
	clean, err := Clean(cwd)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(l.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to prepare working directory: %w", err)
	}

	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, l.shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = l.waitDelay

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %q: %w", command, err)
	}
	l.log.Debug("spawned", "command", command, "cwd", clean, "pid", cmd.Process.Pid)

	p := &localProcess{cmd: cmd, out: pr, done: make(chan struct{})}
	go func() {
		werr := cmd.Wait()
		p.code, p.err = exitStatus(ctx, werr)
		pw.Close()
		close(p.done)
	}()
	return p, nil
}

type localProcess struct {
	cmd  *exec.Cmd
	out  *io.PipeReader
	done chan struct{}
	code int
	err  error
}

func (p *localProcess) Output() io.Reader { return p.out }

func (p *localProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

func (p *localProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitStatus(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

var _ Sandbox = (*Local)(nil)
