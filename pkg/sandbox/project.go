package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/killallgit/stak/pkg/logger"
)

// Project scaffolds and serves the application the model edits
type Project struct {
	sb        Sandbox
	dir       string
	template  string
	entryFile string
	out       io.Writer
}

// NewProject describes a project living in dir inside sb. Progress lines and
// raw command output go to out.
func NewProject(sb Sandbox, dir, template string, out io.Writer) *Project {
	if template == "" {
		template = "react-ts"
	}
	if out == nil {
		out = io.Discard
	}
	return &Project{sb: sb, dir: dir, template: template, entryFile: path.Join(dir, "src", "App.tsx"), out: out}
}

// EntryFile returns the sandbox path of the main component
func (p *Project) EntryFile() string {
	return p.entryFile
}

// Init creates the project, installs dependencies and loads the entry file.
// The returned string is the entry file's content.
func (p *Project) Init(ctx context.Context) (string, error) {
	log := logger.WithComponent("project")

	fmt.Fprintln(p.out, "📦 Creating Vite React project...")
	create := fmt.Sprintf("npm create vite@latest %s -- --template %s --force --yes", p.dir, p.template)
	if err := p.run(ctx, create, "."); err != nil {
		return "", fmt.Errorf("vite project creation failed: %w", err)
	}

	fmt.Fprintln(p.out, "📂 Checking project files...")
	if err := p.verify(); err != nil {
		return "", err
	}

	fmt.Fprintln(p.out, "📦 Installing dependencies...")
	if err := p.run(ctx, "npm install", p.dir); err != nil {
		return "", fmt.Errorf("dependency installation failed: %w", err)
	}

	code, err := p.sb.ReadFile(p.entryFile)
	if err != nil {
		return "", fmt.Errorf("failed to load initial code: %w", err)
	}
	log.Info("project ready", "dir", p.dir, "entry", p.entryFile)
	return string(code), nil
}

func (p *Project) verify() error {
	entries, err := p.sb.ReadDir(path.Join(p.dir, "src"))
	if err != nil {
		return fmt.Errorf("failed to list %s/src: %w", p.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	fmt.Fprintf(p.out, "📁 Files in src/: %s\n", strings.Join(names, ", "))

	if _, err := p.sb.ReadFile(p.entryFile); err != nil {
		fmt.Fprintf(p.out, "❌ Entry file %s not found!\n", p.entryFile)
		return fmt.Errorf("entry file %s is missing", p.entryFile)
	}
	fmt.Fprintf(p.out, "✅ Entry file %s found.\n", p.entryFile)
	return nil
}

func (p *Project) run(ctx context.Context, command, cwd string) error {
	proc, err := p.sb.Spawn(ctx, command, cwd)
	if err != nil {
		return err
	}
	if _, err := io.Copy(p.out, proc.Output()); err != nil {
		logger.Debug("project: output copy ended: %v", err)
	}
	code, err := proc.Wait()
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%q exited with code %d", command, code)
	}
	return nil
}

// ErrServerExited is reported when the dev server stops on its own
var ErrServerExited = errors.New("dev server exited unexpectedly")

// StartDevServer launches the dev server in the background. Its output is
// copied to the project writer; done receives nil on a clean exit or
// ErrServerExited otherwise. Cancel ctx to stop it.
func (p *Project) StartDevServer(ctx context.Context) (<-chan error, error) {
	fmt.Fprintln(p.out, "🚀 Starting Vite dev server...")
	proc, err := p.sb.Spawn(ctx, "npm run dev", p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to start dev server: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _ = io.Copy(p.out, proc.Output())
		code, err := proc.Wait()
		switch {
		case ctx.Err() != nil:
			done <- nil
		case err != nil || code != 0:
			done <- fmt.Errorf("%w (code %d)", ErrServerExited, code)
		default:
			done <- nil
		}
		close(done)
	}()
	return done, nil
}
