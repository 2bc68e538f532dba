package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
)

// ErrOutsideRoot is returned for paths that would leave the sandbox root
var ErrOutsideRoot = errors.New("path escapes sandbox root")

// Process is a running sandbox command
type Process interface {
	// Output streams combined stdout and stderr. It reaches EOF after the
	// process exits. Callers must drain it.
	Output() io.Reader

	// Wait blocks until exit and returns the exit code. A non-zero exit is
	// not an error; err is set only when the process could not be waited on.
	Wait() (int, error)

	// Kill terminates the process, best-effort.
	Kill() error
}

// Runner starts shell commands
type Runner interface {
	Spawn(ctx context.Context, command, cwd string) (Process, error)
}

// FileSystem is the file capability of a sandbox. Paths are slash separated
// and relative to the sandbox root.
type FileSystem interface {
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	MkdirAll(name string) error
	ReadDir(name string) ([]os.FileInfo, error)
}

// Sandbox is the isolated execution environment the core drives
type Sandbox interface {
	Runner
	FileSystem
}

// Clean normalizes a sandbox-relative path and rejects escapes
func Clean(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	if strings.Contains(name, "..") {
		for _, part := range strings.Split(name, "/") {
			if part == ".." {
				return "", ErrOutsideRoot
			}
		}
	}
	if cleaned == "/" {
		return ".", nil
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
