package executor

import (
	"context"
	"fmt"
)

// InstallPackage adds a dependency to the project
func (e *Executor) InstallPackage(ctx context.Context, name string, dev bool) CommandResult {
	flag := "--save"
	if dev {
		flag = "--save-dev"
	}
	return e.Execute(ctx, fmt.Sprintf("npm install %s %s", flag, name))
}

// RunScript runs a package.json script
func (e *Executor) RunScript(ctx context.Context, script string) CommandResult {
	return e.Execute(ctx, "npm run "+script)
}

// ListFiles lists a directory of the project, "." when dir is empty
func (e *Executor) ListFiles(ctx context.Context, dir string) CommandResult {
	if dir == "" {
		dir = "."
	}
	return e.Execute(ctx, "ls -la "+dir)
}

// ShowPackageJSON prints the project manifest; the result is cacheable
func (e *Executor) ShowPackageJSON(ctx context.Context) CommandResult {
	return e.Execute(ctx, "cat package.json")
}

// NodeVersion reports the sandbox's node version
func (e *Executor) NodeVersion(ctx context.Context) CommandResult {
	return e.Execute(ctx, "node --version")
}

// NpmVersion reports the sandbox's npm version
func (e *Executor) NpmVersion(ctx context.Context) CommandResult {
	return e.Execute(ctx, "npm --version")
}
