package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/logger"
)

// Class selects the timeout budget for a command
type Class int

const (
	ClassDefault Class = iota
	ClassBuild
	ClassInstall
)

func (c Class) String() string {
	switch c {
	case ClassBuild:
		return "build"
	case ClassInstall:
		return "install"
	default:
		return "default"
	}
}

// Validation is the verdict for a single command
type Validation struct {
	Valid   bool
	Warning string
}

// Policy decides which lines from a command block are shell commands and
// whether they may run. All lists come from configuration.
type Policy struct {
	allow       map[string]struct{}
	deny        []string
	longRunning []string
	install     []string
	build       []string
	cacheable   map[string]struct{}
}

// NewPolicy builds a Policy from executor configuration
func NewPolicy(cfg config.ExecutorConfig) *Policy {
	p := &Policy{
		allow:       make(map[string]struct{}),
		cacheable:   make(map[string]struct{}),
		deny:        lower(cfg.Deny),
		longRunning: lower(cfg.LongRunning),
		install:     lower(cfg.InstallPatterns),
		build:       lower(cfg.BuildPatterns),
	}
	for _, a := range cfg.Allow {
		p.allow[strings.TrimSpace(a)] = struct{}{}
	}
	for _, c := range cfg.Cacheable {
		p.cacheable[strings.TrimSpace(c)] = struct{}{}
	}
	return p
}

// DefaultPolicy uses the built-in lists
func DefaultPolicy() *Policy {
	return NewPolicy(config.ExecutorConfig{
		Allow:           config.DefaultAllow,
		Deny:            config.DefaultDeny,
		LongRunning:     config.DefaultLongRunning,
		InstallPatterns: config.DefaultInstallPatterns,
		BuildPatterns:   config.DefaultBuildPatterns,
		Cacheable:       config.DefaultCacheable,
	})
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(s); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	codeLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(import|export)\b`),
		regexp.MustCompile(`^(const|let|var|function|class|return|interface|type|async|await)\s`),
		regexp.MustCompile(`^</?[A-Za-z][\w.]*[\s/>]`),
		regexp.MustCompile(`^[{}\[\]()]+[;,]?$`),
		regexp.MustCompile(`^["']?[\w$-]+["']?\s*:\s*\S`),
		regexp.MustCompile(`^\w+\s*\(.*\)\s*;?$`),
		regexp.MustCompile(`[;{]\s*$`),
	}
	envAssignPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S*$`)
	shellSeparator   = regexp.MustCompile(`&&|\|\||[;&|]`)
)

// IsExecutable reports whether line looks like a real shell command rather
// than code that leaked into a command block.
func (p *Policy) IsExecutable(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return false
	}
	for _, re := range codeLinePatterns {
		if re.MatchString(line) {
			return false
		}
	}

	first := firstToken(line)
	if first == "" {
		return false
	}
	_, ok := p.allow[first]
	return ok
}

// firstToken skips leading VAR=value assignments and a ./ prefix
func firstToken(line string) string {
	for _, f := range strings.Fields(line) {
		if envAssignPattern.MatchString(f) {
			continue
		}
		return strings.TrimPrefix(f, "./")
	}
	return ""
}

// Validate applies the deny list and flags long-running commands. A denied
// pattern wins over allow-list membership.
func (p *Policy) Validate(command string) Validation {
	lc := strings.ToLower(strings.TrimSpace(command))

	for _, d := range p.deny {
		if strings.Contains(lc, d) {
			return Validation{Valid: false, Warning: fmt.Sprintf("Command contains potentially dangerous operation: %s", d)}
		}
	}

	if recursiveForceDelete(lc) {
		return Validation{Valid: false, Warning: "Command contains potentially dangerous operation: recursive force delete"}
	}

	for _, l := range p.longRunning {
		if matchesCommand(lc, l) {
			return Validation{Valid: true, Warning: fmt.Sprintf("This command may run indefinitely: %s", l)}
		}
	}

	return Validation{Valid: true}
}

// recursiveForceDelete finds an rm invocation carrying both a recursive and a
// force flag in any spelling: split, combined or long form
func recursiveForceDelete(lc string) bool {
	for _, segment := range shellSeparator.Split(lc, -1) {
		fields := strings.Fields(segment)
		i := 0
		for i < len(fields) && (envAssignPattern.MatchString(fields[i]) || fields[i] == "sudo") {
			i++
		}
		if i >= len(fields) || (fields[i] != "rm" && !strings.HasSuffix(fields[i], "/rm")) {
			continue
		}

		var recursive, force bool
		for _, arg := range fields[i+1:] {
			if arg == "--" {
				break
			}
			switch {
			case arg == "--recursive":
				recursive = true
			case arg == "--force":
				force = true
			case strings.HasPrefix(arg, "--"):
			case strings.HasPrefix(arg, "-"):
				recursive = recursive || strings.Contains(arg, "r")
				force = force || strings.Contains(arg, "f")
			}
		}
		if recursive && force {
			return true
		}
	}
	return false
}

// matchesCommand matches pattern at a word boundary so "serve" does not hit
// "npm run preserve"
func matchesCommand(lc, pattern string) bool {
	idx := strings.Index(lc, pattern)
	for idx >= 0 {
		before := idx == 0 || !isWordByte(lc[idx-1])
		end := idx + len(pattern)
		after := end >= len(lc) || !isWordByte(lc[end]) || strings.HasSuffix(pattern, " ")
		if before && after {
			return true
		}
		next := strings.Index(lc[idx+1:], pattern)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// Classify picks the timeout class for a command
func (p *Policy) Classify(command string) Class {
	lc := strings.ToLower(strings.TrimSpace(command))
	if p.IsInstall(lc) {
		return ClassInstall
	}
	for _, b := range p.build {
		if matchesCommand(lc, b) {
			return ClassBuild
		}
	}
	return ClassDefault
}

// IsInstall reports whether a command installs dependencies. A batch holding
// one runs serially.
func (p *Policy) IsInstall(command string) bool {
	lc := strings.ToLower(strings.TrimSpace(command))
	for _, i := range p.install {
		if matchesCommand(lc, i) || lc == strings.TrimSpace(i) {
			return true
		}
	}
	return false
}

// IsCacheable reports whether a command is a read-only query whose result may
// be reused
func (p *Policy) IsCacheable(command string) bool {
	_, ok := p.cacheable[strings.TrimSpace(command)]
	return ok
}

// ExtractCommands splits a command block into executable lines, dropping
// noise and duplicates while keeping order
func (p *Policy) ExtractCommands(block string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !p.IsExecutable(line) {
			logger.Debug("command: dropping non-shell line %q", line)
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
