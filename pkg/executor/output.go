package executor

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// CleanOutput strips terminal escape sequences and normalizes line endings.
// Blank lines at either end are dropped.
func CleanOutput(raw string) string {
	if raw == "" {
		return raw
	}

	s := ansi.Strip(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")

	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 || strings.TrimSpace(s[:i]) != "" {
			break
		}
		s = s[i+1:]
	}
	for {
		i := strings.LastIndexByte(s, '\n')
		if i < 0 || strings.TrimSpace(s[i+1:]) != "" {
			break
		}
		s = s[:i]
	}
	return s
}
