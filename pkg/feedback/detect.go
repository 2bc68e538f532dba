package feedback

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tidwall/gjson"
)

var errorSignature = regexp.MustCompile(`(?i)error|not found|failed|unexpected|syntaxerror|referenceerror|typeerror|does not provide an export|cannot resolve|module not found|compilation failed|build failed`)

// IsLikelyError reports whether text carries one of the known failure
// signatures
func IsLikelyError(text string) bool {
	return errorSignature.MatchString(text)
}

// DetectError extracts error context from a piece of process output. A JSON
// line with an "error" field yields that field; otherwise the whole text is
// returned when it looks like a failure.
func DetectError(data string) (string, bool) {
	trimmed := strings.TrimSpace(ansi.Strip(data))
	if trimmed == "" {
		return "", false
	}

	if gjson.Valid(trimmed) {
		if field := gjson.Get(trimmed, "error"); field.Exists() && field.Type != gjson.Null {
			return field.Raw, true
		}
	}

	if IsLikelyError(trimmed) {
		return trimmed, true
	}
	return "", false
}
