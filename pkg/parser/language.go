package parser

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

var extensionLanguages = map[string]string{
	"ts":   "typescript",
	"tsx":  "tsx",
	"js":   "javascript",
	"jsx":  "jsx",
	"py":   "python",
	"json": "json",
	"css":  "css",
	"scss": "scss",
	"html": "html",
	"md":   "markdown",
	"yml":  "yaml",
	"yaml": "yaml",
	"xml":  "xml",
	"sql":  "sql",
	"sh":   "bash",
	"bash": "bash",
}

// LanguageForFile derives a highlighting language from a filename. Known web
// extensions use a fixed table; anything else asks chroma's lexer registry.
func LanguageForFile(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if i := strings.LastIndex(base, "."); i >= 0 {
		if lang, ok := extensionLanguages[strings.ToLower(base[i+1:])]; ok {
			return lang
		}
	}

	if lexer := lexers.Match(base); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return "text"
}
