package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultPartialMinLength is the body length an unclosed file block needs
// before it is surfaced
const DefaultPartialMinLength = 40

var (
	fileHeaderPattern = regexp.MustCompile(`---filename:\s*(.+?)---`)
	fileEndMarker     = "---end---"
)

// PartialFile is the in-progress body of a file block whose end marker has not
// arrived yet. It is for live display only and must never trigger writes.
type PartialFile struct {
	Filename string
	Language string
	Content  string
}

// ParsePartialFile finds the last file block in buffer that is still open. It
// returns false when there is none or its body is shorter than minLength runes.
func ParsePartialFile(buffer string, minLength int) (PartialFile, bool) {
	if minLength <= 0 {
		minLength = DefaultPartialMinLength
	}

	headers := fileHeaderPattern.FindAllStringSubmatchIndex(buffer, -1)
	if len(headers) == 0 {
		return PartialFile{}, false
	}

	h := headers[len(headers)-1]
	body := buffer[h[1]:]
	if strings.Contains(body, fileEndMarker) {
		return PartialFile{}, false
	}

	// the end marker may be arriving one dash at a time
	if i := strings.LastIndex(body, "\n---"); i >= 0 && strings.HasPrefix(fileEndMarker, strings.TrimSpace(body[i+1:])) {
		body = body[:i]
	}

	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) < minLength {
		return PartialFile{}, false
	}

	name := strings.TrimSpace(buffer[h[2]:h[3]])
	return PartialFile{Filename: name, Language: LanguageForFile(name), Content: body}, true
}
