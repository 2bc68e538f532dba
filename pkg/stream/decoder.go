package stream

import (
	"strings"
	"unicode/utf8"
)

// Decoder turns a sequence of byte fragments into text. A multi-byte UTF-8
// sequence split across fragments is held back until it completes, so every
// string returned by Write is valid UTF-8.
type Decoder struct {
	pending []byte
	buf     strings.Builder
}

// NewDecoder returns an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends a fragment and returns the newly decodable text
func (d *Decoder) Write(p []byte) string {
	if len(p) == 0 {
		return ""
	}

	data := p
	if len(d.pending) > 0 {
		data = append(d.pending, p...)
		d.pending = nil
	}

	cut := incompleteTail(data)
	if cut < len(data) {
		d.pending = append([]byte(nil), data[cut:]...)
		data = data[:cut]
	}

	text := strings.ToValidUTF8(string(data), string(utf8.RuneError))
	d.buf.WriteString(text)
	return text
}

// Flush emits whatever is still held back at end of stream
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = nil
	d.buf.WriteString(text)
	return text
}

// Text returns everything decoded so far
func (d *Decoder) Text() string {
	return d.buf.String()
}

// Len returns the byte length of the decoded text
func (d *Decoder) Len() int {
	return d.buf.Len()
}

// Reset drops all state
func (d *Decoder) Reset() {
	d.pending = nil
	d.buf.Reset()
}

// incompleteTail returns the index where a trailing, not yet complete UTF-8
// sequence starts, or len(p) if the fragment ends on a rune boundary.
func incompleteTail(p []byte) int {
	n := len(p)
	for i := 1; i <= utf8.UTFMax-1 && i <= n; i++ {
		b := p[n-i]
		if b < utf8.RuneSelf {
			return n
		}
		if !utf8.RuneStart(b) {
			continue
		}
		if need := seqLen(b); need > i {
			return n - i
		}
		return n
	}
	return n
}

func seqLen(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
