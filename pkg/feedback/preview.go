package feedback

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const rejectionPrefix = "Unhandled Promise Rejection: "

// RuntimeError is an uncaught error reported by the running preview
type RuntimeError struct {
	Message   string `json:"message"`
	Filename  string `json:"filename,omitempty"`
	Line      int    `json:"lineno,omitempty"`
	Col       int    `json:"colno,omitempty"`
	Stack     string `json:"stack,omitempty"`
	Rejection bool   `json:"rejection,omitempty"`
}

// String renders the error the way it is shown to the model
func (e RuntimeError) String() string {
	if e.Rejection {
		return rejectionPrefix + e.Message
	}
	return fmt.Sprintf("JavaScript Error: %s (at %s:%d:%d)", e.Message, e.Filename, e.Line, e.Col)
}

// PreviewKind classifies a message posted by the preview page
type PreviewKind int

const (
	PreviewIgnored PreviewKind = iota
	PreviewConsole
	PreviewError
)

// PreviewMessage is a decoded preview event. Text holds console output for
// PreviewConsole and the error context for PreviewError.
type PreviewMessage struct {
	Kind PreviewKind
	Text string
}

// ParsePreviewMessage decodes "console:<msg>", "error:<msg>" and JSON error
// objects as posted by ErrorCaptureScript. Cross-origin noise is ignored.
func ParsePreviewMessage(raw string) PreviewMessage {
	switch {
	case strings.HasPrefix(raw, "console:"):
		return PreviewMessage{Kind: PreviewConsole, Text: strings.TrimPrefix(raw, "console:")}
	case strings.HasPrefix(raw, "error:"):
		msg := strings.TrimPrefix(raw, "error:")
		if isCrossOriginNoise(msg) {
			return PreviewMessage{}
		}
		return PreviewMessage{Kind: PreviewError, Text: "Preview Error: " + msg}
	}

	rt, ok := ParseRuntimeError(raw)
	if !ok || isCrossOriginNoise(rt.Message) {
		return PreviewMessage{}
	}
	return PreviewMessage{Kind: PreviewError, Text: rt.String()}
}

// ParseRuntimeError decodes a JSON error event. Both {type:"error"} objects
// and {type:"unhandledrejection", reason} objects are accepted.
func ParseRuntimeError(raw string) (RuntimeError, bool) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return RuntimeError{}, false
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return RuntimeError{}, false
	}

	switch obj.Get("type").String() {
	case "error":
		rt := RuntimeError{
			Message:  obj.Get("message").String(),
			Filename: obj.Get("filename").String(),
			Line:     int(obj.Get("lineno").Int()),
			Col:      int(obj.Get("colno").Int()),
			Stack:    obj.Get("stack").String(),
		}
		if strings.HasPrefix(rt.Message, rejectionPrefix) {
			rt.Message = strings.TrimPrefix(rt.Message, rejectionPrefix)
			rt.Rejection = true
		}
		return rt, true
	case "unhandledrejection":
		return RuntimeError{Message: obj.Get("reason").String(), Rejection: true}, true
	}
	return RuntimeError{}, false
}

func isCrossOriginNoise(msg string) bool {
	return strings.Contains(msg, "Script error") || strings.Contains(msg, "cross-origin")
}
