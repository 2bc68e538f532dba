package feedback

import (
	"context"
	"errors"
)

// ErrCrossOrigin is returned by an Injector when the preview document cannot
// be reached. It is an expected outcome, not a failure.
var ErrCrossOrigin = errors.New("preview is cross-origin")

// Injector installs a script into the preview document
type Injector interface {
	InjectScript(ctx context.Context, script string) error
}

// InjectorFunc adapts a function to Injector
type InjectorFunc func(ctx context.Context, script string) error

func (f InjectorFunc) InjectScript(ctx context.Context, script string) error {
	return f(ctx, script)
}

// ErrorCaptureScript forwards uncaught errors, unhandled rejections and
// console.error calls from the preview to its parent window
const ErrorCaptureScript = `
window.addEventListener('error', function(event) {
  try {
    if (event.message && !event.message.includes('Script error') && !event.message.includes('cross-origin')) {
      window.parent.postMessage({
        type: 'error',
        message: event.message,
        filename: event.filename,
        lineno: event.lineno,
        colno: event.colno,
        stack: event.error ? event.error.stack : ''
      }, '*');
    }
  } catch (e) {}
});

window.addEventListener('unhandledrejection', function(event) {
  try {
    window.parent.postMessage({
      type: 'error',
      message: 'Unhandled Promise Rejection: ' + String(event.reason),
      filename: 'unknown',
      lineno: 0,
      colno: 0,
      stack: event.reason && event.reason.stack ? event.reason.stack : ''
    }, '*');
  } catch (e) {}
});

const originalError = console.error;
console.error = function(...args) {
  originalError.apply(console, args);
  try {
    const message = args.join(' ');
    if (!message.includes('cross-origin') && !message.includes('Script error')) {
      window.parent.postMessage('error:' + message, '*');
    }
  } catch (e) {}
};
`
