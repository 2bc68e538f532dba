package stream

import (
	"context"
	"io"
)

// Handler receives a model response as it streams
type Handler interface {
	// OnChunk is called for every raw fragment, which may end mid-rune.
	OnChunk(chunk []byte) error

	// OnComplete is called once with the full response text.
	OnComplete(finalContent string) error

	// OnError is called when the stream fails.
	OnError(err error)
}

// HandlerFunc is a function adapter for Handler interface
type HandlerFunc struct {
	ChunkFunc    func(chunk []byte) error
	CompleteFunc func(finalContent string) error
	ErrorFunc    func(err error)
}

// OnChunk implements Handler
func (h HandlerFunc) OnChunk(chunk []byte) error {
	if h.ChunkFunc != nil {
		return h.ChunkFunc(chunk)
	}
	return nil
}

// OnComplete implements Handler
func (h HandlerFunc) OnComplete(finalContent string) error {
	if h.CompleteFunc != nil {
		return h.CompleteFunc(finalContent)
	}
	return nil
}

// OnError implements Handler
func (h HandlerFunc) OnError(err error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}

// ToStreamingFunc converts a Handler to the llms.WithStreamingFunc signature
func ToStreamingFunc(handler Handler) func(context.Context, []byte) error {
	return func(ctx context.Context, chunk []byte) error {
		select {
		case <-ctx.Done():
			handler.OnError(ctx.Err())
			return ctx.Err()
		default:
			return handler.OnChunk(chunk)
		}
	}
}

// PipeHandler forwards fragments into an io.PipeWriter so a producer callback
// can be consumed as an io.Reader.
type PipeHandler struct {
	w *io.PipeWriter
}

// NewPipe returns a reader and the handler feeding it
func NewPipe() (*io.PipeReader, *PipeHandler) {
	r, w := io.Pipe()
	return r, &PipeHandler{w: w}
}

// OnChunk implements Handler
func (p *PipeHandler) OnChunk(chunk []byte) error {
	_, err := p.w.Write(chunk)
	return err
}

// OnComplete implements Handler
func (p *PipeHandler) OnComplete(string) error {
	return p.w.Close()
}

// OnError implements Handler
func (p *PipeHandler) OnError(err error) {
	p.w.CloseWithError(err)
}

// Collect reads r to completion through a Decoder, calling h along the way
func Collect(r io.Reader, h Handler) (string, error) {
	dec := NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			dec.Write(chunk)
			if herr := h.OnChunk(chunk); herr != nil {
				h.OnError(herr)
				return dec.Text(), herr
			}
		}
		if err == io.EOF {
			dec.Flush()
			return dec.Text(), h.OnComplete(dec.Text())
		}
		if err != nil {
			h.OnError(err)
			return dec.Text(), err
		}
	}
}

var (
	_ Handler = HandlerFunc{}
	_ Handler = (*PipeHandler)(nil)
)
