package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/stak/pkg/chat"
)

// ErrSimulatedStream is the default error injected by WithFailure
var ErrSimulatedStream = errors.New("simulated streaming error")

// FakeModel streams canned responses in fixed-size byte chunks. Chunks are cut
// on byte boundaries, so multi-byte runes regularly arrive split.
type FakeModel struct {
	mu         sync.Mutex
	responses  []string
	calls      [][]chat.Message
	streamIDs  []string
	chunkSize  int
	chunkDelay time.Duration
	failAfter  int
	failErr    error
	hangAfter  int
	openErr    error
}

// NewFakeModel returns a model answering with responses in order; the last
// response repeats once the list is exhausted
func NewFakeModel(responses ...string) *FakeModel {
	return &FakeModel{
		responses: responses,
		chunkSize: 5,
	}
}

func (m *FakeModel) WithChunkSize(n int) *FakeModel {
	if n > 0 {
		m.chunkSize = n
	}
	return m
}

func (m *FakeModel) WithChunkDelay(d time.Duration) *FakeModel {
	m.chunkDelay = d
	return m
}

// WithFailure breaks the stream with err after n chunks
func (m *FakeModel) WithFailure(n int, err error) *FakeModel {
	if err == nil {
		err = ErrSimulatedStream
	}
	m.failAfter, m.failErr = n, err
	return m
}

// WithHang stops sending after n chunks and waits for cancellation
func (m *FakeModel) WithHang(n int) *FakeModel {
	m.hangAfter = n
	return m
}

// WithOpenError makes Stream itself fail
func (m *FakeModel) WithOpenError(err error) *FakeModel {
	m.openErr = err
	return m
}

// Calls returns the number of Stream invocations
func (m *FakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages returns the history passed to the latest Stream call
func (m *FakeModel) LastMessages() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// LastStreamID identifies the most recent stream, for log correlation
func (m *FakeModel) LastStreamID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streamIDs) == 0 {
		return ""
	}
	return m.streamIDs[len(m.streamIDs)-1]
}

// Stream implements llm.Model
func (m *FakeModel) Stream(ctx context.Context, messages []chat.Message) (io.ReadCloser, error) {
	m.mu.Lock()
	if m.openErr != nil {
		m.mu.Unlock()
		return nil, m.openErr
	}
	idx := len(m.calls)
	m.calls = append(m.calls, append([]chat.Message(nil), messages...))
	m.streamIDs = append(m.streamIDs, uuid.NewString())
	response := ""
	if len(m.responses) > 0 {
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		response = m.responses[idx]
	}
	m.mu.Unlock()

	r, w := io.Pipe()
	go func() {
		sent := 0
		for i := 0; i < len(response); i += m.chunkSize {
			if m.failAfter > 0 && sent >= m.failAfter {
				w.CloseWithError(m.failErr)
				return
			}
			if m.hangAfter > 0 && sent >= m.hangAfter {
				<-ctx.Done()
				w.CloseWithError(ctx.Err())
				return
			}
			if m.chunkDelay > 0 {
				select {
				case <-time.After(m.chunkDelay):
				case <-ctx.Done():
					w.CloseWithError(ctx.Err())
					return
				}
			}

			end := i + m.chunkSize
			if end > len(response) {
				end = len(response)
			}
			if _, err := w.Write([]byte(response[i:end])); err != nil {
				return
			}
			sent++
		}
		if m.hangAfter > 0 && sent >= m.hangAfter {
			<-ctx.Done()
			w.CloseWithError(ctx.Err())
			return
		}
		w.Close()
	}()
	return r, nil
}
