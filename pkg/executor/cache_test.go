package executor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("expires after ttl", func(t *testing.T) {
		c := newResultCache(15*time.Second, 20)
		c.now = clock
		c.put("ls", CommandResult{Command: "ls", Success: true})

		now = now.Add(14 * time.Second)
		_, ok := c.get("ls")
		assert.True(t, ok)

		now = now.Add(time.Second)
		_, ok = c.get("ls")
		assert.False(t, ok)
		assert.Equal(t, 0, c.snapshot().Size)
	})

	t.Run("evicts the older half when full", func(t *testing.T) {
		c := newResultCache(time.Hour, 4)
		c.now = clock
		for i := 0; i < 4; i++ {
			now = now.Add(time.Second)
			c.put(fmt.Sprintf("cmd%d", i), CommandResult{})
		}

		now = now.Add(time.Second)
		c.put("cmd4", CommandResult{})

		stats := c.snapshot()
		assert.Equal(t, 3, stats.Size)
		assert.Equal(t, int64(2), stats.Evictions)
		_, ok := c.get("cmd0")
		assert.False(t, ok)
		_, ok = c.get("cmd3")
		assert.True(t, ok)
	})

	t.Run("overwriting does not evict", func(t *testing.T) {
		c := newResultCache(time.Hour, 2)
		c.now = clock
		c.put("a", CommandResult{Output: "1"})
		c.put("b", CommandResult{})
		c.put("a", CommandResult{Output: "2"})

		r, ok := c.get("a")
		assert.True(t, ok)
		assert.Equal(t, "2", r.Output)
		assert.Equal(t, int64(0), c.snapshot().Evictions)
	})

	t.Run("defaults for invalid sizes", func(t *testing.T) {
		c := newResultCache(0, 0)
		assert.Equal(t, 15*time.Second, c.ttl)
		assert.Equal(t, 20, c.snapshot().MaxSize)
	})
}

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"plain", "hello", "hello"},
		{"ansi colors", "\x1b[32m✓\x1b[0m built in 1.2s", "✓ built in 1.2s"},
		{"crlf", "line1\r\nline2\r\n", "line1\nline2"},
		{"carriage return progress", "50%\r100%", "50%100%"},
		{"blank edges", "\n\n  \nresult\n\n", "result"},
		{"inner blank lines kept", "a\n\nb", "a\n\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanOutput(tt.raw))
		})
	}
}
