package materializer_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/sandbox"
	"github.com/killallgit/stak/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type editor struct {
	mu    sync.Mutex
	paths []string
	code  string
}

func (e *editor) SetCode(path, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, path)
	e.code = content
}

func newMaterializer() (*materializer.Materializer, *testutil.FakeSandbox, *editor) {
	sb := testutil.NewFakeSandbox()
	ed := &editor{}
	m := materializer.New(sb, "my-app", config.MaterializerConfig{}).WithEditor(ed)
	return m, sb, ed
}

func TestNormalizePath(t *testing.T) {
	m, _, _ := newMaterializer()

	tests := []struct {
		in   string
		want string
	}{
		{"App.css", "App.css"},
		{"/index.css", "index.css"},
		{"./globals.css", "globals.css"},
		{"src/components/Button.tsx", "src/components/Button.tsx"},
		{"public/favicon.svg", "public/favicon.svg"},
		{"styles/theme.css", "styles/theme.css"},
		{"package.json", "package.json"},
		{"components/Button.css", "src/components/Button.css"},
		{"Header.css", "src/Header.css"},
		{"reset.css", "reset.css"},
		{"App.tsx", "src/App.tsx"},
		{"utils.ts", "src/utils.ts"},
		{"Components/Card.jsx", "src/Components/Card.jsx"},
		{"hooks/useData.ts", "hooks/useData.ts"},
		{"index.html", "index.html"},
		{"//src//main.tsx", "src/main.tsx"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := m.NormalizePath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects escapes", func(t *testing.T) {
		_, err := m.NormalizePath("../../etc/passwd")
		assert.ErrorIs(t, err, sandbox.ErrOutsideRoot)
	})

	t.Run("rejects empty names", func(t *testing.T) {
		_, err := m.NormalizePath(" / ")
		assert.Error(t, err)
	})
}

func TestIsEntryFile(t *testing.T) {
	m, _, _ := newMaterializer()

	assert.True(t, m.IsEntryFile("src/App.tsx"))
	assert.True(t, m.IsEntryFile("src/index.js"))
	assert.True(t, m.IsEntryFile("packages/web/src/App.tsx"))
	assert.False(t, m.IsEntryFile("src/components/App.css"))
	assert.False(t, m.IsEntryFile("src/MyApp.tsx"))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "5:hello", materializer.Fingerprint("hello"))

	long := strings.Repeat("é", 60)
	fp := materializer.Fingerprint(long)
	assert.True(t, strings.HasPrefix(fp, "120:"))
	assert.Equal(t, strings.Repeat("é", 50), strings.TrimPrefix(fp, "120:"))
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()

	t.Run("writes into the project directory", func(t *testing.T) {
		m, sb, ed := newMaterializer()

		r := m.Materialize(ctx, "components/Button.css", ".btn { color: red; }")

		assert.True(t, r.Success)
		assert.False(t, r.Entry)
		assert.Equal(t, "src/components/Button.css", r.Path)
		assert.Equal(t, ".btn { color: red; }", sb.MustRead("my-app/src/components/Button.css"))
		assert.Empty(t, ed.paths)
	})

	t.Run("entry files update the editor", func(t *testing.T) {
		m, sb, ed := newMaterializer()

		r := m.Materialize(ctx, "App.tsx", "export default function App() {}")

		assert.True(t, r.Success)
		assert.True(t, r.Entry)
		assert.Equal(t, "export default function App() {}", sb.MustRead("my-app/src/App.tsx"))
		assert.Equal(t, []string{"src/App.tsx"}, ed.paths)
		assert.Equal(t, "export default function App() {}", ed.code)
	})

	t.Run("empty entry files are skipped", func(t *testing.T) {
		m, sb, ed := newMaterializer()

		r := m.Materialize(ctx, "src/App.tsx", "   ")

		assert.True(t, r.Skipped)
		assert.False(t, sb.Exists("my-app/src/App.tsx"))
		assert.Empty(t, ed.paths)
	})

	t.Run("same content twice is written once", func(t *testing.T) {
		m, _, _ := newMaterializer()

		first := m.Materialize(ctx, "utils.ts", "export const x = 1")
		second := m.Materialize(ctx, "utils.ts", "export const x = 1")
		changed := m.Materialize(ctx, "utils.ts", "export const x = 2")

		assert.False(t, first.Skipped)
		assert.True(t, second.Skipped)
		assert.False(t, changed.Skipped)
		assert.Equal(t, 2, m.Processed())

		m.Reset()
		assert.False(t, m.Materialize(ctx, "utils.ts", "export const x = 1").Skipped)
	})

	t.Run("write failures are reported", func(t *testing.T) {
		m, sb, _ := newMaterializer()
		sb.FailWrites("my-app/src/App.css", testutil.ErrDiskFull)

		r := m.Materialize(ctx, "src/App.css", "body {}")

		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "failed to write file")
		assert.Contains(t, r.Error, testutil.ErrDiskFull.Error())
	})

	t.Run("a failed write is retried", func(t *testing.T) {
		m, sb, _ := newMaterializer()
		sb.FailWrites("my-app/src/utils.ts", testutil.ErrDiskFull)

		first := m.Materialize(ctx, "utils.ts", "export const x = 1")
		require.False(t, first.Success)
		assert.Equal(t, 0, m.Processed())

		sb.RestoreWrites("my-app/src/utils.ts")
		second := m.Materialize(ctx, "utils.ts", "export const x = 1")

		assert.True(t, second.Success)
		assert.False(t, second.Skipped)
		assert.Equal(t, "export const x = 1", sb.MustRead("my-app/src/utils.ts"))
		assert.Equal(t, 1, m.Processed())
	})

	t.Run("paths naming the same file are written once", func(t *testing.T) {
		m, _, _ := newMaterializer()

		first := m.Materialize(ctx, "App.tsx", "export default 1")
		second := m.Materialize(ctx, "src/App.tsx", "export default 1")
		third := m.Materialize(ctx, "./src/App.tsx", "export default 1")

		assert.False(t, first.Skipped)
		assert.True(t, second.Skipped)
		assert.True(t, third.Skipped)
		assert.Equal(t, 1, m.Processed())
	})

	t.Run("escaping paths are rejected", func(t *testing.T) {
		m, _, _ := newMaterializer()

		r := m.Materialize(ctx, "../outside.js", "x")

		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "invalid path")
	})

	t.Run("cancelled context writes nothing", func(t *testing.T) {
		m, sb, _ := newMaterializer()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		r := m.Materialize(cctx, "utils.ts", "x")

		assert.False(t, r.Success)
		assert.False(t, sb.Exists("my-app/src/utils.ts"))
		assert.Equal(t, 0, m.Processed())
	})
}

const response = `Here is your app:

---filename: App.tsx---
import './App.css'
export default function App() { return <h1>Hi</h1> }
---end---

---filename: App.css---
h1 { color: teal; }
---end---

` + "```bash\nnpm install\n```"

func TestProcessResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("writes every file block", func(t *testing.T) {
		m, sb, ed := newMaterializer()

		results := m.ProcessResponse(ctx, response)

		require.Len(t, results, 2)
		assert.Equal(t, "App.tsx", results[0].Filename)
		assert.Equal(t, "src/App.tsx", results[0].Path)
		assert.Equal(t, "App.css", results[1].Path)
		assert.Contains(t, sb.MustRead("my-app/src/App.tsx"), "<h1>Hi</h1>")
		assert.Equal(t, "h1 { color: teal; }", sb.MustRead("my-app/App.css"))
		assert.Len(t, ed.paths, 1)
	})

	t.Run("one failure does not stop siblings", func(t *testing.T) {
		m, sb, _ := newMaterializer()
		sb.FailWrites("my-app/src/App.tsx", testutil.ErrDiskFull)

		results := m.ProcessResponse(ctx, response)

		require.Len(t, results, 2)
		assert.False(t, results[0].Success)
		assert.True(t, results[1].Success)
	})

	t.Run("the final pass retries files that failed during the stream", func(t *testing.T) {
		m, sb, _ := newMaterializer()
		sb.FailWrites("my-app/src/App.tsx", testutil.ErrDiskFull)

		streamed := m.ProcessStreaming(ctx, response)
		require.Len(t, streamed, 2)
		assert.False(t, streamed[0].Success)

		sb.RestoreWrites("my-app/src/App.tsx")
		final := m.ProcessResponse(ctx, response)

		require.Len(t, final, 1)
		assert.True(t, final[0].Success)
		assert.Equal(t, "src/App.tsx", final[0].Path)
		assert.Contains(t, sb.MustRead("my-app/src/App.tsx"), "<h1>Hi</h1>")
	})

	t.Run("rejected paths are reported once", func(t *testing.T) {
		m, _, _ := newMaterializer()
		bad := "---filename: ../evil.js---\nx\n---end---"

		assert.Len(t, m.ProcessResponse(ctx, bad), 1)
		assert.Empty(t, m.ProcessResponse(ctx, bad))
	})

	t.Run("streaming writes closed blocks once", func(t *testing.T) {
		m, sb, _ := newMaterializer()

		cut := strings.Index(response, "---filename: App.css---") + 10
		var all []materializer.FileProcessingResult
		for i := 1; i <= len(response); i += 7 {
			all = append(all, m.ProcessStreaming(ctx, response[:i])...)
			if i < cut {
				assert.False(t, sb.Exists("my-app/App.css"))
			}
		}
		all = append(all, m.ProcessStreaming(ctx, response)...)
		all = append(all, m.ProcessResponse(ctx, response)...)

		require.Len(t, all, 2)
		assert.Empty(t, sb.Spawns(), "materializing never spawns commands")
	})

	t.Run("chunks from the parser", func(t *testing.T) {
		m, _, _ := newMaterializer()
		chunks := parser.Parse(response).Chunks

		results := m.ProcessChunks(ctx, chunks)

		assert.Len(t, results, 2)
	})
}
