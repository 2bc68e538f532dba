package session_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/feedback"
	"github.com/killallgit/stak/pkg/llm"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/process"
	"github.com/killallgit/stak/pkg/session"
	"github.com/killallgit/stak/pkg/testutil"
)

const appReply = "I'll create the app.\n\n" +
	"---filename: App.tsx---\n" +
	"export default function App() {\n  return <h1>Héllo 🚀</h1>\n}\n" +
	"---end---\n\n" +
	"```bash\nnpm install\nnpm run build\n```\n\nDone!"

type recorder struct {
	session.NopObserver

	mu       sync.Mutex
	updates  int
	last     []chat.Message
	partials []parser.PartialFile
	files    []materializer.FileProcessingResult
	commands []executor.CommandResult
	states   []process.State
	terminal strings.Builder
}

func (r *recorder) OnMessages(messages []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	r.last = messages
}

func (r *recorder) OnPartialFile(file parser.PartialFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, file)
}

func (r *recorder) OnTerminal(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal.Write(data)
}

func (r *recorder) OnFiles(results []materializer.FileProcessingResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, results...)
}

func (r *recorder) OnCommands(results []executor.CommandResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, results...)
}

func (r *recorder) OnState(state process.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) States() []process.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]process.State(nil), r.states...)
}

func (r *recorder) Partials() []parser.PartialFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]parser.PartialFile(nil), r.partials...)
}

func (r *recorder) Files() []materializer.FileProcessingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]materializer.FileProcessingResult(nil), r.files...)
}

func (r *recorder) Terminal() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal.String()
}

func executorConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		Timeouts: config.TimeoutsConfig{
			Default: time.Second,
			Build:   time.Second,
			Install: time.Second,
		},
		Cache:           config.CacheConfig{TTL: time.Minute, MaxSize: 20},
		KillOnTimeout:   true,
		OutputGrace:     20 * time.Millisecond,
		Allow:           config.DefaultAllow,
		Deny:            config.DefaultDeny,
		LongRunning:     config.DefaultLongRunning,
		InstallPatterns: config.DefaultInstallPatterns,
		BuildPatterns:   config.DefaultBuildPatterns,
		Cacheable:       config.DefaultCacheable,
	}
}

func contents(messages []chat.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

var _ = Describe("Session", func() {
	var (
		ctx  context.Context
		sb   *testutil.FakeSandbox
		exec *executor.Executor
		mat  *materializer.Materializer
		obs  *recorder
		loop *feedback.Loop
	)

	newSession := func(model llm.Model) *session.Session {
		return session.New(session.Options{
			Model:        model,
			ModelName:    "fake",
			Executor:     exec,
			Materializer: mat,
			Feedback:     loop,
			Observer:     obs,
			Config:       config.SessionConfig{ThrottleInterval: time.Millisecond, ThrottleBytes: 1},
			PartialMin:   10,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		sb = testutil.NewFakeSandbox()
		cfg := executorConfig()
		exec = executor.New(sb, nil, cfg, "my-app")
		mat = materializer.New(sb, "my-app", config.MaterializerConfig{})
		obs = &recorder{}
		loop = nil
	})

	AfterEach(func() {
		if loop != nil {
			loop.Stop()
		}
		exec.Close()
	})

	Describe("a complete turn", func() {
		It("writes files, runs commands and summarizes", func() {
			model := testutil.NewFakeModel(appReply).WithChunkSize(3)
			s := newSession(model)

			res, err := s.Send(ctx, "  Build a hello app  ")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Message.Content).To(Equal(appReply))
			Expect(res.Files).To(HaveLen(1))
			Expect(res.Files[0].Path).To(Equal("src/App.tsx"))
			Expect(res.Files[0].Success).To(BeTrue())
			Expect(res.Commands).To(HaveLen(2))
			Expect(res.Commands[0].Success).To(BeTrue())
			Expect(res.Commands[1].Success).To(BeTrue())

			Expect(sb.MustRead("my-app/src/App.tsx")).To(ContainSubstring("Héllo 🚀"))
			Expect(sb.Spawns()).To(Equal([]string{"npm install", "npm run build"}))
			Expect(sb.Cwds()).To(Equal([]string{"my-app", "my-app"}))

			messages := s.Messages()
			Expect(messages).To(HaveLen(3))
			Expect(messages[0].Role).To(Equal(chat.RoleUser))
			Expect(messages[0].Content).To(Equal("Build a hello app"))
			Expect(messages[1].Role).To(Equal(chat.RoleAssistant))
			Expect(messages[1].ID).To(Equal(res.ID))
			Expect(messages[1].Content).To(Equal(appReply))
			Expect(messages[1].Chunks).NotTo(BeEmpty())
			Expect(messages[2].Role).To(Equal(chat.RoleSystem))
			Expect(messages[2].Content).To(ContainSubstring("✅ File written: src/App.tsx"))
			Expect(messages[2].Content).To(ContainSubstring("✅ Command completed: npm install"))
			Expect(messages[2].Content).To(ContainSubstring("✅ Command completed: npm run build"))

			Expect(s.Busy()).To(BeFalse())
			Expect(s.State()).To(Equal(process.StateIdle))
			Expect(obs.States()).To(Equal([]process.State{
				process.StateSending,
				process.StateReceiving,
				process.StateWriting,
				process.StateExecuting,
				process.StateIdle,
			}))
		})

		It("keeps multi-byte characters intact across single byte reads", func() {
			model := testutil.NewFakeModel("Ünïcödé ✓ 日本語 🚀").WithChunkSize(1)
			s := newSession(model)

			res, err := s.Send(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Message.Content).To(Equal("Ünïcödé ✓ 日本語 🚀"))
		})

		It("sends the history without the pending reply", func() {
			model := testutil.NewFakeModel("first", "second")
			s := newSession(model)

			_, err := s.Send(ctx, "one")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Send(ctx, "two")
			Expect(err).NotTo(HaveOccurred())

			Expect(contents(model.LastMessages())).To(Equal([]string{"one", "first", "two"}))
			Expect(contents(s.Messages())).To(Equal([]string{"one", "first", "two", "second"}))
		})

		It("publishes partial file blocks while they stream", func() {
			body := strings.Repeat("const value = 1;\n", 8)
			model := testutil.NewFakeModel("---filename: src/components/Counter.tsx---\n" + body + "---end---")
			s := newSession(model)

			_, err := s.Send(ctx, "counter please")
			Expect(err).NotTo(HaveOccurred())

			partials := obs.Partials()
			Expect(partials).NotTo(BeEmpty())
			Expect(partials[len(partials)-1].Filename).To(Equal("src/components/Counter.tsx"))
			Expect(partials[len(partials)-1].Content).To(HavePrefix("const value = 1;"))
			Expect(sb.MustRead("my-app/src/components/Counter.tsx")).To(Equal(strings.TrimSpace(body)))
		})
	})

	Describe("input validation", func() {
		It("rejects blank messages", func() {
			model := testutil.NewFakeModel("unused")
			s := newSession(model)

			_, err := s.Send(ctx, "   \n")
			Expect(err).To(MatchError(session.ErrEmptyMessage))
			Expect(s.Messages()).To(BeEmpty())
			Expect(model.Calls()).To(Equal(0))
		})

		It("accepts an image without text", func() {
			model := testutil.NewFakeModel("nice picture")
			s := newSession(model)

			_, err := s.Send(ctx, "", chat.Image{MimeType: "image/png", Data: "aGVsbG8="})
			Expect(err).NotTo(HaveOccurred())
			Expect(model.LastMessages()[0].Images).To(HaveLen(1))
		})
	})

	Describe("stream failures", func() {
		It("leaves an error placeholder when the stream breaks", func() {
			model := testutil.NewFakeModel(appReply).WithFailure(3, nil)
			s := newSession(model)

			_, err := s.Send(ctx, "build it")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, testutil.ErrSimulatedStream)).To(BeTrue())

			messages := s.Messages()
			Expect(messages).To(HaveLen(2))
			Expect(messages[1].Content).To(Equal(session.ErrorPlaceholder))
			Expect(sb.Spawns()).To(BeEmpty())
			Expect(s.Busy()).To(BeFalse())
		})

		It("leaves an error placeholder when the stream cannot be opened", func() {
			model := testutil.NewFakeModel().WithOpenError(errors.New("connection refused"))
			s := newSession(model)

			_, err := s.Send(ctx, "build it")
			Expect(err).To(MatchError(ContainSubstring("connection refused")))
			Expect(contents(s.Messages())).To(Equal([]string{"build it", session.ErrorPlaceholder}))
		})

		It("recovers from a panicking model", func() {
			var calls int32
			model := llm.ModelFunc(func(ctx context.Context, messages []chat.Message) (io.ReadCloser, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					panic("boom")
				}
				return io.NopCloser(strings.NewReader("recovered")), nil
			})
			s := newSession(model)

			_, err := s.Send(ctx, "first")
			Expect(err).To(MatchError(ContainSubstring("turn failed: boom")))
			Expect(contents(s.Messages())).To(Equal([]string{"first", "❌ Internal error: boom"}))
			Expect(s.Busy()).To(BeFalse())

			res, err := s.Send(ctx, "second")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Message.Content).To(Equal("recovered"))
		})
	})

	Describe("aborting", func() {
		block := "---filename: index.css---\nbody { margin: 0; }\n---end---\n"

		It("keeps files written before the abort and drops the reply", func() {
			model := testutil.NewFakeModel(block + strings.Repeat("still typing ", 20)).
				WithChunkSize(4).
				WithHang(len(block)/4 + 3)
			s := newSession(model)

			var (
				err  error
				done = make(chan struct{})
			)
			go func() {
				defer close(done)
				_, err = s.Send(ctx, "style it")
			}()

			Eventually(func() bool { return sb.Exists("my-app/index.css") }).Should(BeTrue())
			Expect(s.Busy()).To(BeTrue())
			Expect(s.State()).To(Equal(process.StateReceiving))

			s.Cancel()
			Eventually(done).Should(BeClosed())

			Expect(err).To(MatchError(context.Canceled))
			Expect(contents(s.Messages())).To(Equal([]string{"style it"}))
			Expect(sb.MustRead("my-app/index.css")).To(Equal("body { margin: 0; }"))
			Expect(obs.Files()).To(HaveLen(1))
			Expect(s.Busy()).To(BeFalse())
		})

		It("aborts the turn in flight when a new message is sent", func() {
			first := testutil.NewFakeModel("one two three four").WithHang(1)
			second := testutil.NewFakeModel("second answer")
			var calls int32
			model := llm.ModelFunc(func(ctx context.Context, messages []chat.Message) (io.ReadCloser, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return first.Stream(ctx, messages)
				}
				return second.Stream(ctx, messages)
			})
			s := newSession(model)

			var (
				firstErr error
				done     = make(chan struct{})
			)
			go func() {
				defer close(done)
				_, firstErr = s.Send(ctx, "first")
			}()
			Eventually(first.Calls).Should(Equal(1))

			res, err := s.Send(ctx, "second")
			Expect(err).NotTo(HaveOccurred())
			Eventually(done).Should(BeClosed())

			Expect(firstErr).To(MatchError(context.Canceled))
			Expect(res.Message.Content).To(Equal("second answer"))
			Expect(contents(second.LastMessages())).To(Equal([]string{"first", "second"}))
			Expect(contents(s.Messages())).To(Equal([]string{"first", "second", "second answer"}))
		})

		It("Reset clears the conversation and written file memory", func() {
			model := testutil.NewFakeModel(block)
			s := newSession(model)

			_, err := s.Send(ctx, "style it")
			Expect(err).NotTo(HaveOccurred())
			Expect(mat.Processed()).To(Equal(1))

			s.Reset()

			Expect(s.Messages()).To(BeEmpty())
			Expect(mat.Processed()).To(Equal(0))
		})
	})

	Describe("command handling", func() {
		It("reports rejected commands without running them", func() {
			model := testutil.NewFakeModel("```bash\nrm -rf /\nls\n```")
			s := newSession(model)

			res, err := s.Send(ctx, "clean up")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Commands).To(HaveLen(2))
			Expect(res.Commands[0].Success).To(BeFalse())
			Expect(res.Commands[0].ExitCode).To(Equal(1))
			Expect(res.Commands[1].Success).To(BeTrue())
			Expect(sb.Spawns()).To(Equal([]string{"ls"}))

			summary := s.Messages()[2].Content
			Expect(summary).To(ContainSubstring("❌ Command failed: rm -rf / (exit code: 1)"))
			Expect(summary).To(ContainSubstring("potentially dangerous operation"))
			Expect(summary).To(ContainSubstring("✅ Command completed: ls"))
		})

		It("forwards command output to the observer", func() {
			sb.On("npm run build", testutil.FakeResult{Output: "built in 42ms\n"})
			model := testutil.NewFakeModel("```bash\nnpm run build\n```")
			s := newSession(model)

			_, err := s.Send(ctx, "build")
			Expect(err).NotTo(HaveOccurred())
			Expect(obs.Terminal()).To(ContainSubstring("built in 42ms"))
		})
	})

	Describe("error feedback", func() {
		It("turns a failing build into a follow-up turn", func() {
			sb.On("npm run build", testutil.FakeResult{
				Output:   "SyntaxError: Unexpected token (3:14)\n",
				ExitCode: 1,
			})
			model := testutil.NewFakeModel("```bash\nnpm run build\n```", "Fixed it.")

			var s *session.Session
			loop = feedback.New(func(ctx context.Context, text string) error {
				return s.Submit(ctx, text)
			}, config.FeedbackConfig{Enabled: true, Debounce: 50 * time.Millisecond})
			s = newSession(model)

			res, err := s.Send(ctx, "build it")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Commands[0].Success).To(BeFalse())

			Eventually(model.Calls).Should(Equal(2))
			Eventually(func() []string { return contents(s.Messages()) }).Should(ContainElement("Fixed it."))
			Expect(s.Wait(ctx)).To(Succeed())

			var followUp string
			for _, m := range s.Messages() {
				if m.IsUser() && strings.Contains(m.Content, "I noticed an error") {
					followUp = m.Content
				}
			}
			Expect(followUp).To(ContainSubstring("SyntaxError: Unexpected token"))
			Expect(loop.Submits()).To(Equal(1))
			Consistently(model.Calls, 150*time.Millisecond).Should(Equal(2))
		})
	})
})
