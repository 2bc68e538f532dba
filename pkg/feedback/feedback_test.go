package feedback_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/killallgit/stak/pkg/config"
	"github.com/killallgit/stak/pkg/feedback"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recorder) submit(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

var _ = Describe("DetectError", func() {
	DescribeTable("signatures",
		func(data string, want bool) {
			_, ok := feedback.DetectError(data)
			Expect(ok).To(Equal(want))
		},
		Entry("syntax error", "SyntaxError: Unexpected token '<'", true),
		Entry("missing module", "[vite] Module not found: ./Button", true),
		Entry("bad export", "The requested module './x.js' does not provide an export named 'y'", true),
		Entry("build failed", "Build failed with 1 error", true),
		Entry("case insensitive", "ERROR in src/App.tsx", true),
		Entry("plain output", "added 120 packages in 3s", false),
		Entry("vite ready", "  VITE v5.0.0  ready in 300 ms", false),
		Entry("blank", "  \n", false),
	)

	It("prefers a structured error field", func() {
		msg, ok := feedback.DetectError(`{"error":{"code":"E404","path":"left-pad"}}`)
		Expect(ok).To(BeTrue())
		Expect(msg).To(Equal(`{"code":"E404","path":"left-pad"}`))
	})

	It("strips terminal escapes", func() {
		msg, ok := feedback.DetectError("\x1b[31mTypeError: x is not a function\x1b[0m\r\n")
		Expect(ok).To(BeTrue())
		Expect(msg).To(Equal("TypeError: x is not a function"))
	})
})

var _ = Describe("ParsePreviewMessage", func() {
	It("forwards console output", func() {
		msg := feedback.ParsePreviewMessage("console:hello from preview")
		Expect(msg.Kind).To(Equal(feedback.PreviewConsole))
		Expect(msg.Text).To(Equal("hello from preview"))
	})

	It("reports console errors", func() {
		msg := feedback.ParsePreviewMessage("error:Warning: Each child in a list should have a unique key")
		Expect(msg.Kind).To(Equal(feedback.PreviewError))
		Expect(msg.Text).To(Equal("Preview Error: Warning: Each child in a list should have a unique key"))
	})

	It("formats uncaught errors with their location", func() {
		raw := `{"type":"error","message":"ReferenceError: foo is not defined","filename":"http://localhost:5173/src/App.tsx","lineno":12,"colno":5,"stack":""}`
		msg := feedback.ParsePreviewMessage(raw)
		Expect(msg.Kind).To(Equal(feedback.PreviewError))
		Expect(msg.Text).To(Equal("JavaScript Error: ReferenceError: foo is not defined (at http://localhost:5173/src/App.tsx:12:5)"))
	})

	It("formats unhandled rejections", func() {
		raw := `{"type":"error","message":"Unhandled Promise Rejection: Error: fetch failed","filename":"unknown","lineno":0,"colno":0}`
		Expect(feedback.ParsePreviewMessage(raw).Text).To(Equal("Unhandled Promise Rejection: Error: fetch failed"))

		rt, ok := feedback.ParseRuntimeError(`{"type":"unhandledrejection","reason":"timeout"}`)
		Expect(ok).To(BeTrue())
		Expect(rt.String()).To(Equal("Unhandled Promise Rejection: timeout"))
	})

	It("ignores cross-origin noise and unknown payloads", func() {
		Expect(feedback.ParsePreviewMessage("error:Script error.").Kind).To(Equal(feedback.PreviewIgnored))
		Expect(feedback.ParsePreviewMessage(`{"type":"error","message":"blocked a cross-origin frame"}`).Kind).To(Equal(feedback.PreviewIgnored))
		Expect(feedback.ParsePreviewMessage(`{"type":"resize"}`).Kind).To(Equal(feedback.PreviewIgnored))
		Expect(feedback.ParsePreviewMessage("hello").Kind).To(Equal(feedback.PreviewIgnored))
	})
})

var _ = Describe("Loop", func() {
	var (
		rec  *recorder
		loop *feedback.Loop
	)

	BeforeEach(func() {
		rec = &recorder{}
		loop = feedback.New(rec.submit, config.FeedbackConfig{Enabled: true, Debounce: 50 * time.Millisecond})
	})

	AfterEach(func() {
		loop.Stop()
	})

	It("submits a burst of identical errors once", func() {
		for i := 0; i < 3; i++ {
			loop.OnOutput("SyntaxError: Unexpected token (3:14)")
		}

		Eventually(rec.Texts).Should(HaveLen(1))
		Consistently(rec.Texts, 150*time.Millisecond).Should(HaveLen(1))
		Expect(rec.Texts()[0]).To(Equal("⚠️ I noticed an error while running your code:\n\nSyntaxError: Unexpected token (3:14)\n\nWould you like me to try fixing it?"))
		Expect(loop.Submits()).To(Equal(1))
	})

	It("keeps the last context of a burst", func() {
		loop.OnOutput("error one")
		loop.OnRuntimeError(feedback.RuntimeError{Message: "TypeError: boom", Filename: "App.tsx", Line: 3, Col: 7})

		Eventually(rec.Texts).Should(HaveLen(1))
		Expect(rec.Texts()[0]).To(ContainSubstring("JavaScript Error: TypeError: boom (at App.tsx:3:7)"))
		Expect(rec.Texts()[0]).NotTo(ContainSubstring("error one"))
	})

	It("submits separate bursts separately", func() {
		loop.OnOutput("Build failed")
		Eventually(rec.Texts).Should(HaveLen(1))

		loop.OnOutput("Build failed")
		Eventually(rec.Texts).Should(HaveLen(2))
	})

	It("ignores output without failure signatures", func() {
		loop.OnOutput("compiled successfully")
		Consistently(rec.Texts, 150*time.Millisecond).Should(BeEmpty())
	})

	It("flushes immediately", func() {
		loop.ReportCandidateError("Module not found")
		loop.Flush()

		Expect(rec.Texts()).To(HaveLen(1))
		Consistently(rec.Texts, 150*time.Millisecond).Should(HaveLen(1))
	})

	It("drops pending reports when stopped or disabled", func() {
		loop.ReportCandidateError("cannot resolve ./x")
		loop.SetEnabled(false)
		loop.ReportCandidateError("cannot resolve ./y")
		Consistently(rec.Texts, 150*time.Millisecond).Should(BeEmpty())

		loop.SetEnabled(true)
		loop.ReportCandidateError("cannot resolve ./z")
		loop.Stop()
		Consistently(rec.Texts, 150*time.Millisecond).Should(BeEmpty())
	})

	It("survives submit failures", func() {
		rec.err = errors.New("session busy")
		loop.ReportCandidateError("failed")
		Eventually(rec.Texts).Should(HaveLen(1))

		loop.ReportCandidateError("failed again")
		Eventually(rec.Texts).Should(HaveLen(2))
	})

	It("echoes preview console output to the terminal", func() {
		var mu sync.Mutex
		var out string
		loop.WithTerminal(func(s string) {
			mu.Lock()
			defer mu.Unlock()
			out += s
		})

		loop.OnPreviewMessage("console:rendered")
		loop.OnPreviewMessage("error:Uncaught Error: nope")

		mu.Lock()
		Expect(out).To(Equal("\r\nrendered\r\n"))
		mu.Unlock()
		Eventually(rec.Texts).Should(ConsistOf(ContainSubstring("Preview Error: Uncaught Error: nope")))
	})

	Describe("Inject", func() {
		It("installs the capture script", func() {
			var got string
			err := loop.Inject(context.Background(), feedback.InjectorFunc(func(_ context.Context, script string) error {
				got = script
				return nil
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(ContainSubstring("unhandledrejection"))
		})

		It("treats a cross-origin preview as expected", func() {
			err := loop.Inject(context.Background(), feedback.InjectorFunc(func(context.Context, string) error {
				return errors.Join(errors.New("frame access denied"), feedback.ErrCrossOrigin)
			}))
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns other failures", func() {
			boom := errors.New("document not loaded")
			err := loop.Inject(context.Background(), feedback.InjectorFunc(func(context.Context, string) error {
				return boom
			}))
			Expect(err).To(MatchError(boom))
		})
	})
})

var _ = Describe("Prompt", func() {
	It("trims the context", func() {
		Expect(feedback.Prompt("\n  oops \n")).To(Equal("⚠️ I noticed an error while running your code:\n\noops\n\nWould you like me to try fixing it?"))
	})
})
