package chat_test

import (
	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/parser"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Message", func() {
	It("trims user input and keeps attachments", func() {
		img := chat.Image{MimeType: "image/png", Data: "aGVsbG8="}
		msg := chat.NewUserMessage("  build me a todo app \n", img)

		Expect(msg.Content).To(Equal("build me a todo app"))
		Expect(msg.IsUser()).To(BeTrue())
		Expect(msg.HasImages()).To(BeTrue())
		Expect(msg.ID).NotTo(BeEmpty())
	})

	It("treats an image-only message as non-empty", func() {
		Expect(chat.NewUserMessage("  ").IsEmpty()).To(BeTrue())
		Expect(chat.NewUserMessage("", chat.Image{Data: "eA=="}).IsEmpty()).To(BeFalse())
	})

	It("keeps identity when content changes", func() {
		msg := chat.NewAssistantMessage("")
		chunks := []parser.RenderChunk{{ID: "chunk_0", Type: parser.ChunkText, Content: "hi"}}
		updated := msg.WithContent("hi", chunks)

		Expect(updated.ID).To(Equal(msg.ID))
		Expect(updated.Content).To(Equal("hi"))
		Expect(updated.Chunks).To(HaveLen(1))
		Expect(msg.Content).To(BeEmpty())
	})
})

var _ = Describe("Conversation", func() {
	var conv chat.Conversation

	BeforeEach(func() {
		conv = chat.NewConversation("qwen2.5-coder")
		conv = chat.AddMessage(conv, chat.NewUserMessage("hello"))
		conv = chat.AddMessage(conv, chat.NewAssistantMessage(""))
	})

	It("does not mutate the input when adding", func() {
		next := chat.AddMessage(conv, chat.NewSystemMessage("✅ done"))
		Expect(chat.GetMessageCount(conv)).To(Equal(2))
		Expect(chat.GetMessageCount(next)).To(Equal(3))
		Expect(next.Model).To(Equal("qwen2.5-coder"))
	})

	It("replaces the streaming placeholder", func() {
		next := chat.ReplaceLast(conv, chat.NewAssistantMessage("partial"))
		last, ok := chat.GetLastMessage(next)
		Expect(ok).To(BeTrue())
		Expect(last.Content).To(Equal("partial"))

		orig, _ := chat.GetLastMessage(conv)
		Expect(orig.Content).To(BeEmpty())
	})

	It("removes and replaces by id", func() {
		placeholder, _ := chat.GetLastAssistantMessage(conv)

		replaced := chat.ReplaceMessage(conv, placeholder.WithContent("[Error receiving response]", nil))
		got, _ := chat.GetLastAssistantMessage(replaced)
		Expect(got.Content).To(Equal("[Error receiving response]"))

		removed := chat.RemoveMessage(conv, placeholder.ID)
		Expect(chat.GetMessageCount(removed)).To(Equal(1))
		_, ok := chat.GetLastAssistantMessage(removed)
		Expect(ok).To(BeFalse())
	})

	It("finds messages by role", func() {
		user, ok := chat.GetLastUserMessage(conv)
		Expect(ok).To(BeTrue())
		Expect(user.Content).To(Equal("hello"))
		Expect(chat.GetMessagesByRole(conv, chat.RoleSystem)).To(BeEmpty())
		Expect(chat.IsEmpty(chat.NewConversation("m"))).To(BeTrue())
	})

	It("appends when replacing in an empty conversation", func() {
		next := chat.ReplaceLast(chat.NewConversation("m"), chat.NewSystemMessage("x"))
		Expect(chat.GetMessageCount(next)).To(Equal(1))
	})
})
