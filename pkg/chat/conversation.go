package chat

// Conversation is an ordered message history. Functions in this file never
// modify their input; they return a new Conversation.
type Conversation struct {
	Messages []Message
	Model    string
}

func NewConversation(model string) Conversation {
	return Conversation{
		Messages: make([]Message, 0),
		Model:    model,
	}
}

func AddMessage(conv Conversation, msg Message) Conversation {
	messages := make([]Message, len(conv.Messages)+1)
	copy(messages, conv.Messages)
	messages[len(conv.Messages)] = msg

	return Conversation{
		Messages: messages,
		Model:    conv.Model,
	}
}

// ReplaceLast swaps the final message, typically the streaming assistant reply
func ReplaceLast(conv Conversation, msg Message) Conversation {
	if len(conv.Messages) == 0 {
		return AddMessage(conv, msg)
	}
	messages := GetMessages(conv)
	messages[len(messages)-1] = msg
	return Conversation{Messages: messages, Model: conv.Model}
}

// RemoveMessage drops the message with the given id, if present
func RemoveMessage(conv Conversation, id string) Conversation {
	messages := make([]Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.ID != id {
			messages = append(messages, m)
		}
	}
	return Conversation{Messages: messages, Model: conv.Model}
}

// ReplaceMessage swaps the message with msg.ID in place
func ReplaceMessage(conv Conversation, msg Message) Conversation {
	messages := GetMessages(conv)
	for i := range messages {
		if messages[i].ID == msg.ID {
			messages[i] = msg
			break
		}
	}
	return Conversation{Messages: messages, Model: conv.Model}
}

func GetMessages(conv Conversation) []Message {
	result := make([]Message, len(conv.Messages))
	copy(result, conv.Messages)
	return result
}

func GetMessageCount(conv Conversation) int {
	return len(conv.Messages)
}

func GetLastMessage(conv Conversation) (Message, bool) {
	if len(conv.Messages) == 0 {
		return Message{}, false
	}
	return conv.Messages[len(conv.Messages)-1], true
}

func GetLastAssistantMessage(conv Conversation) (Message, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].IsAssistant() {
			return conv.Messages[i], true
		}
	}
	return Message{}, false
}

func GetLastUserMessage(conv Conversation) (Message, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].IsUser() {
			return conv.Messages[i], true
		}
	}
	return Message{}, false
}

func GetMessagesByRole(conv Conversation, role Role) []Message {
	var result []Message
	for _, msg := range conv.Messages {
		if msg.Role == role {
			result = append(result, msg)
		}
	}
	return result
}

func IsEmpty(conv Conversation) bool {
	return len(conv.Messages) == 0
}
