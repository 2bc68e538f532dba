package tokens

import (
	"strings"
	"sync"

	"github.com/killallgit/stak/pkg/chat"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides methods for counting tokens in text. Without an
// encoder it falls back to an estimate.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

// NewTokenCounter creates a new token counter with the specified model
func NewTokenCounter(modelName string) (*TokenCounter, error) {
	encoder, err := tiktoken.GetEncoding(getEncodingForModel(modelName))
	if err != nil {
		encoder, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TokenCounter{encoder: encoder}, nil
}

// NewEstimator returns a counter that only estimates
func NewEstimator() *TokenCounter {
	return &TokenCounter{}
}

// CountTokens counts the number of tokens in the given text
func (tc *TokenCounter) CountTokens(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if tc.encoder == nil {
		return estimateTokens(text)
	}
	return len(tc.encoder.Encode(text, nil, nil))
}

// CountMessages counts tokens for a conversation, including per-message
// framing and the assistant priming
func (tc *TokenCounter) CountMessages(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += tc.CountTokens(string(msg.Role)) + tc.CountTokens(msg.Content) + 4
	}
	return total + 3
}

// getEncodingForModel returns the appropriate encoding for a model
func getEncodingForModel(modelName string) string {
	modelLower := strings.ToLower(modelName)

	if strings.Contains(modelLower, "gpt-4") || strings.Contains(modelLower, "gpt-3.5") {
		return "cl100k_base"
	}
	if strings.Contains(modelLower, "davinci") || strings.Contains(modelLower, "curie") {
		return "p50k_base"
	}
	// local coder models are closer to the modern vocabulary
	return "cl100k_base"
}

// estimateTokens takes the larger of the word count and a quarter of the
// byte count
func estimateTokens(text string) int {
	wordEstimate := len(strings.Fields(text))
	charEstimate := len(text) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}
