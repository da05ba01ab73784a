// Package budget estimates how many tokens a prompt occupies so callers can
// warn when a request will not fit the model's context window. Tokenizers
// differ per model, so the estimate is a character heuristic: Latin text
// averages about 4 characters per token, while Persian script, which GGUF
// tokenizers split far more finely, averages about 2.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	latinCharsPerToken   = 4
	persianCharsPerToken = 2

	// messageOverhead approximates the chat-template tokens around a message.
	messageOverhead = 4
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	var latin, persian int
	for _, r := range s {
		if r >= 0x0600 && r <= 0x06FF {
			persian++
		} else {
			latin++
		}
	}
	n := latin/latinCharsPerToken + persian/persianCharsPerToken
	if n == 0 && utf8.RuneCountInString(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages sums the estimate of every message's role and content
// plus a per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Usage describes how a request sits against a context window.
type Usage struct {
	// Prompt is the estimated input token count.
	Prompt int
	// Reserved is the output allowance (max tokens) requested.
	Reserved int
	// Window is the model's context window; zero means unknown.
	Window int
}

// Over reports whether the prompt plus its output allowance exceeds the
// window. An unknown window is never exceeded.
func (u Usage) Over() bool {
	return u.Window > 0 && u.Prompt+u.Reserved > u.Window
}

// Check estimates msgs against window, reserving maxOutput tokens.
func Check(msgs []*schema.Message, maxOutput, window int) Usage {
	return Usage{Prompt: EstimateMessages(msgs), Reserved: maxOutput, Window: window}
}
