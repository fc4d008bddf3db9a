package core

import (
	"fmt"
	"strings"

	"chatbotmaker.dev/chatbot-maker/internal/llm"
)

// RefusalMessage is the sentence a scoped chatbot is told to use when the
// context does not contain the answer.
const RefusalMessage = "I don't have that information in my knowledge base. Please check the context provided."

const (
	contextReminder = "Remember: answer only from the context you were given.\n\n"

	noContextInstruction = "No context was supplied for this chatbot. Answer as a general assistant, " +
		"and tell the user when a question needs specific knowledge: without a knowledge base your answers may be unreliable."
)

// Turn is one prior message of a conversation as the client or the message log sends it.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type SessionOptions struct {
	ScopedTemperature  float32
	ScopedMaxTokens    int
	DefaultTemperature float32
	MaxHistoryTurns    int // 0 keeps every turn
	MaxHistoryTokens   int // 0 disables the token budget
	RepeatReminder     bool
	Counter            TokenCounter
}

// BuildConversation assembles the request for one chat turn. A non-blank
// context scopes the chatbot: the context is embedded verbatim in the system
// instruction together with RefusalMessage.
func BuildConversation(contextText string, history []Turn, utterance string, opts SessionOptions) (llm.Request, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return llm.Request{}, InvalidInput("Missing 'text'")
	}

	scoped := strings.TrimSpace(contextText) != ""
	req := llm.Request{
		Messages: boundHistory(mapTurns(history), opts),
	}

	if scoped {
		req.System = scopedInstruction(contextText)
		req.Temperature = opts.ScopedTemperature
		req.MaxTokens = opts.ScopedMaxTokens
		if opts.RepeatReminder {
			utterance = contextReminder + utterance
		}
	} else {
		req.System = noContextInstruction
		req.Temperature = opts.DefaultTemperature
	}

	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: utterance})
	return req, nil
}

func scopedInstruction(contextText string) string {
	var b strings.Builder
	b.WriteString("You are a chatbot whose knowledge is limited to the context below.\n\n")
	b.WriteString("CONTEXT:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nRULES:\n")
	b.WriteString("- Answer only with information stated in the context.\n")
	b.WriteString("- Do not use outside knowledge, even when you are confident.\n")
	fmt.Fprintf(&b, "- If the context does not contain the answer, reply exactly: %q\n", RefusalMessage)
	return b.String()
}

// mapTurns keeps turns with text and a known role. Anything the bot said is
// sent as the assistant role.
func mapTurns(history []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(t.Role)) {
		case "user", "you":
			out = append(out, llm.Message{Role: llm.RoleUser, Content: text})
		case "bot", "assistant", "model":
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: text})
		}
	}
	return out
}

// boundHistory keeps the most recent turns that fit both the turn limit and the token budget.
func boundHistory(msgs []llm.Message, opts SessionOptions) []llm.Message {
	if opts.MaxHistoryTurns > 0 && len(msgs) > opts.MaxHistoryTurns {
		msgs = msgs[len(msgs)-opts.MaxHistoryTurns:]
	}
	if opts.MaxHistoryTokens <= 0 {
		return msgs
	}

	counter := opts.Counter
	if counter == nil {
		counter = runeCounter{}
	}
	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := counter.Count(msgs[i].Content)
		if used+cost > opts.MaxHistoryTokens {
			break
		}
		used += cost
		start = i
	}
	return msgs[start:]
}
