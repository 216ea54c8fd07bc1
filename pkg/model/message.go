package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the dialogue sent by the client. Content may be given either as a
// plain string or as text parts.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []MessagePart `json:"parts,omitempty"`
	ToolCalls  []*ToolCall   `json:"toolCalls,omitempty"`
	ToolResult *ToolResult   `json:"toolResult,omitempty"`
}

type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// Text returns the textual content of the message. Content wins over parts.
func (m *Message) Text() string {
	if m.Content != "" {
		return m.Content
	}

	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Validate checks if the message is well-formed
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if m.Text() == "" {
			return goerr.Wrap(ErrInvalidRequest, "user message has no text")
		}
	case RoleAssistant:
		if m.Text() == "" && len(m.ToolCalls) == 0 {
			return goerr.Wrap(ErrInvalidRequest, "assistant message has neither text nor tool calls")
		}
		for _, tc := range m.ToolCalls {
			if tc == nil || tc.Name == "" {
				return goerr.Wrap(ErrInvalidRequest, "tool call without name")
			}
		}
	case RoleTool:
		if m.ToolResult == nil || m.ToolResult.Name == "" {
			return goerr.Wrap(ErrInvalidRequest, "tool message without tool result")
		}
	default:
		return goerr.Wrap(ErrInvalidRequest, "invalid message role", goerr.V("role", m.Role))
	}
	return nil
}

// ValidateDialogue checks a whole dialogue. The last message must come from the user.
func ValidateDialogue(messages []*Message) error {
	if len(messages) == 0 {
		return goerr.Wrap(ErrInvalidRequest, "messages are empty")
	}

	for i, msg := range messages {
		if msg == nil {
			return goerr.Wrap(ErrInvalidRequest, "message is null", goerr.V("index", i))
		}
		if err := msg.Validate(); err != nil {
			return goerr.Wrap(err, "invalid message", goerr.V("index", i))
		}
	}

	if last := messages[len(messages)-1]; last.Role != RoleUser {
		return goerr.Wrap(ErrInvalidRequest, "last message must be a user message", goerr.V("role", last.Role))
	}

	return nil
}
