package core

import (
	"encoding/json"
	"sync"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem marks pinned instruction turns that are never truncated.
	RoleSystem Role = "system"
	// RoleUser marks the originating query text.
	RoleUser Role = "user"
	// RoleAssistant marks model output, final answers and tool-call requests alike.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool invocation results fed back to the model.
	RoleTool Role = "tool"
)

// ToolCall is a structured tool-call directive surfaced by a model: which
// tool to run and the serialized JSON arguments. ID correlates the eventual
// result turn back to this request.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Turn is one entry of a conversation: a user query, an assistant message
// (optionally carrying tool-call directives), a pinned system instruction, or
// a tool result correlated by CallID.
type Turn struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CallID    string     `json:"call_id,omitempty"` // id of the tool call this turn answers
	Pinned    bool       `json:"pinned,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewSystemTurn builds a pinned instruction turn.
func NewSystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content, Pinned: true, Timestamp: time.Now().UTC()}
}

// NewUserTurn builds a user query turn.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantTurn builds an assistant turn with optional tool-call directives.
func NewAssistantTurn(content string, calls ...ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now().UTC()}
}

// NewToolTurn builds a tool-result turn answering the call with the given id.
func NewToolTurn(callID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, CallID: callID, Timestamp: time.Now().UTC()}
}

// EstimateTokens approximates the model-context cost of a set of turns. The
// 4-characters-per-token heuristic is deliberately crude; the budget exists
// to bound growth, not to bill accurately.
func EstimateTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += len(t.Content) / 4
		for _, tc := range t.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments)) / 4
		}
	}
	return total
}

// Conversation is the ordered turn sequence owned by exactly one reasoning
// loop. It is mutated only by that loop and sealed when the loop reaches a
// terminal state.
//
// Invariant: bounded length. After every append, the oldest non-pinned turns
// are evicted until the estimated token cost fits the configured budget.
// Pinned system turns are never evicted.
type Conversation struct {
	mu     sync.RWMutex
	turns  []Turn
	budget int
	sealed bool
}

// NewConversation creates an empty conversation with the given context
// budget in estimated tokens. A budget <= 0 disables truncation.
func NewConversation(budget int) *Conversation {
	return &Conversation{budget: budget}
}

// Append adds a turn and enforces the context budget. Appends after Seal are
// ignored: the owning loop has already terminated and detached.
func (c *Conversation) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	c.turns = append(c.turns, turn)
	c.truncateLocked()
}

// truncateLocked evicts oldest unpinned turns until the budget is satisfied.
func (c *Conversation) truncateLocked() {
	if c.budget <= 0 {
		return
	}
	for EstimateTokens(c.turns) > c.budget {
		evicted := false
		for i, t := range c.turns {
			if t.Pinned {
				continue
			}
			c.turns = append(c.turns[:i], c.turns[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return // only pinned turns remain
		}
	}
}

// Turns returns a defensive copy of the current turn sequence.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the current number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Seal marks the conversation immutable. Called once by the owning loop on
// terminal transition; the snapshot taken for the transcript stays valid.
func (c *Conversation) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// Sealed reports whether the owning loop has terminated.
func (c *Conversation) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}
