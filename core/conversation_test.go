package core

import (
	"strings"
	"testing"
)

func TestConversation_AppendAndCopy(t *testing.T) {
	c := NewConversation(0)
	c.Append(NewUserTurn("hi"))
	c.Append(NewAssistantTurn("hello"))

	turns := c.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}

	turns[0].Content = "mutated"
	if c.Turns()[0].Content != "hi" {
		t.Error("Turns should return a defensive copy")
	}
}

func TestConversation_BudgetEvictsOldestUnpinned(t *testing.T) {
	// Budget of 100 estimated tokens = ~400 characters.
	c := NewConversation(100)
	c.Append(NewSystemTurn(strings.Repeat("s", 200)))

	for i := 0; i < 10; i++ {
		c.Append(NewUserTurn(strings.Repeat("u", 200)))
	}

	turns := c.Turns()
	if !turns[0].Pinned || turns[0].Role != RoleSystem {
		t.Fatalf("pinned system turn must survive truncation, got %+v", turns[0])
	}
	if got := EstimateTokens(turns); got > 100 {
		t.Errorf("budget not enforced: %d tokens across %d turns", got, len(turns))
	}
	// The newest user turn must still be present.
	last := turns[len(turns)-1]
	if last.Role != RoleUser {
		t.Errorf("newest turn evicted, tail is %+v", last)
	}
}

func TestConversation_PinnedOnlyNeverLoops(t *testing.T) {
	c := NewConversation(1)
	c.Append(NewSystemTurn(strings.Repeat("s", 400)))
	// Over budget but nothing evictable; Append must return, not spin.
	if c.Len() != 1 {
		t.Fatalf("expected the pinned turn to remain, got %d turns", c.Len())
	}
}

func TestConversation_SealStopsMutation(t *testing.T) {
	c := NewConversation(0)
	c.Append(NewUserTurn("q"))
	c.Seal()
	c.Append(NewAssistantTurn("late"))

	if c.Len() != 1 {
		t.Errorf("append after Seal must be ignored, got %d turns", c.Len())
	}
	if !c.Sealed() {
		t.Error("Sealed should report true")
	}
}
