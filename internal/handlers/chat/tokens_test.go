package chat

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Fatalf("empty text: got %d, want 1", got)
	}
	if got := EstimateTokens("abcd"); got != 2 {
		t.Fatalf("4 chars: got %d, want 2", got)
	}
	if got := EstimateTokens(strings.Repeat("a", 40)); got != 11 {
		t.Fatalf("40 chars: got %d, want 11", got)
	}
}

func TestAssembleHistoryAlwaysIncludesCurrent(t *testing.T) {
	out := AssembleHistory(DefaultBudget, "system", nil, Message{Role: "user", Content: "hello"})
	if len(out) != 1 || out[0].Content != "hello" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestAssembleHistoryCapsAtMaxHistory(t *testing.T) {
	var history []Message
	for i := 0; i < 20; i++ {
		history = append(history, Message{Role: "user", Content: "short message"})
	}
	out := AssembleHistory(DefaultBudget, "system", history, Message{Role: "user", Content: "current"})
	if len(out) > DefaultBudget.MaxHistory+1 {
		t.Fatalf("expected at most %d history entries + current, got %d", DefaultBudget.MaxHistory, len(out))
	}
}

func TestAssembleHistoryPreservesChronologicalOrder(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	out := AssembleHistory(DefaultBudget, "system", history, Message{Role: "user", Content: "current"})
	if len(out) != 4 {
		t.Fatalf("expected all history + current, got %+v", out)
	}
	for i, want := range []string{"first", "second", "third", "current"} {
		if out[i].Content != want {
			t.Fatalf("position %d: got %q, want %q (full: %+v)", i, out[i].Content, want, out)
		}
	}
}

func TestAssembleHistoryDropsOldestWhenBudgetExceeded(t *testing.T) {
	budget := Budget{TotalMaxTokens: 90, SingleMaxTokens: 80, MaxHistory: 10, ReserveForReply: 10}
	big := strings.Repeat("x", 200) // ~51 tokens each
	history := []Message{
		{Role: "user", Content: big},
		{Role: "assistant", Content: big},
		{Role: "user", Content: "tiny"},
	}
	out := AssembleHistory(budget, "sys", history, Message{Role: "user", Content: "cur"})
	// Budget is too tight to fit both big messages plus system/current/reserve;
	// at least one must have been dropped.
	if len(out) >= len(history)+1 {
		t.Fatalf("expected at least one history message dropped, got %+v", out)
	}
	// current message is always present.
	if out[len(out)-1].Content != "cur" {
		t.Fatalf("expected current message last, got %+v", out)
	}
}

func TestAssembleHistoryPreTruncatesOversizedCurrent(t *testing.T) {
	budget := DefaultBudget
	huge := strings.Repeat("y", budget.SingleMaxTokens*8)
	out := AssembleHistory(budget, "system", nil, Message{Role: "user", Content: huge})
	if len(out) != 1 {
		t.Fatalf("expected single message, got %+v", out)
	}
	if EstimateTokens(out[0].Content) > budget.SingleMaxTokens {
		t.Fatalf("expected current message truncated under single max, got %d tokens", EstimateTokens(out[0].Content))
	}
}
