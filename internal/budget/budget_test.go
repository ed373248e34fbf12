package budget

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"chatd/pkg/types"
)

// fixedCounter charges a flat rate per message regardless of content, which
// makes the arithmetic in these tests exact.
func fixedCounter(perMessage int) Counter {
	return CounterFunc(func(string) (int, error) { return perMessage, nil })
}

func conv(n int) []types.Message {
	msgs := make([]types.Message, 0, n)
	msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: "persona"})
	for i := 1; i < n; i++ {
		role := types.RoleUser
		if i%2 == 0 {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.Message{Role: role, Content: fmt.Sprintf("msg-%d", i)})
	}
	return msgs
}

func TestTokenCountPrefixAndOverhead(t *testing.T) {
	// Counter charges one token per character so the prefix is observable.
	m := New(CounterFunc(func(s string) (int, error) { return len(s), nil }), Config{})
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "abcd"},      // 4
		{Role: types.RoleAssistant, Content: "wxyz"}, // 11 prefix + 4
	}
	got := m.TokenCount(msgs)
	want := 4 + len("Assistant: ") + 4 + 2 // + one boundary
	if got != want {
		t.Fatalf("TokenCount = %d, want %d", got, want)
	}
	if m.TokenCount(nil) != 0 {
		t.Fatal("empty conversation must count zero")
	}
}

func TestNoPruneBelowThreshold(t *testing.T) {
	// 40 messages x 50 tokens + 39x2 overhead = 2078, well under 6963.
	m := New(fixedCounter(50), Config{})
	msgs := conv(40)
	out, pruned := m.Prune(msgs, 8192)
	if pruned {
		t.Fatalf("prune triggered at %d tokens", m.TokenCount(msgs))
	}
	if len(out) != 40 {
		t.Fatalf("length changed without prune: %d", len(out))
	}
}

func TestPruneKeepsHeadAndTail(t *testing.T) {
	// 139 messages x 50 tokens + 138x2 = 7226 > 6963 triggers; target 4915.
	m := New(fixedCounter(50), Config{})
	msgs := conv(139)
	out, pruned := m.Prune(msgs, 8192)
	if !pruned {
		t.Fatal("expected a prune")
	}
	if got := m.TokenCount(out); got > 4915 {
		t.Fatalf("still over target: %d", got)
	}
	for i := 0; i < 7; i++ {
		if out[i] != msgs[i] {
			t.Fatalf("preserved head broken at %d: %+v", i, out[i])
		}
	}
	if out[len(out)-1] != msgs[len(msgs)-1] {
		t.Fatal("newest message was removed")
	}
	// Deletions happen immediately after the preserved block: the survivor
	// after the head is a suffix of the original.
	if out[7] == msgs[7] {
		t.Fatal("expected the message after the preserved block to be deleted first")
	}
	// Input slice untouched.
	if len(msgs) != 139 {
		t.Fatalf("input mutated: %d", len(msgs))
	}
}

func TestPruneStopsAtPreservedFloor(t *testing.T) {
	// Nine messages so heavy the target is unreachable: deletion must stop
	// once only the preserved block plus the final message remain.
	m := New(fixedCounter(5000), Config{})
	msgs := conv(9)
	out, pruned := m.Prune(msgs, 8192)
	if !pruned {
		t.Fatal("expected a prune")
	}
	if len(out) != 8 { // preserved 7 + final message
		t.Fatalf("len = %d, want preservedFloor+1 = 8", len(out))
	}
	if out[0].Role != types.RoleSystem || out[len(out)-1] != msgs[len(msgs)-1] {
		t.Fatal("floor violated index 0 or newest")
	}
}

func TestPruneShortConversationMiddleFallback(t *testing.T) {
	// Six oversized messages: too short for the preserved block, so middles
	// are deleted; the loop stops once fewer than 4 remain even over target.
	m := New(fixedCounter(5000), Config{})
	msgs := conv(6)
	out, pruned := m.Prune(msgs, 8192)
	if !pruned {
		t.Fatal("expected a prune")
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0] != msgs[0] {
		t.Fatal("index 0 removed")
	}
	if out[len(out)-1] != msgs[len(msgs)-1] {
		t.Fatal("newest removed")
	}
}

func TestPruneNeverBelowThree(t *testing.T) {
	m := New(fixedCounter(100000), Config{})
	msgs := conv(3)
	out, pruned := m.Prune(msgs, 1024)
	if !pruned {
		t.Fatal("expected prune to report true even when nothing fits")
	}
	if len(out) != 3 {
		t.Fatalf("a 3-message history must survive intact, got %d", len(out))
	}
}

func TestCounterFailureFallsBackToEstimate(t *testing.T) {
	failing := CounterFunc(func(string) (int, error) { return 0, errors.New("stream active") })
	m := New(failing, Config{})
	msgs := []types.Message{{Role: types.RoleUser, Content: strings.Repeat("a", 400)}}
	if got := m.TokenCount(msgs); got != 100 {
		t.Fatalf("fallback estimate = %d, want 100", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty = %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("4 ascii chars = %d, want 1", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Fatalf("8 ascii chars = %d, want 2", got)
	}
	// Non-ASCII weighs a full token per rune.
	if got := EstimateTokens("日本"); got != 2 {
		t.Fatalf("2 CJK runes = %d, want 2", got)
	}
}

func TestContextUsedPct(t *testing.T) {
	m := New(fixedCounter(100), Config{})
	msgs := conv(2) // 200 + 2 overhead
	pct := m.ContextUsedPct(msgs, 808)
	if pct < 24.9 || pct > 25.1 {
		t.Fatalf("pct = %f, want ~25", pct)
	}
	if m.ContextUsedPct(msgs, 0) != 0 {
		t.Fatal("zero ctx must report 0")
	}
}
