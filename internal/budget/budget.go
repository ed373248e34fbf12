// Package budget enforces the conversation token budget: counting the
// token cost of a message history and pruning old turns once the history
// crowds the model's context window.
package budget

import (
	"chatd/pkg/types"
)

const (
	defaultThreshold    = 0.85
	defaultTarget       = 0.6
	defaultPreserveHead = 7 // system message plus the first three exchange pairs
)

// assistantPrefix disambiguates assistant turns when counting; the prompt
// builder adds an equivalent marker, so the count must include it.
const assistantPrefix = "Assistant: "

// Counter produces a token count for a piece of text. Implementations may
// fail (a busy or dead worker); the manager falls back to the estimate.
type Counter interface {
	Count(text string) (int, error)
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) (int, error)

func (f CounterFunc) Count(text string) (int, error) { return f(text) }

// Config tunes the pruning thresholds. Zero values select the defaults
// (trigger above 0.85 x ctx, prune down to 0.6 x ctx, preserve the first 7
// messages).
type Config struct {
	Threshold    float64
	Target       float64
	PreserveHead int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.Target <= 0 {
		c.Target = defaultTarget
	}
	if c.PreserveHead <= 0 {
		c.PreserveHead = defaultPreserveHead
	}
	return c
}

// Manager counts and prunes.
type Manager struct {
	counter Counter
	cfg     Config
}

// New builds a Manager. counter may be nil, in which case the character
// estimate is used for everything.
func New(counter Counter, cfg Config) *Manager {
	return &Manager{counter: counter, cfg: cfg.withDefaults()}
}

// EstimateTokens estimates the token count for text with a Unicode-aware
// heuristic: ~4 ASCII characters per token, ~1 token per non-ASCII rune.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// countText asks the live counter, falling back to the estimate. Counting
// must never abort the surrounding action.
func (m *Manager) countText(text string) int {
	if m.counter != nil {
		if n, err := m.counter.Count(text); err == nil {
			return n
		}
	}
	return EstimateTokens(text)
}

// TokenCount sums per-message token counts (assistant content counted with
// its role prefix) plus a 2-token boundary overhead between messages.
func (m *Manager) TokenCount(msgs []types.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, msg := range msgs {
		content := msg.Content
		if msg.Role == types.RoleAssistant {
			content = assistantPrefix + content
		}
		total += m.countText(content)
	}
	total += (len(msgs) - 1) * 2
	return total
}

// Prune removes messages until the history fits the budget. It triggers when
// TokenCount exceeds Threshold x ctxSize and aims for Target x ctxSize.
//
// Preferred shape: keep message 0 plus the next PreserveHead-1 messages and
// repeatedly delete the message immediately after that block, stopping once
// under target or when only the block plus the final message remain.
// Histories too short for a preserved block fall back to deleting the middle
// message while more than 3 remain. Index 0 and the newest message are never
// removed. The input slice is not modified.
func (m *Manager) Prune(msgs []types.Message, ctxSize int) ([]types.Message, bool) {
	if ctxSize <= 0 || len(msgs) == 0 {
		return msgs, false
	}
	maxTokens := int(float64(ctxSize) * m.cfg.Threshold)
	target := int(float64(ctxSize) * m.cfg.Target)

	total := m.TokenCount(msgs)
	if total <= maxTokens {
		return msgs, false
	}

	out := types.CloneMessages(msgs)
	preserve := m.cfg.PreserveHead
	if len(out) < preserve {
		preserve = len(out)
	}
	if len(out) > preserve {
		for total > target && len(out) > preserve+1 {
			out = append(out[:preserve], out[preserve+1:]...)
			total = m.TokenCount(out)
		}
	} else {
		for total > target && len(out) > 2 {
			if len(out) <= 3 {
				break
			}
			mid := len(out) / 2
			out = append(out[:mid], out[mid+1:]...)
			total = m.TokenCount(out)
		}
	}
	return out, true
}

// ContextUsedPct reports how much of the context window the history
// occupies, for status reporting.
func (m *Manager) ContextUsedPct(msgs []types.Message, ctxSize int) float64 {
	if ctxSize <= 0 {
		return 0
	}
	pct := float64(m.TokenCount(msgs)) / float64(ctxSize) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
