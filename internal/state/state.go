// Package state maintains per-session conversation state: the structured
// project record, a rolling summary, and the transcript. The state is what
// makes persona handoffs seamless, so every mutation here is designed to be
// cheap enough to run on the hot path while the LLM-driven extraction runs in
// the background.
package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// maxTailLength bounds the recent-transcript window to 6 exchanges.
	maxTailLength = 12

	// maxSummaryChars bounds the rolling summary.
	maxSummaryChars = 500
)

// Turn is one utterance in the conversation.
type Turn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds all mutable conversation state for one session. All
// methods are safe for concurrent use; the background state extractor and the
// pipeline both touch it.
type Conversation struct {
	mu sync.Mutex

	structured   map[string]any
	summary      string
	tail         []Turn
	full         []Turn
	turnCount    int
	agentSeen    map[string]bool
	sessionStart time.Time
	now          func() time.Time
}

// Option is a functional option for configuring a Conversation.
type Option func(*Conversation)

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Conversation with the empty project schema. personas are
// the known persona names, each starting unseen.
func New(personas []string, opts ...Option) *Conversation {
	c := &Conversation{
		structured: map[string]any{
			"project": map[string]any{
				"room":              nil,
				"budget":            nil,
				"goals":             []any{},
				"constraints":       []any{},
				"timeline":          nil,
				"diy_or_contractor": nil,
			},
			"open_questions":      []any{},
			"risks":               []any{},
			"decisions":           []any{},
			"materials_discussed": []any{},
		},
		agentSeen: make(map[string]bool, len(personas)),
		now:       time.Now,
	}
	for _, p := range personas {
		c.agentSeen[strings.ToLower(p)] = false
	}
	for _, o := range opts {
		o(c)
	}
	c.sessionStart = c.now()
	return c
}

// AddTurn appends a turn to the full transcript and the bounded tail.
func (c *Conversation) AddTurn(speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn := Turn{Speaker: speaker, Text: text, Timestamp: c.now()}
	c.full = append(c.full, turn)
	c.tail = append(c.tail, turn)
	if len(c.tail) > maxTailLength {
		c.tail = append([]Turn(nil), c.tail[len(c.tail)-maxTailLength:]...)
	}
	c.turnCount++
}

// TurnCount returns the number of turns recorded so far.
func (c *Conversation) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnCount
}

// Tail returns a copy of the bounded recent-transcript window.
func (c *Conversation) Tail() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.tail...)
}

// FullTranscript returns a copy of the complete transcript.
func (c *Conversation) FullTranscript() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.full...)
}

// Summary returns the current rolling summary.
func (c *Conversation) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// AppendExchange appends one user/agent exchange to the rolling summary,
// keeping only the last 500 characters.
func (c *Conversation) AppendExchange(userText, agentText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.summary + fmt.Sprintf(" User: %s. Agent: %s.", userText, agentText)
	if len(s) > maxSummaryChars {
		s = s[len(s)-maxSummaryChars:]
	}
	c.summary = s
}

// StateSummary returns the structured state as indented JSON for LLM context.
func (c *Conversation) StateSummary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c.structured, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Structured returns a deep copy of the structured state, suitable for
// embedding in client events.
func (c *Conversation) Structured() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCopyMap(c.structured)
}

// HasStructuredData reports whether any extraction has landed yet, i.e. the
// structured state differs from the empty schema in at least one field.
func (c *Conversation) HasStructuredData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	project, _ := c.structured["project"].(map[string]any)
	for _, v := range project {
		switch val := v.(type) {
		case nil:
		case []any:
			if len(val) > 0 {
				return true
			}
		default:
			return true
		}
	}
	for _, key := range []string{"open_questions", "risks", "decisions", "materials_discussed"} {
		if list, _ := c.structured[key].([]any); len(list) > 0 {
			return true
		}
	}
	return false
}

// AgentSeen reports whether the persona has already introduced itself.
func (c *Conversation) AgentSeen(persona string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentSeen[strings.ToLower(persona)]
}

// MarkAgentSeen records that the persona's introduction has been emitted.
func (c *Conversation) MarkAgentSeen(persona string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentSeen[strings.ToLower(persona)] = true
}

// MergeUpdates merges LLM-extracted updates into the structured state.
// Unknown project keys are ignored, empty values are skipped, list fields
// accumulate with exact-string deduplication, and scalar fields are
// overwritten. Only the known top-level list keys are merged.
func (c *Conversation) MergeUpdates(updates map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if projUp, ok := updates["project"].(map[string]any); ok {
		proj, _ := c.structured["project"].(map[string]any)
		for k, v := range projUp {
			if v == nil || v == "" {
				continue
			}
			cur, known := proj[k]
			if !known {
				continue
			}
			if curList, isList := cur.([]any); isList {
				proj[k] = appendUnique(curList, toList(v))
			} else {
				proj[k] = v
			}
		}
	}

	for _, key := range []string{"open_questions", "risks", "decisions"} {
		up, ok := updates[key].([]any)
		if !ok || len(up) == 0 {
			continue
		}
		cur, _ := c.structured[key].([]any)
		c.structured[key] = appendUnique(cur, up)
	}
}

// ParseUpdates extracts a JSON object from raw LLM output, tolerating
// markdown code fences.
func ParseUpdates(raw string) (map[string]any, error) {
	clean := strings.ReplaceAll(raw, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	var updates map[string]any
	if err := json.Unmarshal([]byte(clean), &updates); err != nil {
		return nil, fmt.Errorf("state: parse updates: %w", err)
	}
	return updates, nil
}

func toList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// appendUnique appends items not already present, comparing by rendered
// string so numeric and string forms of the same value do not duplicate.
func appendUnique(cur, items []any) []any {
	seen := make(map[string]struct{}, len(cur))
	for _, it := range cur {
		seen[fmt.Sprint(it)] = struct{}{}
	}
	for _, it := range items {
		key := fmt.Sprint(it)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cur = append(cur, it)
	}
	return cur
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
