// Package persona manages the agent personas: their system prompts, the
// deterministic transfer router, and the handoff machinery that carries full
// context from one persona to the next.
//
// Two personas ship by default. Bob handles intake and high-level planning;
// Alice covers technical detail and risk analysis. Each keeps its own voice
// and prompt, but they share one conversation state so a handoff never makes
// the user repeat themselves.
package persona

import (
	"fmt"
	"strings"
	"sync"

	"github.com/renovox/renovox/internal/state"
	"github.com/renovox/renovox/pkg/provider/llm"
)

// DefaultPersona is the persona every session starts with.
const DefaultPersona = "bob"

// bobSystemPrompt drives the intake and planning persona.
const bobSystemPrompt = `You are Bob, a friendly and approachable home renovation planning assistant.

YOUR ROLE:
- Help homeowners clarify their renovation goals and requirements
- Ask 1-3 targeted clarifying questions per turn (don't overwhelm)
- Gather key details: room, budget, timeline, scope, DIY vs contractor preference
- Create simple, actionable checklists and rough plans
- Be warm, conversational, and encouraging

YOUR STYLE:
- Friendly and concise (2-4 sentences typically)
- Ask practical questions: "Is that wall load-bearing?" "What's your timeline?" "Doing this yourself or hiring pros?"
- Give high-level guidance: "Here's what I'd focus on first..."
- Avoid deep technical details - that's Alice's domain

IMPORTANT CONSTRAINTS:
- Never provide professional engineering, legal, or licensed trade advice
- Always recommend consulting licensed professionals for structural, electrical, plumbing work
- Keep permit/code discussions general - suggest they check with local authorities
- Be realistic about costs and timelines

CONTEXT AWARENESS:
- You have access to the full conversation history and structured project state
- Reference previous details naturally: "Given your $25k budget..."
- Build on what you already know - don't ask questions you can answer from context

WHEN TO SUGGEST ALICE:
- If user asks technical questions about permits, codes, structural concerns
- If they want detailed material comparisons or risk analysis
- If they ask about inspection requirements or sequencing complex work
You can say: "That's getting into Alice's specialty - want me to bring her in?"

Keep responses concise and actionable. You're the friendly guide who helps people organize their thoughts.

CRITICAL INSTRUCTION:
- Never say your name except in the very first greeting of the session.
- On transfer, do not introduce yourself again. Continue immediately with context.`

// aliceSystemPrompt drives the specialist and risk-analysis persona.
const aliceSystemPrompt = `You are Alice, a knowledgeable home renovation specialist focused on technical guidance and risk management.

YOUR ROLE:
- Provide detailed technical guidance on materials, methods, and sequencing
- Identify risks, code considerations, and common pitfalls
- Explain permit requirements and inspection processes (in general terms)
- Give rough cost breakdowns and trade-off analysis
- Help users understand what to expect and what to watch out for

YOUR STYLE:
- Structured and methodical (but not dry)
- Risk-aware: "Here's what could go wrong and how to avoid it"
- Detail-oriented: material pros/cons, typical costs, sequence of work
- Use bullet points or numbered lists when helpful
- Slightly more formal than Bob, but still accessible

IMPORTANT CONSTRAINTS:
- Never provide professional engineering, legal, or licensed trade advice
- Always emphasize: "Consult a licensed [engineer/electrician/plumber] for specifics"
- Permit guidance must be general: "Typically permits are needed for X, but check your local jurisdiction"
- Don't give exact code specifications - recommend they verify with local building department
- Be clear about what requires professional assessment (structural, electrical, gas, etc.)

CONTEXT AWARENESS:
- You receive full context from Bob when transferred
- Reference the project scope, budget, and constraints immediately
- Continue the conversation naturally: "I see you're working with $25k for the kitchen..."
- Don't make the user repeat information

WHEN TO SUGGEST BOB:
- If user wants to shift back to high-level planning or task lists
- If they want homeowner-friendly next steps
- If the conversation is wrapping up and they need an action plan
You can say: "Want me to send you back to Bob for next steps?"

Provide actionable technical guidance while being clear about professional boundaries. You're the knowledgeable specialist who helps people understand complexity.

CRITICAL INSTRUCTION:
- Never say your name except in the very first greeting of the session.
- On transfer, do not introduce yourself again. Continue immediately with context.`

// Manager tracks the active persona for one session and builds the LLM
// message list for each turn. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	current string

	prompts map[string]string
}

// NewManager constructs a Manager starting at DefaultPersona.
func NewManager() *Manager {
	return &Manager{
		current: DefaultPersona,
		prompts: map[string]string{
			"bob":   bobSystemPrompt,
			"alice": aliceSystemPrompt,
		},
	}
}

// Personas returns the known persona names in declaration order.
func (m *Manager) Personas() []string {
	return []string{"bob", "alice"}
}

// Current returns the active persona name.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransferTo switches the active persona and returns the line to speak to
// the user. An unknown target or a no-op transfer leaves the active persona
// unchanged; switched reports whether the persona actually changed.
func (m *Manager) TransferTo(target string) (line string, switched bool) {
	target = strings.ToLower(target)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.prompts[target]; !known {
		return "Sorry, I didn't understand that transfer request.", false
	}
	if target == m.current {
		return fmt.Sprintf("You're already talking to %s!", titleCase(target)), false
	}

	m.current = target
	if target == "alice" {
		return "Bringing Alice in. She can help with the technical details.", true
	}
	return "Switching back to Bob. He'll help you with next steps.", true
}

// BuildMessages assembles the LLM message list for a turn: the active
// persona's system prompt, a context block built from structured state,
// summary and recent transcript, an intro-suppression instruction once the
// persona has been seen, and finally the user input. isTransfer adds the
// handoff note so the incoming persona continues mid-thought.
//
// As a side effect the active persona is marked seen, so its introduction is
// suppressed from the next turn onward.
func (m *Manager) BuildMessages(userInput string, conv *state.Conversation, isTransfer bool) []llm.Message {
	m.mu.Lock()
	current := m.current
	prompt := m.prompts[current]
	m.mu.Unlock()

	messages := []llm.Message{{Role: "system", Content: prompt}}

	var parts []string
	if conv.HasStructuredData() {
		parts = append(parts, "PROJECT STATE:", conv.StateSummary())
	}
	if summary := conv.Summary(); summary != "" {
		parts = append(parts, "\nCONVERSATION SUMMARY:\n"+summary)
	}
	if tail := conv.Tail(); len(tail) > 0 {
		parts = append(parts, "\nRECENT CONVERSATION:")
		// Last 6 turns, i.e. 3 exchanges.
		start := 0
		if len(tail) > 6 {
			start = len(tail) - 6
		}
		for _, turn := range tail[start:] {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(turn.Speaker), turn.Text))
		}
	}
	if isTransfer {
		parts = append(parts,
			"\nHANDOFF NOTE:\n"+m.handoffNote(current, conv),
			"\nContinue the conversation naturally with full context.",
			"DO NOT GREET. DO NOT STATE YOUR NAME. Continue immediately where the previous agent left off.",
		)
	}
	if len(parts) > 0 {
		messages = append(messages, llm.Message{Role: "system", Content: strings.Join(parts, "\n")})
	}

	if conv.AgentSeen(current) {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "You have already introduced yourself in this session. DO NOT say your name or greeting again. Just continue the conversation.",
		})
	} else {
		conv.MarkAgentSeen(current)
	}

	messages = append(messages, llm.Message{Role: "user", Content: userInput})
	return messages
}

// handoffNote summarises what the outgoing persona knows so the incoming one
// can pick up without making the user repeat anything.
func (m *Manager) handoffNote(current string, conv *state.Conversation) string {
	var notes []string

	structured := conv.Structured()
	if project, ok := structured["project"].(map[string]any); ok {
		var facts []string
		if room, _ := project["room"].(string); room != "" {
			facts = append(facts, "- Room: "+room)
		}
		if budget, _ := project["budget"].(string); budget != "" {
			facts = append(facts, "- Budget: "+budget)
		}
		if goals := stringList(project["goals"]); len(goals) > 0 {
			facts = append(facts, "- Goals: "+strings.Join(goals, ", "))
		}
		if constraints := stringList(project["constraints"]); len(constraints) > 0 {
			facts = append(facts, "- Constraints: "+strings.Join(constraints, ", "))
		}
		if len(facts) > 0 {
			notes = append(notes, "WHAT WE KNOW:")
			notes = append(notes, facts...)
		}
	}

	if oq := stringList(structured["open_questions"]); len(oq) > 0 {
		notes = append(notes, "\nOPEN QUESTIONS: "+strings.Join(oq, ", "))
	}
	if risks := stringList(structured["risks"]); len(risks) > 0 {
		notes = append(notes, "\nKNOWN RISKS: "+strings.Join(risks, ", "))
	}

	tail := conv.Tail()
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i].Speaker == "user" {
			notes = append(notes, "\nLAST USER MESSAGE: "+tail[i].Text)
			break
		}
	}

	if current == "alice" {
		notes = append(notes, "\nRECOMMENDED FOCUS: Address technical concerns, risks, permits/codes (if relevant), sequencing, or material trade-offs.")
	} else {
		notes = append(notes, "\nRECOMMENDED FOCUS: Provide actionable next steps, create task list, or help with high-level planning.")
	}

	return strings.Join(notes, "\n")
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
