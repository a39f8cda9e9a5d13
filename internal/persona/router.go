package persona

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// phoneticJWThreshold is the minimum Jaro-Winkler score a token must reach
// against a persona name once Double Metaphone codes overlap. Keeps "alise"
// routing to alice while "a list" does not.
const phoneticJWThreshold = 0.80

// Transfer is a detected persona-switch request.
type Transfer struct {
	// Target is the persona the user asked for.
	Target string

	// Confidence is "explicit" for a regex match, "phonetic" for the
	// fuzzy-name fallback.
	Confidence string

	// Pattern is the matched expression, for logging.
	Pattern string
}

// Router detects deterministic persona-switch intent from user text before
// the LLM sees it. Read-only after construction, safe for concurrent use.
type Router struct {
	// order preserves persona declaration order for tie-breaking.
	order    []string
	patterns map[string][]*regexp.Regexp
}

// transferPatterns lists the explicit switch phrasings per persona. First
// match wins; map iteration is replaced by declaration order.
var transferPatterns = map[string][]string{
	"alice": {
		`transfer.*alice`,
		`let me talk to alice`,
		`switch.*alice`,
		`bring.*alice`,
		`connect.*alice`,
		`put.*alice.*on`,
		`speak.*alice`,
		`can i talk to alice`,
		`i want alice`,
		`i need alice`,
	},
	"bob": {
		`transfer.*bob`,
		`let me talk to bob`,
		`switch.*bob`,
		`bring.*bob`,
		`go back.*bob`,
		`back to bob`,
		`return.*bob`,
		`put.*bob.*on`,
		`speak.*bob`,
		`can i talk to bob`,
		`i want bob`,
		`i need bob`,
	},
}

// switchVerbs gate the phonetic fallback: a fuzzy persona-name hit only
// counts when the user also used a transfer verb.
var switchVerbs = []string{
	"talk", "speak", "switch", "transfer", "bring", "connect", "get", "want", "need",
}

// NewRouter builds a Router for the given personas in declaration order.
// Personas without a pattern set get none and are only reachable through the
// phonetic fallback.
func NewRouter(personas ...string) *Router {
	r := &Router{
		patterns: make(map[string][]*regexp.Regexp, len(personas)),
	}
	for _, p := range personas {
		name := strings.ToLower(p)
		r.order = append(r.order, name)
		for _, pat := range transferPatterns[name] {
			r.patterns[name] = append(r.patterns[name], regexp.MustCompile(`(?i)`+pat))
		}
	}
	return r
}

// DetectTransfer returns the transfer request found in text, or nil. Explicit
// regex patterns are checked first in persona declaration order; when none
// fire, persona names are matched phonetically against the input tokens so
// transcription slips like "talk to alise" still route.
func (r *Router) DetectTransfer(text string) *Transfer {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	for _, persona := range r.order {
		for _, pat := range r.patterns[persona] {
			if pat.MatchString(text) {
				return &Transfer{Target: persona, Confidence: "explicit", Pattern: pat.String()}
			}
		}
	}

	return r.detectPhonetic(text)
}

// detectPhonetic matches input tokens against persona names by Double
// Metaphone overlap ranked with Jaro-Winkler. Requires a switch verb in the
// input so ordinary mentions of similar-sounding words do not trigger.
func (r *Router) detectPhonetic(text string) *Transfer {
	tokens := strings.Fields(text)
	if !containsSwitchVerb(tokens) {
		return nil
	}

	for _, persona := range r.order {
		pPrimary, pSecondary := matchr.DoubleMetaphone(persona)
		for _, tok := range tokens {
			tok = strings.Trim(tok, ".,!?'\"")
			if tok == "" {
				continue
			}
			tPrimary, tSecondary := matchr.DoubleMetaphone(tok)
			if !codesOverlap(pPrimary, pSecondary, tPrimary, tSecondary) {
				continue
			}
			if matchr.JaroWinkler(tok, persona, false) >= phoneticJWThreshold {
				return &Transfer{Target: persona, Confidence: "phonetic", Pattern: tok}
			}
		}
	}
	return nil
}

func containsSwitchVerb(tokens []string) bool {
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?'\"")
		for _, verb := range switchVerbs {
			if tok == verb {
				return true
			}
		}
	}
	return false
}

func codesOverlap(a1, a2, b1, b2 string) bool {
	for _, a := range []string{a1, a2} {
		if a == "" {
			continue
		}
		if a == b1 || (b2 != "" && a == b2) {
			return true
		}
	}
	return false
}
