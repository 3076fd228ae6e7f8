// Package injection implements the first pipeline stage: a fast,
// allocation-light screen for known prompt-injection and jailbreak phrasing
// that must never reach the structural validator or the policy engine.
package injection

import (
	"fmt"
	"regexp"

	"golang.org/x/text/cases"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

// patterns mirrors the fixed set of known adversarial phrasings this system
// has always screened for. Order matters only in that the first match wins
// and is reported; there is no severity ranking among them.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)system prompt (leak|override)`),
	regexp.MustCompile(`(?i)do anything now`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)persona (adoption|override)`),
	regexp.MustCompile(`(?i)\(note to self: .*\)`),
	regexp.MustCompile(`(?i)\[INST\].*\[/INST\]`),
	regexp.MustCompile(`(?i)actually, do this instead`),
	regexp.MustCompile(`(?i)forget everything you know`),
	regexp.MustCompile(`(?i)bypass rules`),
	regexp.MustCompile(`(?i)reveal your system instructions`),
	regexp.MustCompile(`(?i)new directive:`),
}

// folder performs Unicode-correct case folding ahead of the regex pass, so
// that case variants outside simple ASCII (Turkish "İ", German eszett, full
// width Latin) are normalized the same way a human reviewer would read them,
// rather than relying solely on RE2's built-in (?i) folding.
var folder = cases.Fold()

// Screen inspects every content value on msg for known adversarial
// phrasing. It returns nil if nothing matched. If a pattern matches, it
// returns a rejecting ValidationResult with a single error describing
// which pattern tripped and a "decision":"DENY" metadata entry, matching
// the fail-fast, first-match-wins contract of this stage.
func Screen(msg *bus.Message) *bus.ValidationResult {
	for _, v := range msg.Content {
		if r := scan(v); r != nil {
			return r
		}
	}
	return nil
}

func scan(content string) *bus.ValidationResult {
	folded := folder.String(content)
	for _, pattern := range patterns {
		if pattern.MatchString(content) || pattern.MatchString(folded) {
			result := bus.NewValidationResult()
			result.AddError(fmt.Sprintf("Prompt injection detected: Pattern mismatch '%s'", pattern.String()))
			result.SetMeta("decision", bus.DecisionDeny)
			return result
		}
	}
	return nil
}
