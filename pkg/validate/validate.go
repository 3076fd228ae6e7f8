// Package validate implements the Structural & Constitutional Validator
// pipeline stage: it checks the message's governance fingerprint and its
// structural envelope in parallel, then folds both outcomes into a single
// ValidationResult.
package validate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

// Rule is an optional, operator-configured structural check that runs
// alongside the two mandatory checks. A Rule returning a non-nil error
// fails validation; it never overrides or short-circuits the mandatory
// checks.
type Rule interface {
	// Check inspects msg and returns an error describing a violation, or
	// nil if msg satisfies the rule.
	Check(msg *bus.Message) error
	// Name identifies the rule for error messages.
	Name() string
}

// Validator runs the constitutional-hash check and the structural-envelope
// check concurrently, plus any registered optional Rules.
type Validator struct {
	rules []Rule
}

// New returns a Validator with no optional rules configured.
func New() *Validator {
	return &Validator{}
}

// AddRule registers an optional structural rule. Rules run in the same
// fork-join group as the two mandatory checks.
func (v *Validator) AddRule(r Rule) {
	v.rules = append(v.rules, r)
}

// Validate runs all checks concurrently and merges their outcomes. The
// mandatory checks always run; a Rule panic or error is captured as an
// additional validation error, never as a Go error return, since this
// stage's contract is "produce a ValidationResult," not "fail the call."
func (v *Validator) Validate(ctx context.Context, msg *bus.Message) (*bus.ValidationResult, error) {
	results := make([]*bus.ValidationResult, 2+len(v.rules))

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		results[0] = ValidateConstitutionalHash(msg)
		return nil
	})
	g.Go(func() error {
		results[1] = ValidateStructure(msg)
		return nil
	})
	for i, rule := range v.rules {
		i, rule := i, rule
		g.Go(func() error {
			results[2+i] = runRule(rule, msg)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	merged := bus.NewValidationResult()
	for _, r := range results {
		merged.Merge(r)
	}
	return merged, nil
}

func runRule(rule Rule, msg *bus.Message) (result *bus.ValidationResult) {
	defer func() {
		if p := recover(); p != nil {
			result = bus.NewValidationResult()
			result.AddError(fmt.Sprintf("%s: panic: %v", rule.Name(), p))
		}
	}()
	if err := rule.Check(msg); err != nil {
		result := bus.NewValidationResult()
		result.AddError(fmt.Sprintf("%s: %v", rule.Name(), err))
		return result
	}
	return nil
}

// ValidateConstitutionalHash rejects msg unless it carries the current
// governance fingerprint exactly. Mismatch is a hard error.
func ValidateConstitutionalHash(msg *bus.Message) *bus.ValidationResult {
	result := bus.NewValidationResult()
	if msg.ConstitutionalHash != bus.ConstitutionalHash {
		result.AddError(fmt.Sprintf("constitutional hash mismatch: expected %s, got %s", bus.ConstitutionalHash, msg.ConstitutionalHash))
	}
	return result
}

// ValidateStructure requires a non-empty sender identifier, a hard error. A
// missing routing descriptor is only a warning — downstream stages can
// still process the message, just without delivery metadata to act on.
func ValidateStructure(msg *bus.Message) *bus.ValidationResult {
	result := bus.NewValidationResult()
	if msg.SenderID == "" {
		result.AddError("missing sender id")
	}
	if msg.Routing == nil {
		result.AddWarning("missing routing descriptor")
	}
	return result
}
