package validate

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

// CELRule is an optional structural rule expressed as a CEL boolean
// expression evaluated against a map[string]any view of the message
// (fields "message_type", "priority", "sender_id", "target_id", "content",
// "payload"). It is off by default — a Validator only runs it if one is
// registered with AddRule.
type CELRule struct {
	name       string
	expression string

	env *cel.Env

	mu      sync.RWMutex
	program cel.Program
}

// NewCELRule compiles expression once eagerly so that a malformed rule is
// caught at registration time, not on the first message.
func NewCELRule(name, expression string) (*CELRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("message_type", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("target_id", cel.StringType),
		cel.Variable("content", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel rule %s: create env: %w", name, err)
	}

	r := &CELRule{name: name, expression: expression, env: env}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *CELRule) compile() error {
	ast, issues := r.env.Compile(r.expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("cel rule %s: compile: %w", r.name, issues.Err())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return fmt.Errorf("cel rule %s: program: %w", r.name, err)
	}
	r.mu.Lock()
	r.program = prg
	r.mu.Unlock()
	return nil
}

// Name implements Rule.
func (r *CELRule) Name() string { return r.name }

// Check implements Rule: it evaluates the compiled CEL expression against
// msg and reports a violation when it evaluates to false.
func (r *CELRule) Check(msg *bus.Message) error {
	r.mu.RLock()
	prg := r.program
	r.mu.RUnlock()

	activation := messageToActivation(msg)
	out, _, err := prg.Eval(activation)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("expression %q did not evaluate to a boolean", r.expression)
	}
	if !allowed {
		return fmt.Errorf("expression %q evaluated false", r.expression)
	}
	return nil
}

func messageToActivation(msg *bus.Message) map[string]interface{} {
	return map[string]interface{}{
		"message_type": string(msg.Type),
		"priority":     string(msg.Priority),
		"sender_id":    msg.SenderID,
		"target_id":    msg.TargetID,
		"content":      stringMapToAny(msg.Content),
		"payload":      stringMapToAny(msg.Payload),
	}
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
