package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

func TestValidateConstitutionalHash(t *testing.T) {
	msg := bus.NewMessage()
	msg.SenderID = "agent-1"
	msg.ConstitutionalHash = "wrong_hash"

	result := ValidateConstitutionalHash(msg)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "hash mismatch")

	msg.ConstitutionalHash = bus.ConstitutionalHash
	result = ValidateConstitutionalHash(msg)
	assert.True(t, result.Valid)
}

func TestValidatorMergesMandatoryChecks(t *testing.T) {
	v := New()
	msg := bus.NewMessage()
	msg.SenderID = ""
	msg.ConstitutionalHash = "wrong_hash"

	result, err := v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, bus.DecisionDeny, result.Decision)
	assert.Len(t, result.Errors, 2)
}

func TestValidatorPassesWellFormedMessageWithRoutingWarning(t *testing.T) {
	v := New()
	msg := bus.NewMessage()
	msg.SenderID = "agent-1"

	result, err := v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, bus.DecisionAllow, result.Decision)
	assert.Empty(t, result.Errors)
	assert.Contains(t, result.Warnings, "missing routing descriptor")
}

func TestValidatorPassesWithNoWarningWhenRoutingPresent(t *testing.T) {
	v := New()
	msg := bus.NewMessage()
	msg.SenderID = "agent-1"
	msg.Routing = &bus.RoutingContext{SourceAgentID: "agent-1", TargetAgentID: "agent-2"}

	result, err := v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Warnings)
}

func TestValidatorRunsCELRule(t *testing.T) {
	rule, err := NewCELRule("requires-reason", `message_type != "governance-request" || "reason" in content`)
	require.NoError(t, err)

	v := New()
	v.AddRule(rule)

	msg := bus.NewMessage()
	msg.SenderID = "agent-1"
	msg.Type = bus.TypeGovernanceRequest

	result, err := v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, result.Valid)

	msg.Content["reason"] = "escalation"
	result, err = v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestSchemaRuleValidatesRegisteredType(t *testing.T) {
	rule := NewSchemaRule("content-shape")
	err := rule.RegisterSchema(bus.TypeCommand, `{
		"type": "object",
		"properties": {
			"content": {
				"type": "object",
				"required": ["action"]
			}
		}
	}`)
	require.NoError(t, err)

	v := New()
	v.AddRule(rule)

	msg := bus.NewMessage()
	msg.SenderID = "agent-1"
	msg.Type = bus.TypeCommand

	result, err := v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, result.Valid)

	msg.Content["action"] = "restart"
	result, err = v.Validate(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}
