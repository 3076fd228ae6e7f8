package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageDefaults(t *testing.T) {
	msg := NewMessage()

	assert.NotEmpty(t, msg.MessageID)
	assert.NotEmpty(t, msg.ConversationID)
	assert.Equal(t, TypeCommand, msg.Type)
	assert.Equal(t, PriorityNormal, msg.Priority)
	assert.Equal(t, StatusPending, msg.Status)
	assert.Equal(t, ConstitutionalHash, msg.ConstitutionalHash)
	assert.NotNil(t, msg.Content)
	assert.NotNil(t, msg.Payload)
}

func TestTouchAdvancesStatusAndTimestamp(t *testing.T) {
	msg := NewMessage()
	before := msg.UpdatedAt

	msg.Touch(StatusProcessing)

	assert.Equal(t, StatusProcessing, msg.Status)
	assert.True(t, msg.UpdatedAt.After(before) || msg.UpdatedAt.Equal(before))
}

func TestNewValidationResultStartsPermissive(t *testing.T) {
	result := NewValidationResult()

	assert.True(t, result.Valid)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestAddErrorInvalidates(t *testing.T) {
	result := NewValidationResult()

	result.AddError("sender_id missing")

	assert.False(t, result.Valid)
	assert.Equal(t, DecisionDeny, result.Decision)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "sender_id missing", result.Errors[0])
}

func TestAddWarningLeavesValidityUntouched(t *testing.T) {
	result := NewValidationResult()

	result.AddWarning("routing context missing")

	assert.True(t, result.Valid)
	assert.Equal(t, DecisionAllow, result.Decision)
	require.Len(t, result.Warnings, 1)
}

func TestSetMetaOverwritesOnCollision(t *testing.T) {
	result := NewValidationResult()

	result.SetMeta("lane", "fast")
	result.SetMeta("lane", "deliberation")

	assert.Equal(t, "deliberation", result.Metadata["lane"])
}

func TestMergeOtherInvalidResultInvalidatesReceiver(t *testing.T) {
	left := NewValidationResult()
	right := NewValidationResult()
	right.AddError("policy denied")

	left.Merge(right)

	assert.False(t, left.Valid)
	assert.Equal(t, DecisionDeny, left.Decision)
	assert.Contains(t, left.Errors, "policy denied")
}

func TestMergeConcatenatesErrorsAndWarnings(t *testing.T) {
	left := NewValidationResult()
	left.AddWarning("routing context missing")
	right := NewValidationResult()
	right.AddWarning("stale timeout")
	right.SetMeta("impact_score", "0.42")

	left.Merge(right)

	assert.Equal(t, []string{"routing context missing", "stale timeout"}, left.Warnings)
	assert.Equal(t, "0.42", left.Metadata["impact_score"])
}

func TestMergeNilIsNoOp(t *testing.T) {
	result := NewValidationResult()
	result.AddWarning("routing context missing")

	result.Merge(nil)

	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
}
