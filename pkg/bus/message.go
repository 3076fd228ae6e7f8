// Package bus defines the data model shared by every stage of the message
// processing pipeline: the message envelope, its validation outcome, and
// the small enums that classify a message's type, priority, and lifecycle
// status.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// ConstitutionalHash is the governance fingerprint every message must carry
// to pass constitutional validation. It identifies the policy regime this
// build conforms to.
const ConstitutionalHash = "cdd01ef066bc6cf2"

// MessageType classifies the intent of a message.
type MessageType string

const (
	TypeCommand                  MessageType = "command"
	TypeQuery                    MessageType = "query"
	TypeResponse                 MessageType = "response"
	TypeEvent                    MessageType = "event"
	TypeNotification             MessageType = "notification"
	TypeHeartbeat                MessageType = "heartbeat"
	TypeGovernanceRequest        MessageType = "governance-request"
	TypeGovernanceResponse       MessageType = "governance-response"
	TypeConstitutionalValidation MessageType = "constitutional-validation"
	TypeTaskRequest               MessageType = "task-request"
	TypeTaskResponse              MessageType = "task-response"
)

// Priority classifies the urgency of a message.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Status is the message's position in its processing lifecycle.
// Transitions only ever move forward: Pending -> (Processing|Deliberation) ->
// (Delivered|Failed|Expired).
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusDelivered    Status = "delivered"
	StatusFailed       Status = "failed"
	StatusExpired      Status = "expired"
	StatusDeliberation Status = "deliberation"
)

// RoutingContext carries delivery metadata mutated by the router stage.
type RoutingContext struct {
	SourceAgentID       string   `json:"source_agent_id"`
	TargetAgentID       string   `json:"target_agent_id"`
	RoutingKey          string   `json:"routing_key"`
	RoutingTags         []string `json:"routing_tags,omitempty"`
	RetryCount          int      `json:"retry_count"`
	MaxRetries          int      `json:"max_retries"`
	TimeoutMS           int      `json:"timeout_ms"`
	ConstitutionalHash  string   `json:"constitutional_hash"`
}

// Message is the unit of work flowing through the pipeline.
type Message struct {
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	Content        map[string]string `json:"content"`
	Payload        map[string]string `json:"payload"`
	SenderID       string            `json:"sender_id"`
	TargetID       string            `json:"target_id"`
	Type           MessageType       `json:"message_type"`
	Priority       Priority          `json:"priority"`
	Status         Status            `json:"status"`
	ConstitutionalHash string         `json:"constitutional_hash"`
	Validated      bool              `json:"validated"`
	Routing        *RoutingContext   `json:"routing,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	ImpactScore    *float64          `json:"impact_score,omitempty"`
}

// NewMessage returns a Message with fresh identifiers, the correct
// constitutional hash, normal priority, and pending status — ready for a
// caller to fill in sender/content/type before handing it to the pipeline.
func NewMessage() *Message {
	now := time.Now().UTC()
	return &Message{
		MessageID:          uuid.NewString(),
		ConversationID:     uuid.NewString(),
		Content:            make(map[string]string),
		Payload:            make(map[string]string),
		Type:               TypeCommand,
		Priority:           PriorityNormal,
		Status:             StatusPending,
		ConstitutionalHash: ConstitutionalHash,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Touch advances UpdatedAt and optionally transitions Status. Callers are
// responsible for only requesting forward transitions; Touch does not
// enforce the lifecycle invariant itself — it is a convenience setter used
// by pipeline stages that already know the transition is legal.
func (m *Message) Touch(status Status) {
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
}
