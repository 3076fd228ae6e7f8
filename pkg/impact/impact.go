// Package impact implements the Impact Scorer pipeline stage: a weighted
// blend of semantic, permission, volume, context, and drift sub-scores that
// produces the single float the Adaptive Router keys its lane decision on.
package impact

import (
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

// ScoringConfig holds the seven sub-score weights and two post-normalization
// boosts. The zero value is not usable; use DefaultScoringConfig.
type ScoringConfig struct {
	SemanticWeight        float64
	PermissionWeight      float64
	VolumeWeight          float64
	ContextWeight         float64
	DriftWeight           float64
	PriorityWeight        float64
	TypeWeight            float64
	CriticalPriorityBoost float64
	HighSemanticBoost     float64

	// Location is the time zone used to evaluate the context sub-score's
	// night-time-anomaly window. Defaults to time.Local.
	Location *time.Location
}

// DefaultScoringConfig matches the weights this system has always shipped
// with.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		SemanticWeight:        0.30,
		PermissionWeight:      0.20,
		VolumeWeight:          0.10,
		ContextWeight:         0.10,
		DriftWeight:           0.15,
		PriorityWeight:        0.10,
		TypeWeight:            0.05,
		CriticalPriorityBoost: 0.9,
		HighSemanticBoost:     0.8,
		Location:              time.Local,
	}
}

var highImpactKeywords = []string{
	"critical", "emergency", "security", "breach", "violation", "danger",
	"risk", "threat", "attack", "exploit", "vulnerability", "compromise",
	"governance", "policy", "regulation", "compliance", "legal", "audit",
	"financial", "transaction", "payment", "transfer", "blockchain", "consensus",
	"unauthorized", "abnormal", "suspicious", "alert",
}

var highRiskTools = []string{"admin", "delete", "transfer", "execute", "blockchain", "payment"}

// Scorer computes impact scores and tracks the per-sender state
// (request-rate log and impact history) the volume and drift sub-scores
// depend on.
type Scorer struct {
	config  ScoringConfig
	rates   *rateLog
	history *impactHistory
}

// NewScorer returns a Scorer using config. A zero-value Location in config
// is replaced with time.Local.
func NewScorer(config ScoringConfig) *Scorer {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Scorer{
		config:  config,
		rates:   newRateLog(),
		history: newImpactHistory(),
	}
}

// NewDefaultScorer returns a Scorer using DefaultScoringConfig.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultScoringConfig())
}

// Score computes msg's impact score and mutates the sender's rate log and
// impact history as a side effect, matching the stage's "this is the
// call that shapes future scores for the sender" contract.
func (s *Scorer) Score(msg *bus.Message) float64 {
	semanticScore := s.keywordSemanticScore(msg)
	permissionScore := s.permissionScore(msg)
	volumeScore := s.volumeScore(msg.SenderID)
	contextScore := s.contextScore(msg)
	driftScore := s.driftScore(msg.SenderID, contextScore)

	var priorityFactor float64
	switch msg.Priority {
	case bus.PriorityCritical:
		priorityFactor = 1.0
	case bus.PriorityHigh:
		priorityFactor = 0.7
	case bus.PriorityNormal:
		priorityFactor = 0.3
	case bus.PriorityLow:
		priorityFactor = 0.1
	}

	var typeFactor float64
	switch msg.Type {
	case bus.TypeGovernanceRequest, bus.TypeConstitutionalValidation:
		typeFactor = 0.8
	case bus.TypeTaskRequest:
		typeFactor = 0.5
	default:
		typeFactor = 0.2
	}

	cfg := s.config
	score := semanticScore*cfg.SemanticWeight +
		permissionScore*cfg.PermissionWeight +
		volumeScore*cfg.VolumeWeight +
		contextScore*cfg.ContextWeight +
		driftScore*cfg.DriftWeight +
		priorityFactor*cfg.PriorityWeight +
		typeFactor*cfg.TypeWeight

	totalWeight := cfg.SemanticWeight + cfg.PermissionWeight + cfg.VolumeWeight +
		cfg.ContextWeight + cfg.DriftWeight + cfg.PriorityWeight + cfg.TypeWeight
	if totalWeight > 0 {
		score /= totalWeight
	}

	if priorityFactor >= 1.0 {
		score = max(score, cfg.CriticalPriorityBoost)
	}
	if semanticScore > 0.8 {
		score = max(score, cfg.HighSemanticBoost)
	}

	return clamp(score, 0, 1)
}

func (s *Scorer) keywordSemanticScore(msg *bus.Message) float64 {
	hits := 0
	for _, value := range msg.Content {
		lower := strings.ToLower(value)
		for _, kw := range highImpactKeywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
	}
	return min(float64(hits)*0.3, 0.9)
}

func (s *Scorer) permissionScore(msg *bus.Message) float64 {
	maxRisk := 0.1
	for _, value := range msg.Content {
		lower := strings.ToLower(value)
		for _, tool := range highRiskTools {
			if strings.Contains(lower, tool) {
				return 0.9
			}
		}
	}
	return maxRisk
}

const volumeWindow = 60 * time.Second

func (s *Scorer) volumeScore(senderID string) float64 {
	count := s.rates.recordAndCount(senderID, time.Now(), volumeWindow)
	switch {
	case count < 10:
		return 0.1
	case count < 50:
		return 0.4
	case count < 100:
		return 0.7
	default:
		return 1.0
	}
}

func (s *Scorer) contextScore(msg *bus.Message) float64 {
	score := 0.2

	hour := time.Now().In(s.config.Location).Hour()
	if hour >= 1 && hour <= 5 {
		score += 0.3
	}

	if amountStr, ok := msg.Payload["amount"]; ok {
		if amount, err := strconv.ParseFloat(amountStr, 64); err == nil {
			if amount > 10000.0 {
				score += 0.4
			}
		}
	}

	return min(score, 1.0)
}

const driftDeviationThreshold = 0.3

// driftScore compares currentImpact (which is, deliberately, the message's
// context sub-score — not its overall impact score) against the mean of the
// sender's previously recorded history, then appends currentImpact to that
// same history. This asymmetry mirrors the scorer this was ported from and
// is intentional: drift tracks how much a sender's situational context is
// moving, not how their total score is moving.
func (s *Scorer) driftScore(senderID string, currentImpact float64) float64 {
	deviation, hadHistory := s.history.observeDrift(senderID, currentImpact)
	if !hadHistory {
		return 0.0
	}
	if deviation > driftDeviationThreshold {
		return min(deviation/driftDeviationThreshold*0.5, 1.0)
	}
	return 0.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
