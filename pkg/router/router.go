// Package router implements the Adaptive Router pipeline stage: a lock-free
// threshold comparison that sends a message down the fast lane or the
// deliberation lane, plus feedback hooks that nudge the threshold based on
// observed false-positive/false-negative rates.
package router

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

const (
	laneFast         = "fast"
	laneDeliberation = "deliberation"

	minThreshold = 0.1
	maxThreshold = 0.95

	fpRateHigh = 0.3
	fnRateHigh = 0.1
	adjustUp   = 0.05
	adjustDown = -0.05
)

// Decision is the outcome of routing a single message.
type Decision struct {
	Lane                string  `json:"lane"`
	ImpactScore         float64 `json:"impact_score"`
	RequiresDeliberation bool   `json:"requires_deliberation"`
}

// Router holds the atomically-adjustable impact threshold and the history
// of routing decisions keyed by message id.
type Router struct {
	threshold atomic.Float64

	mu      sync.Mutex
	history map[string]Decision
}

// New returns a Router with the given starting threshold.
func New(threshold float64) *Router {
	r := &Router{history: make(map[string]Decision)}
	r.threshold.Store(threshold)
	return r
}

// Threshold returns the current impact threshold.
func (r *Router) Threshold() float64 {
	return r.threshold.Load()
}

// SetThreshold overrides the impact threshold directly, clamped to
// [0.1, 0.95]. Unlike UpdateThreshold, this bypasses feedback-rate
// adaptation entirely — a configuration-driven override.
func (r *Router) SetThreshold(threshold float64) {
	if threshold < minThreshold {
		threshold = minThreshold
	}
	if threshold > maxThreshold {
		threshold = maxThreshold
	}
	r.threshold.Store(threshold)
}

// Route reads msg's impact score (0 if unset) and the current threshold
// without taking a lock, then records the resulting decision in the routing
// history under the history mutex.
func (r *Router) Route(msg *bus.Message) Decision {
	impactScore := 0.0
	if msg.ImpactScore != nil {
		impactScore = *msg.ImpactScore
	}
	threshold := r.threshold.Load()

	var decision Decision
	if impactScore >= threshold {
		decision = Decision{Lane: laneDeliberation, ImpactScore: impactScore, RequiresDeliberation: true}
	} else {
		decision = Decision{Lane: laneFast, ImpactScore: impactScore, RequiresDeliberation: false}
	}

	r.mu.Lock()
	r.history[msg.MessageID] = decision
	r.mu.Unlock()

	return decision
}

// HistoryFor returns the most recent routing decision recorded for
// messageID, if any.
func (r *Router) HistoryFor(messageID string) (Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.history[messageID]
	return d, ok
}

// UpdateThreshold nudges the threshold up when the false-positive rate is
// high, or down when the false-negative rate is high, clamped to
// [0.1, 0.95]. At most one adjustment is applied per call; a high
// false-positive rate takes precedence over a high false-negative rate.
func (r *Router) UpdateThreshold(fpRate, fnRate float64) {
	var adjustment float64
	switch {
	case fpRate > fpRateHigh:
		adjustment = adjustUp
	case fnRate > fnRateHigh:
		adjustment = adjustDown
	}

	if adjustment == 0 {
		return
	}

	current := r.threshold.Load()
	next := current + adjustment
	if next < minThreshold {
		next = minThreshold
	}
	if next > maxThreshold {
		next = maxThreshold
	}
	r.threshold.Store(next)
}
