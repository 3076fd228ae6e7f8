//go:build property
// +build property

package router_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
	"github.com/Mindburn-Labs/acgs-bus/pkg/router"
)

// TestThresholdStaysClamped verifies repeated UpdateThreshold calls, under
// any sequence of false-positive/false-negative rates, never push the
// threshold outside [0.1, 0.95].
func TestThresholdStaysClamped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("threshold never leaves [0.1, 0.95]", prop.ForAll(
		func(start float64, fpRates, fnRates []float64) bool {
			r := router.New(start)
			for i := 0; i < len(fpRates) && i < len(fnRates); i++ {
				r.UpdateThreshold(fpRates[i], fnRates[i])
				if r.Threshold() < 0.1 || r.Threshold() > 0.95 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.SliceOf(gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}

// TestRouteLaneMatchesThresholdComparison verifies Route's lane choice
// always agrees with a direct score-vs-threshold comparison.
func TestRouteLaneMatchesThresholdComparison(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("route lane matches threshold comparison", prop.ForAll(
		func(threshold, score float64) bool {
			r := router.New(threshold)
			msg := bus.NewMessage()
			msg.SenderID = "agent-1"
			msg.ImpactScore = &score

			decision := r.Route(msg)
			want := score >= threshold
			return decision.RequiresDeliberation == want
		},
		gen.Float64Range(0.1, 0.95),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
