// Package pipeline orchestrates the six message-processing stages into the
// bus's single public entry point, Process.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/acgs-bus/pkg/auditlog"
	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
	"github.com/Mindburn-Labs/acgs-bus/pkg/impact"
	"github.com/Mindburn-Labs/acgs-bus/pkg/injection"
	"github.com/Mindburn-Labs/acgs-bus/pkg/policy"
	"github.com/Mindburn-Labs/acgs-bus/pkg/router"
	"github.com/Mindburn-Labs/acgs-bus/pkg/validate"
)

const instrumentationName = "github.com/Mindburn-Labs/acgs-bus/pkg/pipeline"

// Handler is invoked, concurrently with its siblings, for every message of
// the type it is registered against once the message clears all six
// stages. An error marks the message failed.
type Handler func(ctx context.Context, msg *bus.Message) error

// Pipeline wires the six stages together and owns the process-wide
// processed-message counter and metrics map.
type Pipeline struct {
	validator *validate.Validator
	scorer    *impact.Scorer
	router    *router.Router
	policy    *policy.Client
	audit     *auditlog.Dispatcher

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	stageCounter metric.Int64Counter

	handlersMu sync.RWMutex
	handlers   map[bus.MessageType][]Handler

	mu             sync.RWMutex
	processedCount uint64
	metrics        map[string]uint64
}

// Config collects the constructed stage dependencies a Pipeline needs.
// PolicyClient and AuditDispatcher may be nil; a nil PolicyClient skips
// stage 5 entirely (treated as an always-allow no-op) and a nil
// AuditDispatcher makes stage 6 a no-op — useful for tests that don't care
// about those stages.
type Config struct {
	Validator       *validate.Validator
	Scorer          *impact.Scorer
	Router          *router.Router
	PolicyClient    *policy.Client
	AuditDispatcher *auditlog.Dispatcher
	Logger          *slog.Logger
}

// New returns a Pipeline ready to process messages.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "pipeline")
	}

	meter := otel.Meter(instrumentationName)
	stageCounter, _ := meter.Int64Counter("acgs_bus_stage_outcomes_total")

	return &Pipeline{
		validator:    cfg.Validator,
		scorer:       cfg.Scorer,
		router:       cfg.Router,
		policy:       cfg.PolicyClient,
		audit:        cfg.AuditDispatcher,
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
		meter:        meter,
		stageCounter: stageCounter,
		handlers:     make(map[bus.MessageType][]Handler),
		metrics:      make(map[string]uint64),
	}
}

// RegisterHandler adds h to the list invoked for messages of type t.
func (p *Pipeline) RegisterHandler(t bus.MessageType, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[t] = append(p.handlers[t], h)
}

// SetImpactThreshold adjusts the router's threshold directly, bypassing the
// feedback-rate adaptation — a runtime-settable configuration option.
func (p *Pipeline) SetImpactThreshold(threshold float64) {
	p.router.SetThreshold(threshold)
}

// SetPolicyFailClosed toggles the policy client's degradation mode at
// runtime: true fails closed (deny on evaluation failure), false fails
// open (allow with a warning). Mirrors the original's set_opa_fail_closed.
func (p *Pipeline) SetPolicyFailClosed(failClosed bool) {
	if p.policy != nil {
		p.policy.SetFailOpen(!failClosed)
	}
}

// ProcessedCount returns the number of messages that have completed
// processing successfully.
func (p *Pipeline) ProcessedCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processedCount
}

// Metrics returns a snapshot of the process-wide metrics map.
func (p *Pipeline) Metrics() map[string]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]uint64, len(p.metrics))
	for k, v := range p.metrics {
		out[k] = v
	}
	return out
}

func (p *Pipeline) incrementMetric(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics[key]++
}

// Process runs msg through stages 1–6 in order, per this pipeline's
// short-circuit rules:
//  1. Injection hit → audit the denial and return.
//  2. Structural/constitutional failure → return without audit.
//  3. Scorer always runs once validation passes; its result is attached to msg.
//  4. Router always runs; lane and score are written into the result's metadata.
//  5. Policy engine runs only on the fast lane.
//  6. Any denial at any stage is audited.
//  7. On fast-lane success, registered handlers run concurrently; any
//     failure marks the message failed and returns a denial-shaped result.
func (p *Pipeline) Process(ctx context.Context, msg *bus.Message) (*bus.ValidationResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	msg.Touch(bus.StatusProcessing)

	// Stage 1: Injection Screen.
	if result := injection.Screen(msg); result != nil {
		p.recordStage(ctx, "injection", false)
		msg.Touch(bus.StatusFailed)
		p.auditDenial(msg, result)
		return result, nil
	}
	p.recordStage(ctx, "injection", true)

	// Stage 2: Structural & Constitutional Validator.
	structResult, err := p.validator.Validate(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: validate: %w", err)
	}
	if !structResult.Valid {
		p.recordStage(ctx, "validate", false)
		msg.Touch(bus.StatusFailed)
		return structResult, nil
	}
	p.recordStage(ctx, "validate", true)

	// Stage 3: Impact Scorer.
	score := p.scorer.Score(msg)
	msg.ImpactScore = &score

	// Stage 4: Adaptive Router.
	decision := p.router.Route(msg)
	result := bus.NewValidationResult()
	result.Merge(structResult)
	result.SetMeta("lane", decision.Lane)
	result.SetMeta("impact_score", fmt.Sprintf("%v", score))

	if decision.RequiresDeliberation {
		msg.Touch(bus.StatusDeliberation)
		p.recordStage(ctx, "router", true)
		return result, nil
	}
	p.recordStage(ctx, "router", true)

	// Stage 5: Policy Engine Client (fast lane only).
	if p.policy != nil {
		policyResult, err := p.policy.Validate(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: policy validate: %w", err)
		}
		result.Merge(policyResult)
		if !result.Valid {
			p.recordStage(ctx, "policy", false)
			msg.Touch(bus.StatusFailed)
			p.auditDenial(msg, result)
			return result, nil
		}
		p.recordStage(ctx, "policy", true)
	}

	// Stage 6 (success path): no denial to audit; handlers run next.
	if err := p.dispatchHandlers(ctx, msg); err != nil {
		msg.Touch(bus.StatusFailed)
		failure := bus.NewValidationResult()
		failure.Merge(result)
		failure.AddError(err.Error())
		p.auditDenial(msg, failure)
		return failure, nil
	}

	msg.Touch(bus.StatusDelivered)
	p.mu.Lock()
	p.processedCount++
	p.mu.Unlock()
	p.incrementMetric("messages_processed")

	return result, nil
}

func (p *Pipeline) dispatchHandlers(ctx context.Context, msg *bus.Message) error {
	p.handlersMu.RLock()
	handlers := append([]Handler(nil), p.handlers[msg.Type]...)
	p.handlersMu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			return h(gctx, msg)
		})
	}
	return g.Wait()
}

// auditDenial forwards a denial to the audit dispatcher, tolerating a nil
// dispatcher for callers (tests) that don't configure one.
func (p *Pipeline) auditDenial(msg *bus.Message, result *bus.ValidationResult) {
	if p.audit == nil {
		return
	}
	_ = p.audit.LogDecision(msg, result)
}

func (p *Pipeline) recordStage(ctx context.Context, stage string, passed bool) {
	p.logger.Debug("stage complete", "stage", stage, "passed", passed)
	if p.stageCounter != nil {
		p.stageCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.Bool("passed", passed),
		))
	}
}
