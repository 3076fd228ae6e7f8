// Package auditlog implements the Audit Dispatcher pipeline stage: a
// bounded, non-blocking channel drained by a background goroutine that
// POSTs each decision to an external sink, plus a supplemental in-memory
// hash-chained mirror of everything accepted into the channel.
package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

const channelCapacity = 1000

// DecisionLog is the wire record sent to the audit sink.
type DecisionLog struct {
	TraceID   string    `json:"trace_id"`
	AgentID   string    `json:"agent_id"`
	RiskScore float64   `json:"risk_score"`
	Decision  string    `json:"decision"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher owns the bounded audit channel and its draining goroutine.
type Dispatcher struct {
	serviceURL string
	httpClient *http.Client
	queue      chan DecisionLog
	mirror     *Chain

	done chan struct{}
}

// NewDispatcher starts the background drain goroutine and returns a ready
// Dispatcher. Call Close to stop the goroutine once the dispatcher is no
// longer needed.
func NewDispatcher(serviceURL string) *Dispatcher {
	d := &Dispatcher{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		queue:      make(chan DecisionLog, channelCapacity),
		mirror:     NewChain(),
		done:       make(chan struct{}),
	}
	go d.drain()
	return d
}

// LogDecision builds a DecisionLog from msg and result, enqueues it
// non-blockingly (silently dropping it if the channel is full), and appends
// it to the local hash-chained mirror. It always returns immediately — no
// audit failure may delay or fail the pipeline.
func (d *Dispatcher) LogDecision(msg *bus.Message, result *bus.ValidationResult) error {
	riskScore := 0.0
	if msg.ImpactScore != nil {
		riskScore = *msg.ImpactScore
	}

	decision := bus.DecisionAllow
	if !result.Valid {
		decision = bus.DecisionDeny
	}

	log := DecisionLog{
		TraceID:   msg.MessageID,
		AgentID:   msg.SenderID,
		RiskScore: riskScore,
		Decision:  decision,
		Timestamp: time.Now().UTC(),
	}

	select {
	case d.queue <- log:
		d.mirror.Append(log)
	default:
		// Channel full: drop silently, per this stage's bounded-queue contract.
	}
	return nil
}

func (d *Dispatcher) drain() {
	for {
		select {
		case log, ok := <-d.queue:
			if !ok {
				return
			}
			d.post(log)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) post(log DecisionLog) {
	payload, err := json.Marshal(log)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, d.serviceURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// Mirror returns the supplemental hash-chained log of every record this
// dispatcher has accepted into its queue.
func (d *Dispatcher) Mirror() *Chain {
	return d.mirror
}

// Close stops the background drain goroutine. Records already queued are
// discarded.
func (d *Dispatcher) Close() {
	close(d.done)
}
