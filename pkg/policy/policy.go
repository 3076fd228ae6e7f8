// Package policy implements the Policy Engine Client pipeline stage: an
// HTTP adapter to an external constitutional-policy service, with a bounded
// TTL cache, in-flight call coalescing, outbound rate limiting, and a
// fail-open/fail-closed degradation policy.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"go.uber.org/atomic"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

const (
	defaultTimeout   = 5 * time.Second
	idleConnTimeout  = 90 * time.Second
	defaultValidatePath = "/v1/data/acgs/constitutional/validate"
	defaultHealthPath   = "/health"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the policy service's base URL, e.g. "http://localhost:8181".
	BaseURL string
	// FailOpen selects the degradation policy on any evaluation failure:
	// false (the zero value) means fail-closed, matching this stage's
	// documented default. Set true to fail-open instead.
	FailOpen bool
	// Timeout bounds each HTTP call. Defaults to 5s.
	Timeout time.Duration
	// RateLimit bounds outbound calls per second. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
	// SigningKey, if set, signs outbound requests with a short-lived HS256
	// bearer token asserting this service's identity. Off by default.
	SigningKey []byte
	SigningIssuer string
}

// Client is the Policy Engine Client. It is safe for concurrent use.
type Client struct {
	cfg        Config
	failOpen   atomic.Bool
	httpClient *http.Client
	cache      Cache
	group      singleflight.Group
	limiter    *rate.Limiter
}

// NewClient returns a Client backed by cache. Leaving cfg.FailOpen unset
// (false) gives the documented fail-closed default.
func NewClient(cfg Config, cache Cache) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:   cfg,
		cache: cache,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				IdleConnTimeout: idleConnTimeout,
			},
		},
	}
	c.failOpen.Store(cfg.FailOpen)
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return c
}

// SetFailOpen changes the degradation policy at runtime.
func (c *Client) SetFailOpen(failOpen bool) {
	c.failOpen.Store(failOpen)
}

type constitutionalInput struct {
	Message            *bus.Message `json:"message"`
	ConstitutionalHash string       `json:"constitutional_hash"`
	Timestamp          string       `json:"timestamp"`
}

type opaRequest struct {
	Input constitutionalInput `json:"input"`
}

type opaResponse struct {
	Result json.RawMessage `json:"result"`
}

type opaResultObject struct {
	Allow    bool              `json:"allow"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// Validate consults the cache, then — on a miss — coalesces concurrent
// calls for the same key and evaluates the policy endpoint. The cache key
// is "constitutional:" + message id + ":" + fingerprint, per this stage's
// contract: the cache memoizes retries of the same message, it does not
// provide cross-message reuse.
func (c *Client) Validate(ctx context.Context, msg *bus.Message) (*bus.ValidationResult, error) {
	key := cacheKey(msg)

	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
		result := c.evaluate(ctx, msg)
		c.cache.Set(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*bus.ValidationResult), nil
}

func cacheKey(msg *bus.Message) string {
	return fmt.Sprintf("constitutional:%s:%s", msg.MessageID, msg.ConstitutionalHash)
}

func (c *Client) evaluate(ctx context.Context, msg *bus.Message) *bus.ValidationResult {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.handleFailure(fmt.Sprintf("rate limiter: %v", err))
		}
	}

	body := opaRequest{Input: constitutionalInput{
		Message:            msg,
		ConstitutionalHash: msg.ConstitutionalHash,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}}

	payload, err := json.Marshal(body)
	if err != nil {
		return c.handleFailure(fmt.Sprintf("marshal request: %v", err))
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + defaultValidatePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return c.handleFailure(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.sign(httpReq); err != nil {
		return c.handleFailure(fmt.Sprintf("sign request: %v", err))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.handleFailure(fmt.Sprintf("OPA connection error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleFailure(fmt.Sprintf("OPA error status: %d", resp.StatusCode))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.handleFailure(fmt.Sprintf("read OPA response: %v", err))
	}

	var opaResp opaResponse
	if err := json.Unmarshal(respBody, &opaResp); err != nil {
		return c.handleFailure(fmt.Sprintf("parse OPA response: %v", err))
	}

	return c.interpretResult(opaResp.Result)
}

func (c *Client) interpretResult(raw json.RawMessage) *bus.ValidationResult {
	result := bus.NewValidationResult()

	if raw == nil {
		return c.handleFailure("unexpected OPA result format: missing result")
	}

	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		if !asBool {
			result.AddError("Policy denied by OPA")
		}
		return result
	}

	var obj opaResultObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		if !obj.Allow {
			reason := obj.Reason
			if reason == "" {
				reason = "Policy denied by OPA"
			}
			result.AddError(reason)
		}
		for k, v := range obj.Metadata {
			result.SetMeta(k, v)
		}
		return result
	}

	return c.handleFailure("unexpected OPA result format")
}

// handleFailure applies the configured fail-open/fail-closed policy to an
// evaluation failure.
func (c *Client) handleFailure(reason string) *bus.ValidationResult {
	result := bus.NewValidationResult()
	if c.failOpen.Load() {
		result.AddWarning(fmt.Sprintf("OPA Failure (Fail-Open): %s", reason))
	} else {
		result.AddError(fmt.Sprintf("OPA Failure (Fail-Closed): %s", reason))
	}
	return result
}

func (c *Client) sign(req *http.Request) error {
	if len(c.cfg.SigningKey) == 0 {
		return nil
	}
	claims := jwt.MapClaims{
		"iss": c.cfg.SigningIssuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(30 * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.cfg.SigningKey)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

// HealthCheck performs a GET against the configured endpoint's /health
// path, independent of the policy cache. Any 2xx status is healthy.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + defaultHealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("health check: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
