// Package busconfig loads the bus's runtime configuration from a YAML file.
package busconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/acgs-bus/pkg/impact"
)

const defaultImpactThreshold = 0.8

// Config is the on-disk shape of the bus's configuration file.
//
// OPAFailClosed is a pointer so Load can tell an omitted key apart from an
// explicit `opa_fail_closed: false` — the YAML zero value for a plain bool
// would be indistinguishable from the latter and silently default to the
// wrong degradation mode.
type Config struct {
	OPAEndpoint        string        `yaml:"opa_endpoint"`
	OPAFailClosed      *bool         `yaml:"opa_fail_closed"`
	ImpactThreshold    float64       `yaml:"impact_threshold"`
	AuditServiceURL    string        `yaml:"audit_service_url"`
	PolicyBundleVersion string       `yaml:"policy_bundle_version"`
	ScoringConfig      ScoringConfig `yaml:"scoring_config"`
}

// FailClosed reports the effective opa_fail_closed setting, defaulting to
// true (fail closed) when the config file omits the key.
func (c *Config) FailClosed() bool {
	if c.OPAFailClosed == nil {
		return true
	}
	return *c.OPAFailClosed
}

// ScoringConfig mirrors impact.ScoringConfig's tunable weights for YAML
// round-tripping; Resolve converts it to the real thing.
type ScoringConfig struct {
	SemanticWeight   float64 `yaml:"semantic_weight"`
	PermissionWeight float64 `yaml:"permission_weight"`
	VolumeWeight     float64 `yaml:"volume_weight"`
	ContextWeight    float64 `yaml:"context_weight"`
	DriftWeight      float64 `yaml:"drift_weight"`
	PriorityWeight   float64 `yaml:"priority_weight"`
	TypeWeight       float64 `yaml:"type_weight"`
	CriticalPriorityBoost float64 `yaml:"critical_priority_boost"`
	HighSemanticBoost     float64 `yaml:"high_semantic_boost"`
	TimeZone         string  `yaml:"time_zone"`
}

// Load reads and parses the YAML configuration file at path, applying
// defaults for any field the file omits and rejecting a malformed
// PolicyBundleVersion.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("busconfig: read %s: %w", path, err)
	}

	cfg := &Config{ImpactThreshold: defaultImpactThreshold}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("busconfig: parse %s: %w", path, err)
	}

	if cfg.ImpactThreshold == 0 {
		cfg.ImpactThreshold = defaultImpactThreshold
	}

	if cfg.PolicyBundleVersion != "" {
		if _, err := semver.NewVersion(cfg.PolicyBundleVersion); err != nil {
			return nil, fmt.Errorf("busconfig: invalid policy_bundle_version %q: %w", cfg.PolicyBundleVersion, err)
		}
	}

	return cfg, nil
}

// Resolve converts the YAML-shaped ScoringConfig into impact.ScoringConfig,
// falling back to impact.DefaultScoringConfig's weights for any field left
// at its zero value.
func (c *Config) Resolve() impact.ScoringConfig {
	defaults := impact.DefaultScoringConfig()
	sc := c.ScoringConfig

	resolved := impact.ScoringConfig{
		SemanticWeight:        orDefault(sc.SemanticWeight, defaults.SemanticWeight),
		PermissionWeight:      orDefault(sc.PermissionWeight, defaults.PermissionWeight),
		VolumeWeight:          orDefault(sc.VolumeWeight, defaults.VolumeWeight),
		ContextWeight:         orDefault(sc.ContextWeight, defaults.ContextWeight),
		DriftWeight:           orDefault(sc.DriftWeight, defaults.DriftWeight),
		PriorityWeight:        orDefault(sc.PriorityWeight, defaults.PriorityWeight),
		TypeWeight:            orDefault(sc.TypeWeight, defaults.TypeWeight),
		CriticalPriorityBoost: orDefault(sc.CriticalPriorityBoost, defaults.CriticalPriorityBoost),
		HighSemanticBoost:     orDefault(sc.HighSemanticBoost, defaults.HighSemanticBoost),
		Location:              defaults.Location,
	}

	if sc.TimeZone != "" {
		if loc, err := time.LoadLocation(sc.TimeZone); err == nil {
			resolved.Location = loc
		}
	}

	return resolved
}

func orDefault(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
