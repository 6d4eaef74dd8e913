package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ContainmentProfile is one named set of containment limits, normally
// shipped as profile_<name>.yaml.
type ContainmentProfile struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	MaxCostUSD      float64 `yaml:"max_cost_usd" json:"max_cost_usd"`
	MaxSteps        int     `yaml:"max_steps" json:"max_steps"`
	MaxRetriesTotal int     `yaml:"max_retries_total" json:"max_retries_total"`
	TimeoutMS       int     `yaml:"timeout_ms" json:"timeout_ms"`

	Window  WindowConfig  `yaml:"window" json:"window"`
	Tokens  TokenConfig   `yaml:"tokens" json:"tokens"`
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
	Loop    LoopConfig    `yaml:"loop" json:"loop"`
	Ladder  LadderConfig  `yaml:"ladder" json:"ladder"`
}

// WindowConfig bounds calls per rolling window.
type WindowConfig struct {
	MaxCalls         int     `yaml:"max_calls" json:"max_calls"`
	WindowMS         int     `yaml:"window_ms" json:"window_ms"`
	DegradeThreshold float64 `yaml:"degrade_threshold" json:"degrade_threshold"`
}

// TokenConfig bounds token spend.
type TokenConfig struct {
	MaxOutputTokens  int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	MaxTotalTokens   int     `yaml:"max_total_tokens" json:"max_total_tokens"`
	DegradeThreshold float64 `yaml:"degrade_threshold" json:"degrade_threshold"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeoutMS int `yaml:"recovery_timeout_ms" json:"recovery_timeout_ms"`
}

// LoopConfig tunes the semantic loop guard.
type LoopConfig struct {
	WindowSize          int     `yaml:"window_size" json:"window_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MinChars            int     `yaml:"min_chars" json:"min_chars"`
}

// LadderConfig tunes the degradation ladder.
type LadderConfig struct {
	ModelDowngrade float64           `yaml:"model_downgrade" json:"model_downgrade"`
	ContextTrim    float64           `yaml:"context_trim" json:"context_trim"`
	RateLimit      float64           `yaml:"rate_limit" json:"rate_limit"`
	FallbackModels map[string]string `yaml:"fallback_models,omitempty" json:"fallback_models,omitempty"`
}

const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "max_cost_usd", "max_steps"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+"},
    "max_cost_usd": {"type": "number", "exclusiveMinimum": 0},
    "max_steps": {"type": "integer", "minimum": 1},
    "max_retries_total": {"type": "integer", "minimum": 0},
    "timeout_ms": {"type": "integer", "minimum": 0},
    "window": {
      "type": "object",
      "properties": {
        "max_calls": {"type": "integer", "minimum": 0},
        "window_ms": {"type": "integer", "minimum": 0},
        "degrade_threshold": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "tokens": {
      "type": "object",
      "properties": {
        "max_output_tokens": {"type": "integer", "minimum": 0},
        "max_total_tokens": {"type": "integer", "minimum": 0},
        "degrade_threshold": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "breaker": {
      "type": "object",
      "properties": {
        "failure_threshold": {"type": "integer", "minimum": 1},
        "recovery_timeout_ms": {"type": "integer", "minimum": 0}
      }
    },
    "loop": {
      "type": "object",
      "properties": {
        "window_size": {"type": "integer", "minimum": 0},
        "similarity_threshold": {"type": "number", "minimum": 0, "maximum": 1},
        "min_chars": {"type": "integer", "minimum": 0}
      }
    },
    "ladder": {
      "type": "object",
      "properties": {
        "model_downgrade": {"type": "number", "minimum": 0, "maximum": 1},
        "context_trim": {"type": "number", "minimum": 0, "maximum": 1},
        "rate_limit": {"type": "number", "minimum": 0, "maximum": 1},
        "fallback_models": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    }
  }
}`

var compiledProfileSchema = jsonschema.MustCompileString("containment_profile.json", profileSchema)

// LoadProfile reads profile_<name>.yaml from profilesDir, validates it
// against the profile schema and returns it.
func LoadProfile(profilesDir, name string) (*ContainmentProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}
	p, err := ParseProfile(raw)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// ParseProfile parses and validates one profile document.
func ParseProfile(raw []byte) (*ContainmentProfile, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := validateProfile(doc); err != nil {
		return nil, err
	}
	var p ContainmentProfile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &p, nil
}

// LoadAllProfiles loads every profile_*.yaml in profilesDir keyed by
// profile name.
func LoadAllProfiles(profilesDir string) (map[string]*ContainmentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}
	profiles := make(map[string]*ContainmentProfile, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		p, err := ParseProfile(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if p.Name == "" {
			base := filepath.Base(path)
			p.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// validateProfile runs the JSON-Schema check over the YAML document.
// The document round-trips through JSON so the validator sees JSON
// native types.
func validateProfile(doc map[string]any) error {
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalise: %w", err)
	}
	var v any
	if err := json.Unmarshal(buf, &v); err != nil {
		return fmt.Errorf("normalise: %w", err)
	}
	if err := compiledProfileSchema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
