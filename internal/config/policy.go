package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/lowc1012/crm-gate/internal/auth"
	"github.com/lowc1012/crm-gate/pkg/ratelimiter"
	"gopkg.in/yaml.v3"
)

// Route policy names.
const (
	PolicyMe         = "me"
	PolicyTOTPEnroll = "totp_enroll"
	PolicyTOTPVerify = "totp_verify"
	PolicyEmailSend  = "email_send"
)

// DefaultPolicies returns the built-in limits for every gated route.
func DefaultPolicies() map[string]ratelimiter.Policy {
	return map[string]ratelimiter.Policy{
		PolicyMe: {
			Name: PolicyMe, Feature: "me",
			MaxRequests: 60, Window: time.Minute, Capability: auth.CapabilityRead,
		},
		PolicyTOTPEnroll: {
			Name: PolicyTOTPEnroll, Feature: "totp-enroll",
			MaxRequests: 5, Window: time.Hour, Capability: auth.CapabilityWrite,
		},
		PolicyTOTPVerify: {
			Name: PolicyTOTPVerify, Feature: "totp-verify",
			MaxRequests: 5, Window: time.Minute, Capability: auth.CapabilityRead,
		},
		PolicyEmailSend: {
			Name: PolicyEmailSend, Feature: "email-send",
			MaxRequests: 10, Window: time.Minute, Capability: auth.CapabilityWrite,
		},
	}
}

type policyFile struct {
	Policies map[string]policyEntry `yaml:"policies"`
}

type policyEntry struct {
	Feature     string `yaml:"feature"`
	MaxRequests int64  `yaml:"max_requests"`
	Window      string `yaml:"window"`
	Capability  string `yaml:"capability"`
}

// LoadPolicies returns the defaults overlaid with the entries in path. An empty path
// returns the defaults.
func LoadPolicies(path string) (map[string]ratelimiter.Policy, error) {
	if path == "" {
		return DefaultPolicies(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes a YAML policy document and overlays it on the defaults.
// Each entry replaces the default of the same name as a whole.
func ParsePolicies(data []byte) (map[string]ratelimiter.Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	policies := DefaultPolicies()

	names := make([]string, 0, len(file.Policies))
	for name := range file.Policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		policy, err := file.Policies[name].toPolicy(name)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		policies[name] = policy
	}
	return policies, nil
}

func (e policyEntry) toPolicy(name string) (ratelimiter.Policy, error) {
	if e.MaxRequests <= 0 {
		return ratelimiter.Policy{}, fmt.Errorf("max_requests must be positive, got %d", e.MaxRequests)
	}

	window, err := time.ParseDuration(e.Window)
	if err != nil {
		return ratelimiter.Policy{}, fmt.Errorf("invalid window %q: %w", e.Window, err)
	}
	if window <= 0 {
		return ratelimiter.Policy{}, fmt.Errorf("window must be positive, got %s", e.Window)
	}

	var capability auth.Capability
	if e.Capability != "" {
		if capability, err = auth.ParseCapability(e.Capability); err != nil {
			return ratelimiter.Policy{}, err
		}
	}

	feature := e.Feature
	if feature == "" {
		feature = name
	}

	return ratelimiter.Policy{
		Name:        name,
		Feature:     feature,
		MaxRequests: e.MaxRequests,
		Window:      window,
		Capability:  capability,
	}, nil
}
