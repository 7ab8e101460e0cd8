package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Modes lists every mode a rule must have a target for.
var Modes = []Mode{ModeDevelopment, ModeProduction}

var targetSchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"k8s":    {},
	"consul": {},
}

// Load reads and parses a YAML configuration file at path.
// If path does not exist or is empty, it returns Default() with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a valid config with invalid rules stripped
// plus errors describing what was removed.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes. See Load.
func Parse(data []byte) (*Config, []error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Default(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	if cfg.PublicPath == "" {
		cfg.PublicPath = DefaultPublicPath
	}

	var validationErrors []error
	validRules := make([]ProxyRule, 0, len(cfg.Proxy))
	seen := make(map[string]struct{}, len(cfg.Proxy))
	for i, rule := range cfg.Proxy {
		rule.Context = strings.TrimSpace(rule.Context)
		errs := validateRule(i, rule, seen)
		if len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		seen[rule.Context] = struct{}{}
		validRules = append(validRules, rule)
	}
	cfg.Proxy = validRules

	return &cfg, validationErrors
}

func validateRule(i int, rule ProxyRule, seen map[string]struct{}) []error {
	var errs []error
	ctx := rule.Context
	switch {
	case ctx == "":
		errs = append(errs, fmt.Errorf("proxy[%d].context: required field missing", i))
	case !strings.HasPrefix(ctx, "/"):
		errs = append(errs, fmt.Errorf("proxy[%d].context: must start with '/', got %q", i, rule.Context))
	default:
		if _, dup := seen[ctx]; dup {
			errs = append(errs, fmt.Errorf("proxy[%d].context: duplicate context %q", i, ctx))
		}
	}

	for mode := range rule.Targets {
		if ParseMode(mode) != Mode(mode) {
			errs = append(errs, fmt.Errorf("proxy[%d].targets: unknown mode %q", i, mode))
		}
	}
	for _, mode := range Modes {
		target := rule.TargetFor(mode)
		if strings.TrimSpace(target) == "" {
			errs = append(errs, fmt.Errorf("proxy[%d]: no target for %s mode", i, mode))
			continue
		}
		if _, err := ParseTarget(target); err != nil {
			errs = append(errs, fmt.Errorf("proxy[%d]: %s target: %w", i, mode, err))
		}
	}

	if _, err := NewRewriter(rule.PathRewrite); err != nil {
		errs = append(errs, fmt.Errorf("proxy[%d].pathRewrite: %w", i, err))
	}

	if rule.Timeout != "" {
		if d, err := time.ParseDuration(rule.Timeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("proxy[%d].timeout: must be a positive duration, got %q", i, rule.Timeout))
		}
	}
	return errs
}

// ParseTarget parses a proxy target. http and https targets are forwarded
// directly; k8s and consul targets are resolved by service discovery.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", raw, err)
	}
	if _, ok := targetSchemes[u.Scheme]; !ok {
		return nil, fmt.Errorf("invalid target %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", raw)
	}
	return u, nil
}
