package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration parsed from the YAML config file.
type Config struct {
	PublicPath string      `yaml:"publicPath" json:"publicPath"`
	Proxy      []ProxyRule `yaml:"proxy"      json:"proxy"`
}

// ProxyRule forwards every request whose path starts with Context to a backend.
type ProxyRule struct {
	Context string `yaml:"context" json:"context"`
	// Target is used for every mode that has no entry in Targets.
	Target       string            `yaml:"target,omitempty"       json:"target,omitempty"`
	Targets      map[string]string `yaml:"targets,omitempty"      json:"targets,omitempty"`
	ChangeOrigin *bool             `yaml:"changeOrigin,omitempty" json:"changeOrigin,omitempty"`
	PathRewrite  RewriteRules      `yaml:"pathRewrite,omitempty"  json:"pathRewrite,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty"      json:"timeout,omitempty"`
}

// TargetFor returns the raw target address configured for mode.
func (r ProxyRule) TargetFor(mode Mode) string {
	if t, ok := r.Targets[string(mode)]; ok && t != "" {
		return t
	}
	return r.Target
}

// ChangesOrigin reports whether the Host header is rewritten to the target host.
// Omitted means true.
func (r ProxyRule) ChangesOrigin() bool {
	return r.ChangeOrigin == nil || *r.ChangeOrigin
}

// RewriteRule replaces the first match of Pattern in the request path.
type RewriteRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// RewriteRules keeps pathRewrite entries in the order they appear in the file.
// In YAML it is written as a mapping of pattern to replacement.
type RewriteRules []RewriteRule

// UnmarshalYAML decodes a mapping node pair by pair so key order survives.
func (rr *RewriteRules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: pathRewrite must be a mapping of pattern to replacement", node.Line)
	}
	rules := make(RewriteRules, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var pattern, replacement string
		if err := node.Content[i].Decode(&pattern); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&replacement); err != nil {
			return err
		}
		rules = append(rules, RewriteRule{Pattern: pattern, Replacement: replacement})
	}
	*rr = rules
	return nil
}

// MarshalYAML writes the rules back as an ordered mapping.
func (rr RewriteRules) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, r := range rr {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: r.Pattern, Style: yaml.DoubleQuotedStyle},
			&yaml.Node{Kind: yaml.ScalarNode, Value: r.Replacement, Style: yaml.DoubleQuotedStyle},
		)
	}
	return node, nil
}
