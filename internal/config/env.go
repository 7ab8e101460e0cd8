package config

import "strings"

const (
	// TargetEnv overrides the target of the DefaultContext rule for every mode.
	TargetEnv = "API_TARGET"
	// PublicPathEnv overrides publicPath.
	PublicPathEnv = "PUBLIC_PATH"
)

// ApplyEnv applies environment overrides to cfg in place and reports which
// keys were applied. An API_TARGET with no matching rule adds one.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) []string {
	var applied []string

	if v, ok := lookup(PublicPathEnv); ok && strings.TrimSpace(v) != "" {
		cfg.PublicPath = v
		applied = append(applied, PublicPathEnv)
	}

	if v, ok := lookup(TargetEnv); ok && strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		found := false
		for i := range cfg.Proxy {
			if strings.TrimSpace(cfg.Proxy[i].Context) == DefaultContext {
				cfg.Proxy[i].Target = v
				cfg.Proxy[i].Targets = nil
				found = true
				break
			}
		}
		if !found {
			def := Default().Proxy[0]
			def.Target = v
			def.Targets = nil
			cfg.Proxy = append(cfg.Proxy, def)
		}
		applied = append(applied, TargetEnv)
	}
	return applied
}
