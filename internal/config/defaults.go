package config

const (
	// DefaultContext is the path prefix forwarded to the backend.
	DefaultContext = "/api"
	// DefaultDevelopmentTarget is the local backend address.
	DefaultDevelopmentTarget = "http://localhost:5000"
	// DefaultProductionTarget is the deployed backend address.
	DefaultProductionTarget = "http://api.bookfinder.internal:5000"
	// DefaultPublicPath is the base path built assets are served under.
	DefaultPublicPath = "/"
)

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	changeOrigin := true
	return &Config{
		PublicPath: DefaultPublicPath,
		Proxy: []ProxyRule{
			{
				Context: DefaultContext,
				Target:  DefaultDevelopmentTarget,
				Targets: map[string]string{
					string(ModeDevelopment): DefaultDevelopmentTarget,
					string(ModeProduction):  DefaultProductionTarget,
				},
				ChangeOrigin: &changeOrigin,
				PathRewrite:  RewriteRules{{Pattern: "^" + DefaultContext, Replacement: ""}},
			},
		},
	}
}
