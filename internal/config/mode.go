package config

import "strings"

// Mode selects which proxy targets are active.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ModeEnv is the environment variable holding the mode indicator.
const ModeEnv = "NODE_ENV"

// ParseMode maps a mode indicator to a Mode. Only "production" selects
// production; every other value, including empty, is development.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeProduction)) {
		return ModeProduction
	}
	return ModeDevelopment
}

// ResolveMode reads the mode indicator through lookup (usually os.LookupEnv).
func ResolveMode(lookup func(string) (string, bool)) Mode {
	v, _ := lookup(ModeEnv)
	return ParseMode(v)
}
