package config

import (
	"fmt"
	"regexp"
)

type compiledRewrite struct {
	re          *regexp.Regexp
	replacement string
}

// Rewriter applies an ordered list of path rewrites. The zero value and nil
// leave paths untouched.
type Rewriter struct {
	rules []compiledRewrite
}

// NewRewriter compiles every pattern in rules.
func NewRewriter(rules RewriteRules) (*Rewriter, error) {
	rw := &Rewriter{rules: make([]compiledRewrite, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid rewrite pattern %q: %w", r.Pattern, err)
		}
		rw.rules = append(rw.rules, compiledRewrite{re: re, replacement: r.Replacement})
	}
	return rw, nil
}

// Apply rewrites path. Each pattern replaces at most its first match, and
// later patterns see the output of earlier ones.
func (rw *Rewriter) Apply(path string) string {
	if rw == nil {
		return path
	}
	for _, r := range rw.rules {
		loc := r.re.FindStringSubmatchIndex(path)
		if loc == nil {
			continue
		}
		var dst []byte
		dst = r.re.ExpandString(dst, r.replacement, path, loc)
		path = path[:loc[0]] + string(dst) + path[loc[1]:]
	}
	return path
}

// Len returns the number of rewrite rules.
func (rw *Rewriter) Len() int {
	if rw == nil {
		return 0
	}
	return len(rw.rules)
}
