package config

import (
	"os"
	"strings"
)

// EnvironmentExpander rewrites raw configuration content before it is parsed.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander resolves $VAR, ${VAR} and ${VAR:-fallback} from the process environment.
// A variable that is unset, or set to "", resolves to its fallback (or "" without one).
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := os.Expand(string(input), func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
	return []byte(out), nil
}
