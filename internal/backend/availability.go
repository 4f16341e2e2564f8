package backend

import (
	"errors"
	"sort"
	"strings"
)

var errAICUnavailable = errors.New("aic backend not available in this build")

// Available returns a comma-separated list of registered backends.
func Available() string {
	registryMu.RLock()
	entries := make([]string, 0, len(registry))
	for name := range registry {
		entries = append(entries, name)
	}
	registryMu.RUnlock()
	sort.Strings(entries)
	if len(entries) == 0 {
		return "none"
	}
	return strings.Join(entries, ",")
}
