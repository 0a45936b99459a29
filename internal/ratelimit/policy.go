package ratelimit

import (
	"sort"
	"strings"

	"assetgate/internal/models"
)

// PolicyResolver maps a request path to the applicable rate-limit window.
// Resolution is deterministic: the entry whose path prefix matches the
// request path and is longest wins. Paths matching no entry are explicitly
// not rate limited (pass-through, not default-deny).
//
// The table is static configuration loaded at process start; there is no
// hot reload.
type PolicyResolver struct {
	// ordered by descending prefix length so the first match is the most
	// specific one
	policies []models.RateLimitPolicy
}

// NewPolicyResolver builds a resolver from the configured policy table.
func NewPolicyResolver(policies []models.RateLimitPolicy) *PolicyResolver {
	sorted := make([]models.RateLimitPolicy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].PathPrefix) > len(sorted[j].PathPrefix)
	})
	return &PolicyResolver{policies: sorted}
}

// Resolve returns the window for the most specific matching prefix, the
// prefix itself (for logging and counter keying), and whether any policy
// applies at all.
func (pr *PolicyResolver) Resolve(path string) (Window, string, bool) {
	for _, p := range pr.policies {
		if strings.HasPrefix(path, p.PathPrefix) {
			return Window{Limit: p.Limit, WindowSeconds: p.WindowSeconds}, p.PathPrefix, true
		}
	}
	return Window{}, "", false
}
