package config

import (
	"path"
	"strings"
)

// Normalize trims config patterns and removes empty values.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ExcludeNamespaces = NormalizePatterns(c.ExcludeNamespaces)
	c.ExcludeClusters = NormalizePatterns(c.ExcludeClusters)
	c.Contexts = normalizeList(c.Contexts)
}

// IsNamespaceExcluded reports whether namespace matches exclude patterns.
func (c *Config) IsNamespaceExcluded(namespace string) bool {
	if c == nil {
		return false
	}
	return MatchesAny(c.ExcludeNamespaces, namespace)
}

// IsClusterExcluded reports whether cluster matches exclude patterns.
func (c *Config) IsClusterExcluded(cluster string) bool {
	if c == nil {
		return false
	}
	return MatchesAny(c.ExcludeClusters, cluster)
}

// MatchesAny reports whether value matches any of the glob patterns.
// Matching is case-insensitive; invalid globs fall back to exact comparison.
func MatchesAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, pattern := range patterns {
		if patternMatches(pattern, value) {
			return true
		}
	}
	return false
}

// NormalizePatterns lowercases and trims patterns, dropping empty ones.
func NormalizePatterns(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, pattern := range values {
		p := normalizePattern(pattern)
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return normalized
}

func normalizePattern(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func patternMatches(pattern, value string) bool {
	normalizedPattern := normalizePattern(pattern)
	normalizedValue := normalizePattern(value)
	if normalizedPattern == "" || normalizedValue == "" {
		return false
	}

	// Invalid glob patterns are treated as exact matches.
	matched, err := path.Match(normalizedPattern, normalizedValue)
	if err == nil {
		return matched
	}
	return normalizedPattern == normalizedValue
}
