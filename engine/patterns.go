package engine

import (
	"sort"
	"strings"

	"github.com/joyshmitz/sbh/model"
)

// tokenKind is how a PatternRule's token must match a path segment.
type tokenKind string

const (
	tokenExact     tokenKind = "exact"
	tokenPrefix    tokenKind = "prefix"
	tokenSuffix    tokenKind = "suffix"
	tokenSubstring tokenKind = "substring"
)

// PatternRule is one name-based classification rule.
type PatternRule struct {
	Name     string
	Category model.ArtifactCategory
	Kind     tokenKind
	Token    string
	Weight   float64 // name_confidence on match
	// Generic short prefixes/suffixes (e.g. "tmp", "cache") require an
	// explicit separator boundary to avoid matching "tmpl"/"cachet".
	RequireSeparator bool
}

// separator characters accepted as explicit token boundaries.
const separators = "-_"

// patternRegistry is the built-in, ordered (highest weight first) rule set.
var patternRegistry = []PatternRule{
	{Name: "temp-dir", Category: model.CategoryTempDir, Kind: tokenPrefix, Token: "tmp", Weight: 0.55, RequireSeparator: true},
	{Name: "temp-dir-full", Category: model.CategoryTempDir, Kind: tokenExact, Token: "tmp", Weight: 0.85},
	{Name: "cache-dir", Category: model.CategoryCacheDir, Kind: tokenPrefix, Token: "cache", Weight: 0.6, RequireSeparator: true},
	{Name: "cache-dir-full", Category: model.CategoryCacheDir, Kind: tokenExact, Token: "cache", Weight: 0.9},
	{Name: "rust-target", Category: model.CategoryRustTarget, Kind: tokenExact, Token: "target", Weight: 0.7},
	{Name: "node-modules", Category: model.CategoryNodeModules, Kind: tokenExact, Token: "node_modules", Weight: 0.9},
	{Name: "go-build-cache", Category: model.CategoryGoBuild, Kind: tokenSubstring, Token: "go-build", Weight: 0.75},
	{Name: "docker-overlay", Category: model.CategoryDockerLayer, Kind: tokenSubstring, Token: "overlay2", Weight: 0.6},
	{Name: "build-suffix", Category: model.CategoryGoBuild, Kind: tokenSuffix, Token: "build", Weight: 0.4, RequireSeparator: true},
}

func init() {
	sort.SliceStable(patternRegistry, func(i, j int) bool {
		return patternRegistry[i].Weight > patternRegistry[j].Weight
	})
}

// leafName returns the final path component.
func leafName(path string) string {
	path = strings.TrimRight(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// matchesRule reports whether leaf satisfies rule, honoring the
// anti-false-positive separator requirement: "tmpl", "cachet", and a bare
// "cargo_utils" prefix must NOT match their generic short-token rules.
func matchesRule(leaf string, rule PatternRule) bool {
	lower := strings.ToLower(leaf)
	token := strings.ToLower(rule.Token)

	switch rule.Kind {
	case tokenExact:
		return lower == token
	case tokenPrefix:
		if !strings.HasPrefix(lower, token) {
			return false
		}
		if !rule.RequireSeparator {
			return true
		}
		rest := lower[len(token):]
		if rest == "" {
			return true
		}
		return strings.ContainsRune(separators, rune(rest[0]))
	case tokenSuffix:
		if !strings.HasSuffix(lower, token) {
			return false
		}
		if !rule.RequireSeparator {
			return true
		}
		rest := lower[:len(lower)-len(token)]
		if rest == "" {
			return true
		}
		return strings.ContainsRune(separators, rune(rest[len(rest)-1]))
	case tokenSubstring:
		return strings.Contains(lower, token)
	default:
		return false
	}
}

// Classify implements C3: name-based + structural classification of a
// directory path into an artifact category.
func Classify(path string, sig model.Signals) model.ArtifactClassification {
	leaf := leafName(path)

	var best *PatternRule
	for i := range patternRegistry {
		r := &patternRegistry[i]
		if matchesRule(leaf, *r) {
			best = r
			break // registry is sorted by descending weight
		}
	}

	result := model.ArtifactClassification{}
	if best == nil {
		return result
	}

	result.PatternName = best.Name
	result.Category = best.Category
	result.NameConfidence = best.Weight
	result.StructuralConfidence = structuralConfidence(best.Category, sig)

	// Source-repo guard: presence of .git reduces confidence to zero for
	// every category, regardless of name match (invariant B2).
	if sig.HasGit {
		result.NameConfidence = 0
		result.StructuralConfidence = 0
	}

	result.CombinedConfidence = result.NameConfidence * result.StructuralConfidence
	return result
}

// structuralConfidence derives structural_confidence from directory
// signals. Absence of signals never raises confidence above the
// category's baseline.
func structuralConfidence(cat model.ArtifactCategory, sig model.Signals) float64 {
	switch cat {
	case model.CategoryRustTarget:
		if sig.HasIncremental && sig.HasDeps && sig.HasBuild && !sig.HasCargoToml {
			return 1.0
		}
		if sig.HasIncremental || sig.HasDeps || sig.HasBuild {
			return 0.5
		}
		return 0.3
	case model.CategoryObjectPile:
		if sig.MostlyObjectFiles && !sig.HasGit {
			return 1.0
		}
		return 0.3
	case model.CategoryGoBuild:
		if sig.HasFingerprint {
			return 0.9
		}
		return 0.5
	case model.CategoryNodeModules:
		if sig.HasDeps {
			return 0.9
		}
		return 0.6
	case model.CategoryTempDir, model.CategoryCacheDir:
		return 0.7
	case model.CategoryDockerLayer:
		return 0.8
	default:
		return 0.5
	}
}
