// Package perfutil collects small, dependency-free numeric and string
// utilities used around the edges of the message bus — cache key
// generation, latency percentiles, fuzzy string similarity, and wildcard
// pattern matching. None of it sits on the six core pipeline stages; it
// backs auxiliary tooling (metrics rollups, policy-pattern matching in
// operator tooling) that doesn't need the weight of a third-party library.
package perfutil

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// FastHash returns the FNV-1a hash of key. It is not cryptographic; it
// exists purely to turn arbitrary strings into compact cache keys.
func FastHash(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// GenerateCacheKey combines a service name, an endpoint, and a set of
// request parameters into a single stable cache key. Parameters are
// sorted by name first so that argument order never affects the result.
func GenerateCacheKey(service, endpoint string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(service)
	b.WriteByte(':')
	b.WriteString(endpoint)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	return fmt.Sprintf("acgs-bus:%x", FastHash(b.String()))
}

// AggregateStats returns (sum, mean, min, max, count) for values in a
// single pass. The zero Stats is returned for an empty slice.
type Stats struct {
	Sum   float64
	Mean  float64
	Min   float64
	Max   float64
	Count int
}

func AggregateStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: math.MaxFloat64, Max: -math.MaxFloat64, Count: len(values)}
	for _, v := range values {
		s.Sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = s.Sum / float64(s.Count)
	return s
}

// ComputePercentiles sorts a copy of values and returns the requested
// percentiles (e.g. []float64{50, 90, 95, 99} for P50/P90/P95/P99 latency
// figures). An empty input yields zeroes.
func ComputePercentiles(values []float64, percentiles []float64) []float64 {
	out := make([]float64, len(percentiles))
	if len(values) == 0 {
		return out
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	for i, p := range percentiles {
		idx := int(math.Round(p / 100.0 * float64(len(sorted)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out[i] = sorted[idx]
	}
	return out
}

// SimilarityScores computes Jaccard similarity on character n-grams
// between query and each of targets, for fuzzy matching of agent names,
// tool identifiers, or free-text routing tags.
func SimilarityScores(query string, targets []string, n int) []float64 {
	queryGrams := ngrams(query, n)
	scores := make([]float64, len(targets))
	for i, target := range targets {
		scores[i] = jaccard(queryGrams, ngrams(target, n))
	}
	return scores
}

func ngrams(s string, n int) map[string]struct{} {
	runes := []rune(strings.ToLower(s))
	set := make(map[string]struct{})
	if len(runes) < n {
		return set
	}
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// MatchWildcardPattern reports whether value matches pattern, where "*"
// in pattern matches any run of characters. Used for agent-ID and
// tool-name allow/deny pattern lists.
func MatchWildcardPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return value == pattern
	}

	parts := strings.Split(pattern, "*")
	if len(parts) == 2 {
		if len(value) < len(parts[0])+len(parts[1]) {
			return false
		}
		startsOK := parts[0] == "" || strings.HasPrefix(value, parts[0])
		endsOK := parts[1] == "" || strings.HasSuffix(value, parts[1])
		return startsOK && endsOK
	}

	remaining := value
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(remaining, part) {
				return false
			}
			remaining = remaining[len(part):]
		case i == len(parts)-1:
			if !strings.HasSuffix(remaining, part) {
				return false
			}
		default:
			idx := strings.Index(remaining, part)
			if idx == -1 {
				return false
			}
			remaining = remaining[idx+len(part):]
		}
	}
	return true
}

// MatchAnyPattern reports whether any of values matches any of patterns.
func MatchAnyPattern(values, patterns []string) bool {
	for _, v := range values {
		for _, p := range patterns {
			if MatchWildcardPattern(v, p) {
				return true
			}
		}
	}
	return false
}

// SinkhornKnopp projects w onto the Birkhoff polytope (a doubly
// stochastic matrix matching the given row/column marginals, or uniform
// marginals if nil) using the Sinkhorn-Knopp algorithm. It is used by
// operator tooling that rebalances per-agent routing-weight matrices so
// rows and columns both sum to the configured targets.
func SinkhornKnopp(w [][]float64, rowMarginal, colMarginal []float64, iters int, eps float64) [][]float64 {
	rows := len(w)
	if rows == 0 {
		return nil
	}
	cols := len(w[0])

	m := make([][]float64, rows)
	for i := range w {
		m[i] = make([]float64, cols)
		for j, v := range w[i] {
			m[i][j] = math.Exp(v)
		}
	}

	rowTarget := func(i int) float64 {
		if rowMarginal != nil {
			return rowMarginal[i]
		}
		return 1.0
	}
	colTarget := func(j int) float64 {
		if colMarginal != nil {
			return colMarginal[j]
		}
		return 1.0
	}

	for iter := 0; iter < iters; iter++ {
		colSums := make([]float64, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				colSums[j] += m[i][j]
			}
		}
		for j := 0; j < cols; j++ {
			scale := colTarget(j) / (colSums[j] + eps)
			for i := 0; i < rows; i++ {
				m[i][j] *= scale
			}
		}

		rowSums := make([]float64, rows)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				rowSums[i] += m[i][j]
			}
		}
		for i := 0; i < rows; i++ {
			scale := rowTarget(i) / (rowSums[i] + eps)
			for j := 0; j < cols; j++ {
				m[i][j] *= scale
			}
		}
	}

	return m
}
