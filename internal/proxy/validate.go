package proxy

import (
	"math"
	"strconv"
	"strings"
)

// Validation bounds and defaults applied before any network or cache access.
const (
	MaxQueryLen           = 10_000
	DefaultMaxResults     = 5
	MinMaxResults         = 1
	MaxMaxResults         = 100
	DefaultScoreThreshold = 0.7
)

// ValidateQuery trims the query and rejects empty or oversized input.
func ValidateQuery(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", &ValidationError{Field: "query", Reason: "must be a non-empty string"}
	}
	if len(q) > MaxQueryLen {
		return "", &ValidationError{Field: "query", Reason: "exceeds maximum length of 10000 characters"}
	}
	return q, nil
}

// NormalizeMaxResults clamps to [1,100], flooring fractional values.
// nil, NaN or infinite input yields the default of 5.
func NormalizeMaxResults(v *float64) int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return DefaultMaxResults
	}
	n := int(math.Floor(*v))
	if n < MinMaxResults {
		return MinMaxResults
	}
	if n > MaxMaxResults {
		return MaxMaxResults
	}
	return n
}

// NormalizeScoreThreshold clamps to [0,1]; nil or non-finite yields 0.7.
func NormalizeScoreThreshold(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return DefaultScoreThreshold
	}
	if *v < 0 {
		return 0
	}
	if *v > 1 {
		return 1
	}
	return *v
}

// ParseMaxResults handles string query parameters; anything non-numeric
// falls back to the default before clamping.
func ParseMaxResults(raw string) int {
	if raw == "" {
		return DefaultMaxResults
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultMaxResults
	}
	return NormalizeMaxResults(&f)
}

// ParseScoreThreshold handles string query parameters.
func ParseScoreThreshold(raw string) float64 {
	if raw == "" {
		return DefaultScoreThreshold
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultScoreThreshold
	}
	return NormalizeScoreThreshold(&f)
}
