// Package utils holds small helpers for parsing and bounding request
// parameters. Nothing here knows about the domain.
package utils

import (
	"cmp"
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 int, ignoring surrounding spaces.
// Empty or malformed input yields def.
//
//	utils.AtoiDefault("42", 0)  // 42
//	utils.AtoiDefault(" 7 ", 0) // 7
//	utils.AtoiDefault("x", 5)   // 5
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds v to [lo, hi]. lo must not exceed hi.
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
