// Package utils provides small helpers shared by the transport layer. They
// carry no domain logic.
package utils

import (
	"strconv"
	"strings"
)

// ClampedInt parses s as a base-10 integer and clamps it to [lo, hi].
// Empty or malformed input yields def (also clamped). Surrounding spaces
// are ignored.
//
//	utils.ClampedInt("500", 50, 1, 200) // 200
//	utils.ClampedInt("", 50, 1, 200)    // 50
//	utils.ClampedInt("x", 50, 1, 200)   // 50
func ClampedInt(s string, def, lo, hi int) int {
	n := def
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		n = v
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
