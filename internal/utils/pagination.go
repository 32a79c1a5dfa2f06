// Package utils holds small parsing and paging helpers shared by the HTTP
// handlers and the service layer. Nothing here knows about lending.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// not a valid integer. Surrounding whitespace is not trimmed.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// PageWindow turns a 1-based page and a page size into an offset/limit pair.
// page below 1 is treated as 1; size is bounded to [1, max] after a
// non-positive size is replaced by def.
func PageWindow(page, size, def, max int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = def
	}
	size = Clamp(size, 1, max)
	return (page - 1) * size, size
}
