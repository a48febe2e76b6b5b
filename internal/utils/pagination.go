// Package utils provides small helpers for parsing and bounding paging
// parameters. Nothing here knows about chats or messages.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int. Empty or malformed input returns def.
// Surrounding spaces are not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// PageOffset converts a 1-based page number into a row offset.
// Pages below 1 are treated as the first page.
func PageOffset(page, pageSize int) int {
	if page < 1 || pageSize < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// HasMore reports whether rows remain after a window of n rows at offset.
func HasMore(offset, n int, total int64) bool {
	return int64(offset+n) < total
}
