package util

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s. It is used when
// logging prefixes of opaque values such as OAuth state.
//
//	SafeTruncate("very-long-state-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                  // "short"
//	SafeTruncate("test", -1)                   // ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so configured base URLs can be joined
// with paths.
//
//	NormalizeURL("https://apis.example.com/oauth/v1/") // "https://apis.example.com/oauth/v1"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
