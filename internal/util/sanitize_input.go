package util

import (
	"html"
	"os"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters from free-text fields
// (parcel descriptions, addresses, complaints).
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious flags obvious injection attempts in free-text input.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// GetEnv returns an environment variable or a default, used by a few clients.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
