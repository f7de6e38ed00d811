package mqtt

import (
	"strings"
	"unicode"
)

// maxDisplayPayload bounds the text rendered for one payload
const maxDisplayPayload = 512

// TruncateTopic truncates a topic to show only the last N levels
// Example: "A/B/C/D" with depth 2 returns "C/D"
func TruncateTopic(topic string, depth int) string {
	if depth <= 0 {
		return topic
	}

	parts := strings.Split(topic, "/")
	if len(parts) <= depth {
		return topic
	}

	return strings.Join(parts[len(parts)-depth:], "/")
}

// SanitizePayload renders a payload on a single line for display
func SanitizePayload(payload []byte) string {
	content := string(payload)
	if len(content) > maxDisplayPayload {
		content = content[:maxDisplayPayload] + "..."
	}

	// Control characters, tabs and newlines become spaces
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, content)

	return strings.Join(strings.Fields(sanitized), " ")
}
