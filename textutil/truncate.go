package textutil

import "strings"

// TruncatedMarker is appended to content cut down by ValidateAndTruncateContent.
const TruncatedMarker = "... [TRUNCATED]"

// TruncateText truncates text to at most maxTokens estimated tokens
// (maxTokens*4 characters). The cut backs off to the last space if that
// space falls within the final 20% of the truncation window, avoiding
// mid-word cuts; otherwise the hard cut stands.
func TruncateText(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}

	truncated := text[:maxChars]
	if idx := strings.LastIndexByte(truncated, ' '); idx >= maxChars*8/10 {
		truncated = truncated[:idx]
	}
	return truncated
}

// ValidateAndTruncateContent enforces a storage-layer byte ceiling on
// content. Content whose UTF-8 byte length exceeds maxBytes is truncated to
// maxBytes/2 characters (a conservative divisor that stays byte-safe for
// multi-byte text), backed off to the last space under the same 80%-window
// rule as TruncateText, with a truncation marker appended.
func ValidateAndTruncateContent(content string, maxBytes int) string {
	if len(content) <= maxBytes {
		return content
	}

	maxChars := maxBytes / 2
	runes := []rune(content)
	if maxChars > len(runes) {
		maxChars = len(runes)
	}
	truncated := string(runes[:maxChars])

	if idx := strings.LastIndexByte(truncated, ' '); idx >= len(truncated)*8/10 {
		truncated = truncated[:idx]
	}
	return truncated + TruncatedMarker
}
