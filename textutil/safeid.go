package textutil

import "fmt"

// MaxIDLength is the longest identifier accepted by the vector storage layer.
const MaxIDLength = 64

const hashHexDigits = 8

// EnsureSafeID deterministically shortens identifiers longer than
// MaxIDLength while preserving uniqueness. The result keeps the first
// 64-8-1 characters of the input followed by "_" and an 8-hex-digit hash of
// the original full string, so two over-long IDs sharing a prefix still
// diverge in the suffix.
func EnsureSafeID(id string) string {
	if len(id) <= MaxIDLength {
		return id
	}

	prefix := id[:MaxIDLength-hashHexDigits-1]
	return fmt.Sprintf("%s_%08x", prefix, contentHash(id))
}

// contentHash is the classic polynomial string hash (h = h*31 + ch)
// truncated to 32 bits, with the sign dropped so the hex form is stable.
func contentHash(s string) uint32 {
	var hash int32
	for _, ch := range []byte(s) {
		hash = hash*31 + int32(ch)
	}
	if hash < 0 {
		hash = -hash
	}
	return uint32(hash)
}
