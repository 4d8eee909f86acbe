package correlate

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

var (
	uuidPattern   = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	ipPattern     = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}(:\d+)?\b`)
	hexPattern    = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)
	quotedPattern = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// Template reduces a log message to its stable shape by masking the volatile
// parts: identifiers, addresses, numbers, and quoted values.
func Template(message string) string {
	t := strings.ToLower(strings.TrimSpace(message))
	t = quotedPattern.ReplaceAllString(t, "<q>")
	t = uuidPattern.ReplaceAllString(t, "<uuid>")
	t = ipPattern.ReplaceAllString(t, "<ip>")
	t = hexPattern.ReplaceAllString(t, "<hex>")
	t = numberPattern.ReplaceAllString(t, "<n>")
	t = spacePattern.ReplaceAllString(t, " ")
	return t
}

// Signature derives the correlation key fragment for a label and message.
// Events with the same label and message shape share a signature.
func Signature(label, message string) string {
	h := fnv.New64a()
	h.Write([]byte(Template(message)))
	return fmt.Sprintf("%s:%016x", strings.ToLower(label), h.Sum64())
}

// SourceGroup collapses replica-style source IDs onto their logical group:
// "web-1" and "web-2" correlate together, "db" stays "db".
func SourceGroup(sourceID string) string {
	tokens := strings.FieldsFunc(sourceID, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	for len(tokens) > 1 && volatileToken(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return sourceID
	}
	return strings.Join(tokens, "-")
}

func volatileToken(token string) bool {
	if token == "" {
		return false
	}
	digits := 0
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'):
			// hex-ish
		default:
			return false
		}
	}
	if digits == len(token) {
		return true
	}
	// Mixed alphanumeric suffixes (pod hashes) need digits and length.
	return digits > 0 && len(token) >= 4
}
