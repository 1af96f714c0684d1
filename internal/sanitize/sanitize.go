// Package sanitize normalizes caller-supplied metadata into safe,
// bounded, string-valued maps before persistence. Every metadata map
// headed for storage (entity metadata and claim/release audit
// snapshots) must pass through Map; nothing else is allowed to write
// raw caller input.
//
// The functions never fail: malformed input always produces a
// best-effort safe result, and the output of Map is a fixed point
// (Map(Map(x)) == Map(x)).
package sanitize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxKeyLength and MaxValueLength mirror the backing store's
	// property name and string value caps.
	MaxKeyLength   = 255
	MaxValueLength = 32767

	// FallbackKey replaces keys that sanitize down to nothing so no
	// entry is silently dropped.
	FallbackKey = "UnknownKey"

	// TruncationMarker is appended whenever a value is cut; truncation
	// is never silent.
	TruncationMarker = "...[truncated]"

	placeholder = '_'
)

// specialKeyChars have meaning in the store's query language or the
// filesystem and are replaced with the placeholder in keys.
const specialKeyChars = "'\"`<>|*/?\\"

// Key normalizes a metadata key: control characters stripped, query
// and filesystem metacharacters replaced, internal whitespace
// collapsed, length capped, empty results replaced by FallbackKey.
func Key(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r <= 0x1F || r == 0x7F:
			// dropped
		case strings.ContainsRune(specialKeyChars, r):
			b.WriteByte(placeholder)
		default:
			b.WriteRune(r)
		}
	}
	cleaned := collapseWhitespace(b.String())
	cleaned = strings.TrimSpace(cleaned)
	cleaned = truncateRunes(cleaned, MaxKeyLength)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return FallbackKey
	}
	return cleaned
}

// Value converts any value to its deterministic string form and makes
// it storage-safe. Booleans and numbers use fixed literal forms;
// composite values use canonical ASCII-safe JSON so no alternate
// encoding can smuggle unsafe bytes past the charset checks.
func Value(value any) string {
	str := stringify(value)

	var b strings.Builder
	b.Grow(len(str))
	for _, r := range str {
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			b.WriteByte(' ')
		case r <= 0x1F || r == 0x7F:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if truncated := truncateRunes(cleaned, MaxValueLength); len(truncated) < len(cleaned) {
		cleaned = truncated + TruncationMarker
	}
	return strings.TrimSpace(cleaned)
}

// Map sanitizes an entire metadata map. Entries with nil values are
// dropped; every surviving key and value passes through Key and Value.
// When two raw keys normalize to the same sanitized key, later entries
// are retained under a numbered variant instead of overwriting.
func Map(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(raw))
	for _, rawKey := range keys {
		value := raw[rawKey]
		if value == nil {
			continue
		}
		key := Key(rawKey)
		if _, taken := out[key]; taken {
			key = disambiguate(out, key)
		}
		out[key] = Value(value)
	}
	return out
}

// Strings adapts an already-string-valued map for Map.
func Strings(raw map[string]string) map[string]string {
	generic := make(map[string]any, len(raw))
	for k, v := range raw {
		generic[k] = v
	}
	return Map(generic)
}

// disambiguate finds a free numbered variant of key. The suffix is
// applied within the length cap so the result stays storage-legal.
func disambiguate(out map[string]string, key string) string {
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		candidate := truncateRunes(key, MaxKeyLength-len(suffix)) + suffix
		if _, taken := out[candidate]; !taken {
			return candidate
		}
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		data, err := marshalASCII(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func formatFloat(v float64) string {
	// Integral floats print without an exponent or trailing zeros so
	// JSON-decoded numbers round-trip predictably.
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// marshalASCII renders composite values as JSON with all non-ASCII
// runes escaped, matching encoding/json's default \uXXXX behavior for
// characters outside the basic set.
func marshalASCII(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, r := range string(data) {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		b.WriteString(fmt.Sprintf(`\u%04x`, r))
	}
	return []byte(b.String()), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
