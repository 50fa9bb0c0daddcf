package protocol

import (
	"strings"
	"unicode/utf8"
)

// DefaultName is substituted for a name that normalizes to empty.
const DefaultName = "anonymous"

// DefaultRoom is substituted for a room that normalizes to empty.
const DefaultRoom = "lobby"

// DefaultRenderer is substituted for an unrecognized renderer name.
const DefaultRenderer = "rich"

// MinBufferSize and MaxBufferSize bound the client buffer_size hint.
const (
	MinBufferSize     = 10
	MaxBufferSize     = 1000
	DefaultBufferSize = 200
)

const maxNameLength = 32
const maxRoomLength = 32

// validRenderers is the closed set of renderer names the server accepts.
var validRenderers = map[string]bool{
	"rich":    true,
	"minimal": true,
	"json":    true,
}

// SanitizeName trims whitespace, strips characters outside
// [A-Za-z0-9 _-], truncates to 32 runes, trims any spaces that stripping
// or truncation left at the ends, and defaults to "anonymous" when the
// result is empty. Idempotent: SanitizeName(SanitizeName(x)) ==
// SanitizeName(x).
func SanitizeName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	filtered := filterRunes(trimmed, isNameRune)
	truncated := strings.TrimSpace(truncateRunes(filtered, maxNameLength))
	if truncated == "" {
		return DefaultName
	}
	return truncated
}

// SanitizeRoom trims whitespace, lowercases, truncates to 32 runes, trims
// any whitespace truncation left at the end, and defaults to "lobby" when
// the result is empty. Idempotent.
func SanitizeRoom(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	truncated := strings.TrimSpace(truncateRunes(trimmed, maxRoomLength))
	if truncated == "" {
		return DefaultRoom
	}
	return truncated
}

// NormalizeRenderer lowercases the candidate and falls back to "rich" when
// it isn't one of rich/minimal/json.
func NormalizeRenderer(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if !validRenderers[lowered] {
		return DefaultRenderer
	}
	return lowered
}

// ClampBufferSize clamps to [10, 1000], defaulting 0 (the handshake's
// unset case) to 200; negative values clamp to 10.
func ClampBufferSize(raw int) int {
	if raw == 0 {
		return DefaultBufferSize
	}
	if raw < MinBufferSize {
		return MinBufferSize
	}
	if raw > MaxBufferSize {
		return MaxBufferSize
	}
	return raw
}

// TruncateMessage truncates s to at most 1024 runes.
func TruncateMessage(s string) string {
	return truncateRunes(s, MaxMessageLength)
}

// TruncateFilename truncates s to at most 256 runes. Stripping
// path separators and resolving a basename is the receiving client's job,
// not the server's.
func TruncateFilename(s string) string {
	return truncateRunes(s, MaxFilenameLength)
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == ' ' || r == '-' || r == '_':
		return true
	default:
		return false
	}
}

func filterRunes(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= max {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
