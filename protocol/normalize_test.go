package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trims whitespace", "  Alice  ", "Alice"},
		{"strips disallowed characters", "Alice!!!@#$%", "Alice"},
		{"keeps allowed punctuation", "al_ice-99", "al_ice-99"},
		{"empty becomes anonymous", "", DefaultName},
		{"all disallowed becomes anonymous", "!!!@#$", DefaultName},
		{"truncates to 32 code units", strings.Repeat("a", 40), strings.Repeat("a", 32)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, SanitizeName(c.in))
		})
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	inputs := []string{"  Alice!! ", "", strings.Repeat("x", 50), "Bob_2"}
	for _, in := range inputs {
		once := SanitizeName(in)
		twice := SanitizeName(once)
		assert.Equal(t, once, twice)
	}
}

func TestSanitizeRoom(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Lobby", "lobby"},
		{"trims", "  devs  ", "devs"},
		{"empty becomes lobby", "", DefaultRoom},
		{"truncates to 32 code units", strings.Repeat("R", 40), strings.Repeat("r", 32)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, SanitizeRoom(c.in))
		})
	}
}

func TestSanitizeRoomIdempotent(t *testing.T) {
	inputs := []string{"Lobby", "", strings.Repeat("Z", 60), "  Devs  "}
	for _, in := range inputs {
		once := SanitizeRoom(in)
		twice := SanitizeRoom(once)
		assert.Equal(t, once, twice)
	}
}

func TestNormalizeRenderer(t *testing.T) {
	cases := map[string]string{
		"rich":    "rich",
		"Minimal": "minimal",
		"JSON":    "json",
		"":        DefaultRenderer,
		"bogus":   DefaultRenderer,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRenderer(in))
	}
}

func TestClampBufferSize(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultBufferSize},
		{5, MinBufferSize},
		{10, 10},
		{500, 500},
		{1000, 1000},
		{5000, MaxBufferSize},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClampBufferSize(c.in))
	}
}

func TestTruncateMessage(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := TruncateMessage(long)
	assert.Len(t, []rune(got), MaxMessageLength)
}

func TestTruncateFilename(t *testing.T) {
	long := strings.Repeat("f", 500)
	got := TruncateFilename(long)
	assert.Len(t, []rune(got), MaxFilenameLength)
}
