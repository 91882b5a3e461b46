package textutil

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", "  hello there ", "hello there"},
		{"plain fences", "```\nhello\nworld\n```", "hello\nworld"},
		{"language fences", "```markdown\n**hi**\n```", "**hi**"},
		{"too short", "```hi```", "```hi```"},
		{"missing close", "```\nline one\nline two", "line one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSplit_Short(t *testing.T) {
	got := Split("  yo  ", 2000)
	if len(got) != 1 || got[0] != "yo" {
		t.Errorf("expected [yo], got %q", got)
	}
}

func TestSplit_Empty(t *testing.T) {
	if got := Split(" \n\t ", 10); got != nil {
		t.Errorf("expected nil, got %q", got)
	}
}

func TestSplit_PrefersNewline(t *testing.T) {
	got := Split("first line\nsecond line", 15)
	if len(got) != 2 || got[0] != "first line" || got[1] != "second line" {
		t.Errorf("unexpected chunks: %q", got)
	}
}

func TestSplit_Words(t *testing.T) {
	text := strings.Repeat("word ", 900)
	got := Split(text, 2000)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if len(c) > 2000 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d not trimmed", i)
		}
	}
	if strings.Join(got, " ") != strings.TrimSpace(text) {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestSplit_NoBreaksKeepsRunes(t *testing.T) {
	text := strings.Repeat("é", 10) // 20 bytes, no spaces
	got := Split(text, 5)
	for i, c := range got {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > 5 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(got, "") != text {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestSplit_WindowNarrowerThanRune(t *testing.T) {
	done := make(chan []string, 1)
	go func() { done <- Split("héllo", 1) }()

	select {
	case got := <-done:
		want := []string{"h", "é", "l", "l", "o"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("Split = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Split did not terminate")
	}
}
