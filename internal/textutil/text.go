// Package textutil provides helpers for preparing outbound message text:
// cleaning up model output and splitting long replies to fit platform limits.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// StripMarkdownFences removes ```lang ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the trimmed text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	startIdx := 1 // skip the opening ``` line
	endIdx := len(lines) - 1

	// Find the closing ```
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[startIdx:endIdx], "\n"))
}

// Split breaks text into chunks of at most max bytes. It prefers to cut at
// the last newline, then the last space, inside the window, and never cuts
// through a UTF-8 sequence. Surrounding whitespace is trimmed from each chunk.
// Empty or whitespace-only text yields no chunks.
func Split(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 {
		return []string{text}
	}

	var chunks []string
	for len(text) > max {
		window := text[:max]
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndexAny(window, " \t")
		}
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				// Window narrower than the first rune: emit the rune whole.
				_, cut = utf8.DecodeRuneInString(text)
			}
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
