// Package transcript normalizes recognized speech fragments.
package transcript

import (
	"strings"
	"unicode"
)

// Clean collapses whitespace runs and trims the fragment.
func Clean(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// Fragment returns the buffer form of a final transcript: cleaned text plus
// one separating space, or "" when nothing remains after cleaning.
func Fragment(raw string) string {
	cleaned := Clean(raw)
	if cleaned == "" {
		return ""
	}
	return cleaned + " "
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
