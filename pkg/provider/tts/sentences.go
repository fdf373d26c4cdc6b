package tts

import (
	"context"
	"strings"
	"unicode"
)

// Sentences reads text fragments and emits complete sentences as soon as they
// are terminated, so that batch backends can start on the first sentence
// while later fragments are still arriving. Any unterminated remainder is
// emitted when text closes. The returned channel is closed when text closes
// or ctx is cancelled.
func Sentences(ctx context.Context, text <-chan string) <-chan string {
	out := make(chan string, 4)
	go func() {
		defer close(out)
		var buf strings.Builder
		emit := func(s string) bool {
			s = strings.TrimSpace(s)
			if s == "" {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					emit(buf.String())
					return
				}
				buf.WriteString(fragment)
				for {
					s := buf.String()
					idx := sentenceBoundary(s)
					if idx < 0 {
						break
					}
					buf.Reset()
					buf.WriteString(s[idx+1:])
					if !emit(s[:idx+1]) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// sentenceBoundary returns the index of the first '.', '!' or '?' that ends s
// or is followed by whitespace, or -1. "Dr.Who" and "3.14" do not split.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
