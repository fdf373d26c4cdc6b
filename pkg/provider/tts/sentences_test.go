package tts

import (
	"context"
	"slices"
	"testing"
)

func TestSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fragments []string
		want      []string
	}{
		{"single", []string{"Hello there."}, []string{"Hello there."}},
		{"split across fragments", []string{"Hel", "lo. How ", "are you? Fine"}, []string{"Hello.", "How are you?", "Fine"}},
		{"decimal is not a boundary", []string{"Pi is 3.14 roughly. Yes!"}, []string{"Pi is 3.14 roughly.", "Yes!"}},
		{"blank input", []string{"  ", ""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make(chan string, len(tt.fragments))
			for _, f := range tt.fragments {
				in <- f
			}
			close(in)

			var got []string
			for s := range Sentences(context.Background(), in) {
				got = append(got, s)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Sentences = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentences_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string)
	out := Sentences(ctx, in)
	cancel()
	for range out {
	}
}
