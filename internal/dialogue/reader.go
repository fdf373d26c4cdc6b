package dialogue

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Compile-time interface assertion.
var _ Source = (*LineReader)(nil)

// maxLineBytes bounds a single input line.
const maxLineBytes = 64 * 1024

// LineReader is a [Source] over a text stream, typically stdin or a pipe fed
// by the game client. Each input line is one of:
//
//	{"npc": "Captain Vex", "text": "Hold the line!", "priority": 1}
//	Captain Vex<TAB>Hold the line!
//	Captain Vex: Hold the line!
//
// Blank lines and lines starting with '#' are ignored. Lines that match none
// of the forms are logged and skipped.
type LineReader struct {
	r io.Reader

	once  sync.Once
	lines chan result
	stop  chan struct{}
	halt  sync.Once
}

type result struct {
	line Line
	err  error
}

// NewLineReader returns a LineReader over r. Scanning starts with the first
// call to Next.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, lines: make(chan result), stop: make(chan struct{})}
}

// Next returns the next parsed line, io.EOF at the end of input, or ctx.Err().
func (lr *LineReader) Next(ctx context.Context) (Line, error) {
	lr.once.Do(func() { go lr.scan() })
	select {
	case res, ok := <-lr.lines:
		if !ok {
			return Line{}, io.EOF
		}
		return res.line, res.err
	case <-ctx.Done():
		return Line{}, ctx.Err()
	}
}

// Close stops the scanning goroutine once the current read returns. It does
// not close the underlying reader.
func (lr *LineReader) Close() error {
	lr.halt.Do(func() { close(lr.stop) })
	return nil
}

func (lr *LineReader) scan() {
	defer close(lr.lines)

	sc := bufio.NewScanner(lr.r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line, ok, err := ParseLine(sc.Text())
		if err != nil {
			slog.Debug("dialogue: skipping malformed line", "line", lineNo, "err", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case lr.lines <- result{line: line}:
		case <-lr.stop:
			return
		}
	}
	if err := sc.Err(); err != nil {
		select {
		case lr.lines <- result{err: fmt.Errorf("dialogue: read input: %w", err)}:
		case <-lr.stop:
		}
	}
}

// ParseLine parses one input line. ok is false for blank and comment lines.
func ParseLine(raw string) (line Line, ok bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return Line{}, false, nil
	}

	switch {
	case strings.HasPrefix(s, "{"):
		if err := json.Unmarshal([]byte(s), &line); err != nil {
			return Line{}, false, fmt.Errorf("dialogue: decode json line: %w", err)
		}
	// Separators are looked up before trimming so "Merchant\t" keeps its tab.
	case strings.Contains(raw, "\t"):
		npc, text, _ := strings.Cut(raw, "\t")
		line = Line{NPC: npc, Text: text}
	case strings.Contains(raw, ": "):
		npc, text, _ := strings.Cut(raw, ": ")
		line = Line{NPC: npc, Text: text}
	default:
		return Line{}, false, fmt.Errorf("dialogue: no speaker in %q", s)
	}

	line.NPC = collapse(line.NPC)
	line.Text = collapse(line.Text)
	if line.NPC == "" {
		return Line{}, false, fmt.Errorf("dialogue: empty speaker in %q", s)
	}
	return line, true, nil
}

// collapse trims s and folds internal whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
