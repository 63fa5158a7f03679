// Package parser parses and serializes subtitle artifacts (spec §4.4.1,
// §3 "Subtitle Segment"). Only the SubRip (.srt) format is supported; no
// ecosystem library in the retrieval pack covers SRT parsing, and the
// format's grammar (numbered blocks, HH:MM:SS,mmm --> HH:MM:SS,mmm,
// blank-line-separated) is simple enough that a hand-rolled scanner is
// the idiomatic choice here (DESIGN.md records this as the stdlib-only
// exception).
package parser

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Segment is one subtitle cue: spec §3's Subtitle Segment.
type Segment struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  []string
}

const timestampLayout = "15:04:05,000"

// ParseSRT parses raw into an ordered sequence of Segments. A malformed
// artifact returns an error; per spec §4.4.1 the caller must fail the job
// rather than producing a partial translation.
func ParseSRT(raw string) ([]Segment, error) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	blocks := splitBlocks(normalized)

	segments := make([]Segment, 0, len(blocks))
	for i, block := range blocks {
		seg, err := parseBlock(block)
		if err != nil {
			return nil, fmt.Errorf("parser: block %d: %w", i+1, err)
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("parser: no subtitle blocks found")
	}
	return segments, nil
}

func splitBlocks(raw string) []string {
	trimmed := strings.Trim(raw, "\n")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBlock(block string) (Segment, error) {
	lines := strings.Split(block, "\n")
	if len(lines) < 3 {
		return Segment{}, fmt.Errorf("expected at least 3 lines, got %d", len(lines))
	}

	index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Segment{}, fmt.Errorf("invalid index %q: %w", lines[0], err)
	}

	start, end, err := parseTimingLine(lines[1])
	if err != nil {
		return Segment{}, err
	}

	text := make([]string, 0, len(lines)-2)
	for _, l := range lines[2:] {
		text = append(text, l)
	}

	return Segment{Index: index, Start: start, End: end, Text: text}, nil
}

func parseTimingLine(line string) (start, end time.Duration, err error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err = parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start timestamp: %w", err)
	}
	end, err = parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end timestamp: %w", err)
	}
	return start, end, nil
}

func parseTimestamp(s string) (time.Duration, error) {
	var h, m, sec, ms int
	_, err := fmt.Sscanf(s, "%d:%d:%d,%d", &h, &m, &sec, &ms)
	if err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func formatTimestamp(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// SerializeSRT renders segments back to SubRip text, renumbering indices
// contiguously from 1 and preserving timestamps verbatim (spec §4.4.5).
// The result ends with exactly one trailing newline.
func SerializeSRT(segments []Segment) string {
	var b strings.Builder
	w := bufio.NewWriter(&b)
	for i, seg := range segments {
		if i > 0 {
			fmt.Fprint(w, "\n")
		}
		fmt.Fprintf(w, "%d\n", i+1)
		fmt.Fprintf(w, "%s --> %s\n", formatTimestamp(seg.Start), formatTimestamp(seg.End))
		for _, line := range seg.Text {
			fmt.Fprintln(w, line)
		}
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n") + "\n"
}
