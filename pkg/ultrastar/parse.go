package ultrastar

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const utf8BOM = "\uFEFF"

// Parse reads chart text. Lines that do not fit the format (wrong token
// count, non-numeric beats, negative beats, unknown leading token) are
// skipped. Parsing stops after the end marker.
func Parse(text string) *Chart {
	chart := NewChart()
	text = strings.TrimPrefix(text, utf8BOM)

	// Lines may be arbitrarily long.
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			key, value, ok := strings.Cut(line[1:], ":")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			chart.SetMeta(key, strings.TrimSpace(value))
			continue
		}

		note, ok := parseNoteLine(line)
		if !ok {
			continue
		}
		chart.AddNote(note)
		if note.Kind == KindEnd {
			break
		}
	}
	return chart
}

// ParseFile reads and parses a chart file.
func ParseFile(path string) (*Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chart %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

func parseNoteLine(line string) (Note, bool) {
	kind := NoteKind(line[:1])

	switch {
	case kind.IsPitched():
		fields := splitFields(line, 5)
		if len(fields) != 5 {
			return Note{}, false
		}
		start, err1 := strconv.Atoi(fields[1])
		dur, err2 := strconv.Atoi(fields[2])
		pitch, err3 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil || start < 0 || dur < 0 {
			return Note{}, false
		}
		return Note{Kind: kind, StartBeat: start, Duration: dur, Pitch: pitch, Text: fields[4]}, true

	case kind == KindLineBreak:
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 3 {
			return Note{}, false
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil || start < 0 {
			return Note{}, false
		}
		return Note{Kind: KindLineBreak, StartBeat: start}, true

	case kind == KindPlayerChange:
		// "P1" and "P 1" are both in circulation.
		n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
		if err != nil || n <= 0 {
			return Note{}, false
		}
		return Note{Kind: KindPlayerChange, Player: n}, true

	case kind == KindEnd:
		if strings.TrimSpace(line) != "E" {
			return Note{}, false
		}
		return Note{Kind: KindEnd}, true
	}
	return Note{}, false
}

// splitFields splits on whitespace runs into at most n fields; the last
// field keeps its inner spacing.
func splitFields(s string, n int) []string {
	var out []string
	for len(out) < n-1 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return out
		}
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	s = strings.TrimLeft(s, " \t")
	if s != "" {
		out = append(out, s)
	}
	return out
}
