// Package export projects a parsed UltraStar chart into subtitle, lyric,
// structured and plain-text representations. Every converter is a pure
// function of the chart; a chart without notes yields header-only or empty
// output.
package export

import (
	"fmt"
	"strings"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

// Format is an export target.
type Format string

const (
	FormatSRT  Format = "srt"
	FormatLRC  Format = "lrc"
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
)

// Formats lists every supported format.
var Formats = []Format{FormatSRT, FormatLRC, FormatJSON, FormatTXT}

const (
	captionGroupSize = 5
	textGroupSize    = 10
)

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string { return "." + string(f) }

// ContentType returns the HTTP content type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	case FormatJSON:
		return "application/json; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Convert dispatches to the converter for f.
func Convert(f Format, c *ultrastar.Chart) (string, error) {
	switch f {
	case FormatSRT:
		return ToSRT(c), nil
	case FormatLRC:
		return ToLRC(c), nil
	case FormatJSON:
		return ToJSON(c)
	case FormatTXT:
		return ToText(c), nil
	}
	return "", fmt.Errorf("unsupported export format %q", f)
}

// block is either a run of pitched notes or a player-change marker.
type block struct {
	notes  []ultrastar.Note
	player int
}

func (b block) isMarker() bool { return b.player > 0 }

func (b block) text() string {
	parts := make([]string, len(b.notes))
	for i, n := range b.notes {
		parts[i] = n.Text
	}
	return strings.Join(parts, " ")
}

// group walks the chart's pitched notes in file order, cutting a block every
// size notes and at every player change. Line breaks and end markers do not
// participate.
func group(c *ultrastar.Chart, size int) []block {
	var (
		out     []block
		current []ultrastar.Note
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, block{notes: current})
			current = nil
		}
	}
	for _, n := range c.Notes {
		switch {
		case n.Kind == ultrastar.KindPlayerChange:
			flush()
			out = append(out, block{player: n.Player})
		case n.Kind.IsPitched():
			current = append(current, n)
			if len(current) >= size {
				flush()
			}
		}
	}
	flush()
	return out
}

func playerLabel(n int) string { return fmt.Sprintf("[Player %d]", n) }

// millis converts a beat to whole milliseconds, never negative.
func millis(c *ultrastar.Chart, beat int) int64 {
	ms := int64(c.BeatTime(beat))
	if ms < 0 {
		return 0
	}
	return ms
}
