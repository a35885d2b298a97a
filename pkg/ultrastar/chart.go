// Package ultrastar models the UltraStar karaoke chart text format.
//
// A chart is a header block of "#KEY:VALUE" lines followed by beat-indexed
// note lines. Beats are converted to wall-clock time with BeatToMilliseconds,
// which every time-coded consumer must go through.
package ultrastar

import (
	"strconv"
	"strings"
)

// NoteKind is the leading token of a note line.
type NoteKind string

const (
	KindNormal       NoteKind = ":"
	KindGolden       NoteKind = "*"
	KindFreestyle    NoteKind = "F"
	KindRap          NoteKind = "R"
	KindGoldenRap    NoteKind = "G"
	KindLineBreak    NoteKind = "-"
	KindPlayerChange NoteKind = "P"
	KindEnd          NoteKind = "E"
)

// Well-known metadata keys.
const (
	KeyTitle        = "TITLE"
	KeyArtist       = "ARTIST"
	KeyBPM          = "BPM"
	KeyGap          = "GAP"
	KeyCreator      = "CREATOR"
	KeyLanguage     = "LANGUAGE"
	KeyMP3          = "MP3"
	KeyDuetSingerP1 = "DUETSINGERP1"
	KeyDuetSingerP2 = "DUETSINGERP2"
)

const (
	DefaultBPM = 120.0
	DefaultGap = 0.0
)

// IsPitched reports whether the kind carries start, duration, pitch and text.
func (k NoteKind) IsPitched() bool {
	switch k {
	case KindNormal, KindGolden, KindFreestyle, KindRap, KindGoldenRap:
		return true
	}
	return false
}

// Note is a single chart event. Which fields are meaningful depends on Kind:
// pitched notes use all of StartBeat, Duration, Pitch and Text; line breaks
// use StartBeat; player changes use Player; end markers use nothing.
type Note struct {
	Kind      NoteKind
	StartBeat int
	Duration  int
	Pitch     int
	Text      string
	Player    int
}

// EndBeat is the first beat after the note.
func (n Note) EndBeat() int { return n.StartBeat + n.Duration }

// Chart is a parsed UltraStar file. Headers keeps the metadata keys in the
// order they were first seen so serialization is deterministic.
type Chart struct {
	Metadata map[string]string
	Headers  []string
	Notes    []Note
}

// NewChart returns an empty chart ready for SetMeta and AddNote.
func NewChart() *Chart {
	return &Chart{Metadata: make(map[string]string)}
}

// Meta returns the metadata value for key (case-insensitive).
func (c *Chart) Meta(key string) (string, bool) {
	v, ok := c.Metadata[strings.ToUpper(key)]
	return v, ok
}

// SetMeta sets a metadata value, appending the key to Headers the first time.
func (c *Chart) SetMeta(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, exists := c.Metadata[key]; !exists {
		c.Headers = append(c.Headers, key)
	}
	c.Metadata[key] = value
}

func (c *Chart) AddNote(n Note) {
	c.Notes = append(c.Notes, n)
}

// Title returns TITLE or "".
func (c *Chart) Title() string { return c.Metadata[KeyTitle] }

// Artist returns ARTIST or "".
func (c *Chart) Artist() string { return c.Metadata[KeyArtist] }

// BPM returns the chart tempo, accepting the decimal comma UltraStar files
// commonly use. Missing, unparsable or non-positive values yield DefaultBPM.
func (c *Chart) BPM() float64 {
	v, ok := c.Metadata[KeyBPM]
	if !ok {
		return DefaultBPM
	}
	bpm, err := parseDecimal(v)
	if err != nil || bpm <= 0 {
		return DefaultBPM
	}
	return bpm
}

// Gap returns the GAP offset in milliseconds, DefaultGap when absent.
func (c *Chart) Gap() float64 {
	v, ok := c.Metadata[KeyGap]
	if !ok {
		return DefaultGap
	}
	gap, err := parseDecimal(v)
	if err != nil {
		return DefaultGap
	}
	return gap
}

// BeatToMilliseconds converts a beat index to milliseconds from song start.
func BeatToMilliseconds(beat, bpm, gapMs float64) float64 {
	return beat/bpm*60000 + gapMs
}

// BeatTime converts a beat of this chart to milliseconds using its BPM and GAP.
func (c *Chart) BeatTime(beat int) float64 {
	return BeatToMilliseconds(float64(beat), c.BPM(), c.Gap())
}

// PitchedCount returns the number of singable notes.
func (c *Chart) PitchedCount() int {
	n := 0
	for _, note := range c.Notes {
		if note.Kind.IsPitched() {
			n++
		}
	}
	return n
}

// IsEmpty reports whether nothing was parsed at all.
func (c *Chart) IsEmpty() bool {
	return len(c.Metadata) == 0 && len(c.Notes) == 0
}

// Clone returns a deep copy.
func (c *Chart) Clone() *Chart {
	out := &Chart{
		Metadata: make(map[string]string, len(c.Metadata)),
		Headers:  append([]string(nil), c.Headers...),
		Notes:    append([]Note(nil), c.Notes...),
	}
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}
