package duet

import (
	"errors"
	"fmt"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

const (
	DefaultSinger1 = "Player 1"
	DefaultSinger2 = "Player 2"

	unknownValue = "Unknown"
)

// Names are the singer display names written to the duet headers.
type Names struct {
	P1 string
	P2 string
}

// WithDefaults fills empty names with "Player 1" / "Player 2".
func (n Names) WithDefaults() Names {
	if n.P1 == "" {
		n.P1 = DefaultSinger1
	}
	if n.P2 == "" {
		n.P2 = DefaultSinger2
	}
	return n
}

// MergeError reports which input chart could not be combined.
type MergeError struct {
	Part int // 1 or 2; 0 when writing the result failed
	Path string
	Err  error
}

func (e *MergeError) Error() string {
	if e.Part == 0 {
		return fmt.Sprintf("duet merge: write %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("duet merge: part %d (%s): %v", e.Part, e.Path, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

var errNoContent = errors.New("no chart content")

var duetHeaderKeys = map[string]bool{
	ultrastar.KeyTitle:        true,
	ultrastar.KeyArtist:       true,
	ultrastar.KeyDuetSingerP1: true,
	ultrastar.KeyDuetSingerP2: true,
}

// Merge builds a duet chart: c1's metadata with the two singer keys, then
// P1 and c1's notes, then P2 and c2's notes, then one end marker. Each
// input's own end marker is dropped.
//
// segments is the diarization output the two charts came from. Overlapping
// vocals are not detected, so it does not influence the result yet.
func Merge(c1, c2 *ultrastar.Chart, names Names, segments Segments) *ultrastar.Chart {
	names = names.WithDefaults()
	out := ultrastar.NewChart()

	out.SetMeta(ultrastar.KeyTitle, valueOr(c1, ultrastar.KeyTitle))
	out.SetMeta(ultrastar.KeyArtist, valueOr(c1, ultrastar.KeyArtist))
	out.SetMeta(ultrastar.KeyDuetSingerP1, names.P1)
	out.SetMeta(ultrastar.KeyDuetSingerP2, names.P2)
	for _, key := range c1.Headers {
		if duetHeaderKeys[key] {
			continue
		}
		if v, ok := c1.Metadata[key]; ok {
			out.SetMeta(key, v)
		}
	}

	out.AddNote(ultrastar.Note{Kind: ultrastar.KindPlayerChange, Player: 1})
	appendWithoutEnd(out, c1)
	out.AddNote(ultrastar.Note{Kind: ultrastar.KindPlayerChange, Player: 2})
	appendWithoutEnd(out, c2)
	out.AddNote(ultrastar.Note{Kind: ultrastar.KindEnd})

	return out
}

// MergeFiles parses two per-speaker chart files, merges them and writes the
// duet chart to out. Any failure is a *MergeError.
func MergeFiles(p1, p2, out string, names Names, segments Segments) (*ultrastar.Chart, error) {
	c1, err := loadPart(1, p1)
	if err != nil {
		return nil, err
	}
	c2, err := loadPart(2, p2)
	if err != nil {
		return nil, err
	}

	merged := Merge(c1, c2, names, segments)
	if err := merged.WriteFile(out); err != nil {
		return nil, &MergeError{Path: out, Err: err}
	}
	return merged, nil
}

func loadPart(part int, path string) (*ultrastar.Chart, error) {
	c, err := ultrastar.ParseFile(path)
	if err != nil {
		return nil, &MergeError{Part: part, Path: path, Err: err}
	}
	if c.IsEmpty() {
		return nil, &MergeError{Part: part, Path: path, Err: errNoContent}
	}
	return c, nil
}

func appendWithoutEnd(dst, src *ultrastar.Chart) {
	for _, n := range src.Notes {
		if n.Kind == ultrastar.KindEnd {
			continue
		}
		dst.AddNote(n)
	}
}

func valueOr(c *ultrastar.Chart, key string) string {
	if v, ok := c.Metadata[key]; ok && v != "" {
		return v
	}
	return unknownValue
}
