package export

import (
	"fmt"
	"strings"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

var lrcTags = []struct {
	tag string
	key string
}{
	{"ar", ultrastar.KeyArtist},
	{"ti", ultrastar.KeyTitle},
	{"by", ultrastar.KeyCreator},
}

// ToLRC renders an LRC lyric file: id tags, a blank line, then one
// timestamped line per group of five notes. Player changes become an
// untimed "[Player n]" line.
func ToLRC(c *ultrastar.Chart) string {
	var b strings.Builder
	for _, t := range lrcTags {
		if v, ok := c.Metadata[t.key]; ok {
			fmt.Fprintf(&b, "[%s:%s]\n", t.tag, v)
		}
	}
	b.WriteString("\n")

	for _, blk := range group(c, captionGroupSize) {
		if blk.isMarker() {
			b.WriteString(playerLabel(blk.player))
			b.WriteString("\n")
			continue
		}
		b.WriteString(formatLRCTime(millis(c, blk.notes[0].StartBeat)))
		b.WriteString(blk.text())
		b.WriteString("\n")
	}
	return b.String()
}

// formatLRCTime renders [MM:SS.cc].
func formatLRCTime(ms int64) string {
	m := ms / 60000
	s := (ms % 60000) / 1000
	cs := (ms % 1000) / 10
	return fmt.Sprintf("[%02d:%02d.%02d]", m, s, cs)
}
