package export

import (
	"fmt"
	"strings"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

// ToSRT renders numbered caption blocks of up to five notes. A block spans
// from its first note's start to its last note's end.
func ToSRT(c *ultrastar.Chart) string {
	var b strings.Builder
	index := 1
	for _, blk := range group(c, captionGroupSize) {
		if blk.isMarker() {
			continue
		}
		first := blk.notes[0]
		last := blk.notes[len(blk.notes)-1]
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			index,
			formatSRTTime(millis(c, first.StartBeat)),
			formatSRTTime(millis(c, last.EndBeat())),
			blk.text())
		index++
	}
	return b.String()
}

// formatSRTTime renders HH:MM:SS,mmm.
func formatSRTTime(ms int64) string {
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
