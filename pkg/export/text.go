package export

import (
	"strings"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

// ToText renders bare lyrics: title and "by artist" header, then ten notes
// per line, with player changes set off by blank lines.
func ToText(c *ultrastar.Chart) string {
	var lines []string
	if v, ok := c.Metadata[ultrastar.KeyTitle]; ok {
		lines = append(lines, v)
	}
	if v, ok := c.Metadata[ultrastar.KeyArtist]; ok {
		lines = append(lines, "by "+v)
	}
	if len(lines) > 0 {
		lines = append(lines, "")
	}

	for _, blk := range group(c, textGroupSize) {
		if blk.isMarker() {
			lines = append(lines, "", playerLabel(blk.player), "")
			continue
		}
		lines = append(lines, blk.text())
	}
	return strings.Join(lines, "\n")
}
