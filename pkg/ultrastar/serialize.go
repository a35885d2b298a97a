package ultrastar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Serialize renders the chart back to UltraStar text. Metadata follows
// Headers order; keys present in Metadata but missing from Headers are
// appended in no particular order after them.
func (c *Chart) Serialize() string {
	var b strings.Builder

	seen := make(map[string]bool, len(c.Headers))
	for _, key := range c.Headers {
		value, ok := c.Metadata[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&b, "#%s:%s\n", key, value)
	}
	for key, value := range c.Metadata {
		if !seen[key] {
			fmt.Fprintf(&b, "#%s:%s\n", key, value)
		}
	}

	for _, n := range c.Notes {
		b.WriteString(formatNote(n))
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteFile serializes the chart to path via a temp file and rename.
func (c *Chart) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(c.Serialize()), 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename chart: %w", err)
	}
	return nil
}

func formatNote(n Note) string {
	switch {
	case n.Kind.IsPitched():
		return fmt.Sprintf("%s %d %d %d %s", n.Kind, n.StartBeat, n.Duration, n.Pitch, n.Text)
	case n.Kind == KindLineBreak:
		return fmt.Sprintf("- %d", n.StartBeat)
	case n.Kind == KindPlayerChange:
		return fmt.Sprintf("P%d", n.Player)
	default:
		return string(KindEnd)
	}
}
