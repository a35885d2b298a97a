package export

import (
	"encoding/json"
	"fmt"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

type jsonChart struct {
	Metadata map[string]string `json:"metadata"`
	Notes    []jsonNote        `json:"notes"`
}

type jsonNote struct {
	Type     string `json:"type"`
	Start    *int   `json:"start,omitempty"`
	Duration *int   `json:"duration,omitempty"`
	Pitch    *int   `json:"pitch,omitempty"`
	Text     string `json:"text,omitempty"`
	Player   int    `json:"player,omitempty"`
}

// ToJSON renders metadata and every note verbatim, indented two spaces.
func ToJSON(c *ultrastar.Chart) (string, error) {
	out := jsonChart{
		Metadata: make(map[string]string, len(c.Metadata)),
		Notes:    make([]jsonNote, 0, len(c.Notes)),
	}
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	for _, n := range c.Notes {
		out.Notes = append(out.Notes, toJSONNote(n))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal chart: %w", err)
	}
	return string(data), nil
}

func toJSONNote(n ultrastar.Note) jsonNote {
	jn := jsonNote{Type: string(n.Kind)}
	switch {
	case n.Kind.IsPitched():
		start, dur, pitch := n.StartBeat, n.Duration, n.Pitch
		jn.Start, jn.Duration, jn.Pitch = &start, &dur, &pitch
		jn.Text = n.Text
	case n.Kind == ultrastar.KindLineBreak:
		start := n.StartBeat
		jn.Start = &start
	case n.Kind == ultrastar.KindPlayerChange:
		jn.Player = n.Player
		jn.Text = playerLabel(n.Player)
	}
	return jn
}
