// Package duet turns two single-singer charts into one two-part UltraStar
// duet chart and analyses diarization output to decide whether a song can
// be sung as a duet at all.
package duet

import (
	"fmt"
	"sort"
)

// MinSecondaryRatio is the share of the primary speaker's vocal time below
// which the secondary speaker is reported as weak. A weak pair still
// produces a duet.
const MinSecondaryRatio = 0.1

// SpeakerSegment is one time range attributed to one speaker, in seconds.
type SpeakerSegment struct {
	SpeakerID string  `json:"speaker"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// Duration is never negative.
func (s SpeakerSegment) Duration() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Segments maps speaker id to that speaker's segments.
type Segments map[string][]SpeakerSegment

// SpeakerCount returns the number of speakers with at least one segment.
func (s Segments) SpeakerCount() int {
	n := 0
	for _, segs := range s {
		if len(segs) > 0 {
			n++
		}
	}
	return n
}

// TotalSpeakingTime sums the segment durations of one speaker.
func (s Segments) TotalSpeakingTime(speaker string) float64 {
	total := 0.0
	for _, seg := range s[speaker] {
		total += seg.Duration()
	}
	return total
}

// Sorted returns a copy of the speaker's segments ordered by start time.
func (s Segments) Sorted(speaker string) []SpeakerSegment {
	out := append([]SpeakerSegment(nil), s[speaker]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// SpeakerStat summarises one speaker.
type SpeakerStat struct {
	SpeakerID string  `json:"speaker"`
	Total     float64 `json:"total_seconds"`
	Segments  int     `json:"segments"`
}

// Rank orders speakers by total speaking time, longest first. Ties are
// broken by speaker id so the result is stable.
func (s Segments) Rank() []SpeakerStat {
	stats := make([]SpeakerStat, 0, len(s))
	for id, segs := range s {
		if len(segs) == 0 {
			continue
		}
		stats = append(stats, SpeakerStat{SpeakerID: id, Total: s.TotalSpeakingTime(id), Segments: len(segs)})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Total != stats[j].Total {
			return stats[i].Total > stats[j].Total
		}
		return stats[i].SpeakerID < stats[j].SpeakerID
	})
	return stats
}

// Pair is the two speakers selected for a duet.
type Pair struct {
	Primary   SpeakerStat
	Secondary SpeakerStat
	// Ratio is secondary time over primary time (primary floored at 1s).
	Ratio float64
}

// Weak reports whether the secondary speaker sings too little for a
// convincing duet.
func (p Pair) Weak() bool { return p.Ratio < MinSecondaryRatio }

// Warning returns a human readable note for weak pairs, or "".
func (p Pair) Warning() string {
	if !p.Weak() {
		return ""
	}
	return fmt.Sprintf("Second speaker only has %.1f%% of vocal time. May not be a true duet.", p.Ratio*100)
}

// SelectPair picks the two speakers with the most vocal time. ok is false
// when fewer than two speakers are present.
func SelectPair(s Segments) (Pair, bool) {
	ranked := s.Rank()
	if len(ranked) < 2 {
		return Pair{}, false
	}
	primary := ranked[0].Total
	if primary < 1 {
		primary = 1
	}
	return Pair{Primary: ranked[0], Secondary: ranked[1], Ratio: ranked[1].Total / primary}, true
}

// Assessment is the outcome of a duet capability check.
type Assessment struct {
	Suitable bool   `json:"suitable"`
	Speakers int    `json:"speakers"`
	Message  string `json:"message"`
}

// Assess decides whether diarization output supports duet processing. A nil
// map means the diarization engine produced no result.
func Assess(s Segments) Assessment {
	if s == nil {
		return Assessment{Message: "Speaker detection not available"}
	}
	n := s.SpeakerCount()
	if n < 2 {
		return Assessment{Speakers: n, Message: fmt.Sprintf("Only detected %d speaker(s). This appears to be a solo song.", n)}
	}
	return Assessment{Suitable: true, Speakers: n, Message: fmt.Sprintf("Detected %d speakers - suitable for duet", n)}
}
