package transcript

import (
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// DefaultMinDuration is the threshold below which consecutive same-speaker
// segments are coalesced.
const DefaultMinDuration = 2.0 // seconds

// MergeShortSegments coalesces consecutive segments from the same speaker
// whose combined duration is below minDuration, drops empty-text segments,
// and reassigns segment IDs to be contiguous.
func MergeShortSegments(segments []episode.Segment, minDuration float64) []episode.Segment {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}

	var merged []episode.Segment
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		if len(merged) == 0 {
			merged = append(merged, seg)
			continue
		}

		last := &merged[len(merged)-1]
		sameSpeaker := last.Speaker == seg.Speaker
		if sameSpeaker && seg.End-last.Start < minDuration {
			last.End = seg.End
			last.Text = strings.TrimSpace(last.Text + " " + seg.Text)
			continue
		}
		merged = append(merged, seg)
	}

	for i := range merged {
		merged[i].Index = i
	}
	return merged
}
