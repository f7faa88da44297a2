package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// Emit renders segments (and optional metadata) back into the transcript
// file format: header marker, a NOTE block carrying metadata as JSON, then
// one cue block per segment.
func Emit(meta *Metadata, segments []episode.Segment) (string, error) {
	var b strings.Builder
	b.WriteString(HeaderMarker)
	b.WriteString("\n\n")

	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("transcript: marshal metadata: %w", err)
		}
		b.WriteString("NOTE\n")
		b.Write(data)
		b.WriteString("\n\n")
	}

	for _, seg := range segments {
		b.WriteString(formatTimestamp(seg.Start))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(seg.End))
		b.WriteString("\n")
		if seg.Speaker != "" {
			b.WriteString("<v ")
			b.WriteString(seg.Speaker)
			b.WriteString(">")
		}
		b.WriteString(escapeCueText(seg.Text))
		b.WriteString("\n\n")
	}

	return b.String(), nil
}

func formatTimestamp(seconds float64) string {
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3600000
	totalMillis %= 3600000
	minutes := totalMillis / 60000
	totalMillis %= 60000
	secs := totalMillis / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}

func escapeCueText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
