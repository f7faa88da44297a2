// Package transcript parses and emits the WebVTT-like transcript format
// used as the contract between external transcription and this core: a
// header marker, optional NOTE metadata blocks, and timestamped cue
// blocks with an optional <v Speaker> voice tag.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// HeaderMarker is the literal first line every transcript file opens with.
const HeaderMarker = "WEBVTT"

// ErrMalformedTranscript is returned when the header marker is missing or
// a cue block lacks the "-->" separator.
var ErrMalformedTranscript = errors.New("transcript: malformed input")

// Metadata is the JSON object optionally embedded in a leading NOTE block.
type Metadata struct {
	PodcastID    string `json:"podcast_id"`
	EpisodeID    string `json:"episode_id"`
	EpisodeTitle string `json:"episode_title"`
	YouTubeURL   string `json:"youtube_url,omitempty"`
}

// ParseResult holds the parsed metadata and segments.
type ParseResult struct {
	Metadata *Metadata
	Segments []episode.Segment
}

// Parse reads a full transcript document and returns its metadata and
// cue segments in file order.
func Parse(data string) (*ParseResult, error) {
	lines := strings.Split(data, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != HeaderMarker {
		return nil, fmt.Errorf("%w: missing header marker", ErrMalformedTranscript)
	}

	result := &ParseResult{}
	i := 1

	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}
		if strings.HasPrefix(line, "NOTE") {
			block, next := readBlock(lines, i)
			if meta := tryParseNoteJSON(block); meta != nil {
				result.Metadata = meta
			}
			i = next
			continue
		}
		break
	}

	segIndex := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}

		timingLine := line
		// Cue identifier line (optional) precedes the timing line.
		if !strings.Contains(timingLine, "-->") {
			i++
			if i >= len(lines) {
				return nil, fmt.Errorf("%w: cue without timing line", ErrMalformedTranscript)
			}
			timingLine = strings.TrimSpace(lines[i])
		}

		if !strings.Contains(timingLine, "-->") {
			return nil, fmt.Errorf("%w: cue missing '-->' separator", ErrMalformedTranscript)
		}

		start, end, err := parseTiming(timingLine)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTranscript, err)
		}
		i++

		var textLines []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			textLines = append(textLines, lines[i])
			i++
		}
		text := strings.Join(textLines, "\n")

		speaker, body := extractVoiceTag(text)
		body = unescapeCueText(body)

		if strings.TrimSpace(body) != "" {
			result.Segments = append(result.Segments, episode.Segment{
				Index:   segIndex,
				Start:   start,
				End:     end,
				Speaker: speaker,
				Text:    strings.TrimSpace(body),
			})
			segIndex++
		}
	}

	return result, nil
}

func readBlock(lines []string, start int) (block []string, next int) {
	i := start
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		block = append(block, lines[i])
		i++
	}
	return block, i
}

func tryParseNoteJSON(block []string) *Metadata {
	joined := strings.Join(block, "\n")
	first := strings.IndexByte(joined, '{')
	last := strings.LastIndexByte(joined, '}')
	if first < 0 || last <= first {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(joined[first:last+1]), &meta); err != nil {
		return nil
	}
	return &meta
}

func parseTiming(line string) (start, end float64, err error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("missing '-->' separator")
	}
	start, err = parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	endPart := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endPart) == 0 {
		return 0, 0, fmt.Errorf("missing end timestamp")
	}
	end, err = parseTimestamp(endPart[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseTimestamp(ts string) (float64, error) {
	parts := strings.SplitN(ts, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hours in %q: %w", ts, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q: %w", ts, err)
	}
	secParts := strings.SplitN(parts[2], ".", 2)
	seconds, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q: %w", ts, err)
	}
	var millis int
	if len(secParts) == 2 {
		millis, err = strconv.Atoi(secParts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid milliseconds in %q: %w", ts, err)
		}
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}

func extractVoiceTag(text string) (speaker, body string) {
	trimmed := strings.TrimLeft(text, " \t")
	if !strings.HasPrefix(trimmed, "<v ") {
		return "", text
	}
	end := strings.Index(trimmed, ">")
	if end < 0 {
		return "", text
	}
	speaker = strings.TrimSpace(trimmed[3:end])
	return speaker, trimmed[end+1:]
}

func unescapeCueText(s string) string {
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">")
	return r.Replace(s)
}
