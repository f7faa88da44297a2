// Package ingest fetches show-notes style text from external URLs for the
// speaker identification cascade's external-channel-description strategy.
package ingest

import (
	"strings"
)

const (
	// maxContentSize bounds how much of a fetched page is kept.
	maxContentSize = 2 * 1024 * 1024
)

// Content is the extracted text of a fetched page.
type Content struct {
	Text      string
	Title     string
	Source    string
	WordCount int
}

func wordCount(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inWord = false
		} else if !inWord {
			inWord = true
			count++
		}
	}
	return count
}

func titleFromText(text string, maxLen int) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > maxLen {
		line = line[:maxLen] + "..."
	}
	if line == "" {
		return "Untitled"
	}
	return line
}
