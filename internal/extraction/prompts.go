package extraction

import (
	"fmt"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

func entityPrompt(text string, mode Mode) string {
	var b strings.Builder
	b.WriteString("Extract entities mentioned in this podcast transcript segment.\n\n")
	if mode == ModeFixed {
		fmt.Fprintf(&b, "Use only these entity types: %s.\n\n", strings.Join(FixedEntityTypes, ", "))
	} else {
		b.WriteString("Use whatever entity type best describes each entity; types are not restricted to a fixed list.\n\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(text)
	b.WriteString(`

Return a JSON array of objects with fields: name, type, confidence (0-1), importance (0-10), description, properties.
Example: [{"name": "Jane Doe", "type": "Person", "confidence": 0.9, "importance": 8, "description": "guest researcher", "properties": {}}]`)
	return b.String()
}

func relationshipPrompt(text string, entities []episode.Entity, mode Mode) string {
	var names []string
	for _, e := range entities {
		names = append(names, e.Name)
	}

	var b strings.Builder
	b.WriteString("Identify relationships between these entities based on the transcript segment.\n\n")
	fmt.Fprintf(&b, "Entities: %s\n\n", strings.Join(names, ", "))
	if mode == ModeFixed {
		fmt.Fprintf(&b, "Use only these relationship types: %s.\n\n", strings.Join(FixedRelationshipTypes, ", "))
	} else {
		b.WriteString("Relationship types are free-form; use whatever verb phrase best describes the connection.\n\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(text)
	b.WriteString(`

Return a JSON array of objects with fields: source, target, type, confidence (0-1).
Example: [{"source": "Jane Doe", "target": "Acme Corp", "type": "works_for", "confidence": 0.8}]`)
	return b.String()
}

func quotePrompt(text string) string {
	return fmt.Sprintf(`Identify the most quotable, standalone statements in this transcript segment: insightful,
memorable, or opinion-bearing lines that make sense read out of context.

Transcript:
%s

Return a JSON array of objects with fields: text, speaker, timestamp (seconds from the segment's time markers), context (one sentence of surrounding topic), confidence (0-1).
Example: [{"text": "The only real deadline is the one you set for yourself.", "speaker": "Jane Doe", "timestamp": 812.5, "context": "discussing self-imposed launch schedules", "confidence": 0.7}]`, text)
}

func insightPrompt(text, entityContext string) string {
	var b strings.Builder
	b.WriteString("Identify the key insights, lessons, predictions, or recommendations expressed in this transcript segment.\n\n")
	if entityContext != "" {
		b.WriteString(entityContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(text)
	b.WriteString(`

Return a JSON array of objects with fields: title, description, type (one of: observation, lesson, prediction,
recommendation, fact), confidence (0-1).
Example: [{"title": "Early feedback loops", "description": "Shipping small and getting feedback early beats planning everything up front.", "type": "lesson", "confidence": 0.75}]`)
	return b.String()
}
