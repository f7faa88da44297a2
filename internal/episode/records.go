package episode

// Entity is a language-neutral extraction record. Type is a free string in
// schemaless mode and one of a fixed enum in fixed-schema mode; callers
// that need the enum import internal/extraction's type list instead of
// constraining this struct.
type Entity struct {
	Name        string
	Type        string
	Confidence  float64 // [0,1]
	Importance  float64 // [0,10]
	Description string
	Properties  map[string]any
	SegmentIdx  int
}

// NormalizedKey identifies an entity for deduplication: normalized name
// plus type. The original Name is preserved on the stored record.
func (e Entity) NormalizedKey(normalize func(string) string) string {
	return normalize(e.Name) + "\x00" + e.Type
}

// Relationship links two entities by name.
type Relationship struct {
	SourceName string
	TargetName string
	Type       string
	Confidence float64
	Properties map[string]any
}

// Quote is a verbatim utterance worth surfacing on its own.
type Quote struct {
	Text       string
	Speaker    string
	Timestamp  float64
	Context    string
	Confidence float64
}

// Insight is a derived observation not tied to a single quote or entity.
type Insight struct {
	Title       string
	Description string
	Category    string
	Confidence  float64
}

// AuditRecord is an append-only record of a speaker-label remapping
// applied to stored data. ID is a sortable unique identifier assigned by
// AuditLog.Record, not by the caller, since several remappings for the
// same episode can share a one-second-resolution Timestamp.
type AuditRecord struct {
	ID        string
	EpisodeID string
	OldLabel  string
	NewLabel  string
	Timestamp string
	Reason    string // "pattern", "credits", "description", "llm"
}
