package graph

import "regexp"

// fixedSchemaLabel matches any of the fixed-schema labels appearing
// either bare or after a colon in a Cypher statement.
var fixedSchemaLabel = regexp.MustCompile(`\b(Entity|Quote|Segment|Episode|Podcast|Insight|Topic|Speaker)\b`)

// labelToken rewrites a `:Label` occurrence into the schemaless
// generic-label-plus-filter form.
var labelToken = regexp.MustCompile(`:(Entity|Quote|Segment|Episode|Podcast|Insight|Topic|Speaker)\b`)

// IsFixedSchemaQuery reports whether statement references fixed-schema
// node labels and therefore needs translation before running against a
// schemaless store.
func IsFixedSchemaQuery(statement string) bool {
	return fixedSchemaLabel.MatchString(statement)
}

// TranslateFixedToSchemaless rewrites `:Label` tokens referencing a
// fixed-schema label into the schemaless store's generic label, adding
// a `_type` comparison is left to the caller since Cypher WHERE clauses
// cannot be safely synthesized from a label token alone; this rewrite
// covers the common MATCH (n:Label) shape used throughout this core's
// fixed-schema queries.
func TranslateFixedToSchemaless(statement string) string {
	return labelToken.ReplaceAllString(statement, ":"+GenericLabel)
}
