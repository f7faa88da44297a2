package graph

// NeedsStandardization reports whether rows came from the schemaless
// store (carrying a `_type` property) and therefore need their shape
// normalized before being handed back to a caller written against the
// fixed-schema row shape.
func NeedsStandardization(rows []Row) bool {
	if len(rows) == 0 {
		return false
	}
	first := rows[0]
	if node, ok := first["n"].(map[string]any); ok {
		_, hasType := node["_type"]
		return hasType
	}
	_, hasType := first["_type"]
	return hasType
}

// StandardizeResults rewrites schemaless rows so their keys match what a
// fixed-schema caller expects: `_type` is surfaced as `type`, and a
// wrapped `n` node map is flattened to the row's top level.
func StandardizeResults(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, standardizeRow(row))
	}
	return out
}

func standardizeRow(row Row) Row {
	node, ok := row["n"].(map[string]any)
	if !ok {
		return standardizeFlat(row)
	}
	flat := make(Row, len(node))
	for k, v := range node {
		flat[k] = v
	}
	return standardizeFlat(flat)
}

func standardizeFlat(row Row) Row {
	if t, ok := row["_type"]; ok {
		row["type"] = t
		delete(row, "_type")
	}
	return row
}
