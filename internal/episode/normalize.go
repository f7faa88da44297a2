package episode

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes lists trailing words stripped from an entity's
// normalized name so "Acme Corp" and "Acme Corporation" collapse to the
// same deduplication key as "Acme".
var corporateSuffixes = map[string]bool{
	"inc":          true,
	"llc":          true,
	"ltd":          true,
	"llp":          true,
	"corp":         true,
	"co":           true,
	"corporation":  true,
	"company":      true,
	"incorporated": true,
	"limited":      true,
	"gmbh":         true,
	"plc":          true,
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeEntityName produces the deduplication key for an entity's
// surface name per the "lowercased, accent-stripped, common corporate
// suffixes removed" rule: the original Name is preserved on the stored
// record; only this derived key drives merge/upsert lookups.
func NormalizeEntityName(name string) string {
	out, _, err := transform.String(stripAccents, name)
	if err != nil {
		out = name
	}
	out = strings.ToLower(strings.TrimSpace(out))

	fields := strings.Fields(out)
	for len(fields) > 0 {
		last := strings.Trim(fields[len(fields)-1], ".,")
		if !corporateSuffixes[last] {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}
