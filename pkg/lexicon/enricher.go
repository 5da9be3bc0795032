package lexicon

import (
	"strings"
	"time"
)

const (
	relatedPrefix  = "[related: "
	contextPrefix  = "[context: "
	temporalPrefix = "[temporal: "
)

// Provenance is optional authorship context added to enriched content
type Provenance struct {
	Author string
	Source string
}

// Enricher expands raw memory text into the surrogate text that gets embedded
type Enricher struct {
	table *Table
}

// NewEnricher creates an Enricher reading the given table
func NewEnricher(table *Table) *Enricher {
	return &Enricher{table: table}
}

// Enrich appends related vocabulary, provenance and a temporal cue to raw. It is
// deterministic for a table version and Enrich(Enrich(x, p), p) == Enrich(x, p).
//
// Layout:
//
//	<raw text>
//	[related: term, term, ...]
//	[context: by <author> via <source>]
//	[temporal: expression, ...]
func (e *Enricher) Enrich(raw string, prov *Provenance) string {
	text := RawContent(raw)
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(text)

	if related := e.table.Related(text); len(related) > 0 {
		b.WriteString("\n" + relatedPrefix + strings.Join(related, ", ") + "]")
	}

	if ctx := prov.annotation(); ctx != "" {
		b.WriteString("\n" + contextPrefix + ctx + "]")
	}

	// the reference time does not affect which expressions are found
	if temporal := DetectTemporal(text, time.Time{}); temporal.ContainsRefs() {
		b.WriteString("\n" + temporalPrefix + strings.Join(temporal.Expressions, ", ") + "]")
	}

	return b.String()
}

// RawContent strips enrichment annotations, returning the text the annotations were built from
func RawContent(enriched string) string {
	lines := strings.Split(enriched, "\n")
	for i, line := range lines {
		if isAnnotation(line) {
			lines = lines[:i]
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isAnnotation(line string) bool {
	return strings.HasPrefix(line, relatedPrefix) ||
		strings.HasPrefix(line, contextPrefix) ||
		strings.HasPrefix(line, temporalPrefix)
}

func (p *Provenance) annotation() string {
	if p == nil {
		return ""
	}

	var parts []string
	if a := oneLine(p.Author); a != "" {
		parts = append(parts, "by "+a)
	}
	if s := oneLine(p.Source); s != "" {
		parts = append(parts, "via "+s)
	}
	return strings.Join(parts, " ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
