package lexicon

import "strings"

// Expander augments search queries with the same vocabulary the Enricher adds to content,
// so query-side and content-side tokens overlap.
type Expander struct {
	table *Table
}

// NewExpander creates an Expander reading the given table
func NewExpander(table *Table) *Expander {
	return &Expander{table: table}
}

// Expand returns the query followed by the related terms of its recognized vocabulary.
// An empty query expands to an empty string.
func (x *Expander) Expand(query string) string {
	query = oneLine(query)
	if query == "" {
		return ""
	}

	related := x.table.Related(query)
	if len(related) == 0 {
		return query
	}
	return query + " " + strings.Join(related, " ")
}
