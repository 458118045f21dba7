package store

import (
	"fmt"
	"sort"
	"strings"
)

// Table describes a retrievable table: its identity key and the text
// columns concatenated to build the embedding input.
type Table struct {
	Name        string
	Key         string
	TextColumns []string
}

// Text builds the embedding input for a row. Empty columns are skipped.
func (t Table) Text(fields map[string]any) string {
	parts := make([]string, 0, len(t.TextColumns))
	for _, col := range t.TextColumns {
		v, ok := fields[col]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}

var catalog = map[string]Table{
	"institutions": {
		Name:        "institutions",
		Key:         "inst_id",
		TextColumns: []string{"name", "type", "department", "city", "state"},
	},
	"positions": {
		Name:        "positions",
		Key:         "position_id",
		TextColumns: []string{"title", "responsibilities"},
	},
	"experiences": {
		Name:        "experiences",
		Key:         "experience_id",
		TextColumns: []string{"name", "description"},
	},
	"skills": {
		Name:        "skills",
		Key:         "skill_id",
		TextColumns: []string{"name", "type", "level"},
	},
	DocumentsTable: {
		Name:        DocumentsTable,
		Key:         "document_id",
		TextColumns: []string{"title", "chunk_text"},
	},
}

// DocumentsTable holds crawled page chunks.
const DocumentsTable = "documents"

// LookupTable returns the catalog entry for name.
func LookupTable(name string) (Table, error) {
	t, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Table{}, fmt.Errorf("unknown table %q (valid: %s)", name, strings.Join(TableNames(), ", "))
	}
	return t, nil
}

// TableNames lists the catalogued tables in sorted order.
func TableNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
