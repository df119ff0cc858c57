// Package rdf converts JSON-LD documents into N-Quads for loading into
// a named graph.
package rdf

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/piprate/json-gold/ld"
)

// Expand converts a JSON-LD document into a serialized N-Quads statement
// set. Relative identifiers must already be resolved to absolute URIs by
// the caller. Statement lines are sorted so that expanding the same
// document twice yields byte-equivalent output.
func Expand(doc json.RawMessage) (string, error) {
	var parsed interface{}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return "", fmt.Errorf("rdf: invalid JSON: %w", err)
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = "application/n-quads"

	out, err := proc.ToRDF(parsed, opts)
	if err != nil {
		return "", fmt.Errorf("rdf: expansion failed: %w", err)
	}
	nquads, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("rdf: unexpected serialization type %T", out)
	}
	return sortStatements(nquads), nil
}

// sortStatements orders statement lines lexically and drops blank lines.
func sortStatements(nquads string) string {
	lines := strings.Split(nquads, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}
