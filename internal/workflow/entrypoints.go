package workflow

import (
	"fmt"
)

// EntryPoint is an item of the operator step list. Several entries share a
// pipeline ordinal: everything from opening a job onwards happens inside the
// listing step, so starting at any of those resumes from the listing page.
type EntryPoint struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
}

var entryNames = []string{
	"Initialize browser",
	"Sign in",
	"Open jobs page",
	"Search for role",
	"Apply Easy Apply filter",
	"Process job listings",
	"Open job",
	"Check apply button",
	"Fill application form",
	"Submit application",
	"Next job or page",
}

const listingOrdinal = 5

// EntryPoints returns the operator step list.
func EntryPoints() []EntryPoint {
	out := make([]EntryPoint, len(entryNames))
	for i, name := range entryNames {
		out[i] = EntryPoint{Index: i, Name: name, Ordinal: min(i, listingOrdinal)}
	}
	return out
}

// OrdinalFor maps an operator step list index to the pipeline ordinal it
// starts from.
func OrdinalFor(index int) (int, error) {
	if index < 0 || index >= len(entryNames) {
		return 0, fmt.Errorf("unknown step %d, expected 0-%d", index, len(entryNames)-1)
	}
	return min(index, listingOrdinal), nil
}
