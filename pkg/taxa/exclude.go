// Package taxa filters species-count result sets by taxonomy.
package taxa

import "github.com/Sternrassler/inat-client/pkg/inat"

// RemoveExclusions returns the include entries whose taxon is neither in
// exclude nor a descendant of a taxon in exclude. Surviving entries keep
// their order; duplicates are kept. With an empty exclude the result holds
// the same entries as include.
func RemoveExclusions(include, exclude []inat.TaxonResult) []inat.TaxonResult {
	if len(exclude) == 0 {
		return append([]inat.TaxonResult(nil), include...)
	}

	excluded := make(map[int]bool, len(exclude))
	for _, e := range exclude {
		excluded[e.TaxonID()] = true
	}

	// kept memoizes ancestors already walked and found not excluded.
	kept := make(map[int]bool)

	out := make([]inat.TaxonResult, 0, len(include))
	for _, r := range include {
		if !isExcluded(r.Taxon, excluded, kept) {
			out = append(out, r)
		}
	}
	return out
}

// isExcluded walks the ancestor chain from the nearest ancestor toward the
// root and stops at the first one whose status is known. Every ancestor
// passed on the way to an excluded one is a descendant of it, so it is
// recorded as excluded too.
func isExcluded(t inat.Taxon, excluded, kept map[int]bool) bool {
	if excluded[t.ID] {
		return true
	}

	chain := t.AncestorChain()
	result := false
	stop := -1
	for i := len(chain) - 1; i >= 0; i-- {
		id := chain[i]
		if excluded[id] {
			result = true
			stop = i
			break
		}
		if kept[id] {
			stop = i
			break
		}
	}

	for _, id := range chain[stop+1:] {
		if result {
			excluded[id] = true
		} else {
			kept[id] = true
		}
	}
	return result
}
