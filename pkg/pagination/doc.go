// Package pagination retrieves paged iNaturalist collections.
//
// iNaturalist list endpoints return an envelope with total_results,
// page, per_page and results. A Retriever fetches page 1, checks the
// collection against two ceilings (MaxResults and MaxPages), then fetches
// the remaining pages one after another through the paced client. The
// assembled result set is cached under the query URL without its page
// parameter, so repeating a query costs no upstream calls.
//
// Example usage:
//
//	q, _ := inat.NewQuery(inat.DefaultBaseURL, inat.EndpointSpeciesCounts, params)
//	r := pagination.NewRetriever(inatClient, store, progress, pagination.DefaultConfig())
//	outcome, err := r.Retrieve(ctx, pagination.Request{URL: q, Label: "Species"})
//	if err == nil && outcome.Completed() {
//	    counts, _ := pagination.DecodeResults[inat.TaxonResult](outcome.Results)
//	}
//
// A retrieval that exceeds a ceiling or observes a cancellation returns an
// Outcome with Aborted set and a nil error; nothing is cached for it.
package pagination
