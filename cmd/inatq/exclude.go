package main

import (
	"fmt"
	"net/url"

	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/pagination"
	"github.com/Sternrassler/inat-client/pkg/taxa"
	"github.com/spf13/cobra"
)

func newExcludeCmd(a *app) *cobra.Command {
	var (
		include string
		exclude string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "exclude --include <query> --exclude <query>",
		Short: "Lists species of one query that are not covered by another.",
		Long: `Retrieves species counts for both queries and drops every taxon of the
include set that appears in the exclude set or descends from a taxon in it.`,
		Example: `  # species seen in California but never by kueda
  inatq exclude --include "place_id=14" --exclude "user_id=kueda"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if include == "" || exclude == "" {
				return fmt.Errorf("both --include and --exclude are required")
			}

			incParams, err := parseQuery(include)
			if err != nil {
				return err
			}
			excParams, err := parseQuery(exclude)
			if err != nil {
				return err
			}

			inc, err := a.retrieve(cmd.Context(), inat.EndpointSpeciesCounts, incParams, "Include: "+include, "")
			if err != nil || !inc.Completed() {
				return err
			}
			exc, err := a.retrieve(cmd.Context(), inat.EndpointSpeciesCounts, excParams, "Exclude: "+exclude, "")
			if err != nil || !exc.Completed() {
				return err
			}

			incResults, err := pagination.DecodeResults[inat.TaxonResult](inc.Results)
			if err != nil {
				return err
			}
			excResults, err := pagination.DecodeResults[inat.TaxonResult](exc.Results)
			if err != nil {
				return err
			}

			remaining := taxa.RemoveExclusions(incResults, excResults)
			a.logger.Info().
				Int("include", len(incResults)).
				Int("exclude", len(excResults)).
				Int("remaining", len(remaining)).
				Msg("Exclusions removed")

			if asJSON {
				return renderJSON(a.out, remaining)
			}
			renderTaxonResults(a.out, remaining)
			return nil
		},
	}

	cmd.Flags().StringVar(&include, "include", "", "species_counts query to keep, as key=value&key=value")
	cmd.Flags().StringVar(&exclude, "exclude", "", "species_counts query to remove, as key=value&key=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

// parseQuery parses "taxon_id=3&place_id=14"; a leading "?" is allowed.
func parseQuery(raw string) (url.Values, error) {
	if len(raw) > 0 && raw[0] == '?' {
		raw = raw[1:]
	}
	params, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", raw, err)
	}
	return params, nil
}
