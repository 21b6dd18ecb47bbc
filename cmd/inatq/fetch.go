package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/pagination"
	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		label  string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "fetch <endpoint> [key=value...]",
		Short: "Retrieves every page of a list endpoint and prints the results.",
		Example: `  inatq fetch observations/species_counts taxon_id=3 place_id=14
  inatq fetch observations user_id=kueda per_page=200 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := strings.Trim(args[0], "/")
			params, err := inat.ParseParams(args[1:])
			if err != nil {
				return err
			}
			if label == "" {
				label = endpoint
			}

			outcome, err := a.retrieve(cmd.Context(), endpoint, params, label, token)
			if err != nil || !outcome.Completed() {
				return err
			}

			if asJSON {
				return renderJSON(a.out, outcome.Results)
			}
			return a.renderResults(endpoint, outcome)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw results as JSON")
	cmd.Flags().StringVar(&label, "label", "", "label shown while retrieving (default: the endpoint)")
	cmd.Flags().StringVar(&token, "bearer", "", "bearer token for this retrieval (default: --token)")
	return cmd
}

// retrieve runs one paged retrieval with SIGINT wired to cancellation. An
// aborted outcome is reported on errOut; a ceiling abort is also an error.
func (a *app) retrieve(ctx context.Context, endpoint string, params url.Values, label, token string) (pagination.Outcome, error) {
	q, err := inat.NewQuery(a.cfg.BaseURL, endpoint, params)
	if err != nil {
		return pagination.Outcome{}, err
	}

	stop := a.cancelOnInterrupt()
	defer stop()

	outcome, err := a.newRetriever().Retrieve(ctx, pagination.Request{URL: q, Label: label, Token: token})
	if err != nil {
		return outcome, err
	}

	switch outcome.Aborted {
	case pagination.AbortNone:
		if outcome.FromCache {
			a.logger.Info().Str("label", label).Int("results", len(outcome.Results)).Msg("Served from cache")
		}
	case pagination.AbortCancelled:
		fmt.Fprintf(a.errOut, "%s: cancelled\n", label)
	default:
		return outcome, fmt.Errorf("%s: retrieval aborted (%s)", label, outcome.Aborted)
	}
	return outcome, nil
}

func (a *app) renderResults(endpoint string, outcome pagination.Outcome) error {
	switch endpoint {
	case inat.EndpointSpeciesCounts:
		results, err := pagination.DecodeResults[inat.TaxonResult](outcome.Results)
		if err != nil {
			return err
		}
		renderTaxonResults(a.out, results)
	case inat.EndpointObservations:
		observations, err := pagination.DecodeResults[inat.Observation](outcome.Results)
		if err != nil {
			return err
		}
		renderObservations(a.out, observations)
	default:
		return renderJSON(a.out, outcome.Results)
	}
	return nil
}
