package main

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/spf13/cobra"
)

func newEntityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "entity <type> <id>",
		Short:     "Looks up one entity by id, through the cache.",
		Example:   "  inatq entity taxa 47126",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{inat.EntityTaxa, inat.EntityObservations, inat.EntityPlaces, inat.EntityUsers, inat.EntityProjects},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !inat.IsEntityType(args[0]) {
				return fmt.Errorf("unknown entity type %q", args[0])
			}

			raw, err := a.client.FetchEntityByID(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if args[0] == inat.EntityTaxa {
				var taxon inat.Taxon
				if err := json.Unmarshal(raw, &taxon); err == nil {
					renderTaxonResults(a.out, []inat.TaxonResult{{Taxon: taxon}})
					return nil
				}
			}
			return renderJSON(a.out, raw)
		},
	}
}
