package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "The 'cache' subcommand inspects and clears the response cache.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Lists cached entries.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				keys, err := a.store.Keys(cmd.Context())
				if err != nil {
					return err
				}

				rows := make([]cacheRow, 0, len(keys))
				for _, key := range keys {
					e, err := a.store.Entry(cmd.Context(), key)
					if errors.Is(err, cache.ErrCacheMiss) {
						continue
					}
					if err != nil {
						return err
					}
					rows = append(rows, cacheRowFor(key, e))
				}
				renderCacheEntries(a.out, rows, time.Now())
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <key>...",
			Short: "Deletes cached entries by key.",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, key := range args {
					if err := a.store.Delete(cmd.Context(), key); err != nil {
						return err
					}
				}
				fmt.Fprintf(a.out, "deleted %d entries\n", len(args))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Removes every cached entry.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "cache cleared")
				return nil
			},
		},
	)
	return cmd
}
