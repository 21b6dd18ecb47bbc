package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/metrics"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func renderTaxonResults(out io.Writer, results []inat.TaxonResult) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Taxon ID", "Name", "Common name", "Rank", "Observations"})

	total := 0
	for _, r := range results {
		t.AppendRow(table.Row{r.TaxonID(), r.Taxon.Name, r.Taxon.PreferredCommonName, r.Taxon.Rank, r.Count})
		total += r.Count
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d taxa", len(results)), "", "", total})
	t.Render()
}

func renderObservations(out io.Writer, observations []inat.Observation) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Taxon", "Quality", "Observed", "Place", "Observer", "Obscured"})

	for _, o := range observations {
		taxon := ""
		if o.Taxon != nil {
			taxon = o.Taxon.DisplayName()
		}
		obscured := ""
		if o.Obscured {
			obscured = "yes"
		}
		t.AppendRow(table.Row{o.ID, taxon, o.QualityGrade, o.ObservedOnDate, o.PlaceGuess, o.User.Login, obscured})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d observations", len(observations))})
	t.Render()
}

func renderJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cacheRow is one line of "cache list".
type cacheRow struct {
	Key      string
	StoredAt time.Time
	Bytes    int
}

func renderCacheEntries(out io.Writer, rows []cacheRow, now time.Time) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Key", "Stored", "Age", "Bytes"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Key, r.StoredAt.Local().Format(time.DateTime), now.Sub(r.StoredAt).Truncate(time.Second), r.Bytes})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d entries", len(rows))})
	t.Render()
}

func cacheRowFor(key string, e *cache.Entry) cacheRow {
	return cacheRow{Key: key, StoredAt: e.StoredAt, Bytes: len(e.Value)}
}

func renderStats(out io.Writer) error {
	samples, err := metrics.Snapshot()
	if err != nil {
		return err
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"Metric", "Labels", "Value"})
	for _, s := range samples {
		t.AppendRow(table.Row{s.Name, s.Labels, s.Value})
	}
	t.Render()
	return nil
}
