package taxa

import (
	"testing"

	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/google/go-cmp/cmp"
)

func result(id int, ancestors ...int) inat.TaxonResult {
	return inat.TaxonResult{Count: 1, Taxon: inat.Taxon{ID: id, AncestorIDs: ancestors}}
}

func ids(results []inat.TaxonResult) []int {
	out := []int{}
	for _, r := range results {
		out = append(out, r.TaxonID())
	}
	return out
}

func TestRemoveExclusions(t *testing.T) {
	// Life(48460) > Animalia(1) > Chordata(2) > Aves(3) > Passeriformes(7251) > Corvidae(7823) > Corvus(8010)
	//                                         > Mammalia(40151)
	//           > Plantae(47126)
	corvus := result(8010, 48460, 1, 2, 3, 7251, 7823)
	corvidae := result(7823, 48460, 1, 2, 3, 7251)
	aves := result(3, 48460, 1, 2)
	mammalia := result(40151, 48460, 1, 2)
	plantae := result(47126, 48460)

	tests := []struct {
		name    string
		include []inat.TaxonResult
		exclude []inat.TaxonResult
		want    []int
	}{
		{
			name:    "empty exclude is identity",
			include: []inat.TaxonResult{corvus, plantae, aves},
			exclude: nil,
			want:    []int{8010, 47126, 3},
		},
		{
			name:    "empty include",
			include: nil,
			exclude: []inat.TaxonResult{aves},
			want:    []int{},
		},
		{
			name:    "exact match removed",
			include: []inat.TaxonResult{aves, plantae},
			exclude: []inat.TaxonResult{aves},
			want:    []int{47126},
		},
		{
			name:    "descendant of excluded taxon removed",
			include: []inat.TaxonResult{corvus, mammalia, plantae},
			exclude: []inat.TaxonResult{aves},
			want:    []int{40151, 47126},
		},
		{
			name:    "ancestor of excluded taxon kept",
			include: []inat.TaxonResult{aves, corvidae, mammalia},
			exclude: []inat.TaxonResult{corvus},
			want:    []int{3, 7823, 40151},
		},
		{
			name:    "leaf exclude without include counterpart removes nothing else",
			include: []inat.TaxonResult{aves, corvidae},
			exclude: []inat.TaxonResult{result(99999, 48460, 1, 2, 3, 7251, 7823)},
			want:    []int{3, 7823},
		},
		{
			name:    "order and duplicates preserved",
			include: []inat.TaxonResult{plantae, mammalia, corvus, plantae},
			exclude: []inat.TaxonResult{corvidae},
			want:    []int{47126, 40151, 47126},
		},
		{
			name:    "coarse exclude covers whole subtree",
			include: []inat.TaxonResult{corvus, corvidae, aves, mammalia, plantae},
			exclude: []inat.TaxonResult{result(1, 48460)},
			want:    []int{47126},
		},
		{
			name:    "ancestor ids ending in own id",
			include: []inat.TaxonResult{result(8010, 48460, 1, 2, 3, 7251, 7823, 8010), plantae},
			exclude: []inat.TaxonResult{result(7823, 48460, 1, 2, 3, 7251, 7823)},
			want:    []int{47126},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveExclusions(tt.include, tt.exclude)
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("RemoveExclusions() ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemoveExclusions_EndToEnd(t *testing.T) {
	include := []inat.TaxonResult{result(1), result(2, 1)}
	exclude := []inat.TaxonResult{result(2, 1)}

	got := RemoveExclusions(include, exclude)

	want := []inat.TaxonResult{result(1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RemoveExclusions() mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveExclusions_DoesNotMutateInput(t *testing.T) {
	include := []inat.TaxonResult{result(3, 48460, 1, 2), result(47126, 48460)}
	exclude := []inat.TaxonResult{result(3, 48460, 1, 2)}
	before := append([]inat.TaxonResult(nil), include...)

	got := RemoveExclusions(include, nil)
	got[0].Count = 99
	RemoveExclusions(include, exclude)

	if diff := cmp.Diff(before, include); diff != "" {
		t.Errorf("include was mutated (-before +after):\n%s", diff)
	}
}

func TestRemoveExclusions_MemoizedChains(t *testing.T) {
	// Many siblings under one excluded genus: every entry is decided, whether
	// the walk hits the genus directly or a memoized descendant of it.
	include := []inat.TaxonResult{}
	for i := 0; i < 20; i++ {
		include = append(include, result(100+i, 48460, 1, 2, 3, 7251, 7823, 8010))
	}
	include = append(include, result(200, 48460, 1, 2, 3, 7251, 7823, 8010, 100))
	include = append(include, result(47126, 48460))

	got := RemoveExclusions(include, []inat.TaxonResult{result(7823, 48460, 1, 2, 3, 7251)})

	if diff := cmp.Diff([]int{47126}, ids(got)); diff != "" {
		t.Errorf("RemoveExclusions() ids mismatch (-want +got):\n%s", diff)
	}
}
