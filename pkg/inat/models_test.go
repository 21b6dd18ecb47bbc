package inat

import (
	"errors"
	"net/url"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantPages int
	}{
		{
			name:      "valid page",
			body:      `{"total_results": 1001, "page": 1, "per_page": 200, "results": [{"id": 1}]}`,
			wantPages: 6,
		},
		{
			name:      "empty collection",
			body:      `{"total_results": 0, "page": 1, "per_page": 0, "results": []}`,
			wantPages: 0,
		},
		{
			name:    "missing results",
			body:    `{"total_results": 3, "page": 1, "per_page": 30}`,
			wantErr: true,
		},
		{
			name:    "zero per_page with results",
			body:    `{"total_results": 3, "page": 1, "per_page": 0, "results": []}`,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `<html>bad gateway</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEnvelope) {
					t.Fatalf("DecodeEnvelope() error = %v, want ErrInvalidEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}
			if got := env.NumPages(); got != tt.wantPages {
				t.Errorf("NumPages() = %d, want %d", got, tt.wantPages)
			}
		})
	}
}

func TestTaxon_AncestorChain(t *testing.T) {
	withSelf := Taxon{ID: 3, AncestorIDs: []int{1, 2, 3}}
	if got := withSelf.AncestorChain(); len(got) != 2 || got[1] != 2 {
		t.Errorf("AncestorChain() = %v, want [1 2]", got)
	}

	withoutSelf := Taxon{ID: 3, AncestorIDs: []int{1, 2}}
	if got := withoutSelf.AncestorChain(); len(got) != 2 {
		t.Errorf("AncestorChain() = %v, want [1 2]", got)
	}

	if got := (Taxon{ID: 48460}).AncestorChain(); len(got) != 0 {
		t.Errorf("root AncestorChain() = %v, want empty", got)
	}
}

func TestNewQuery(t *testing.T) {
	params := url.Values{
		"taxon_id": {"47126"},
		"page":     {"3"},
		"per_page": {"200"},
	}
	u, err := NewQuery("https://api.inaturalist.org/v1/", "/observations/species_counts", params)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}

	want := "https://api.inaturalist.org/v1/observations/species_counts?per_page=200&taxon_id=47126"
	if u.String() != want {
		t.Errorf("NewQuery() = %q, want %q", u.String(), want)
	}
}

func TestEntityURL(t *testing.T) {
	got, err := EntityURL(DefaultBaseURL, EntityTaxa)
	if err != nil {
		t.Fatalf("EntityURL() error = %v", err)
	}
	if got != "https://api.inaturalist.org/v1/taxa/" {
		t.Errorf("EntityURL() = %q", got)
	}

	if _, err := EntityURL(DefaultBaseURL, "identifications"); err == nil {
		t.Error("expected error for unknown entity type")
	}
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"place_id=14", "quality_grade=research", "iconic_taxa=Aves"})
	if err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}
	if params.Get("place_id") != "14" || params.Get("iconic_taxa") != "Aves" {
		t.Errorf("ParseParams() = %v", params)
	}

	if _, err := ParseParams([]string{"verifiable"}); err == nil {
		t.Error("expected error for parameter without '='")
	}
}
