// Package inat defines the typed iNaturalist API models and query URL helpers
// shared by the client, pagination and taxa packages.
package inat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEnvelope is returned when an upstream response does not have the
// shape of a results envelope.
var ErrInvalidEnvelope = errors.New("invalid response envelope")

// Taxon is a node in the classification hierarchy.
type Taxon struct {
	ID                  int     `json:"id"`
	ParentID            *int    `json:"parent_id,omitempty"`
	Name                string  `json:"name"`
	PreferredCommonName string  `json:"preferred_common_name,omitempty"`
	Rank                string  `json:"rank"`
	RankLevel           float64 `json:"rank_level"`

	// AncestorIDs runs from the root to the nearest ancestor.
	// iNaturalist includes the taxon's own id as the last element on some
	// endpoints; AncestorChain strips it.
	AncestorIDs []int `json:"ancestor_ids,omitempty"`
}

// AncestorChain returns the ancestor ids without the taxon's own id,
// ordered from the root to the nearest ancestor.
func (t Taxon) AncestorChain() []int {
	n := len(t.AncestorIDs)
	if n > 0 && t.AncestorIDs[n-1] == t.ID {
		return t.AncestorIDs[:n-1]
	}
	return t.AncestorIDs
}

// DisplayName returns the common name when one is known, else the scientific name.
func (t Taxon) DisplayName() string {
	if t.PreferredCommonName != "" {
		return t.PreferredCommonName
	}
	return t.Name
}

// User is the observer attached to an observation.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

// Observation is one record from /observations.
type Observation struct {
	ID              int    `json:"id"`
	Taxon           *Taxon `json:"taxon,omitempty"`
	QualityGrade    string `json:"quality_grade"`
	Geoprivacy      string `json:"geoprivacy,omitempty"`
	TaxonGeoprivacy string `json:"taxon_geoprivacy,omitempty"`

	// Location is "lat,lng" as returned by the API.
	Location         string `json:"location,omitempty"`
	PlaceGuess       string `json:"place_guess,omitempty"`
	PublicAccuracy   *int   `json:"public_positional_accuracy,omitempty"`
	Obscured         bool   `json:"obscured"`
	User             User   `json:"user"`
	ObservedOnDate   string `json:"observed_on,omitempty"`
	ObservedOnString string `json:"observed_on_string,omitempty"`
}

// TaxonResult is one element of /observations/species_counts.
type TaxonResult struct {
	Count int   `json:"count"`
	Taxon Taxon `json:"taxon"`
}

// TaxonID returns the id of the counted taxon.
func (r TaxonResult) TaxonID() int {
	return r.Taxon.ID
}

// Envelope is the paged response wrapper used by all list endpoints.
// Single-entity lookups only populate Results.
type Envelope struct {
	TotalResults int               `json:"total_results"`
	Page         int               `json:"page"`
	PerPage      int               `json:"per_page"`
	Results      []json.RawMessage `json:"results"`
}

// DecodeEnvelope parses and validates a list response.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the fields a paged retrieval depends on.
func (e *Envelope) Validate() error {
	if e.Results == nil {
		return fmt.Errorf("%w: missing results", ErrInvalidEnvelope)
	}
	if e.TotalResults < 0 {
		return fmt.Errorf("%w: negative total_results %d", ErrInvalidEnvelope, e.TotalResults)
	}
	if e.TotalResults > 0 && e.PerPage <= 0 {
		return fmt.Errorf("%w: per_page %d with %d results", ErrInvalidEnvelope, e.PerPage, e.TotalResults)
	}
	return nil
}

// NumPages returns how many pages the envelope's collection spans.
func (e *Envelope) NumPages() int {
	if e.PerPage <= 0 {
		return 0
	}
	return (e.TotalResults + e.PerPage - 1) / e.PerPage
}
