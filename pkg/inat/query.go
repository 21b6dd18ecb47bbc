package inat

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public v1 API root.
const DefaultBaseURL = "https://api.inaturalist.org/v1"

// Entity types resolvable by id.
const (
	EntityTaxa         = "taxa"
	EntityObservations = "observations"
	EntityPlaces       = "places"
	EntityUsers        = "users"
	EntityProjects     = "projects"
)

// Common list endpoints.
const (
	EndpointObservations  = "observations"
	EndpointSpeciesCounts = "observations/species_counts"
)

var entityTypes = map[string]bool{
	EntityTaxa:         true,
	EntityObservations: true,
	EntityPlaces:       true,
	EntityUsers:        true,
	EntityProjects:     true,
}

// IsEntityType reports whether entityType can be looked up by id.
func IsEntityType(entityType string) bool {
	return entityTypes[entityType]
}

// EntityURL returns the id-lookup prefix for an entity type, e.g.
// "https://api.inaturalist.org/v1/taxa/". The id is appended verbatim.
func EntityURL(baseURL, entityType string) (string, error) {
	if !IsEntityType(entityType) {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	return strings.TrimRight(baseURL, "/") + "/" + entityType + "/", nil
}

// NewQuery builds a list query URL below baseURL. The page parameter is
// dropped because pagination owns it.
func NewQuery(baseURL, endpoint string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/" + strings.Trim(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse query url: %w", err)
	}
	q := url.Values{}
	for k, vs := range params {
		if k == "page" {
			continue
		}
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// ParseParams turns "key=value" arguments into query values.
func ParseParams(args []string) (url.Values, error) {
	params := url.Values{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q (want key=value)", arg)
		}
		params.Add(k, v)
	}
	return params, nil
}
