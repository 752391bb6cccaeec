// Package filters maps user-supplied filter sets onto REST query parameters
// and GraphQL search strings.
package filters

import (
	"fmt"
	"sort"
	"strings"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// filterSpec describes how one known filter renders.
type filterSpec struct {
	// restVisible filters appear in REST query parameters.
	restVisible bool
	// queryKey filters render inside the single query:"…" search argument.
	queryKey bool
	// searchKey filters render as top-level named search arguments.
	searchKey bool
}

var productFilterSpecs = map[string]filterSpec{
	"ids":                    {restVisible: true},
	"limit":                  {restVisible: true},
	"since_id":               {restVisible: true},
	"title":                  {restVisible: true, queryKey: true},
	"vendor":                 {restVisible: true, queryKey: true},
	"handle":                 {restVisible: true, queryKey: true},
	"product_type":           {restVisible: true, queryKey: true},
	"status":                 {restVisible: true, queryKey: true},
	"collection_id":          {restVisible: true},
	"published_status":       {restVisible: true, queryKey: true},
	"fields":                 {restVisible: true},
	"presentment_currencies": {restVisible: true},
}

var metaFilterSpecs = map[string]filterSpec{
	"namespace": {searchKey: true},
}

// Manager holds a validated name to value filter map.
type Manager struct {
	specs  map[string]filterSpec
	values map[string]string
}

// NewProductFilters validates and wraps a product filter set. The
// published_status filter defaults to "published".
func NewProductFilters(values map[string]string) (*Manager, error) {
	m, err := newManager(productFilterSpecs, values)
	if err != nil {
		return nil, err
	}
	if _, ok := m.values["published_status"]; !ok {
		m.values["published_status"] = "published"
	}
	return m, nil
}

// NewMetaFilters validates and wraps a metafield filter set.
func NewMetaFilters(values map[string]string) (*Manager, error) {
	return newManager(metaFilterSpecs, values)
}

func newManager(specs map[string]filterSpec, values map[string]string) (*Manager, error) {
	m := &Manager{specs: specs, values: map[string]string{}}
	for name, value := range values {
		if _, ok := specs[name]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown filter %q", name))
		}
		m.values[name] = value
	}
	return m, nil
}

// Get returns the filter's value and whether it is set.
func (m *Manager) Get(name string) (string, bool) {
	val, ok := m.values[name]
	return val, ok
}

// RESTParams renders the rest-visible filters as query parameters. List
// values arrive pre-joined with commas from the settings layer.
func (m *Manager) RESTParams() map[string]string {
	out := map[string]string{}
	for name, value := range m.values {
		if m.specs[name].restVisible {
			out[name] = value
		}
	}
	return out
}

// SearchArgs renders the GraphQL search arguments for a connection field.
// extraQuery terms are merged into the query:"…" string and extraSearch into
// the top-level named arguments; both override same-named defaults, and an
// empty override erases the default. The result is either empty or a string
// like `(query: "vendor:acme status:active", namespace: "specs")` ready to
// append to a connection field, minus the parentheses.
func (m *Manager) SearchArgs(extraQuery, extraSearch map[string]string) string {
	queryTerms := map[string]string{}
	searchTerms := map[string]string{}

	for name, value := range m.values {
		spec := m.specs[name]
		if spec.queryKey {
			queryTerms[name] = value
		}
		if spec.searchKey {
			searchTerms[name] = value
		}
	}
	for name, value := range extraQuery {
		if value == "" {
			delete(queryTerms, name)
			continue
		}
		queryTerms[name] = value
	}
	for name, value := range extraSearch {
		if value == "" {
			delete(searchTerms, name)
			continue
		}
		searchTerms[name] = value
	}

	var parts []string
	if len(queryTerms) > 0 {
		keys := sortedKeys(queryTerms)
		terms := make([]string, 0, len(keys))
		for _, key := range keys {
			terms = append(terms, fmt.Sprintf("%s:%s", key, queryTerms[key]))
		}
		parts = append(parts, fmt.Sprintf(`query: "%s"`, strings.Join(terms, " ")))
	}
	for _, key := range sortedKeys(searchTerms) {
		parts = append(parts, fmt.Sprintf(`%s: "%s"`, key, searchTerms[key]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
