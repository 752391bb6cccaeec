package filters

import (
	"testing"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

func TestNewProductFiltersDefaultsPublishedStatus(t *testing.T) {
	t.Parallel()

	m, err := NewProductFilters(map[string]string{"vendor": "acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := m.Get("published_status"); got != "published" {
		t.Fatalf("published_status default = %q", got)
	}

	m, err = NewProductFilters(map[string]string{"published_status": "any"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := m.Get("published_status"); got != "any" {
		t.Fatalf("explicit published_status overridden: %q", got)
	}
}

func TestNewProductFiltersRejectsUnknownName(t *testing.T) {
	t.Parallel()

	_, err := NewProductFilters(map[string]string{"flavor": "grape"})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestRESTParamsOnlyRestVisible(t *testing.T) {
	t.Parallel()

	m, err := NewProductFilters(map[string]string{
		"vendor":   "acme",
		"since_id": "42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := m.RESTParams()
	if params["vendor"] != "acme" || params["since_id"] != "42" || params["published_status"] != "published" {
		t.Fatalf("unexpected params %v", params)
	}
}

func TestSearchArgsRendersQueryTerms(t *testing.T) {
	t.Parallel()

	m, err := NewProductFilters(map[string]string{
		"vendor": "acme",
		"status": "active",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.SearchArgs(nil, nil)
	want := `query: "published_status:published status:active vendor:acme"`
	if got != want {
		t.Fatalf("search args = %q, want %q", got, want)
	}
}

func TestSearchArgsOverridesAndErasure(t *testing.T) {
	t.Parallel()

	m, err := NewProductFilters(map[string]string{"vendor": "acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := m.SearchArgs(map[string]string{
		"published_status": "",
		"created_at":       ">='2024-01-01' created_at:<'2024-02-01'",
	}, nil)
	want := `query: "created_at:>='2024-01-01' created_at:<'2024-02-01' vendor:acme"`
	if got != want {
		t.Fatalf("search args = %q, want %q", got, want)
	}
}

func TestMetaFiltersSearchKey(t *testing.T) {
	t.Parallel()

	m, err := NewMetaFilters(map[string]string{"namespace": "specs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.SearchArgs(nil, nil); got != `namespace: "specs"` {
		t.Fatalf("search args = %q", got)
	}

	empty, err := NewMetaFilters(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := empty.SearchArgs(nil, nil); got != "" {
		t.Fatalf("empty filter set should render nothing, got %q", got)
	}
}
