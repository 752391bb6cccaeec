package output

import "testing"

func TestTemplateIdentityColumnsFirst(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplate()
	tmpl.AddAll("title", "price")
	cols := tmpl.Columns()
	if cols[0] != "id" || cols[1] != "item_group_id" {
		t.Fatalf("identity columns not first: %v", cols)
	}
}

func TestTemplateDeduplicatesPreservingOrder(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplate()
	tmpl.AddAll("title", "price", "title", "vendor", "price")
	cols := tmpl.Columns()
	want := []string{"id", "item_group_id", "title", "price", "vendor"}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v", cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("column %d = %q, want %q", i, cols[i], want[i])
		}
	}
}

func TestTemplateAddAfterSealPanics(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplate()
	tmpl.Seal()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on post-seal add")
		}
	}()
	tmpl.Add("late")
}

func TestRowRequiresSealedTemplate(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplate()
	if _, err := tmpl.NewRow(); err == nil {
		t.Fatal("unsealed template must refuse rows")
	}

	tmpl.Add("title")
	tmpl.Seal()
	row, err := tmpl.NewRow()
	if err != nil {
		t.Fatalf("row after sealing failed: %v", err)
	}
	if len(row.Cells()) != tmpl.Len() {
		t.Fatalf("row width %d, template width %d", len(row.Cells()), tmpl.Len())
	}
}

func TestRowSetIgnoresUnknownColumns(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplate()
	tmpl.Add("title")
	tmpl.Seal()
	row, _ := tmpl.NewRow()
	row.Set("title", "Widget")
	row.Set("nonexistent", "dropped")
	if row.Get("title") != "Widget" {
		t.Fatalf("title = %q", row.Get("title"))
	}
	if row.Get("nonexistent") != "" {
		t.Fatal("unknown column leaked a value")
	}
}
