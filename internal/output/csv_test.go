package output

import (
	"strings"
	"testing"
)

func sealedTemplate(cols ...string) *Template {
	tmpl := NewTemplate()
	tmpl.AddAll(cols...)
	tmpl.Seal()
	return tmpl
}

func TestCSVSinkDefaultDialect(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sink := NewCSVSink(&sb, CSVOptions{})
	tmpl := sealedTemplate("title")

	if err := sink.WriteHeader(tmpl.Columns()); err != nil {
		t.Fatalf("header failed: %v", err)
	}
	row, _ := tmpl.NewRow()
	row.Set("id", "1")
	row.Set("item_group_id", "10")
	row.Set("title", `Widget, "Deluxe"`)
	if err := sink.WriteRow(row); err != nil {
		t.Fatalf("row failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	want := "id,item_group_id,title\n" + `1,10,"Widget, ""Deluxe"""` + "\n"
	if sb.String() != want {
		t.Fatalf("output = %q, want %q", sb.String(), want)
	}
}

func TestCSVSinkTabDialect(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sink := NewCSVSink(&sb, CSVOptions{Delimiter: "\t", Enclosure: `"`, Escape: `\`})
	tmpl := sealedTemplate()

	row, _ := tmpl.NewRow()
	row.Set("id", "1")
	row.Set("item_group_id", `say "hi"`)
	if err := sink.WriteRow(row); err != nil {
		t.Fatalf("row failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	want := "1\t\"say \\\"hi\\\"\"\n"
	if sb.String() != want {
		t.Fatalf("output = %q, want %q", sb.String(), want)
	}
}

func TestCSVSinkStripCharacters(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sink := NewCSVSink(&sb, CSVOptions{StripCharacters: "\r\n"})
	tmpl := sealedTemplate("description")

	row, _ := tmpl.NewRow()
	row.Set("id", "1")
	row.Set("description", "line one\r\nline two")
	if err := sink.WriteRow(row); err != nil {
		t.Fatalf("row failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	want := "1,,line oneline two\n"
	if sb.String() != want {
		t.Fatalf("output = %q, want %q", sb.String(), want)
	}
}

func TestCSVSinkEnclosesLineBreaks(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sink := NewCSVSink(&sb, CSVOptions{})
	tmpl := sealedTemplate("description")

	row, _ := tmpl.NewRow()
	row.Set("id", "1")
	row.Set("description", "line one\nline two")
	if err := sink.WriteRow(row); err != nil {
		t.Fatalf("row failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	want := "1,,\"line one\nline two\"\n"
	if sb.String() != want {
		t.Fatalf("output = %q, want %q", sb.String(), want)
	}
}
