// Package output owns the feed's column template and row sinks. Columns are
// discovered while modules pull data, then the template is sealed before any
// row is emitted so every row has the same width.
package output

import (
	"fmt"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// Template is the ordered set of output columns. Columns register in
// first-seen order; id and item_group_id are always present and always first.
type Template struct {
	columns []string
	index   map[string]int
	sealed  bool
}

// NewTemplate starts a template with the two mandatory identity columns.
func NewTemplate() *Template {
	t := &Template{index: map[string]int{}}
	t.Add("id")
	t.Add("item_group_id")
	return t
}

// Add registers a column if it is not already present. Adding to a sealed
// template is a programming error and panics, because a late column would
// silently misalign every row already written.
func (t *Template) Add(name string) {
	if t.sealed {
		panic(fmt.Sprintf("output: column %q added after template was sealed", name))
	}
	if _, ok := t.index[name]; ok {
		return
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
}

// AddAll registers each column in order.
func (t *Template) AddAll(names ...string) {
	for _, name := range names {
		t.Add(name)
	}
}

// Has reports whether the column is registered.
func (t *Template) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Seal freezes the column set. After sealing, rows may be built.
func (t *Template) Seal() {
	t.sealed = true
}

// Sealed reports whether the template is frozen.
func (t *Template) Sealed() bool {
	return t.sealed
}

// Columns returns the ordered column names.
func (t *Template) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len is the column count.
func (t *Template) Len() int {
	return len(t.columns)
}

// NewRow allocates an empty row: every cell starts as the empty string.
func (t *Template) NewRow() (Row, error) {
	if !t.sealed {
		return Row{}, pkgerrors.New(pkgerrors.CodeInfra, "output template used before sealing")
	}
	return Row{template: t, cells: make([]string, len(t.columns))}, nil
}

// Row is one output record shaped by a sealed template. Cells for columns the
// row never sets stay empty.
type Row struct {
	template *Template
	cells    []string
}

// Set writes a cell. Unknown columns are ignored so enrichment modules can
// offer values the caller's field selection dropped.
func (r Row) Set(column, value string) {
	if idx, ok := r.template.index[column]; ok {
		r.cells[idx] = value
	}
}

// Get reads a cell, empty for unknown columns.
func (r Row) Get(column string) string {
	if idx, ok := r.template.index[column]; ok {
		return r.cells[idx]
	}
	return ""
}

// Cells exposes the raw ordered cells for a sink.
func (r Row) Cells() []string {
	return r.cells
}
