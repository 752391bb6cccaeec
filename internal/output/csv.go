package output

import (
	"bufio"
	"io"
	"strings"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// RowSink consumes finished rows. The header is written once, before any row.
type RowSink interface {
	WriteHeader(columns []string) error
	WriteRow(row Row) error
	Close() error
}

// CSVSink renders rows as delimiter-separated text. The enclosure and escape
// characters are configurable, so the stdlib csv writer (which hard-codes
// double quotes) is not used here.
type CSVSink struct {
	writer    *bufio.Writer
	delimiter string
	enclosure string
	escape    string
	stripper  *strings.Replacer
	wrote     bool
}

// CSVOptions controls the sink's dialect.
type CSVOptions struct {
	Delimiter       string
	Enclosure       string
	Escape          string
	StripCharacters string
}

// NewCSVSink wraps w. Zero-value options fall back to the standard CSV
// dialect.
func NewCSVSink(w io.Writer, opts CSVOptions) *CSVSink {
	if opts.Delimiter == "" {
		opts.Delimiter = ","
	}
	if opts.Enclosure == "" {
		opts.Enclosure = `"`
	}
	if opts.Escape == "" {
		opts.Escape = opts.Enclosure
	}

	var stripper *strings.Replacer
	if opts.StripCharacters != "" {
		pairs := make([]string, 0, len(opts.StripCharacters)*2)
		for _, r := range opts.StripCharacters {
			pairs = append(pairs, string(r), "")
		}
		stripper = strings.NewReplacer(pairs...)
	}

	return &CSVSink{
		writer:    bufio.NewWriterSize(w, 64*1024),
		delimiter: opts.Delimiter,
		enclosure: opts.Enclosure,
		escape:    opts.Escape,
		stripper:  stripper,
	}
}

// WriteHeader emits the column names as the first record.
func (s *CSVSink) WriteHeader(columns []string) error {
	return s.writeRecord(columns)
}

// WriteRow emits one data record.
func (s *CSVSink) WriteRow(row Row) error {
	return s.writeRecord(row.Cells())
}

// Close flushes buffered output.
func (s *CSVSink) Close() error {
	if err := s.writer.Flush(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "flushing feed output")
	}
	return nil
}

func (s *CSVSink) writeRecord(cells []string) error {
	var sb strings.Builder
	for i, cell := range cells {
		if i > 0 {
			sb.WriteString(s.delimiter)
		}
		sb.WriteString(s.encode(cell))
	}
	sb.WriteByte('\n')

	if _, err := s.writer.WriteString(sb.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "writing feed output")
	}
	s.wrote = true
	return nil
}

// encode strips banned characters, then encloses the cell when it contains
// the delimiter, the enclosure, or a line break. Embedded enclosures are
// prefixed with the escape character.
func (s *CSVSink) encode(cell string) string {
	if s.stripper != nil {
		cell = s.stripper.Replace(cell)
	}
	needsEnclosure := strings.Contains(cell, s.delimiter) ||
		strings.Contains(cell, s.enclosure) ||
		strings.ContainsAny(cell, "\r\n")
	if !needsEnclosure {
		return cell
	}
	escaped := strings.ReplaceAll(cell, s.enclosure, s.escape+s.enclosure)
	return s.enclosure + escaped + s.enclosure
}
