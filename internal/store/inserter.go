package store

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// batchSize bounds how many rows one INSERT carries.
const batchSize = 200

// Kind selects which of a module's two tables an inserter writes.
type Kind int

const (
	KindProd Kind = iota
	KindVars
)

// Inserter buffers rows for one table and flushes them in batches. Not safe
// for concurrent use; each worker owns its own inserter.
type Inserter struct {
	store  *Store
	table  string
	kind   Kind
	mode   DupMode
	buffer []VariantRow
}

// NewInserter builds an inserter for the module's prod or vars table.
func (s *Store) NewInserter(module string, kind Kind, mode DupMode) *Inserter {
	table := s.prodTable(module)
	if kind == KindVars {
		table = s.varsTable(module)
	}
	return &Inserter{store: s, table: table, kind: kind, mode: mode}
}

// Add buffers one row. parentID is ignored for product tables.
func (i *Inserter) Add(ctx context.Context, id, parentID int64, data string) error {
	i.buffer = append(i.buffer, VariantRow{ID: id, ParentID: parentID, Data: data})
	if len(i.buffer) >= batchSize {
		return i.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows.
func (i *Inserter) Flush(ctx context.Context) error {
	if len(i.buffer) == 0 {
		return nil
	}
	rows := i.buffer
	i.buffer = i.buffer[:0]

	var sb strings.Builder
	args := make([]any, 0, len(rows)*3)

	if i.kind == KindProd {
		sb.WriteString(fmt.Sprintf(`INSERT INTO %s (id, data) VALUES `, i.table))
		for idx, row := range rows {
			if idx > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?)")
			args = append(args, row.ID, row.Data)
		}
		switch i.mode {
		case DupUpdate:
			sb.WriteString(` ON CONFLICT (id) DO UPDATE SET data = excluded.data`)
		case DupIgnore:
			sb.WriteString(` ON CONFLICT (id) DO NOTHING`)
		}
	} else {
		sb.WriteString(fmt.Sprintf(`INSERT INTO %s (id, parent_id, data) VALUES `, i.table))
		for idx, row := range rows {
			if idx > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, row.ID, row.ParentID, row.Data)
		}
		// The vars table has no unique constraint, so UPDATE falls back to a
		// delete-then-insert of the same ids within one batch.
		if i.mode == DupUpdate {
			if err := i.deleteIDs(ctx, rows); err != nil {
				return err
			}
		}
	}

	if err := i.store.client.Exec(ctx, sb.String(), args...).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("inserting into %s", i.table))
	}
	return nil
}

func (i *Inserter) deleteIDs(ctx context.Context, rows []VariantRow) error {
	ids := make([]any, 0, len(rows))
	placeholders := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		placeholders = append(placeholders, "?")
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, i.table, strings.Join(placeholders, ", "))
	if err := i.store.client.Exec(ctx, stmt, ids...).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("replacing rows in %s", i.table))
	}
	return nil
}
