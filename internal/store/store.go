// Package store implements the disk-backed intermediate tables that stage
// module outputs between the pull phase and the final join. Each module owns
// a product table and a variant table named after the per-run prefix; tables
// are dropped unconditionally at the end of the run unless debug is set.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/feedrail/shopfeed/pkg/db"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"go.uber.org/multierr"
)

// DupMode selects the duplicate-key behavior of an inserter.
type DupMode int

const (
	// DupThrow surfaces duplicate-key violations as store errors.
	DupThrow DupMode = iota
	// DupUpdate upserts, replacing the stored data. Default for product pulls
	// so a retried page overwrites rather than fails.
	DupUpdate
	// DupIgnore silently drops duplicate rows.
	DupIgnore
)

// Store owns the per-run intermediate tables.
type Store struct {
	client *db.Client
	prefix string
	log    *logger.Logger

	mu     sync.Mutex
	tables []string
}

// New wraps the database client with the run's table prefix.
func New(client *db.Client, prefix string, log *logger.Logger) *Store {
	return &Store{client: client, prefix: prefix, log: log}
}

// Prefix returns the run's table prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) prodTable(module string) string {
	return fmt.Sprintf("%s_%s_prod", s.prefix, module)
}

func (s *Store) varsTable(module string) string {
	return fmt.Sprintf("%s_%s_vars", s.prefix, module)
}

// CreateModuleTables creates the product and variant tables for a module.
func (s *Store) CreateModuleTables(ctx context.Context, module string) error {
	prod := s.prodTable(module)
	vars := s.varsTable(module)

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY, data TEXT)`, prod),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id BIGINT, parent_id BIGINT, data TEXT)`, vars),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_id ON %s (id)`, vars, vars),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s (parent_id)`, vars, vars),
	}
	for _, stmt := range statements {
		if err := s.client.Exec(ctx, stmt).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("creating tables for module %s", module))
		}
	}

	s.mu.Lock()
	s.tables = append(s.tables, prod, vars)
	s.mu.Unlock()
	return nil
}

// DropAll removes every table created during the run. Errors are aggregated
// so one failed drop does not skip the rest.
func (s *Store) DropAll(ctx context.Context) error {
	s.mu.Lock()
	tables := make([]string, len(s.tables))
	copy(tables, s.tables)
	s.tables = nil
	s.mu.Unlock()

	var errs error
	for _, table := range tables {
		if err := s.client.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)).Error; err != nil {
			errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("dropping table %s", table)))
		}
	}
	return errs
}

// Close releases the underlying database. keep leaves the sqlite file behind
// for debugging.
func (s *Store) Close(keep bool) error {
	return s.client.Close(keep)
}

// ProductRow is one staged product record.
type ProductRow struct {
	ID   int64
	Data string
}

// VariantRow is one staged variant record.
type VariantRow struct {
	ID       int64
	ParentID int64
	Data     string
}

// IterProducts walks the module's product table in ascending id order.
func (s *Store) IterProducts(ctx context.Context, module string, fn func(ProductRow) error) error {
	rows, err := s.client.Raw(ctx,
		fmt.Sprintf(`SELECT id, data FROM %s ORDER BY id ASC`, s.prodTable(module))).Rows()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("querying %s products", module))
	}
	defer rows.Close()

	for rows.Next() {
		var row ProductRow
		if err := rows.Scan(&row.ID, &row.Data); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStore, err, "scanning product row")
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "iterating product rows")
	}
	return nil
}

// VariantsFor returns the module's variants under one product in ascending
// variant-id order.
func (s *Store) VariantsFor(ctx context.Context, module string, parentID int64) ([]VariantRow, error) {
	rows, err := s.client.Raw(ctx,
		fmt.Sprintf(`SELECT id, parent_id, data FROM %s WHERE parent_id = ? ORDER BY id ASC`, s.varsTable(module)),
		parentID).Rows()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("querying %s variants", module))
	}
	defer rows.Close()

	var out []VariantRow
	for rows.Next() {
		var row VariantRow
		if err := rows.Scan(&row.ID, &row.ParentID, &row.Data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "scanning variant row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "iterating variant rows")
	}
	return out, nil
}

// GetProduct looks up one staged product by id.
func (s *Store) GetProduct(ctx context.Context, module string, id int64) (string, bool, error) {
	var data string
	result := s.client.Raw(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.prodTable(module)), id).Scan(&data)
	if result.Error != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeStore, result.Error, fmt.Sprintf("loading %s product %d", module, id))
	}
	return data, result.RowsAffected > 0, nil
}

// GetVariant looks up one staged variant by id.
func (s *Store) GetVariant(ctx context.Context, module string, id int64) (string, bool, error) {
	var data string
	result := s.client.Raw(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = ? LIMIT 1`, s.varsTable(module)), id).Scan(&data)
	if result.Error != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeStore, result.Error, fmt.Sprintf("loading %s variant %d", module, id))
	}
	return data, result.RowsAffected > 0, nil
}

// DistinctParents returns the distinct parent ids of the module's variant
// table in ascending order.
func (s *Store) DistinctParents(ctx context.Context, module string) ([]int64, error) {
	rows, err := s.client.Raw(ctx,
		fmt.Sprintf(`SELECT DISTINCT parent_id FROM %s ORDER BY parent_id ASC`, s.varsTable(module))).Rows()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("querying %s parents", module))
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "scanning parent id")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "iterating parent ids")
	}
	return out, nil
}

// CountProducts reports how many rows the module's product table holds.
func (s *Store) CountProducts(ctx context.Context, module string) (int64, error) {
	var count int64
	if err := s.client.Raw(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.prodTable(module))).Scan(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStore, err, fmt.Sprintf("counting %s products", module))
	}
	return count, nil
}
