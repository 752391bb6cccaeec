package modules

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/feedrail/shopfeed/internal/bulk"
	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// Translations pulls per-product translated fields, one bulk operation per
// requested locale. Variants are not translated.
type Translations struct {
	locales []string

	// distinct <locale>_<key> columns in first-seen order.
	columns []string
	colSeen map[string]struct{}
}

// NewTranslations builds the module for the given locales.
func NewTranslations(locales []string) *Translations {
	return &Translations{locales: locales, colSeen: map[string]struct{}{}}
}

func (m *Translations) Name() string { return NameTranslations }

func (m *Translations) RequiredScopes() []string { return []string{"read_products", "read_translations"} }

func (m *Translations) Run(ctx context.Context, rc *RunContext, stats *PullStats) error {
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		return err
	}
	for _, locale := range m.locales {
		if err := m.runLocale(ctx, rc, stats, locale); err != nil {
			return err
		}
	}
	return nil
}

func (m *Translations) runLocale(ctx context.Context, rc *RunContext, stats *PullStats, locale string) error {
	driver := newBulkDriver(rc)
	path, cleanup, err := driver.Run(ctx, m.bulkQuery(locale))
	if err != nil {
		return err
	}
	defer cleanup()
	if path == "" {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "opening bulk result")
	}
	defer file.Close()

	return m.parse(ctx, rc, stats, file)
}

func (m *Translations) bulkQuery(locale string) string {
	return fmt.Sprintf(`{
  products {
    edges {
      node {
        id
        translations(locale: "%s") { key locale value }
      }
    }
  }
}`, locale)
}

// TranslationColumn renders the <locale>_<key> column name with non-word
// characters stripped.
func TranslationColumn(locale, key string) string {
	raw := strings.ReplaceAll(locale+"_"+key, "-", "_")
	return strings.ToLower(nonWordRegex.ReplaceAllString(raw, ""))
}

// parse reads one product per line; translations are inline lists, not
// child lines. Staged rows merge across locales via the upsert mode.
func (m *Translations) parse(ctx context.Context, rc *RunContext, stats *PullStats, r io.Reader) error {
	prodIns := rc.Store.NewInserter(m.Name(), store.KindProd, store.DupUpdate)

	reader := bulk.NewLineReader(r)
	for {
		line, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		bag, _, err := decodeLine(line)
		if err != nil {
			return err
		}
		kind, id, err := lineKind(bag)
		if err != nil {
			return err
		}
		if kind != "Product" {
			stats.Warnings++
			continue
		}

		merged := fields.Bag{}
		if existing, found, err := rc.Store.GetProduct(ctx, m.Name(), id); err != nil {
			return err
		} else if found {
			merged, err = fields.BagFromJSON(existing)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding staged translations")
			}
		}

		for _, raw := range bag.List("translations") {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			tr := fields.Bag(entry)
			if tr.Str("value") == "" {
				continue
			}
			col := TranslationColumn(tr.Str("locale"), tr.Str("key"))
			merged.Set(col, tr.Str("value"))
			m.recordColumn(col)
		}

		if err := prodIns.Add(ctx, id, 0, merged.JSON()); err != nil {
			return err
		}
		stats.Products++
	}
	return prodIns.Flush(ctx)
}

func (m *Translations) recordColumn(col string) {
	if _, ok := m.colSeen[col]; ok {
		return
	}
	m.colSeen[col] = struct{}{}
	m.columns = append(m.columns, col)
}

func (m *Translations) Columns(rc *RunContext) []string {
	return append([]string{}, m.columns...)
}

func (m *Translations) Products(ctx context.Context, rc *RunContext, fn func(*fields.Product) error) error {
	return iterOwners(ctx, rc, m.Name(), fn)
}

func (m *Translations) AddToProduct(ctx context.Context, rc *RunContext, p *fields.Product) error {
	data, found, err := rc.Store.GetProduct(ctx, m.Name(), p.ID)
	if err != nil || !found {
		return err
	}
	bag, err := fields.BagFromJSON(data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding staged translations")
	}
	for key := range bag {
		p.Fields.Set(key, bag.Str(key))
	}
	return nil
}

func (m *Translations) AddToVariant(ctx context.Context, rc *RunContext, v *fields.Variant) error {
	return nil
}
