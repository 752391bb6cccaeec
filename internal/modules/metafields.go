package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/feedrail/shopfeed/internal/bulk"
	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/filters"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// maxDisplayIdentifier caps metafield-derived column names.
const maxDisplayIdentifier = 254

var nonWordRegex = regexp.MustCompile(`[^\w]`)

// DisplayIdentifier renders the output column name for a metafield:
// <owner>_meta_[<namespace>_]<key>, non-word characters stripped, dashes
// folded to underscores, lowercased, length-capped.
func DisplayIdentifier(owner, namespace, key string, withNamespace bool) string {
	parts := []string{owner, "meta"}
	if withNamespace && namespace != "" {
		parts = append(parts, namespace)
	}
	parts = append(parts, key)
	raw := strings.Join(parts, "_")
	raw = strings.ReplaceAll(raw, "-", "_")
	raw = nonWordRegex.ReplaceAllString(raw, "")
	raw = strings.ToLower(raw)
	if len(raw) > maxDisplayIdentifier {
		raw = raw[:maxDisplayIdentifier]
	}
	return raw
}

// metafieldEntry is the staged shape of one metafield.
type metafieldEntry struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Namespace   string `json:"namespace"`
	Description string `json:"description"`
}

// Metafields pulls product and variant metafields. Products and variants
// with no metafields still get presence rows so the join can distinguish
// "pulled, empty" from "not pulled".
type Metafields struct {
	filters *filters.Manager

	// distinct display identifiers, in first-seen order, split-columns mode.
	parentCols  []string
	variantCols []string
	colSeen     map[string]struct{}
}

// NewMetafields validates the meta filter set and builds the module.
func NewMetafields(metaFilters map[string]string) (*Metafields, error) {
	mgr, err := filters.NewMetaFilters(metaFilters)
	if err != nil {
		return nil, err
	}
	return &Metafields{filters: mgr, colSeen: map[string]struct{}{}}, nil
}

func (m *Metafields) Name() string { return NameMeta }

func (m *Metafields) RequiredScopes() []string { return []string{"read_products"} }

func (m *Metafields) Run(ctx context.Context, rc *RunContext, stats *PullStats) error {
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		return err
	}

	driver := newBulkDriver(rc)
	path, cleanup, err := driver.Run(ctx, m.bulkQuery(rc))
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

func (m *Metafields) bulkQuery(rc *RunContext) string {
	metaArgs := ""
	if args := m.filters.SearchArgs(nil, nil); args != "" {
		metaArgs = "(" + args + ")"
	}
	return fmt.Sprintf(`{
  products {
    edges {
      node {
        id
        metafields%s { edges { node { id namespace key value description } } }
        variants {
          edges {
            node {
              id
              metafields%s { edges { node { id namespace key value description } } }
            }
          }
        }
      }
    }
  }
}`, metaArgs, metaArgs)
}

// parse walks the stream with product and variant cursors. A metafield line
// attaches to the current variant when its parent is the variant, else to
// the current product.
func (m *Metafields) parse(ctx context.Context, rc *RunContext, stats *PullStats, r io.Reader) error {
	prodIns := rc.Store.NewInserter(m.Name(), store.KindProd, store.DupUpdate)
	varsIns := rc.Store.NewInserter(m.Name(), store.KindVars, store.DupUpdate)

	var productID int64
	var productGID string
	var productMeta []metafieldEntry

	var variantID int64
	var variantGID string
	var variantMeta []metafieldEntry

	flushVariant := func() error {
		if variantID == 0 {
			return nil
		}
		if err := varsIns.Add(ctx, variantID, productID, encodeMeta(variantMeta)); err != nil {
			return err
		}
		stats.Variants++
		variantID = 0
		variantGID = ""
		variantMeta = nil
		return nil
	}
	flushProduct := func() error {
		if err := flushVariant(); err != nil {
			return err
		}
		if productID == 0 {
			return nil
		}
		if err := prodIns.Add(ctx, productID, 0, encodeMeta(productMeta)); err != nil {
			return err
		}
		stats.Products++
		productID = 0
		productGID = ""
		productMeta = nil
		return nil
	}

	reader := bulk.NewLineReader(r)
	for {
		line, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		bag, parent, err := decodeLine(line)
		if err != nil {
			return err
		}
		kind, id, err := lineKind(bag)
		if err != nil {
			return err
		}

		switch kind {
		case "Product":
			if err := flushProduct(); err != nil {
				return err
			}
			productID = id
			productGID = bag.Str("id")
		case "ProductVariant":
			if productID == 0 || parent != productGID {
				return parseOrderError(reader.Line(), parent)
			}
			if err := flushVariant(); err != nil {
				return err
			}
			variantID = id
			variantGID = bag.Str("id")
		case "Metafield":
			entry := metafieldEntry{
				Key:         bag.Str("key"),
				Value:       bag.Str("value"),
				Namespace:   bag.Str("namespace"),
				Description: bag.Str("description"),
			}
			switch parent {
			case variantGID:
				variantMeta = append(variantMeta, entry)
				m.recordColumn("variant", entry, rc)
			case productGID:
				productMeta = append(productMeta, entry)
				m.recordColumn("parent", entry, rc)
			default:
				return parseOrderError(reader.Line(), parent)
			}
		default:
			stats.Warnings++
		}
	}
	if err := flushProduct(); err != nil {
		return err
	}
	if err := prodIns.Flush(ctx); err != nil {
		return err
	}
	return varsIns.Flush(ctx)
}

func (m *Metafields) recordColumn(owner string, entry metafieldEntry, rc *RunContext) {
	if !rc.Settings.MetafieldsSplitColumns {
		return
	}
	col := DisplayIdentifier(owner, entry.Namespace, entry.Key, rc.Settings.UseMetafieldNamespaces)
	if _, ok := m.colSeen[col]; ok {
		return
	}
	m.colSeen[col] = struct{}{}
	if owner == "variant" {
		m.variantCols = append(m.variantCols, col)
	} else {
		m.parentCols = append(m.parentCols, col)
	}
}

func encodeMeta(entries []metafieldEntry) string {
	if entries == nil {
		entries = []metafieldEntry{}
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func (m *Metafields) Columns(rc *RunContext) []string {
	if rc.Settings.MetafieldsSplitColumns {
		return append(append([]string{}, m.parentCols...), m.variantCols...)
	}
	return []string{"product_meta", "variant_meta"}
}

// Products iterates the staged metafield owners when meta is the primary
// module. Product field bags start empty; enrichment fills them.
func (m *Metafields) Products(ctx context.Context, rc *RunContext, fn func(*fields.Product) error) error {
	return iterOwners(ctx, rc, m.Name(), fn)
}

func (m *Metafields) AddToProduct(ctx context.Context, rc *RunContext, p *fields.Product) error {
	data, found, err := rc.Store.GetProduct(ctx, m.Name(), p.ID)
	if err != nil || !found {
		return err
	}
	return m.applyMeta(rc, p.Fields, "parent", "product_meta", data)
}

func (m *Metafields) AddToVariant(ctx context.Context, rc *RunContext, v *fields.Variant) error {
	data, found, err := rc.Store.GetVariant(ctx, m.Name(), v.ID)
	if err != nil || !found {
		return err
	}
	return m.applyMeta(rc, v.Fields, "variant", "variant_meta", data)
}

func (m *Metafields) applyMeta(rc *RunContext, bag fields.Bag, owner, aggregateCol, data string) error {
	var entries []metafieldEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding staged metafields")
	}
	if !rc.Settings.MetafieldsSplitColumns {
		bag.Set(aggregateCol, data)
		return nil
	}
	for _, entry := range entries {
		col := DisplayIdentifier(owner, entry.Namespace, entry.Key, rc.Settings.UseMetafieldNamespaces)
		cell, err := json.Marshal(map[string]string{
			"value":       entry.Value,
			"namespace":   entry.Namespace,
			"description": entry.Description,
		})
		if err != nil {
			continue
		}
		bag.Set(col, string(cell))
	}
	return nil
}

// iterOwners walks a module's staged product rows, attaching its staged
// variants, without decoding the row payloads into the bags.
func iterOwners(ctx context.Context, rc *RunContext, module string, fn func(*fields.Product) error) error {
	return rc.Store.IterProducts(ctx, module, func(row store.ProductRow) error {
		product := fields.NewProduct(row.ID)
		variants, err := rc.Store.VariantsFor(ctx, module, row.ID)
		if err != nil {
			return err
		}
		for _, vrow := range variants {
			product.AddVariant(fields.NewVariant(vrow.ID))
		}
		return fn(product)
	})
}

// newBulkDriver builds a bulk driver bound to the run's client.
func newBulkDriver(rc *RunContext) *bulk.Driver {
	return bulk.NewDriver(rc.Client, rc.Log)
}
