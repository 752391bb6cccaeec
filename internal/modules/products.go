package modules

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/feedrail/shopfeed/internal/bulk"
	"github.com/feedrail/shopfeed/internal/chunker"
	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/filters"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// maxSliceRequeues bounds how often one date slice is retried on a
// recoverable bulk failure before the run gives up.
const maxSliceRequeues = 5

// Products pulls the product catalog, by default through one bulk operation
// covering the whole shop, optionally sliced into date ranges or routed
// through the REST fallback.
type Products struct {
	filters *filters.Manager

	// option names seen across the pull, for variant_names_split_columns.
	optionNames []string
	optionSeen  map[string]struct{}
}

// NewProducts validates the product filter set and builds the module.
func NewProducts(productFilters map[string]string) (*Products, error) {
	mgr, err := filters.NewProductFilters(productFilters)
	if err != nil {
		return nil, err
	}
	return &Products{filters: mgr, optionSeen: map[string]struct{}{}}, nil
}

func (m *Products) Name() string { return NameProducts }

func (m *Products) RequiredScopes() []string { return []string{"read_products"} }

// Run pulls every product matching the filter set into the intermediate
// store.
func (m *Products) Run(ctx context.Context, rc *RunContext, stats *PullStats) error {
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		return err
	}
	if rc.Settings.ProductsViaREST {
		return m.runREST(ctx, rc, stats)
	}
	if rc.Settings.ForceBulkPieces {
		return m.runSliced(ctx, rc, stats)
	}
	return m.runBulk(ctx, rc, stats, nil)
}

func (m *Products) runSliced(ctx context.Context, rc *RunContext, stats *PullStats) error {
	ranges, err := m.dateRanges(ctx, rc)
	if err != nil {
		return err
	}

	type slice struct {
		rng      chunker.Range
		attempts int
	}
	queue := make([]slice, 0, len(ranges))
	for _, rng := range ranges {
		queue = append(queue, slice{rng: rng})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		err := m.runBulk(ctx, rc, stats, &current.rng)
		if err == nil {
			continue
		}
		if pkgerrors.IsRecoverable(err) && current.attempts < maxSliceRequeues {
			current.attempts++
			stats.Warnings++
			if rc.Log != nil {
				rc.Log.Warn(ctx, fmt.Sprintf("requeueing product slice %s..%s (attempt %d): %v",
					current.rng.Start.Format(time.RFC3339), current.rng.End.Format(time.RFC3339), current.attempts, err))
			}
			queue = append(queue, current)
			continue
		}
		return err
	}
	return nil
}

func (m *Products) dateRanges(ctx context.Context, rc *RunContext) ([]chunker.Range, error) {
	step := chunker.InitialStep(rc.ProductCount)
	count := func(ctx context.Context, start, end time.Time) (int, error) {
		params := m.filters.RESTParams()
		delete(params, "limit")
		delete(params, "fields")
		params["created_at_min"] = start.Format(time.RFC3339)
		params["created_at_max"] = end.Format(time.RFC3339)
		return rc.Client.ProductCount(ctx, params)
	}
	return chunker.Split(ctx, rc.Shop.CreatedTime(), time.Now().UTC(), step, count)
}

func (m *Products) runBulk(ctx context.Context, rc *RunContext, stats *PullStats, rng *chunker.Range) error {
	driver := bulk.NewDriver(rc.Client, rc.Log)
	path, cleanup, err := driver.Run(ctx, m.bulkQuery(rc, rng))
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

// bulkQuery renders the inner bulk document under the product search filter,
// optionally constrained to a created_at slice.
func (m *Products) bulkQuery(rc *RunContext, rng *chunker.Range) string {
	extraQuery := map[string]string{}
	if rng != nil {
		extraQuery["created_at"] = fmt.Sprintf(">='%s' created_at:<'%s'",
			rng.Start.UTC().Format(time.RFC3339), rng.End.UTC().Format(time.RFC3339))
	}
	args := m.filters.SearchArgs(extraQuery, nil)
	root := "products"
	if args != "" {
		root = fmt.Sprintf("products(%s)", args)
	}

	var publications string
	if rc.HasScope("read_publications") {
		publications = `
        resourcePublications {
          edges { node { isPublished publication { id name } } }
        }`
	}

	var presentment string
	if rc.Settings.IncludePresentmentPrices {
		presentment = `
              presentmentPrices {
                edges { node { price { amount currencyCode } compareAtPrice { amount currencyCode } } }
              }`
	}

	parentExtras := renderExtraFields(rc.Settings.ExtraParentFields)
	variantExtras := renderExtraFields(rc.Settings.ExtraVariantFields)

	return fmt.Sprintf(`{
  %s {
    edges {
      node {
        id title descriptionHtml vendor productType tags handle status publishedAt createdAt updatedAt
        options { name position values }%s
        media(query: "media_type:IMAGE") {
          edges { node { ... on MediaImage { id alt image { url width height } } } }
        }%s
        variants {
          edges {
            node {
              id title sku barcode price compareAtPrice position taxable availableForSale
              inventoryQuantity inventoryPolicy
              selectedOptions { name value }
              image { id url }
              inventoryItem {
                id sku tracked requiresShipping
                measurement { weight { value unit } }
                unitCost { amount currencyCode }
              }%s%s
            }
          }
        }
      }
    }
  }
}`, root, parentExtras, publications, presentment, variantExtras)
}

func renderExtraFields(extras []string) string {
	if len(extras) == 0 {
		return ""
	}
	return " " + strings.Join(extras, " ")
}

// parse consumes the bulk JSONL stream. The server emits parents before
// children, so the parser keeps a current-product cursor and flushes each
// product when the next one starts.
func (m *Products) parse(ctx context.Context, rc *RunContext, stats *PullStats, r io.Reader) error {
	prodIns := rc.Store.NewInserter(m.Name(), store.KindProd, store.DupUpdate)
	varsIns := rc.Store.NewInserter(m.Name(), store.KindVars, store.DupUpdate)

	var current *fields.Product
	var currentGID string
	variantByGID := map[string]*fields.Variant{}

	flush := func() error {
		if current == nil {
			return nil
		}
		m.recordOptionNames(current)
		if err := prodIns.Add(ctx, current.ID, 0, current.Fields.JSON()); err != nil {
			return err
		}
		stats.Products++
		for _, v := range current.Variants {
			if err := varsIns.Add(ctx, v.ID, current.ID, v.Fields.JSON()); err != nil {
				return err
			}
			stats.Variants++
		}
		current = nil
		currentGID = ""
		variantByGID = map[string]*fields.Variant{}
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
			if err := flush(); err != nil {
				return err
			}
			current = &fields.Product{ID: id, Fields: bag}
			currentGID = bag.Str("id")
		case "ProductVariant":
			if current == nil || parent != currentGID {
				return parseOrderError(reader.Line(), parent)
			}
			variant := &fields.Variant{ID: id, Fields: bag}
			current.AddVariant(variant)
			variantByGID[bag.Str("id")] = variant
		case "MediaImage":
			media := fields.Bag{
				"url":     bag.StrAt("image", "url"),
				"altText": bag.Str("alt"),
				"width":   bag.At("image", "width"),
				"height":  bag.At("image", "height"),
			}
			if variant, ok := variantByGID[parent]; ok {
				appendTo(variant.Fields, "media", map[string]any(media))
			} else if current != nil && parent == currentGID {
				appendTo(current.Fields, "media", map[string]any(media))
			} else {
				return parseOrderError(reader.Line(), parent)
			}
		case "Publication":
			if current == nil || parent != currentGID {
				return parseOrderError(reader.Line(), parent)
			}
			appendTo(current.Fields, "publications", map[string]any(bag))
		case "":
			// Id-less lines are connection nodes without a selected id:
			// presentment price pairs under a variant, resource publications
			// under the product.
			if variant, ok := variantByGID[parent]; ok {
				appendTo(variant.Fields, "presentmentPrices", map[string]any(bag))
			} else if current != nil && parent == currentGID {
				appendTo(current.Fields, "publications", map[string]any(bag))
			} else {
				return parseOrderError(reader.Line(), parent)
			}
		default:
			stats.Warnings++
			if rc.Log != nil {
				rc.Log.Warn(ctx, fmt.Sprintf("skipping unexpected %s node at line %d", kind, reader.Line()))
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}
	if err := prodIns.Flush(ctx); err != nil {
		return err
	}
	return varsIns.Flush(ctx)
}

func parseOrderError(line int, parent string) error {
	return pkgerrors.New(pkgerrors.CodeParse,
		fmt.Sprintf("line %d references parent %q before it was seen", line, parent))
}

func appendTo(bag fields.Bag, key string, entry any) {
	list := bag.List(key)
	bag.Set(key, append(list, entry))
}

func (m *Products) recordOptionNames(p *fields.Product) {
	for _, raw := range p.Fields.List("options") {
		option, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := fields.Bag(option).Str("name")
		if name == "" {
			continue
		}
		if _, ok := m.optionSeen[name]; ok {
			continue
		}
		m.optionSeen[name] = struct{}{}
		m.optionNames = append(m.optionNames, name)
	}
}

// baseColumns is the fixed part of the product feed.
var baseColumns = []string{
	"title", "description", "vendor", "product_type", "tags", "handle", "status",
	"published_status", "created_at", "link", "image_link",
	"additional_variant_image_link", "availability", "price", "sale_price",
	"sku", "barcode", "variant_title", "position",
	"weight", "weight_unit", "shipping_weight", "requires_shipping", "taxable",
	"inventory_quantity", "inventory_policy", "inventory_management",
	"fulfillment_service", "unit_cost",
}

// Columns reports the product columns, including option columns discovered
// during the pull when variant names are split.
func (m *Products) Columns(rc *RunContext) []string {
	out := append([]string{}, baseColumns...)
	if rc.Settings.UseGMCTransitionID {
		out = append(out, "gmc_transition_id")
	}
	if rc.Settings.IncludePresentmentPrices {
		out = append(out, "presentment_prices")
	}
	if rc.Settings.VariantNamesSplitColumns {
		for _, name := range m.optionNames {
			out = append(out, OptionColumn(name))
		}
	} else {
		out = append(out, "variant_names")
	}
	out = append(out, rc.Settings.ExtraParentFields...)
	out = append(out, rc.Settings.ExtraVariantFields...)
	return out
}

// OptionColumn renders the split-column name for one product option.
func OptionColumn(name string) string {
	return "variant_" + strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// Products iterates the staged catalog in ascending product-id order, with
// variants attached in ascending variant-id order.
func (m *Products) Products(ctx context.Context, rc *RunContext, fn func(*fields.Product) error) error {
	return rc.Store.IterProducts(ctx, m.Name(), func(row store.ProductRow) error {
		product, err := m.loadProduct(ctx, rc, row)
		if err != nil {
			return err
		}
		return fn(product)
	})
}

func (m *Products) loadProduct(ctx context.Context, rc *RunContext, row store.ProductRow) (*fields.Product, error) {
	bag, err := fields.BagFromJSON(row.Data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeParse, err, fmt.Sprintf("decoding staged product %d", row.ID))
	}
	product := &fields.Product{ID: row.ID, Fields: bag}

	variants, err := rc.Store.VariantsFor(ctx, m.Name(), row.ID)
	if err != nil {
		return nil, err
	}
	for _, vrow := range variants {
		vbag, err := fields.BagFromJSON(vrow.Data)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeParse, err, fmt.Sprintf("decoding staged variant %d", vrow.ID))
		}
		product.AddVariant(&fields.Variant{ID: vrow.ID, Fields: vbag})
	}
	return product, nil
}

// AddToProduct merges the staged product fields into a product driven by
// another primary module.
func (m *Products) AddToProduct(ctx context.Context, rc *RunContext, p *fields.Product) error {
	data, found, err := rc.Store.GetProduct(ctx, m.Name(), p.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	bag, err := fields.BagFromJSON(data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, fmt.Sprintf("decoding staged product %d", p.ID))
	}
	mergeMissing(p.Fields, bag)
	return nil
}

// AddToVariant merges the staged variant fields.
func (m *Products) AddToVariant(ctx context.Context, rc *RunContext, v *fields.Variant) error {
	data, found, err := rc.Store.GetVariant(ctx, m.Name(), v.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	bag, err := fields.BagFromJSON(data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, fmt.Sprintf("decoding staged variant %d", v.ID))
	}
	mergeMissing(v.Fields, bag)
	return nil
}

func mergeMissing(dst, src fields.Bag) {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !dst.Has(key) {
			dst.Set(key, src[key])
		}
	}
}
