package modules

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/feedrail/shopfeed/internal/bulk"
	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/shopify"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// InventoryLevel is one stocked location for a variant.
type InventoryLevel struct {
	InventoryItemID int64  `json:"inventory_item_id"`
	LocationID      int64  `json:"location_id"`
	LocationName    string `json:"location_name"`
	Available       int64  `json:"available"`
}

// inventoryRow is the staged payload for one variant.
type inventoryRow struct {
	Item struct {
		ID       int64  `json:"id"`
		SKU      string `json:"sku"`
		Cost     string `json:"cost"`
		Currency string `json:"currency"`
	} `json:"item"`
	Levels []InventoryLevel `json:"levels"`
}

// Inventories pulls inventory items and their per-location levels off the
// variant connection. It covers both the inventory_item and inventory_level
// data types; levels are only selected when the latter is active.
type Inventories struct {
	withLevels bool
}

// NewInventories builds the module. withLevels also pulls per-location
// inventory levels.
func NewInventories(withLevels bool) *Inventories {
	return &Inventories{withLevels: withLevels}
}

func (m *Inventories) Name() string { return NameInventory }

func (m *Inventories) RequiredScopes() []string { return []string{"read_products", "read_inventory"} }

func (m *Inventories) Run(ctx context.Context, rc *RunContext, stats *PullStats) error {
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		return err
	}

	driver := newBulkDriver(rc)
	path, cleanup, err := driver.Run(ctx, m.bulkQuery())
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

func (m *Inventories) bulkQuery() string {
	levels := ""
	if m.withLevels {
		levels = `
          inventoryLevels {
            edges {
              node {
                id
                quantities(names: ["available"]) { name quantity }
                location { id name }
              }
            }
          }`
	}
	return `{
  productVariants {
    edges {
      node {
        id
        product { id }
        inventoryItem {
          id sku
          unitCost { amount currencyCode }` + levels + `
        }
      }
    }
  }
}`
}

// parse accumulates levels under the current variant until the next variant
// line arrives, then stages one inventory row per variant.
func (m *Inventories) parse(ctx context.Context, rc *RunContext, stats *PullStats, r io.Reader) error {
	varsIns := rc.Store.NewInserter(m.Name(), store.KindVars, store.DupUpdate)

	var current *inventoryRow
	var currentID, currentParent int64
	var currentGID string

	flush := func() error {
		if current == nil {
			return nil
		}
		encoded, err := json.Marshal(current)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding inventory row")
		}
		if err := varsIns.Add(ctx, currentID, currentParent, string(encoded)); err != nil {
			return err
		}
		stats.Variants++
		current = nil
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
		case "ProductVariant":
			if err := flush(); err != nil {
				return err
			}
			row := &inventoryRow{Levels: []InventoryLevel{}}
			item := bag.Map("inventoryItem")
			row.Item.ID = shopify.GIDID(item.Str("id"))
			row.Item.SKU = item.Str("sku")
			row.Item.Cost = item.StrAt("unitCost", "amount")
			row.Item.Currency = item.StrAt("unitCost", "currencyCode")

			current = row
			currentID = id
			currentParent = shopify.GIDID(bag.StrAt("product", "id"))
			currentGID = bag.Str("id")
		case "InventoryLevel":
			if current == nil || parent != currentGID {
				return parseOrderError(reader.Line(), parent)
			}
			level := InventoryLevel{
				InventoryItemID: current.Item.ID,
				LocationID:      shopify.GIDID(bag.StrAt("location", "id")),
				LocationName:    bag.StrAt("location", "name"),
			}
			for _, raw := range bag.List("quantities") {
				q, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				qb := fields.Bag(q)
				if qb.Str("name") == "available" {
					level.Available = qb.Int("quantity")
				}
			}
			current.Levels = append(current.Levels, level)
		default:
			stats.Warnings++
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return varsIns.Flush(ctx)
}

func (m *Inventories) Columns(rc *RunContext) []string {
	out := []string{"inventory_item_id", "inventory_item_cost", "inventory_item_currency"}
	if !m.withLevels {
		return out
	}
	if rc.Settings.InventoryLevelExplode {
		return append(out,
			"inventory_level_location_id", "inventory_level_location_name", "inventory_level_available")
	}
	return append(out, "inventory_levels")
}

// Products iterates the distinct products observed on the variant
// connection; bags start empty and are filled by the enrichment modules.
func (m *Inventories) Products(ctx context.Context, rc *RunContext, fn func(*fields.Product) error) error {
	parents, err := rc.Store.DistinctParents(ctx, m.Name())
	if err != nil {
		return err
	}
	for _, parentID := range parents {
		product := fields.NewProduct(parentID)
		variants, err := rc.Store.VariantsFor(ctx, m.Name(), parentID)
		if err != nil {
			return err
		}
		for _, vrow := range variants {
			product.AddVariant(fields.NewVariant(vrow.ID))
		}
		if err := fn(product); err != nil {
			return err
		}
	}
	return nil
}

func (m *Inventories) AddToProduct(ctx context.Context, rc *RunContext, p *fields.Product) error {
	return nil
}

// AddToVariant attaches the staged item fields and the raw level list. The
// run manager consumes Levels for the explode fan-out.
func (m *Inventories) AddToVariant(ctx context.Context, rc *RunContext, v *fields.Variant) error {
	data, found, err := rc.Store.GetVariant(ctx, m.Name(), v.ID)
	if err != nil || !found {
		return err
	}
	var row inventoryRow
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding staged inventory")
	}

	v.Fields.Set("inventory_item_id", strconv.FormatInt(row.Item.ID, 10))
	v.Fields.Set("inventory_item_cost", row.Item.Cost)
	v.Fields.Set("inventory_item_currency", row.Item.Currency)

	if !m.withLevels {
		return nil
	}
	if rc.Settings.InventoryLevelExplode {
		v.Fields.Set("__inventory_levels", row.Levels)
		return nil
	}
	encoded, err := json.Marshal(row.Levels)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding inventory levels")
	}
	v.Fields.Set("inventory_levels", string(encoded))
	return nil
}

// Levels extracts the level list stashed by AddToVariant for the explode
// fan-out, or nil when the variant has none.
func Levels(v *fields.Variant) []InventoryLevel {
	raw, ok := v.Fields["__inventory_levels"]
	if !ok {
		return nil
	}
	levels, _ := raw.([]InventoryLevel)
	return levels
}
