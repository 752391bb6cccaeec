package modules

import (
	"context"
	"strings"
	"testing"

	"github.com/feedrail/shopfeed/internal/fields"
)

const inventoryStream = `{"id":"gid://shopify/ProductVariant/11","product":{"id":"gid://shopify/Product/1"},"inventoryItem":{"id":"gid://shopify/InventoryItem/501","sku":"WID-1","unitCost":{"amount":"7.50","currencyCode":"USD"}}}
{"id":"gid://shopify/InventoryLevel/9001","quantities":[{"name":"available","quantity":12}],"location":{"id":"gid://shopify/Location/31","name":"Warehouse A"},"__parentId":"gid://shopify/ProductVariant/11"}
{"id":"gid://shopify/InventoryLevel/9002","quantities":[{"name":"available","quantity":3}],"location":{"id":"gid://shopify/Location/32","name":"Storefront"},"__parentId":"gid://shopify/ProductVariant/11"}
{"id":"gid://shopify/ProductVariant/12","product":{"id":"gid://shopify/Product/1"},"inventoryItem":{"id":"gid://shopify/InventoryItem/502","sku":"WID-2","unitCost":null}}
`

func stageInventory(t *testing.T, rc *RunContext, m *Inventories) {
	t.Helper()
	ctx := context.Background()
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		t.Fatalf("creating tables: %v", err)
	}
	var stats PullStats
	if err := m.parse(ctx, rc, &stats, strings.NewReader(inventoryStream)); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if stats.Variants != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestInventoriesExplodeStash(t *testing.T) {
	ctx := context.Background()
	rc := newTestRunContext(t, map[string]string{"inventory_level_explode": "true"})

	m := NewInventories(true)
	stageInventory(t, rc, m)

	v := fields.NewVariant(11)
	if err := m.AddToVariant(ctx, rc, v); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if got := v.Fields.Str("inventory_item_id"); got != "501" {
		t.Fatalf("item id = %q", got)
	}
	if got := v.Fields.Str("inventory_item_cost"); got != "7.50" {
		t.Fatalf("item cost = %q", got)
	}

	levels := Levels(v)
	if len(levels) != 2 {
		t.Fatalf("levels = %v", levels)
	}
	if levels[0].LocationID != 31 || levels[0].LocationName != "Warehouse A" || levels[0].Available != 12 {
		t.Fatalf("level[0] = %+v", levels[0])
	}
	if levels[1].Available != 3 {
		t.Fatalf("level[1] = %+v", levels[1])
	}

	// The stash must not masquerade as an output cell.
	if got := v.Fields.Str("inventory_levels"); got != "" {
		t.Fatalf("explode mode leaked a JSON column: %q", got)
	}
}

func TestInventoriesAggregateLevels(t *testing.T) {
	ctx := context.Background()
	rc := newTestRunContext(t, nil)

	m := NewInventories(true)
	stageInventory(t, rc, m)

	v := fields.NewVariant(11)
	if err := m.AddToVariant(ctx, rc, v); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	got := v.Fields.Str("inventory_levels")
	if !strings.Contains(got, `"location_id":31`) || !strings.Contains(got, `"available":12`) {
		t.Fatalf("levels json = %q", got)
	}
	if Levels(v) != nil {
		t.Fatal("aggregate mode must not stash raw levels")
	}
}

func TestInventoriesProductsIteratesDistinctParents(t *testing.T) {
	ctx := context.Background()
	rc := newTestRunContext(t, nil)

	m := NewInventories(true)
	stageInventory(t, rc, m)

	var products []*fields.Product
	if err := m.Products(ctx, rc, func(p *fields.Product) error {
		products = append(products, p)
		return nil
	}); err != nil {
		t.Fatalf("iterating: %v", err)
	}
	if len(products) != 1 || products[0].ID != 1 {
		t.Fatalf("products = %v", products)
	}
	if len(products[0].Variants) != 2 {
		t.Fatalf("variants = %v", products[0].Variants)
	}
}

func TestInventoriesColumns(t *testing.T) {
	t.Parallel()

	rcExplode := newTestRunContext(t, map[string]string{"inventory_level_explode": "true"})
	cols := NewInventories(true).Columns(rcExplode)
	want := []string{
		"inventory_item_id", "inventory_item_cost", "inventory_item_currency",
		"inventory_level_location_id", "inventory_level_location_name", "inventory_level_available",
	}
	if len(cols) != len(want) {
		t.Fatalf("explode columns = %v", cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("column %d = %q, want %q", i, cols[i], want[i])
		}
	}

	rcPlain := newTestRunContext(t, nil)
	if cols := NewInventories(false).Columns(rcPlain); len(cols) != 3 {
		t.Fatalf("item-only columns = %v", cols)
	}
	if cols := NewInventories(true).Columns(rcPlain); cols[len(cols)-1] != "inventory_levels" {
		t.Fatalf("aggregate columns = %v", cols)
	}
}
