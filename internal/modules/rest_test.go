package modules

import (
	"testing"

	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/shopify"
	"github.com/feedrail/shopfeed/pkg/ratelimit"
)

func TestWorkerRate(t *testing.T) {
	t.Parallel()

	if got := workerRate(shopify.CallLimit{Total: 40}); got != 2 {
		t.Fatalf("40-burst rate = %v", got)
	}
	if got := workerRate(shopify.CallLimit{Total: 80}); got != 4 {
		t.Fatalf("80-burst rate = %v", got)
	}
	if got := workerRate(shopify.CallLimit{}); got != 2 {
		t.Fatalf("unknown-burst rate = %v", got)
	}
}

func TestRateModifier(t *testing.T) {
	t.Parallel()

	if got := rateModifier(1000); got != 3 {
		t.Fatalf("small shop modifier = %v", got)
	}
	if got := rateModifier(60000); got != 4 {
		t.Fatalf("large shop modifier = %v", got)
	}
}

func TestRestThreadCount(t *testing.T) {
	t.Parallel()

	if got := restThreadCount(4, 100); got != 4 {
		t.Fatalf("rate-bound count = %d", got)
	}
	if got := restThreadCount(4, 2); got != 2 {
		t.Fatalf("range-bound count = %d", got)
	}
	if got := restThreadCount(100, 100); got != maxRESTWorkers {
		t.Fatalf("capped count = %d", got)
	}
	if got := restThreadCount(0, 0); got != 1 {
		t.Fatalf("floor count = %d", got)
	}
}

func TestPaginatorTierBackoff(t *testing.T) {
	t.Parallel()

	p := &paginator{tiers: productPageTiers}
	if p.limit() != 250 {
		t.Fatalf("initial limit = %d", p.limit())
	}
	steps := 0
	for p.backoff() {
		steps++
	}
	if p.limit() != 10 {
		t.Fatalf("final limit = %d", p.limit())
	}
	if steps != len(productPageTiers)-1 {
		t.Fatalf("backoff steps = %d", steps)
	}
	if p.backoff() {
		t.Fatal("backoff past the smallest tier must report false")
	}
}

func TestNewPaginatorReserve(t *testing.T) {
	t.Parallel()

	bucket := ratelimit.New(2, 1)
	p := newPaginator(nil, bucket, 3)
	if p.rateReserve != 18 {
		t.Fatalf("reserve = %v", p.rateReserve)
	}
}

func TestRestProductToBag(t *testing.T) {
	t.Parallel()

	raw := fields.Bag{
		"id":           float64(1),
		"title":        "Widget",
		"body_html":    "<p>desc</p>",
		"vendor":       "Acme",
		"product_type": "Tools",
		"handle":       "widget",
		"status":       "active",
		"published_at": "2024-01-02T00:00:00Z",
		"created_at":   "2024-01-01T00:00:00Z",
		"tags":         "a, b",
		"options": []any{
			map[string]any{"name": "Color", "position": float64(1)},
		},
		"images": []any{
			map[string]any{
				"id":          float64(900),
				"src":         "https://cdn/x.png",
				"alt":         "front",
				"width":       float64(800),
				"height":      float64(600),
				"variant_ids": []any{float64(11)},
			},
		},
		"variants": []any{
			map[string]any{
				"id":                   float64(11),
				"title":                "Blue",
				"sku":                  "WID-1",
				"price":                "19.99",
				"compare_at_price":     "24.99",
				"position":             float64(1),
				"taxable":              true,
				"inventory_quantity":   float64(5),
				"inventory_policy":     "deny",
				"inventory_management": "shopify",
				"fulfillment_service":  "manual",
				"requires_shipping":    true,
				"weight":               float64(500),
				"weight_unit":          "g",
				"option1":              "Blue",
				"image_id":             float64(900),
			},
		},
	}

	p := restProductToBag(raw)
	if p == nil {
		t.Fatal("conversion returned nil")
	}
	if p.Fields.Str("id") != "gid://shopify/Product/1" {
		t.Fatalf("gid = %q", p.Fields.Str("id"))
	}
	if p.Fields.Str("descriptionHtml") != "<p>desc</p>" {
		t.Fatalf("description = %q", p.Fields.Str("descriptionHtml"))
	}
	if p.Fields.Str("status") != "ACTIVE" {
		t.Fatalf("status = %q", p.Fields.Str("status"))
	}
	tags := p.Fields.List("tags")
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("tags = %v", tags)
	}

	media := p.Fields.List("media")
	if len(media) != 1 {
		t.Fatalf("media = %v", media)
	}
	mb := fields.Bag(media[0].(map[string]any))
	if mb.Str("url") != "https://cdn/x.png" || len(mb.List("variantIds")) != 1 {
		t.Fatalf("media[0] = %v", mb)
	}

	if len(p.Variants) != 1 {
		t.Fatalf("variants = %v", p.Variants)
	}
	v := p.Variants[0]
	if v.ID != 11 || v.Fields.Str("id") != "gid://shopify/ProductVariant/11" {
		t.Fatalf("variant gid = %q", v.Fields.Str("id"))
	}
	item := v.Fields.Map("inventoryItem")
	if !item.Bool("tracked") || !item.Bool("requiresShipping") {
		t.Fatalf("inventory item = %v", item)
	}
	if got := item.StrAt("measurement", "weight", "unit"); got != "GRAMS" {
		t.Fatalf("weight unit = %q", got)
	}
	selected := v.Fields.List("selectedOptions")
	if len(selected) != 1 {
		t.Fatalf("selected options = %v", selected)
	}
	sb := fields.Bag(selected[0].(map[string]any))
	if sb.Str("name") != "Color" || sb.Str("value") != "Blue" {
		t.Fatalf("selected option = %v", sb)
	}
	if got := v.Fields.StrAt("image", "url"); got != "https://cdn/x.png" {
		t.Fatalf("variant image = %q", got)
	}
	if got := v.Fields.StrAt("fulfillmentService", "handle"); got != "manual" {
		t.Fatalf("fulfillment service = %q", got)
	}
}

func TestRestProductToBagRejectsMissingID(t *testing.T) {
	t.Parallel()

	if restProductToBag(fields.Bag{"title": "x"}) != nil {
		t.Fatal("product without id must be dropped")
	}
}

func TestSplitTags(t *testing.T) {
	t.Parallel()

	tags := splitTags(" a , ,b,")
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("tags = %v", tags)
	}
	if got := splitTags("  "); len(got) != 0 {
		t.Fatalf("blank tags = %v", got)
	}
}
