package fields

import "testing"

func variantWith(fields Bag) *Variant {
	v := NewVariant(100)
	v.ProductID = 10
	v.Fields = fields
	return v
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		fields Bag
		want   string
	}{
		{
			name: "tracked zero deny",
			fields: Bag{
				"inventoryItem":     map[string]any{"tracked": true},
				"inventoryQuantity": float64(0),
				"inventoryPolicy":   "DENY",
			},
			want: "out of stock",
		},
		{
			name: "tracked zero continue",
			fields: Bag{
				"inventoryItem":     map[string]any{"tracked": true},
				"inventoryQuantity": float64(0),
				"inventoryPolicy":   "CONTINUE",
			},
			want: "in stock",
		},
		{
			name: "untracked zero",
			fields: Bag{
				"inventoryItem":     map[string]any{"tracked": false},
				"inventoryQuantity": float64(0),
				"inventoryPolicy":   "DENY",
			},
			want: "in stock",
		},
		{
			name: "in stock but unavailable for sale",
			fields: Bag{
				"inventoryQuantity": float64(5),
				"availableForSale":  false,
			},
			want: "out of stock",
		},
		{
			name:   "no inventory data",
			fields: Bag{},
			want:   "in stock",
		},
	}

	for _, tc := range cases {
		if got := Availability(variantWith(tc.fields)); got != tc.want {
			t.Errorf("%s: availability = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPriceAndSalePrice(t *testing.T) {
	t.Parallel()

	both := variantWith(Bag{"price": "19.99", "compareAtPrice": "29.99"})
	override := ShopContext{ComparePriceOverride: true}
	plain := ShopContext{ComparePriceOverride: false}

	if got := Price(override, both); got != "29.99" {
		t.Fatalf("price with override = %q", got)
	}
	if got := Price(plain, both); got != "19.99" {
		t.Fatalf("price without override = %q", got)
	}
	if got := SalePrice(both); got != "19.99" {
		t.Fatalf("sale price = %q", got)
	}

	noCompare := variantWith(Bag{"price": "19.99"})
	if got := Price(override, noCompare); got != "19.99" {
		t.Fatalf("price without compare-at = %q", got)
	}
	if got := SalePrice(noCompare); got != "" {
		t.Fatalf("sale price without compare-at = %q", got)
	}
}

func TestWeightFields(t *testing.T) {
	t.Parallel()

	v := variantWith(Bag{
		"inventoryItem": map[string]any{
			"measurement": map[string]any{
				"weight": map[string]any{"value": float64(500), "unit": "GRAMS"},
			},
		},
	})
	if got := Weight(v); got != "500.0" {
		t.Fatalf("integer weight = %q", got)
	}
	if got := WeightUnit(v); got != "g" {
		t.Fatalf("unit = %q", got)
	}
	if got := ShippingWeight(v); got != "500.0 g" {
		t.Fatalf("shipping weight = %q", got)
	}

	fractional := variantWith(Bag{
		"inventoryItem": map[string]any{
			"measurement": map[string]any{
				"weight": map[string]any{"value": 1.25, "unit": "POUNDS"},
			},
		},
	})
	if got := Weight(fractional); got != "1.25" {
		t.Fatalf("fractional weight = %q", got)
	}
	if got := WeightUnit(fractional); got != "lb" {
		t.Fatalf("unit = %q", got)
	}

	if got := Weight(variantWith(Bag{})); got != "" {
		t.Fatalf("missing weight = %q", got)
	}
}

func TestLinkNormalizesDomain(t *testing.T) {
	t.Parallel()

	p := NewProduct(10)
	p.Fields["handle"] = "widget"
	v := variantWith(Bag{})

	cases := map[string]string{
		"example.com":          "https://www.example.com/products/widget?variant=100",
		"www.example.com":      "https://www.example.com/products/widget?variant=100",
		"shop.example.com":     "https://shop.example.com/products/widget?variant=100",
		"www.shop.example.com": "https://shop.example.com/products/widget?variant=100",
	}
	for domain, want := range cases {
		got := Link(ShopContext{Domain: domain}, p, v)
		if got != want {
			t.Errorf("link for %s = %q, want %q", domain, got, want)
		}
	}
}

func TestGMCTransitionID(t *testing.T) {
	t.Parallel()

	v := variantWith(Bag{})
	if got := GMCTransitionID(ShopContext{CountryCode: "US"}, v); got != "shopify_US_10_100" {
		t.Fatalf("gmc id = %q", got)
	}
}

func TestVariantNames(t *testing.T) {
	t.Parallel()

	v := variantWith(Bag{
		"selectedOptions": []any{
			map[string]any{"name": "Color", "value": "Blue"},
			map[string]any{"name": "Size", "value": "M"},
		},
	})
	names := VariantNames(v)
	if names["Color"] != "Blue" || names["Size"] != "M" {
		t.Fatalf("names = %v", names)
	}

	if got := VariantNamesJSON(variantWith(Bag{})); got != "{}" {
		t.Fatalf("empty names json = %q", got)
	}
}

func TestPublishedStatus(t *testing.T) {
	t.Parallel()

	p := NewProduct(1)
	if got := PublishedStatus(p); got != "unpublished" {
		t.Fatalf("status without publishedAt = %q", got)
	}
	p.Fields["publishedAt"] = "2024-01-01T00:00:00Z"
	if got := PublishedStatus(p); got != "published" {
		t.Fatalf("status with publishedAt = %q", got)
	}
}

func TestFulfillmentService(t *testing.T) {
	t.Parallel()

	thirdParty := variantWith(Bag{
		"fulfillmentService": map[string]any{"handle": "acme-3pl"},
	})
	legacy := ShopContext{LegacyFulfillmentService: true}
	modern := ShopContext{}

	if got := FulfillmentService(legacy, thirdParty); got != "acme-3pl" {
		t.Fatalf("legacy service = %q", got)
	}
	if got := FulfillmentService(modern, thirdParty); got != "manual" {
		t.Fatalf("unstocked third-party service = %q", got)
	}

	thirdParty.Fields["__stocked_at_service"] = true
	if got := FulfillmentService(modern, thirdParty); got != "acme-3pl" {
		t.Fatalf("stocked third-party service = %q", got)
	}

	if got := FulfillmentService(modern, variantWith(Bag{})); got != "manual" {
		t.Fatalf("default service = %q", got)
	}
}

func TestInventoryManagement(t *testing.T) {
	t.Parallel()

	tracked := variantWith(Bag{"inventoryItem": map[string]any{"tracked": true}})
	if got := InventoryManagement(tracked); got != "shopify" {
		t.Fatalf("tracked management = %q", got)
	}
	explicit := variantWith(Bag{"inventoryManagement": "SHOPIFY"})
	if got := InventoryManagement(explicit); got != "shopify" {
		t.Fatalf("explicit management = %q", got)
	}
	if got := InventoryManagement(variantWith(Bag{})); got != "" {
		t.Fatalf("untracked management = %q", got)
	}
}

func TestUnitCost(t *testing.T) {
	t.Parallel()

	v := variantWith(Bag{
		"inventoryItem": map[string]any{
			"unitCost": map[string]any{"amount": "12.50"},
		},
	})
	if got := UnitCost(v); got != "12.5" {
		t.Fatalf("unit cost = %q", got)
	}
	if got := UnitCost(variantWith(Bag{})); got != "" {
		t.Fatalf("missing unit cost = %q", got)
	}
}

func TestAdditionalVariantImageLinks(t *testing.T) {
	t.Parallel()

	p := NewProduct(10)
	p.Fields["media"] = []any{
		map[string]any{"url": "https://cdn/x1.png", "variantIds": []any{float64(100)}},
		map[string]any{"url": "https://cdn/x2.png", "altText": "color-blue swatch"},
		map[string]any{"url": "https://cdn/x3.png", "altText": "unrelated"},
		map[string]any{"url": "https://cdn/x1.png", "variantIds": []any{float64(100)}},
	}
	v := variantWith(Bag{
		"selectedOptions": []any{
			map[string]any{"name": "Color", "value": "Blue"},
		},
	})

	got := AdditionalVariantImageLinks(p, v)
	want := "https://cdn/x1.png,https://cdn/x2.png"
	if got != want {
		t.Fatalf("image links = %q, want %q", got, want)
	}
}
