package fields

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Availability renders the stock status of a variant. A variant is out of
// stock when inventory tracking denies overselling at zero quantity, or when
// the API says it is not available for sale.
func Availability(v *Variant) string {
	tracked := false
	if item := v.Fields.Map("inventoryItem"); item != nil {
		tracked = item.Bool("tracked")
	}
	qty := v.Fields.Int("inventoryQuantity")
	policy := strings.ToLower(v.Fields.Str("inventoryPolicy"))
	availableForSale := true
	if v.Fields.Has("availableForSale") {
		availableForSale = v.Fields.Bool("availableForSale")
	}

	if (tracked && qty < 1 && policy == "deny") || !availableForSale {
		return "out of stock"
	}
	return "in stock"
}

// Price returns compareAtPrice when both prices are present and the override
// option is on, else the plain price.
func Price(ctx ShopContext, v *Variant) string {
	price := v.Fields.Str("price")
	compareAt := v.Fields.Str("compareAtPrice")
	if price != "" && compareAt != "" && ctx.ComparePriceOverride {
		return compareAt
	}
	return price
}

// SalePrice is the actual selling price, only emitted when a compare-at
// price exists alongside it.
func SalePrice(v *Variant) string {
	price := v.Fields.Str("price")
	compareAt := v.Fields.Str("compareAtPrice")
	if price != "" && compareAt != "" {
		return price
	}
	return ""
}

// WeightUnit maps the API's unit enum onto feed abbreviations.
func WeightUnit(v *Variant) string {
	unit := v.Fields.StrAt("inventoryItem", "measurement", "weight", "unit")
	switch unit {
	case "GRAMS":
		return "g"
	case "OUNCES":
		return "oz"
	case "POUNDS":
		return "lb"
	case "KILOGRAMS":
		return "kg"
	default:
		return ""
	}
}

// Weight normalizes the weight value so integers carry a ".0" suffix.
func Weight(v *Variant) string {
	raw := v.Fields.StrAt("inventoryItem", "measurement", "weight", "value")
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, ".") {
		return raw
	}
	if _, err := decimal.NewFromString(raw); err != nil {
		return raw
	}
	return raw + ".0"
}

// ShippingWeight joins weight and unit.
func ShippingWeight(v *Variant) string {
	return strings.TrimSpace(Weight(v) + " " + WeightUnit(v))
}

// Link builds the storefront URL for a variant.
func Link(ctx ShopContext, p *Product, v *Variant) string {
	domain := normalizeDomain(ctx.Domain)
	handle := p.Fields.Str("handle")
	return fmt.Sprintf("https://%s/products/%s?variant=%d", domain, handle, v.ID)
}

// normalizeDomain strips a leading www. and re-prepends it for apex domains
// (hosts with fewer than two dots).
func normalizeDomain(domain string) string {
	trimmed := strings.TrimPrefix(domain, "www.")
	if strings.Count(trimmed, ".") < 2 {
		return "www." + trimmed
	}
	return trimmed
}

// GMCTransitionID renders the Google Merchant Center transition identifier.
func GMCTransitionID(ctx ShopContext, v *Variant) string {
	return fmt.Sprintf("shopify_%s_%d_%d", ctx.CountryCode, v.ProductID, v.ID)
}

// ImageLink is the variant's own image URL when one is set.
func ImageLink(v *Variant) string {
	return v.Fields.StrAt("image", "url")
}

// AdditionalVariantImageLinks collects product media attached to the variant
// either explicitly (variant_ids) or via a color hint in the alt text.
// Results are comma-joined and de-duplicated.
func AdditionalVariantImageLinks(p *Product, v *Variant) string {
	color := selectedOptionValue(v, "color")
	seen := map[string]struct{}{}
	var out []string

	for _, entry := range p.Fields.List("media") {
		media, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		bag := Bag(media)
		url := bag.Str("url")
		if url == "" {
			continue
		}
		if !mediaMatchesVariant(bag, v.ID, color) {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return strings.Join(out, ",")
}

func mediaMatchesVariant(media Bag, variantID int64, color string) bool {
	for _, raw := range media.List("variantIds") {
		if (Bag{"v": raw}).Int("v") == variantID {
			return true
		}
	}
	if color == "" {
		return false
	}
	alt := strings.ToLower(media.Str("altText"))
	lowered := strings.ToLower(color)
	return strings.Contains(alt, "color-"+lowered) || strings.Contains(alt, lowered)
}

func selectedOptionValue(v *Variant, name string) string {
	for _, raw := range v.Fields.List("selectedOptions") {
		option, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		bag := Bag(option)
		if strings.EqualFold(bag.Str("name"), name) {
			return bag.Str("value")
		}
	}
	return ""
}

// VariantNames maps each option name to the variant's selected value.
func VariantNames(v *Variant) map[string]string {
	names := map[string]string{}
	for _, raw := range v.Fields.List("selectedOptions") {
		option, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		bag := Bag(option)
		if name := bag.Str("name"); name != "" {
			names[name] = bag.Str("value")
		}
	}
	return names
}

// VariantNamesJSON renders VariantNames as a JSON object. The object form is
// forced even when empty.
func VariantNamesJSON(v *Variant) string {
	encoded, err := json.Marshal(VariantNames(v))
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// BoolString renders a boolean field as "true"/"false".
func BoolString(b Bag, key string) string {
	if b.Bool(key) {
		return "true"
	}
	return "false"
}

// PublishedStatus is "published" iff publishedAt is non-null.
func PublishedStatus(p *Product) string {
	if explicit := p.Fields.Str("publishedStatus"); explicit != "" {
		return explicit
	}
	if p.Fields.Str("publishedAt") != "" {
		return "published"
	}
	return "unpublished"
}

// FulfillmentService resolves the variant's fulfillment service column. The
// legacy behavior reports the raw service handle; the newer one collapses
// third-party services to "manual" unless inventory is stocked there.
func FulfillmentService(ctx ShopContext, v *Variant) string {
	service := v.Fields.StrAt("fulfillmentService", "handle")
	if service == "" {
		service = "manual"
	}
	if ctx.LegacyFulfillmentService {
		return service
	}
	if service != "manual" && !v.Fields.Bool("__stocked_at_service") {
		return "manual"
	}
	return service
}

// InventoryManagement reports who tracks the variant's inventory.
func InventoryManagement(v *Variant) string {
	if explicit := v.Fields.Str("inventoryManagement"); explicit != "" {
		return strings.ToLower(explicit)
	}
	if item := v.Fields.Map("inventoryItem"); item != nil && item.Bool("tracked") {
		return "shopify"
	}
	return ""
}

// UnitCost renders the variant's unit cost amount using decimal semantics so
// trailing zeros from the API survive comparisons.
func UnitCost(v *Variant) string {
	amount := v.Fields.StrAt("inventoryItem", "unitCost", "amount")
	if amount == "" {
		return ""
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return amount
	}
	return parsed.String()
}
