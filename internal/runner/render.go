package runner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/modules"
	"github.com/feedrail/shopfeed/internal/output"
)

// renderer turns enriched products into output rows. One row per variant,
// one row for a variant-less product, and one row per inventory level when
// the explode option is set.
type renderer struct {
	rc       *modules.RunContext
	template *output.Template
}

func newRenderer(rc *modules.RunContext, template *output.Template) *renderer {
	return &renderer{rc: rc, template: template}
}

func (r *renderer) emit(product *fields.Product, sink output.RowSink) error {
	if len(product.Variants) == 0 {
		row, err := r.renderRow(product, nil, nil)
		if err != nil {
			return err
		}
		return sink.WriteRow(row)
	}

	for _, variant := range product.Variants {
		levels := modules.Levels(variant)
		if r.rc.Settings.InventoryLevelExplode && len(levels) > 0 {
			for i := range levels {
				row, err := r.renderRow(product, variant, &levels[i])
				if err != nil {
					return err
				}
				if err := sink.WriteRow(row); err != nil {
					return err
				}
			}
			continue
		}
		row, err := r.renderRow(product, variant, nil)
		if err != nil {
			return err
		}
		if err := sink.WriteRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderRow(p *fields.Product, v *fields.Variant, level *modules.InventoryLevel) (output.Row, error) {
	row, err := r.template.NewRow()
	if err != nil {
		return output.Row{}, err
	}

	if v != nil {
		row.Set("id", strconv.FormatInt(v.ID, 10))
	} else {
		row.Set("id", strconv.FormatInt(p.ID, 10))
	}
	row.Set("item_group_id", strconv.FormatInt(p.ID, 10))

	r.renderProduct(row, p, v)
	if v != nil {
		r.renderVariant(row, p, v)
	}
	if level != nil {
		row.Set("inventory_level_location_id", strconv.FormatInt(level.LocationID, 10))
		row.Set("inventory_level_location_name", level.LocationName)
		row.Set("inventory_level_available", strconv.FormatInt(level.Available, 10))
	}

	r.copyRemaining(row, p, v)
	return row, nil
}

func (r *renderer) renderProduct(row output.Row, p *fields.Product, v *fields.Variant) {
	row.Set("title", p.Fields.Str("title"))
	row.Set("description", p.Fields.Str("descriptionHtml"))
	row.Set("vendor", p.Fields.Str("vendor"))
	row.Set("product_type", p.Fields.Str("productType"))
	row.Set("handle", p.Fields.Str("handle"))
	row.Set("status", strings.ToLower(p.Fields.Str("status")))
	row.Set("created_at", p.Fields.Str("createdAt"))
	row.Set("published_status", fields.PublishedStatus(p))
	row.Set("tags", joinList(p.Fields.List("tags"), ","))

	if v != nil {
		row.Set("link", fields.Link(r.rc.ShopCtx, p, v))
	} else {
		row.Set("link", productLink(r.rc.ShopCtx, p))
	}

	for _, name := range r.rc.Settings.ExtraParentFields {
		row.Set(name, p.Fields.Str(name))
	}
}

func (r *renderer) renderVariant(row output.Row, p *fields.Product, v *fields.Variant) {
	row.Set("variant_title", v.Fields.Str("title"))
	row.Set("sku", v.Fields.Str("sku"))
	row.Set("barcode", v.Fields.Str("barcode"))
	row.Set("position", v.Fields.Str("position"))

	row.Set("availability", fields.Availability(v))
	row.Set("price", fields.Price(r.rc.ShopCtx, v))
	row.Set("sale_price", fields.SalePrice(v))

	row.Set("weight", fields.Weight(v))
	row.Set("weight_unit", fields.WeightUnit(v))
	row.Set("shipping_weight", fields.ShippingWeight(v))
	row.Set("taxable", fields.BoolString(v.Fields, "taxable"))
	if item := v.Fields.Map("inventoryItem"); item != nil {
		row.Set("requires_shipping", fields.BoolString(item, "requiresShipping"))
	} else {
		row.Set("requires_shipping", "false")
	}

	row.Set("inventory_quantity", v.Fields.Str("inventoryQuantity"))
	row.Set("inventory_policy", strings.ToLower(v.Fields.Str("inventoryPolicy")))
	row.Set("inventory_management", fields.InventoryManagement(v))
	row.Set("fulfillment_service", fields.FulfillmentService(r.rc.ShopCtx, v))
	row.Set("unit_cost", fields.UnitCost(v))

	row.Set("image_link", imageLink(p, v))
	row.Set("additional_variant_image_link", fields.AdditionalVariantImageLinks(p, v))

	if r.rc.Settings.UseGMCTransitionID {
		row.Set("gmc_transition_id", fields.GMCTransitionID(r.rc.ShopCtx, v))
	}
	if r.rc.Settings.IncludePresentmentPrices {
		if prices := v.Fields.List("presentmentPrices"); len(prices) > 0 {
			if encoded, err := json.Marshal(prices); err == nil {
				row.Set("presentment_prices", string(encoded))
			}
		}
	}

	if r.rc.Settings.VariantNamesSplitColumns {
		for name, value := range fields.VariantNames(v) {
			row.Set(modules.OptionColumn(name), value)
		}
	} else {
		row.Set("variant_names", fields.VariantNamesJSON(v))
	}

	for _, name := range r.rc.Settings.ExtraVariantFields {
		row.Set(name, v.Fields.Str(name))
	}
}

// copyRemaining fills columns populated by enrichment modules directly into
// the field bags under their output names (metafields, collections,
// translations, inventory). Variant values win over product values; cells
// already rendered are left alone.
func (r *renderer) copyRemaining(row output.Row, p *fields.Product, v *fields.Variant) {
	for _, column := range r.template.Columns() {
		if row.Get(column) != "" {
			continue
		}
		if v != nil && v.Fields.Has(column) {
			row.Set(column, v.Fields.Str(column))
			continue
		}
		if p.Fields.Has(column) {
			row.Set(column, p.Fields.Str(column))
		}
	}
}

func imageLink(p *fields.Product, v *fields.Variant) string {
	if link := fields.ImageLink(v); link != "" {
		return link
	}
	for _, entry := range p.Fields.List("media") {
		media, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if url := fields.Bag(media).Str("url"); url != "" {
			return url
		}
	}
	return ""
}

func productLink(ctx fields.ShopContext, p *fields.Product) string {
	link := fields.Link(ctx, p, &fields.Variant{})
	if idx := strings.Index(link, "?variant="); idx >= 0 {
		return link[:idx]
	}
	return link
}

func joinList(list []any, sep string) string {
	parts := make([]string, 0, len(list))
	for _, entry := range list {
		parts = append(parts, fmt.Sprintf("%v", entry))
	}
	return strings.Join(parts, sep)
}
