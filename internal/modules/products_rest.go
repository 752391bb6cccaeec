package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/feedrail/shopfeed/internal/chunker"
	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/parallel"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/ratelimit"
	xrate "golang.org/x/time/rate"
)

// runREST pulls the catalog through the paginated REST listing instead of a
// bulk operation. The activity window is sliced into date ranges and each
// range is walked by one worker with its own HTTP client and token bucket.
func (m *Products) runREST(ctx context.Context, rc *RunContext, stats *PullStats) error {
	ranges, err := m.dateRanges(ctx, rc)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return nil
	}

	rate := workerRate(rc.Client.CallLimit())
	modifier := rateModifier(rc.ProductCount)
	threads := restThreadCount(rate, len(ranges))

	jobs := make([]parallel.Job, 0, len(ranges))
	for _, rng := range ranges {
		jobs = append(jobs, parallel.Job{
			Name:    fmt.Sprintf("products-rest %s", rng.Start.Format("2006-01-02")),
			Payload: rng,
		})
	}

	child := func(ctx context.Context, job parallel.Job) ([]byte, error) {
		rng := job.Payload.(chunker.Range)
		return m.pullRange(ctx, rc, rng, rate, modifier)
	}
	parent := func(output []byte, job parallel.Job) error {
		return m.ingestRange(ctx, rc, stats, output)
	}

	limiter := xrate.NewLimiter(xrate.Limit(rate), 1)
	if err := rc.Executor.DoParallel(ctx, jobs, threads, child, parent, limiter); err != nil {
		return err
	}
	return nil
}

// restPage is one worker's serialized result: the raw product objects of
// every page in its range, plus the page count for stats.
type restPage struct {
	Pages    int               `json:"pages"`
	Products []json.RawMessage `json:"products"`
}

// pullRange fetches every product page inside one date range. The worker
// clones the client so no transport state is shared with the coordinator.
func (m *Products) pullRange(ctx context.Context, rc *RunContext, rng chunker.Range, rate, modifier float64) ([]byte, error) {
	client := rc.Client.Clone()
	bucket := ratelimit.New(rate, 1)
	pager := newPaginator(client, bucket, modifier)

	params := m.filters.RESTParams()
	delete(params, "limit")
	params["created_at_min"] = rng.Start.UTC().Format(time.RFC3339)
	params["created_at_max"] = rng.End.UTC().Format(time.RFC3339)
	params["order"] = "created_at ASC"

	var result restPage
	pages, err := pager.fetchPages(ctx, "products.json", params, func(body []byte) error {
		var page struct {
			Products []json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding products page")
		}
		result.Products = append(result.Products, page.Products...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Pages = pages

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding worker output")
	}
	return encoded, nil
}

// ingestRange runs in the coordinator: it normalizes each REST product to
// the canonical field shape and stages it.
func (m *Products) ingestRange(ctx context.Context, rc *RunContext, stats *PullStats, output []byte) error {
	var result restPage
	if err := json.Unmarshal(output, &result); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding worker output")
	}
	stats.Pages += int64(result.Pages)

	prodIns := rc.Store.NewInserter(m.Name(), store.KindProd, store.DupUpdate)
	varsIns := rc.Store.NewInserter(m.Name(), store.KindVars, store.DupUpdate)

	for _, raw := range result.Products {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding rest product")
		}
		product := restProductToBag(fields.Bag(decoded))
		if product == nil {
			stats.Warnings++
			continue
		}
		m.recordOptionNames(product)

		if err := prodIns.Add(ctx, product.ID, 0, product.Fields.JSON()); err != nil {
			return err
		}
		stats.Products++
		for _, v := range product.Variants {
			if err := varsIns.Add(ctx, v.ID, product.ID, v.Fields.JSON()); err != nil {
				return err
			}
			stats.Variants++
		}
	}
	if err := prodIns.Flush(ctx); err != nil {
		return err
	}
	return varsIns.Flush(ctx)
}

// restProductToBag converts one REST (snake_case) product document into the
// canonical field shape the derivations and the renderer expect.
func restProductToBag(raw fields.Bag) *fields.Product {
	id := raw.Int("id")
	if id <= 0 {
		return nil
	}
	product := fields.NewProduct(id)
	product.Fields.Set("id", fmt.Sprintf("gid://shopify/Product/%d", id))
	product.Fields.Set("title", raw.Str("title"))
	product.Fields.Set("descriptionHtml", raw.Str("body_html"))
	product.Fields.Set("vendor", raw.Str("vendor"))
	product.Fields.Set("productType", raw.Str("product_type"))
	product.Fields.Set("handle", raw.Str("handle"))
	product.Fields.Set("status", strings.ToUpper(raw.Str("status")))
	product.Fields.Set("publishedAt", raw.Str("published_at"))
	product.Fields.Set("createdAt", raw.Str("created_at"))
	product.Fields.Set("tags", splitTags(raw.Str("tags")))
	if options := raw.List("options"); options != nil {
		product.Fields.Set("options", options)
	}

	imagesByID := map[int64]fields.Bag{}
	var media []any
	for _, entry := range raw.List("images") {
		image, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		ib := fields.Bag(image)
		normalized := fields.Bag{
			"url":     ib.Str("src"),
			"altText": ib.Str("alt"),
			"width":   image["width"],
			"height":  image["height"],
		}
		if ids := ib.List("variant_ids"); len(ids) > 0 {
			normalized.Set("variantIds", ids)
		}
		media = append(media, map[string]any(normalized))
		imagesByID[ib.Int("id")] = normalized
	}
	product.Fields.Set("media", media)

	optionNames := restOptionNames(raw)
	for _, entry := range raw.List("variants") {
		variant, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		product.AddVariant(restVariantToBag(fields.Bag(variant), optionNames, imagesByID))
	}
	return product
}

func restVariantToBag(raw fields.Bag, optionNames []string, imagesByID map[int64]fields.Bag) *fields.Variant {
	v := fields.NewVariant(raw.Int("id"))
	v.Fields.Set("id", fmt.Sprintf("gid://shopify/ProductVariant/%d", v.ID))
	v.Fields.Set("title", raw.Str("title"))
	v.Fields.Set("sku", raw.Str("sku"))
	v.Fields.Set("barcode", raw.Str("barcode"))
	v.Fields.Set("price", raw.Str("price"))
	v.Fields.Set("compareAtPrice", raw.Str("compare_at_price"))
	v.Fields.Set("position", raw["position"])
	v.Fields.Set("taxable", raw["taxable"])
	v.Fields.Set("inventoryQuantity", raw["inventory_quantity"])
	v.Fields.Set("inventoryPolicy", raw.Str("inventory_policy"))
	v.Fields.Set("inventoryManagement", raw.Str("inventory_management"))
	v.Fields.Set("fulfillmentService", map[string]any{"handle": raw.Str("fulfillment_service")})

	item := fields.Bag{
		"tracked":          raw.Str("inventory_management") != "",
		"requiresShipping": raw.Bool("requires_shipping"),
	}
	if weight := raw.Str("weight"); weight != "" {
		item.Set("measurement", map[string]any{
			"weight": map[string]any{
				"value": raw["weight"],
				"unit":  restWeightUnit(raw.Str("weight_unit")),
			},
		})
	}
	v.Fields.Set("inventoryItem", map[string]any(item))

	var selected []any
	for i, name := range optionNames {
		value := raw.Str(fmt.Sprintf("option%d", i+1))
		if value == "" {
			continue
		}
		selected = append(selected, map[string]any{"name": name, "value": value})
	}
	v.Fields.Set("selectedOptions", selected)

	if image, ok := imagesByID[raw.Int("image_id")]; ok {
		v.Fields.Set("image", map[string]any{"url": image.Str("url")})
	}
	return v
}

func restOptionNames(product fields.Bag) []string {
	var names []string
	for _, entry := range product.List("options") {
		option, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		names = append(names, fields.Bag(option).Str("name"))
	}
	return names
}

func restWeightUnit(unit string) string {
	switch unit {
	case "g":
		return "GRAMS"
	case "oz":
		return "OUNCES"
	case "lb":
		return "POUNDS"
	case "kg":
		return "KILOGRAMS"
	}
	return ""
}

func splitTags(tags string) []any {
	if strings.TrimSpace(tags) == "" {
		return []any{}
	}
	parts := strings.Split(tags, ",")
	out := make([]any, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
