package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/feedrail/shopfeed/internal/shopify"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// Listing is the diagnostic document produced by request_type=list. It lets
// a caller verify credentials and shape before committing to a full export.
type Listing struct {
	Shop struct {
		Name            string `json:"name"`
		Domain          string `json:"domain"`
		MyshopifyDomain string `json:"myshopify_domain"`
		CountryCode     string `json:"country_code"`
		Currency        string `json:"currency"`
		PlanName        string `json:"plan_name"`
		CreatedAt       string `json:"created_at"`
	} `json:"shop"`
	Permissions  []string        `json:"permissions"`
	ProductCount int             `json:"product_count"`
	Sample       json.RawMessage `json:"sample,omitempty"`
}

// List writes the diagnostic JSON document to w instead of running a full
// export.
func (mgr *Manager) List(ctx context.Context, w io.Writer) error {
	client := shopify.NewClient(mgr.cfg.Shopify, mgr.settings.ShopName, mgr.settings.OAuthToken, mgr.log)

	shop, err := client.GetShop(ctx)
	if err != nil {
		return err
	}
	scopes, err := client.AccessScopes(ctx)
	if err != nil {
		return err
	}
	count, err := client.ProductCount(ctx, map[string]string{"published_status": "published"})
	if err != nil {
		return err
	}

	var listing Listing
	listing.Shop.Name = shop.Name
	listing.Shop.Domain = shop.Domain
	listing.Shop.MyshopifyDomain = shop.MyshopifyDomain
	listing.Shop.CountryCode = shop.CountryCode
	listing.Shop.Currency = shop.Currency
	listing.Shop.PlanName = shop.PlanName
	listing.Shop.CreatedAt = shop.CreatedAt
	listing.Permissions = scopes
	listing.ProductCount = count

	if sample, err := sampleProduct(ctx, client); err == nil {
		listing.Sample = sample
	} else if mgr.log != nil {
		mgr.log.Warn(ctx, "sample product unavailable: "+err.Error())
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(listing); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding listing")
	}
	return nil
}

// sampleProduct fetches the first product (with its first variant inline)
// from the REST listing.
func sampleProduct(ctx context.Context, client *shopify.Client) (json.RawMessage, error) {
	body, err := client.Request(ctx, http.MethodGet, "products.json", map[string]string{"limit": "1"}, nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding sample product")
	}
	if len(page.Products) == 0 {
		return nil, nil
	}
	return page.Products[0], nil
}
