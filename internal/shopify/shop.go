package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// Shop is the subset of shop.json the exporter needs.
type Shop struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	MyshopifyDomain string `json:"myshopify_domain"`
	CountryCode     string `json:"country_code"`
	Currency        string `json:"currency"`
	PlanName        string `json:"plan_name"`
	CreatedAt       string `json:"created_at"`
}

// CreatedTime parses the shop creation timestamp, falling back to a year ago
// when absent or malformed.
func (s Shop) CreatedTime() time.Time {
	if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
		return t
	}
	return time.Now().AddDate(-1, 0, 0)
}

// GetShop fetches shop.json. An empty payload is fatal: nothing downstream
// can work without the shop context.
func (c *Client) GetShop(ctx context.Context) (Shop, error) {
	body, err := c.Request(ctx, http.MethodGet, "shop.json", nil, nil)
	if err != nil {
		return Shop{}, err
	}
	var wrapper struct {
		Shop Shop `json:"shop"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return Shop{}, pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding shop.json")
	}
	if wrapper.Shop.ID == 0 && wrapper.Shop.MyshopifyDomain == "" {
		return Shop{}, pkgerrors.New(pkgerrors.CodeAPI, "empty shop payload")
	}
	return wrapper.Shop, nil
}

// ProductCount fetches products/count.json under the given filter params.
func (c *Client) ProductCount(ctx context.Context, params map[string]string) (int, error) {
	body, err := c.Request(ctx, http.MethodGet, "products/count.json", params, nil)
	if err != nil {
		return 0, err
	}
	var wrapper struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding products/count.json")
	}
	return wrapper.Count, nil
}

// AccessScopes fetches the scopes granted to the OAuth token.
func (c *Client) AccessScopes(ctx context.Context) ([]string, error) {
	body, err := c.Request(ctx, http.MethodGet, "/admin/oauth/access_scopes.json", nil, nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		AccessScopes []struct {
			Handle string `json:"handle"`
		} `json:"access_scopes"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding access_scopes.json")
	}
	scopes := make([]string, 0, len(wrapper.AccessScopes))
	for _, scope := range wrapper.AccessScopes {
		scopes = append(scopes, scope.Handle)
	}
	return scopes, nil
}

// RequireScopes reports the scopes in need that are absent from have.
func RequireScopes(have, need []string) error {
	haveSet := make(map[string]struct{}, len(have))
	for _, s := range have {
		haveSet[s] = struct{}{}
	}
	var missing []string
	for _, s := range need {
		if _, ok := haveSet[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodePermission,
			fmt.Sprintf("missing access scopes: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// CountryTaxRates fetches countries.json and renders a country_code to
// tax-rate JSON document for the shop context.
func (c *Client) CountryTaxRates(ctx context.Context) (string, error) {
	body, err := c.Request(ctx, http.MethodGet, "countries.json", nil, nil)
	if err != nil {
		return "", err
	}
	var wrapper struct {
		Countries []struct {
			Code string  `json:"code"`
			Tax  float64 `json:"tax"`
		} `json:"countries"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding countries.json")
	}
	rates := make(map[string]float64, len(wrapper.Countries))
	for _, country := range wrapper.Countries {
		rates[country.Code] = country.Tax
	}
	encoded, err := json.Marshal(rates)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding tax rates")
	}
	return string(encoded), nil
}
