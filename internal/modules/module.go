// Package modules implements the per-category pullers (products, metafields,
// collections, translations, inventory) plus the REST fallback for product
// listing. Each module pulls its data into the intermediate store during the
// pull phase and later contributes columns to the joined output.
package modules

import (
	"context"
	"encoding/json"

	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/parallel"
	"github.com/feedrail/shopfeed/internal/settings"
	"github.com/feedrail/shopfeed/internal/shopify"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"github.com/feedrail/shopfeed/pkg/metrics"
)

// Module names as registered with the run manager. The inventory module
// covers both the inventory_item and inventory_level data types.
const (
	NameProducts        = "products"
	NameMeta            = "meta"
	NameCollections     = "collections"
	NameCollectionsMeta = "collections_meta"
	NameInventory       = "inventory"
	NameTranslations    = "translations"
)

// Precedence orders modules from highest to lowest; the highest-precedence
// active module becomes the primary module whose product iterator drives
// output.
var Precedence = []string{
	NameInventory,
	NameProducts,
	NameMeta,
	NameTranslations,
	NameCollections,
	NameCollectionsMeta,
}

// PullStats counts one module's pull-phase work. Updated only from the
// coordinator goroutine.
type PullStats struct {
	Products int64
	Variants int64
	Pages    int64
	Warnings int64
	Errors   int64
}

// RunContext carries the per-run collaborators every module needs.
type RunContext struct {
	Settings *settings.Settings
	Store    *store.Store
	Client   *shopify.Client
	Log      *logger.Logger
	Metrics  *metrics.PullMetrics
	Executor *parallel.Executor

	Shop         shopify.Shop
	ShopCtx      fields.ShopContext
	Scopes       []string
	ProductCount int
}

// HasScope reports whether the run's token carries the scope.
func (rc *RunContext) HasScope(scope string) bool {
	for _, s := range rc.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Module is one pull+join unit. Run pulls into the intermediate store;
// Columns reports the output columns the module contributes (valid only
// after Run, since some columns are discovered while parsing); Products
// iterates the module's staged products when it is primary; AddToProduct
// and AddToVariant enrich rows driven by another primary module.
type Module interface {
	Name() string
	RequiredScopes() []string
	Run(ctx context.Context, rc *RunContext, stats *PullStats) error
	Columns(rc *RunContext) []string
	Products(ctx context.Context, rc *RunContext, fn func(*fields.Product) error) error
	AddToProduct(ctx context.Context, rc *RunContext, p *fields.Product) error
	AddToVariant(ctx context.Context, rc *RunContext, v *fields.Variant) error
}

// decodeLine decodes one bulk JSONL line into a field bag plus its parent
// GID reference, when present.
func decodeLine(line []byte) (fields.Bag, string, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeParse, err, "malformed jsonl line")
	}
	bag := fields.Bag(raw)
	parent := bag.Str("__parentId")
	delete(bag, "__parentId")
	return bag, parent, nil
}

// lineKind classifies a bulk line by its GID type. Lines without an id (the
// presentment price pairs) report an empty kind.
func lineKind(bag fields.Bag) (string, int64, error) {
	raw := bag.Str("id")
	if raw == "" {
		return "", 0, nil
	}
	gid, err := shopify.ParseGID(raw)
	if err != nil {
		return "", 0, err
	}
	return gid.Type, gid.ID, nil
}
