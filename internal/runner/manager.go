// Package runner orchestrates a full export run: preflight, the serial pull
// phase, and the streaming join that turns staged module tables into output
// rows.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/modules"
	"github.com/feedrail/shopfeed/internal/output"
	"github.com/feedrail/shopfeed/internal/parallel"
	"github.com/feedrail/shopfeed/internal/settings"
	"github.com/feedrail/shopfeed/internal/shopify"
	"github.com/feedrail/shopfeed/internal/store"
	"github.com/feedrail/shopfeed/pkg/config"
	"github.com/feedrail/shopfeed/pkg/db"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"github.com/feedrail/shopfeed/pkg/metrics"
	"go.uber.org/multierr"
)

// Manager drives one export run end to end. It is single-use: build one per
// run.
type Manager struct {
	cfg      *config.Config
	settings *settings.Settings
	log      *logger.Logger
	metrics  *metrics.PullMetrics

	registry []modules.Module
	stats    map[string]*modules.PullStats
}

// New builds a run manager for the parsed settings.
func New(cfg *config.Config, s *settings.Settings, log *logger.Logger, m *metrics.PullMetrics) *Manager {
	return &Manager{
		cfg:      cfg,
		settings: s,
		log:      log,
		metrics:  m,
		stats:    map[string]*modules.PullStats{},
	}
}

// Stats returns the per-module pull counters recorded so far.
func (mgr *Manager) Stats() map[string]*modules.PullStats {
	return mgr.stats
}

// Run executes the export and streams rows into sink. Intermediate tables
// are dropped on every exit path unless the debug flag keeps them.
func (mgr *Manager) Run(ctx context.Context, sink output.RowSink) (err error) {
	rc, cleanup, err := mgr.prepare(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cleanup(ctx))
	}()

	if err := mgr.register(); err != nil {
		return err
	}
	if err := mgr.preflightScopes(rc); err != nil {
		return err
	}
	if err := mgr.pull(ctx, rc); err != nil {
		return err
	}
	return mgr.retrieveOutput(ctx, rc, sink)
}

// prepare runs the mandatory preflight and opens the intermediate store.
func (mgr *Manager) prepare(ctx context.Context) (*modules.RunContext, func(context.Context) error, error) {
	client := shopify.NewClient(mgr.cfg.Shopify, mgr.settings.ShopName, mgr.settings.OAuthToken, mgr.log)

	shop, err := client.GetShop(ctx)
	if err != nil {
		return nil, nil, err
	}
	scopes, err := client.AccessScopes(ctx)
	if err != nil {
		return nil, nil, err
	}

	productFilters := mgr.settings.ProductFilters
	countParams := map[string]string{}
	if status, ok := productFilters["published_status"]; ok {
		countParams["published_status"] = status
	} else {
		countParams["published_status"] = "published"
	}
	productCount, err := client.ProductCount(ctx, countParams)
	if err != nil {
		return nil, nil, err
	}

	taxRates := mgr.settings.TaxRates
	if taxRates == "" {
		// Country tax rates are only needed by tax-aware feeds; a failed
		// fetch is a warning, not a fatal.
		fetched, err := client.CountryTaxRates(ctx)
		if err != nil {
			if mgr.log != nil {
				mgr.log.Warn(ctx, fmt.Sprintf("tax rates unavailable: %v", err))
			}
		} else {
			taxRates = fetched
		}
	}

	dbClient, err := db.New(ctx, mgr.cfg.DB, mgr.settings.TablePrefix(), mgr.log)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(dbClient, mgr.settings.TablePrefix(), mgr.log)

	rc := &modules.RunContext{
		Settings: mgr.settings,
		Store:    st,
		Client:   client,
		Log:      mgr.log,
		Metrics:  mgr.metrics,
		Executor: parallel.NewExecutor(mgr.log),
		Shop:     shop,
		Scopes:   scopes,
		ShopCtx: fields.ShopContext{
			Domain:                   shopDomain(shop),
			CountryCode:              shop.CountryCode,
			CreatedAt:                shop.CreatedTime(),
			TaxRatesJSON:             taxRates,
			ComparePriceOverride:     mgr.settings.ComparePriceOverride,
			UseGMCTransitionID:       mgr.settings.UseGMCTransitionID,
			LegacyFulfillmentService: mgr.settings.UseLegacyFulfillmentService,
		},
		ProductCount: productCount,
	}

	cleanup := func(cleanupCtx context.Context) error {
		if mgr.settings.Debug || mgr.cfg.Export.KeepTables {
			return st.Close(true)
		}
		dropErr := st.DropAll(cleanupCtx)
		return multierr.Append(dropErr, st.Close(false))
	}
	return rc, cleanup, nil
}

func shopDomain(shop shopify.Shop) string {
	if shop.Domain != "" {
		return shop.Domain
	}
	return shop.MyshopifyDomain
}

// register instantiates the active modules in registration order. The
// products module is always present.
func (mgr *Manager) register() error {
	products, err := modules.NewProducts(mgr.settings.ProductFilters)
	if err != nil {
		return err
	}
	mgr.registry = append(mgr.registry, products)

	if mgr.settings.HasModule(settings.ModuleInventoryItem) {
		withLevels := mgr.settings.HasModule(settings.ModuleInventoryLevel)
		mgr.registry = append(mgr.registry, modules.NewInventories(withLevels))
	}
	if mgr.settings.HasModule(settings.ModuleMeta) {
		meta, err := modules.NewMetafields(mgr.settings.MetaFilters)
		if err != nil {
			return err
		}
		mgr.registry = append(mgr.registry, meta)
	}
	if mgr.settings.HasModule(settings.ModuleTranslations) {
		mgr.registry = append(mgr.registry, modules.NewTranslations(mgr.settings.TranslationLocales))
	}
	if mgr.settings.HasModule(settings.ModuleCollections) {
		withMeta := mgr.settings.HasModule(settings.ModuleCollectionsMeta)
		mgr.registry = append(mgr.registry, modules.NewCollections(withMeta))
	}
	return nil
}

// preflightScopes verifies every active module's required scopes up front so
// a missing grant fails before any pull work starts.
func (mgr *Manager) preflightScopes(rc *modules.RunContext) error {
	need := map[string]struct{}{}
	for _, mod := range mgr.registry {
		for _, scope := range mod.RequiredScopes() {
			// Publication and translation reads degrade gracefully when the
			// scope is absent.
			if scope == "read_publications" || scope == "read_translations" {
				continue
			}
			need[scope] = struct{}{}
		}
	}
	required := make([]string, 0, len(need))
	for scope := range need {
		required = append(required, scope)
	}
	return shopify.RequireScopes(rc.Scopes, required)
}

// pull executes every registered module serially. A module failure aborts
// the run.
func (mgr *Manager) pull(ctx context.Context, rc *modules.RunContext) error {
	for _, mod := range mgr.registry {
		stats := &modules.PullStats{}
		mgr.stats[mod.Name()] = stats

		mctx := ctx
		if mgr.log != nil {
			mctx = mgr.log.WithModule(ctx, mod.Name())
			mgr.log.Info(mctx, "pull started")
		}
		start := time.Now()
		err := mod.Run(mctx, rc, stats)
		mgr.metrics.ObserveDuration(mod.Name(), time.Since(start))
		mgr.metrics.AddProducts(mod.Name(), stats.Products)
		mgr.metrics.AddVariants(mod.Name(), stats.Variants)
		mgr.metrics.AddPages(mod.Name(), stats.Pages)
		mgr.metrics.AddWarnings(mod.Name(), stats.Warnings)
		if err != nil {
			stats.Errors++
			mgr.metrics.IncFailure(mod.Name())
			return pkgerrors.Wrap(pkgerrors.CodeOf(err), err, fmt.Sprintf("module %s failed", mod.Name())).WithTag(mod.Name())
		}
		if mgr.log != nil {
			mgr.log.Info(mctx, fmt.Sprintf("pull finished: %d products, %d variants", stats.Products, stats.Variants))
		}
	}
	return nil
}

// primary returns the highest-precedence registered module.
func (mgr *Manager) primary() modules.Module {
	byName := map[string]modules.Module{}
	for _, mod := range mgr.registry {
		byName[mod.Name()] = mod
	}
	for _, name := range modules.Precedence {
		if mod, ok := byName[name]; ok {
			return mod
		}
	}
	return mgr.registry[0]
}

// retrieveOutput seals the template and streams the joined rows.
func (mgr *Manager) retrieveOutput(ctx context.Context, rc *modules.RunContext, sink output.RowSink) error {
	template := output.NewTemplate()
	for _, mod := range mgr.registry {
		template.AddAll(mod.Columns(rc)...)
	}
	template.Seal()

	if err := sink.WriteHeader(template.Columns()); err != nil {
		return err
	}

	primary := mgr.primary()
	renderer := newRenderer(rc, template)

	err := primary.Products(ctx, rc, func(product *fields.Product) error {
		if err := mgr.enrich(ctx, rc, primary, product); err != nil {
			return err
		}
		return renderer.emit(product, sink)
	})
	if err != nil {
		return err
	}
	return sink.Close()
}

// enrich asks the non-primary modules to add their data. The products
// module skips self-enrichment when primary because its iterator already
// yields full bags; iterator-only primaries (inventory, meta, ...) still
// enrich themselves.
func (mgr *Manager) enrich(ctx context.Context, rc *modules.RunContext, primary modules.Module, product *fields.Product) error {
	for _, mod := range mgr.registry {
		if mod == primary && mod.Name() == modules.NameProducts {
			continue
		}
		if err := mod.AddToProduct(ctx, rc, product); err != nil {
			return err
		}
		for _, variant := range product.Variants {
			if err := mod.AddToVariant(ctx, rc, variant); err != nil {
				return err
			}
		}
	}
	return nil
}
