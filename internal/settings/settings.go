// Package settings parses the flat option map one export run is invoked
// with, translating legacy aliases and exposing typed fields.
package settings

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// Module names accepted in data_types.
const (
	ModuleProducts        = "products"
	ModuleMeta            = "meta"
	ModuleCollections     = "collections"
	ModuleCollectionsMeta = "collections_meta"
	ModuleInventoryItem   = "inventory_item"
	ModuleInventoryLevel  = "inventory_level"
	ModuleTranslations    = "translations"
)

const (
	RequestTypeGet  = "get"
	RequestTypeList = "list"
)

var shopNameRegex = regexp.MustCompile(`^[-_A-Za-z0-9]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("shopname", func(fl validator.FieldLevel) bool {
		return shopNameRegex.MatchString(fl.Field().String())
	})
	return v
}

// Settings is the typed view of a run's options.
type Settings struct {
	ShopName   string `validate:"required,shopname"`
	OAuthToken string `validate:"required"`

	DataTypes      []string
	ProductFilters map[string]string
	MetaFilters    map[string]string

	MetafieldsSplitColumns      bool
	VariantNamesSplitColumns    bool
	InventoryLevelExplode       bool
	IncludePresentmentPrices    bool
	ComparePriceOverride        bool
	UseGMCTransitionID          bool
	UseMetafieldNamespaces      bool
	UseLegacyFulfillmentService bool
	ForceBulkPieces             bool
	ProductsViaREST             bool
	UseProxy                    bool
	Debug                       bool

	Delimiter       string
	Enclosure       string
	Escape          string
	StripCharacters string
	TaxRates        string
	Fields          string
	FieldMapping    string
	RequestType     string `validate:"omitempty,oneof=get list"`

	ExtraParentFields  []string
	ExtraVariantFields []string
	ExtraOptions       []string
	TranslationLocales []string

	tablePrefix string
}

// Parse builds Settings from the flat option map. Unknown boolean module
// toggles are folded into DataTypes, legacy password substitutes for the
// OAuth token, and option implications are resolved.
func Parse(options map[string]string) (*Settings, error) {
	s := &Settings{
		ProductFilters:           map[string]string{},
		MetaFilters:              map[string]string{},
		IncludePresentmentPrices: true,
		ComparePriceOverride:     true,
		Delimiter:                ",",
		Enclosure:                `"`,
		Escape:                   `"`,
		RequestType:              RequestTypeGet,
	}

	s.ShopName = options["shop_name"]
	s.OAuthToken = options["oauth_token"]
	if s.OAuthToken == "" {
		// Legacy private-app installs sent the token as "password".
		s.OAuthToken = options["password"]
	}

	dataTypes := map[string]struct{}{}
	if raw := options["data_types"]; raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !isKnownModule(name) {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown data type %q", name))
			}
			dataTypes[name] = struct{}{}
		}
	}

	// Legacy boolean toggles merge into data_types.
	for option, module := range map[string]string{
		"meta":             ModuleMeta,
		"collections":      ModuleCollections,
		"collections_meta": ModuleCollectionsMeta,
		"inventory_level":  ModuleInventoryLevel,
		"inventory_item":   ModuleInventoryItem,
	} {
		if parseBool(options[option], false) {
			dataTypes[module] = struct{}{}
		}
	}

	if _, ok := dataTypes[ModuleCollectionsMeta]; ok {
		dataTypes[ModuleCollections] = struct{}{}
	}
	if _, ok := dataTypes[ModuleInventoryLevel]; ok {
		dataTypes[ModuleInventoryItem] = struct{}{}
	}
	if len(dataTypes) == 0 {
		dataTypes[ModuleProducts] = struct{}{}
	}
	dataTypes[ModuleProducts] = struct{}{}
	s.DataTypes = sortedModules(dataTypes)

	s.MetafieldsSplitColumns = parseBool(options["metafields_split_columns"], false)
	s.VariantNamesSplitColumns = parseBool(options["variant_names_split_columns"], false)
	s.InventoryLevelExplode = parseBool(options["inventory_level_explode"], false)
	s.IncludePresentmentPrices = parseBool(options["include_presentment_prices"], true)
	s.ComparePriceOverride = parseBool(options["compare_price_override"], true)
	s.UseGMCTransitionID = parseBool(options["use_gmc_transition_id"], false)
	s.UseMetafieldNamespaces = parseBool(options["use_metafield_namespaces"], false)
	s.UseLegacyFulfillmentService = parseBool(options["use_legacy_fulfillment_service"], false)
	s.ForceBulkPieces = parseBool(options["force_bulk_pieces"], false)
	s.ProductsViaREST = parseBool(options["products_via_rest"], false)
	s.UseProxy = parseBool(options["use_proxy"], false)
	s.Debug = parseBool(options["debug"], false)

	if v, ok := options["delimiter"]; ok && v != "" {
		s.Delimiter = v
	}
	if v, ok := options["enclosure"]; ok && v != "" {
		s.Enclosure = v
	}
	if v, ok := options["escape"]; ok && v != "" {
		s.Escape = v
	}
	s.StripCharacters = options["strip_characters"]
	s.TaxRates = options["tax_rates"]
	s.Fields = options["fields"]
	s.FieldMapping = options["field_mapping"]
	if v := options["request_type"]; v != "" {
		s.RequestType = v
	}

	s.ExtraParentFields = splitCSV(options["extra_parent_fields"])
	s.ExtraVariantFields = splitCSV(options["extra_variant_fields"])
	s.ExtraOptions = splitCSV(options["extra_options"])
	s.TranslationLocales = splitCSV(options["translation_locales"])
	if len(s.TranslationLocales) == 0 {
		s.TranslationLocales = []string{"en"}
	}

	for key, value := range options {
		switch {
		case strings.HasPrefix(key, "product_filters[") && strings.HasSuffix(key, "]"):
			s.ProductFilters[key[len("product_filters["):len(key)-1]] = value
		case strings.HasPrefix(key, "meta_filters[") && strings.HasSuffix(key, "]"):
			s.MetaFilters[key[len("meta_filters["):len(key)-1]] = value
		}
	}

	if err := validate.Struct(s); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, validationMessage(err))
	}

	s.tablePrefix = derivePrefix(s.ShopName, time.Now())
	return s, nil
}

// HasModule reports whether the given module is requested.
func (s *Settings) HasModule(name string) bool {
	for _, m := range s.DataTypes {
		if m == name {
			return true
		}
	}
	return false
}

// TablePrefix is the run's shop-derived intermediate table prefix.
func (s *Settings) TablePrefix() string {
	return s.tablePrefix
}

var nonAlnumRegex = regexp.MustCompile(`[^A-Za-z0-9]`)

// derivePrefix keeps the last 32 alphanumeric characters of the shop name
// plus a high-precision timestamp, which keeps concurrent runs apart.
func derivePrefix(shopName string, now time.Time) string {
	raw := nonAlnumRegex.ReplaceAllString(shopName+strconv.FormatInt(now.UnixNano(), 10), "")
	if len(raw) > 32 {
		raw = raw[len(raw)-32:]
	}
	return strings.ToLower(raw)
}

func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isKnownModule(name string) bool {
	switch name {
	case ModuleProducts, ModuleMeta, ModuleCollections, ModuleCollectionsMeta,
		ModuleInventoryItem, ModuleInventoryLevel, ModuleTranslations:
		return true
	}
	return false
}

func sortedModules(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func validationMessage(err error) string {
	var invalid validator.ValidationErrors
	if stderrors.As(err, &invalid) && len(invalid) > 0 {
		var parts []string
		for _, fieldErr := range invalid {
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fieldErr.Field()), fieldErr.Tag()))
		}
		return strings.Join(parts, "; ")
	}
	return "invalid options"
}
