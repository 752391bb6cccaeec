package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/feedrail/shopfeed/internal/bulk"
	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/store"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// collectionRecord is one staged collection as attached to a product. Kind is
// "custom" when the collection has no rule set, "smart" otherwise.
type collectionRecord struct {
	ID     int64            `json:"id"`
	Handle string           `json:"handle"`
	Title  string           `json:"title"`
	Kind   string           `json:"kind"`
	Meta   []metafieldEntry `json:"meta,omitempty"`
}

// Collections pulls collections with their product memberships, inverted to
// a per-product record at flush time. Collection metafields ride along when
// the collections_meta data type is requested.
type Collections struct {
	withMeta bool
}

// NewCollections builds the module. withMeta also pulls collection
// metafields.
func NewCollections(withMeta bool) *Collections {
	return &Collections{withMeta: withMeta}
}

func (m *Collections) Name() string { return NameCollections }

func (m *Collections) RequiredScopes() []string { return []string{"read_products"} }

func (m *Collections) Run(ctx context.Context, rc *RunContext, stats *PullStats) error {
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		return err
	}

	driver := newBulkDriver(rc)
	path, cleanup, err := driver.Run(ctx, m.bulkQuery())
	if err != nil {
		return err
	}
	defer cleanup()
	if path == "" {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "opening bulk result")
	}
	defer file.Close()

	return m.parse(ctx, rc, stats, file)
}

func (m *Collections) bulkQuery() string {
	meta := ""
	if m.withMeta {
		meta = `
        metafields { edges { node { id namespace key value description } } }`
	}
	return fmt.Sprintf(`{
  collections {
    edges {
      node {
        id handle title
        ruleSet { appliedDisjunctively }%s
        products { edges { node { id } } }
      }
    }
  }
}`, meta)
}

// parse accumulates collections and the product membership inverse in
// memory (collection counts are small relative to products), then writes
// one staged row per member product.
func (m *Collections) parse(ctx context.Context, rc *RunContext, stats *PullStats, r io.Reader) error {
	collections := map[string]*collectionRecord{}
	memberships := map[int64][]string{}

	var currentGID string

	reader := bulk.NewLineReader(r)
	for {
		line, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		bag, parent, err := decodeLine(line)
		if err != nil {
			return err
		}
		kind, id, err := lineKind(bag)
		if err != nil {
			return err
		}

		switch kind {
		case "Collection":
			record := &collectionRecord{ID: id, Handle: bag.Str("handle"), Title: bag.Str("title"), Kind: "smart"}
			if bag.Map("ruleSet") == nil {
				record.Kind = "custom"
			}
			currentGID = bag.Str("id")
			collections[currentGID] = record
		case "Metafield":
			record, ok := collections[parent]
			if !ok {
				return parseOrderError(reader.Line(), parent)
			}
			record.Meta = append(record.Meta, metafieldEntry{
				Key:         bag.Str("key"),
				Value:       bag.Str("value"),
				Namespace:   bag.Str("namespace"),
				Description: bag.Str("description"),
			})
		case "Product":
			if _, ok := collections[parent]; !ok {
				return parseOrderError(reader.Line(), parent)
			}
			memberships[id] = append(memberships[id], parent)
		default:
			stats.Warnings++
		}
	}

	return m.flush(ctx, rc, stats, collections, memberships)
}

func (m *Collections) flush(ctx context.Context, rc *RunContext, stats *PullStats,
	collections map[string]*collectionRecord, memberships map[int64][]string) error {

	prodIns := rc.Store.NewInserter(m.Name(), store.KindProd, store.DupUpdate)

	productIDs := make([]int64, 0, len(memberships))
	for id := range memberships {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	for _, productID := range productIDs {
		var records []collectionRecord
		for _, gid := range memberships[productID] {
			if record, ok := collections[gid]; ok {
				records = append(records, *record)
			}
		}
		encoded, err := json.Marshal(records)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding collection records")
		}
		if err := prodIns.Add(ctx, productID, 0, string(encoded)); err != nil {
			return err
		}
		stats.Products++
	}
	return prodIns.Flush(ctx)
}

func (m *Collections) Columns(rc *RunContext) []string {
	out := []string{
		"custom_collections_handle", "custom_collections_title", "custom_collections_id",
		"smart_collections_handle", "smart_collections_title", "smart_collections_id",
	}
	if m.withMeta {
		out = append(out, "custom_collections_meta", "smart_collections_meta")
	}
	return out
}

func (m *Collections) Products(ctx context.Context, rc *RunContext, fn func(*fields.Product) error) error {
	return iterOwners(ctx, rc, m.Name(), fn)
}

// AddToProduct renders the membership columns: handle/title/id pipe-joined
// per kind, and the metafield blobs as JSON keyed by collection id.
func (m *Collections) AddToProduct(ctx context.Context, rc *RunContext, p *fields.Product) error {
	data, found, err := rc.Store.GetProduct(ctx, m.Name(), p.ID)
	if err != nil || !found {
		return err
	}
	var records []collectionRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding staged collections")
	}

	for _, kind := range []string{"custom", "smart"} {
		var handles, titles, ids []string
		meta := map[string][]metafieldEntry{}
		for _, record := range records {
			if record.Kind != kind {
				continue
			}
			handles = append(handles, record.Handle)
			titles = append(titles, record.Title)
			ids = append(ids, strconv.FormatInt(record.ID, 10))
			if m.withMeta && len(record.Meta) > 0 {
				meta[strconv.FormatInt(record.ID, 10)] = record.Meta
			}
		}
		p.Fields.Set(kind+"_collections_handle", strings.Join(handles, "|"))
		p.Fields.Set(kind+"_collections_title", strings.Join(titles, "|"))
		p.Fields.Set(kind+"_collections_id", strings.Join(ids, "|"))
		if m.withMeta {
			encoded, err := json.Marshal(meta)
			if err == nil {
				p.Fields.Set(kind+"_collections_meta", string(encoded))
			}
		}
	}
	return nil
}

func (m *Collections) AddToVariant(ctx context.Context, rc *RunContext, v *fields.Variant) error {
	return nil
}
