package modules

import (
	"context"
	"strings"
	"testing"

	"github.com/feedrail/shopfeed/internal/fields"
)

const collectionStream = `{"id":"gid://shopify/Collection/5","handle":"sale","title":"Sale","ruleSet":null}
{"id":"gid://shopify/Product/1","__parentId":"gid://shopify/Collection/5"}
{"id":"gid://shopify/Product/2","__parentId":"gid://shopify/Collection/5"}
{"id":"gid://shopify/Collection/6","handle":"new-in","title":"New In","ruleSet":{"appliedDisjunctively":false}}
{"id":"gid://shopify/Metafield/60","namespace":"seo","key":"blurb","value":"fresh drops","description":"","__parentId":"gid://shopify/Collection/6"}
{"id":"gid://shopify/Product/1","__parentId":"gid://shopify/Collection/6"}
`

func TestCollectionsParseAndEnrich(t *testing.T) {
	ctx := context.Background()
	rc := newTestRunContext(t, nil)

	m := NewCollections(true)
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		t.Fatalf("creating tables: %v", err)
	}

	var stats PullStats
	if err := m.parse(ctx, rc, &stats, strings.NewReader(collectionStream)); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if stats.Products != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	p := fields.NewProduct(1)
	if err := m.AddToProduct(ctx, rc, p); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if got := p.Fields.Str("custom_collections_handle"); got != "sale" {
		t.Fatalf("custom handles = %q", got)
	}
	if got := p.Fields.Str("custom_collections_id"); got != "5" {
		t.Fatalf("custom ids = %q", got)
	}
	if got := p.Fields.Str("smart_collections_title"); got != "New In" {
		t.Fatalf("smart titles = %q", got)
	}
	meta := p.Fields.Str("smart_collections_meta")
	if !strings.Contains(meta, `"6"`) || !strings.Contains(meta, `"value":"fresh drops"`) {
		t.Fatalf("smart meta = %q", meta)
	}

	// Product 2 belongs only to the custom collection.
	p2 := fields.NewProduct(2)
	if err := m.AddToProduct(ctx, rc, p2); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if got := p2.Fields.Str("smart_collections_handle"); got != "" {
		t.Fatalf("smart handles for product 2 = %q", got)
	}
	if got := p2.Fields.Str("custom_collections_handle"); got != "sale" {
		t.Fatalf("custom handles for product 2 = %q", got)
	}
}

func TestCollectionsMultiMembershipPipeJoin(t *testing.T) {
	ctx := context.Background()
	rc := newTestRunContext(t, nil)

	m := NewCollections(false)
	if err := rc.Store.CreateModuleTables(ctx, m.Name()); err != nil {
		t.Fatalf("creating tables: %v", err)
	}

	stream := `{"id":"gid://shopify/Collection/5","handle":"sale","title":"Sale","ruleSet":null}
{"id":"gid://shopify/Collection/7","handle":"clearance","title":"Clearance","ruleSet":null}
{"id":"gid://shopify/Product/1","__parentId":"gid://shopify/Collection/5"}
{"id":"gid://shopify/Product/1","__parentId":"gid://shopify/Collection/7"}
`
	var stats PullStats
	if err := m.parse(ctx, rc, &stats, strings.NewReader(stream)); err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	p := fields.NewProduct(1)
	if err := m.AddToProduct(ctx, rc, p); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if got := p.Fields.Str("custom_collections_handle"); got != "sale|clearance" {
		t.Fatalf("pipe-joined handles = %q", got)
	}
	if got := p.Fields.Str("custom_collections_id"); got != "5|7" {
		t.Fatalf("pipe-joined ids = %q", got)
	}
}

func TestCollectionsColumnsShape(t *testing.T) {
	t.Parallel()

	rc := &RunContext{}
	plain := NewCollections(false).Columns(rc)
	if len(plain) != 6 {
		t.Fatalf("plain columns = %v", plain)
	}
	withMeta := NewCollections(true).Columns(rc)
	if len(withMeta) != 8 {
		t.Fatalf("meta columns = %v", withMeta)
	}
}
