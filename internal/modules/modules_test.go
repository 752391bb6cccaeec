package modules

import (
	"context"
	"testing"

	"github.com/feedrail/shopfeed/internal/fields"
	"github.com/feedrail/shopfeed/internal/settings"
	"github.com/feedrail/shopfeed/internal/store"
	"github.com/feedrail/shopfeed/pkg/config"
	"github.com/feedrail/shopfeed/pkg/db"
)

// newTestRunContext builds a run context backed by a throwaway sqlite store.
func newTestRunContext(t *testing.T, options map[string]string) *RunContext {
	t.Helper()
	ctx := context.Background()

	merged := map[string]string{
		"shop_name":   "acme",
		"oauth_token": "shpat_test",
	}
	for k, v := range options {
		merged[k] = v
	}
	s, err := settings.Parse(merged)
	if err != nil {
		t.Fatalf("parsing test settings: %v", err)
	}

	client, err := db.New(ctx, config.DBConfig{Driver: "sqlite", Dir: t.TempDir()}, "modtest", nil)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(false) })

	return &RunContext{
		Settings: s,
		Store:    store.New(client, "modtest", nil),
	}
}

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	bag, parent, err := decodeLine([]byte(`{"id":"gid://shopify/ProductVariant/5","__parentId":"gid://shopify/Product/1"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if parent != "gid://shopify/Product/1" {
		t.Fatalf("parent = %q", parent)
	}
	if bag.Has("__parentId") {
		t.Fatal("parent marker must be removed from the bag")
	}

	kind, id, err := lineKind(bag)
	if err != nil || kind != "ProductVariant" || id != 5 {
		t.Fatalf("line kind = %q/%d/%v", kind, id, err)
	}

	kind, id, err = lineKind(fields.Bag{"price": "10.00"})
	if err != nil || kind != "" || id != 0 {
		t.Fatalf("id-less line kind = %q/%d/%v", kind, id, err)
	}
}

func TestDecodeLineRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, _, err := decodeLine([]byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}
