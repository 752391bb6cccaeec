package shopify

import "testing"

func TestParseGIDRoundTrip(t *testing.T) {
	t.Parallel()

	raw := "gid://shopify/ProductVariant/39072856304782"
	gid, err := ParseGID(raw)
	if err != nil {
		t.Fatalf("ParseGID returned error: %v", err)
	}
	if gid.Type != "ProductVariant" {
		t.Fatalf("expected type ProductVariant, got %s", gid.Type)
	}
	if gid.ID != 39072856304782 {
		t.Fatalf("expected id 39072856304782, got %d", gid.ID)
	}
	if gid.String() != raw {
		t.Fatalf("round trip mismatch: %s", gid.String())
	}
}

func TestParseGIDRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"gid://shopify/Product/",
		"gid://shopify/Product/abc",
		"gid://shopify/Product/0",
		"https://shopify.com/Product/5",
	} {
		if _, err := ParseGID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestGIDHelpers(t *testing.T) {
	t.Parallel()

	if got := GIDType("gid://shopify/Collection/12"); got != "Collection" {
		t.Fatalf("GIDType = %q", got)
	}
	if got := GIDID("gid://shopify/Collection/12"); got != 12 {
		t.Fatalf("GIDID = %d", got)
	}
	if got := GIDID("not-a-gid"); got != 0 {
		t.Fatalf("GIDID for garbage = %d", got)
	}
}
