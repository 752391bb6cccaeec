// Package fields holds the in-memory product/variant representation used
// between parsing and output rendering, plus the computed output columns.
package fields

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Bag is an ordered-enough field map decoded from an API node. Values keep
// their decoded JSON shapes (string, float64, bool, []any, map[string]any).
type Bag map[string]any

// Str returns the field as a string, stringifying scalars. Nulls and missing
// keys come back empty.
func (b Bag) Str(key string) string {
	val, ok := b[key]
	if !ok || val == nil {
		return ""
	}
	switch typed := val.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// Bool returns the field as a boolean; anything non-boolean is false.
func (b Bag) Bool(key string) bool {
	val, ok := b[key].(bool)
	return ok && val
}

// Int returns the field as an int64, accepting JSON numbers and numeric
// strings.
func (b Bag) Int(key string) int64 {
	switch typed := b[key].(type) {
	case float64:
		return int64(typed)
	case string:
		parsed, err := strconv.ParseInt(typed, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// List returns the field as a slice, or nil.
func (b Bag) List(key string) []any {
	val, _ := b[key].([]any)
	return val
}

// Map returns the field as a nested object, or nil.
func (b Bag) Map(key string) Bag {
	val, _ := b[key].(map[string]any)
	return Bag(val)
}

// At walks a nested object path, returning nil when any hop is absent.
func (b Bag) At(path ...string) any {
	var current any = map[string]any(b)
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return current
}

// StrAt stringifies a nested path.
func (b Bag) StrAt(path ...string) string {
	val := b.At(path...)
	if val == nil {
		return ""
	}
	return Bag{"v": val}.Str("v")
}

// Set stores a value.
func (b Bag) Set(key string, val any) {
	b[key] = val
}

// Has reports whether the key exists (even as null).
func (b Bag) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// JSON renders the bag as a compact JSON document.
func (b Bag) JSON() string {
	encoded, err := json.Marshal(b)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// BagFromJSON decodes a JSON document back into a bag.
func BagFromJSON(data string) (Bag, error) {
	if data == "" {
		return Bag{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return Bag(out), nil
}

// Product is one catalog product during parsing or output rendering. It owns
// its variants.
type Product struct {
	ID       int64
	Fields   Bag
	Variants []*Variant
}

// NewProduct builds a product with an empty field bag.
func NewProduct(id int64) *Product {
	return &Product{ID: id, Fields: Bag{}}
}

// AddVariant appends a variant and binds its back-reference.
func (p *Product) AddVariant(v *Variant) {
	v.ProductID = p.ID
	v.parent = p
	p.Variants = append(p.Variants, v)
}

// Variant is one sellable variant. The parent pointer is a non-owning handle
// valid only while the product is being rendered.
type Variant struct {
	ID        int64
	ProductID int64
	Fields    Bag

	parent *Product
}

// NewVariant builds a variant with an empty field bag.
func NewVariant(id int64) *Variant {
	return &Variant{ID: id, Fields: Bag{}}
}

// Product returns the owning product, or nil outside output rendering.
func (v *Variant) Product() *Product {
	return v.parent
}
