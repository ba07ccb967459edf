package pagination

import (
	"bytes"
	"encoding/json"
	"math"
)

// Shape knows how to read one pagination envelope.
type Shape interface {
	// ExtractItems returns the page items. Unrecognized bodies yield nil.
	ExtractItems(body json.RawMessage) []json.RawMessage

	// ExtractTotalPages returns the total number of pages when the body
	// carries one, directly or as an item total combined with limit.
	ExtractTotalPages(body json.RawMessage, limit int) (int, bool)
}

// ══════════════════════════════════════════════════════════════════════════════
// SHAPES
// ══════════════════════════════════════════════════════════════════════════════

// DataShape reads `{"data": [...], "meta": {...}}`.
type DataShape struct{}

// ExtractItems implements Shape.
func (DataShape) ExtractItems(body json.RawMessage) []json.RawMessage {
	return arrayField(decodeObject(body), "data")
}

// ExtractTotalPages implements Shape.
func (DataShape) ExtractTotalPages(body json.RawMessage, limit int) (int, bool) {
	return totalPages(decodeObject(body), limit)
}

// ItemsShape reads `{"items": [...], "total": n}`.
type ItemsShape struct{}

// ExtractItems implements Shape.
func (ItemsShape) ExtractItems(body json.RawMessage) []json.RawMessage {
	return arrayField(decodeObject(body), "items")
}

// ExtractTotalPages implements Shape.
func (ItemsShape) ExtractTotalPages(body json.RawMessage, limit int) (int, bool) {
	return totalPages(decodeObject(body), limit)
}

// ArrayShape reads a bare JSON array. It never carries a page total.
type ArrayShape struct{}

// ExtractItems implements Shape.
func (ArrayShape) ExtractItems(body json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if !isArray(body) || json.Unmarshal(body, &items) != nil {
		return nil
	}
	return items
}

// ExtractTotalPages implements Shape.
func (ArrayShape) ExtractTotalPages(json.RawMessage, int) (int, bool) {
	return 0, false
}

// AutoShape detects the envelope per response: a `data` array first, then
// an `items` array, then a bare array.
type AutoShape struct{}

// ExtractItems implements Shape.
func (AutoShape) ExtractItems(body json.RawMessage) []json.RawMessage {
	if isArray(body) {
		return ArrayShape{}.ExtractItems(body)
	}

	obj := decodeObject(body)
	if items, ok := lookupArray(obj, "data"); ok {
		return items
	}
	if items, ok := lookupArray(obj, "items"); ok {
		return items
	}
	return nil
}

// ExtractTotalPages implements Shape.
func (AutoShape) ExtractTotalPages(body json.RawMessage, limit int) (int, bool) {
	return totalPages(decodeObject(body), limit)
}

// TotalItems returns the item total advertised by a response body, looking
// at `total`, `totalItems`, `count`, `meta.totalItems` and `meta.total`.
func TotalItems(body json.RawMessage) (int, bool) {
	return totalItems(decodeObject(body))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func totalItems(obj map[string]json.RawMessage) (int, bool) {
	if obj == nil {
		return 0, false
	}
	meta := decodeObject(obj["meta"])

	for _, candidate := range []struct {
		obj map[string]json.RawMessage
		key string
	}{
		{obj, "total"},
		{obj, "totalItems"},
		{obj, "count"},
		{meta, "totalItems"},
		{meta, "total"},
	} {
		if n, ok := number(candidate.obj, candidate.key); ok && n >= 0 {
			return int(n), true
		}
	}
	return 0, false
}

func totalPages(obj map[string]json.RawMessage, limit int) (int, bool) {
	if obj == nil {
		return 0, false
	}
	meta := decodeObject(obj["meta"])

	if n, ok := number(meta, "totalPages"); ok {
		return int(n), true
	}
	if n, ok := number(obj, "totalPages"); ok {
		return int(n), true
	}
	if n, ok := number(obj, "pageCount"); ok {
		return int(n), true
	}

	if limit > 0 {
		if total, ok := totalItems(obj); ok {
			return int(math.Ceil(float64(total) / float64(limit))), true
		}
	}
	return 0, false
}

func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func lookupArray(obj map[string]json.RawMessage, key string) ([]json.RawMessage, bool) {
	raw, ok := obj[key]
	if !ok || !isArray(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func arrayField(obj map[string]json.RawMessage, key string) []json.RawMessage {
	items, _ := lookupArray(obj, key)
	return items
}

// number reads a JSON number. Strings, nulls and other types are ignored.
func number(obj map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
