package orders

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"strconv"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

type rawItem struct {
	ProductID json.RawMessage `json:"productId"`
	Quantity  json.RawMessage `json:"quantity"`
	Options   json.RawMessage `json:"options"`

	// snake_case alias for older clients
	ProductIDSnake json.RawMessage `json:"product_id"`
}

// ParseItems validates the raw "items" member of an order request and returns
// the normalized lines.
func ParseItems(raw []byte) ([]domain.ItemInput, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, domain.Validationf("items is required")
	}
	if raw[0] != '[' {
		return nil, domain.Validationf("items must be a list")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, domain.Validationf("items must be a list")
	}
	if len(entries) == 0 {
		return nil, domain.Validationf("items must not be empty")
	}

	out := make([]domain.ItemInput, 0, len(entries))
	for i, e := range entries {
		e = bytes.TrimSpace(e)
		if len(e) == 0 || e[0] != '{' {
			return nil, domain.Validationf("item %d must be an object", i)
		}
		var ri rawItem
		if err := json.Unmarshal(e, &ri); err != nil {
			return nil, domain.Validationf("item %d must be an object", i)
		}

		rawPID := ri.ProductID
		if isAbsent(rawPID) {
			rawPID = ri.ProductIDSnake
		}
		if isAbsent(rawPID) {
			return nil, domain.Validationf("item %d: productId is required", i)
		}
		pid, ok := positiveInt(rawPID, math.MaxInt64)
		if !ok {
			return nil, domain.Validationf("item %d: productId must be a positive integer", i)
		}
		qty, ok := positiveInt(ri.Quantity, math.MaxInt32)
		if !ok {
			return nil, domain.Validationf("item %d: quantity must be a positive integer", i)
		}

		var opts map[string]string
		if !isAbsent(ri.Options) {
			if err := json.Unmarshal(ri.Options, &opts); err != nil {
				return nil, domain.Validationf("item %d: options must map option titles to string values", i)
			}
		}
		out = append(out, domain.ItemInput{ProductID: pid, Quantity: int(qty), Options: opts})
	}
	return NormalizeItems(out)
}

// NormalizeItems applies the structural rules to typed input and returns a copy.
func NormalizeItems(items []domain.ItemInput) ([]domain.ItemInput, error) {
	if len(items) == 0 {
		return nil, domain.Validationf("items must not be empty")
	}
	out := make([]domain.ItemInput, 0, len(items))
	for i, it := range items {
		if it.ProductID <= 0 {
			return nil, domain.Validationf("item %d: productId is required", i)
		}
		if it.Quantity <= 0 {
			return nil, domain.Validationf("item %d: quantity must be a positive integer", i)
		}
		out = append(out, domain.ItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Options:   maps.Clone(it.Options),
		})
	}
	return out, nil
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// positiveInt accepts only a bare JSON integer literal in [1, max].
func positiveInt(raw json.RawMessage, max int64) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n <= 0 || n > max {
		return 0, false
	}
	return n, true
}
