package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tillfloat/tillsync/internal/pos"
)

// timeLayout is the stored form of all timestamps.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// rawLineItem tolerates the historical casing and encoding drift between
// cached and live order payloads. Tolerance lives here, once, at the store
// boundary; everything downstream sees pos.LineItem only.
type rawLineItem struct {
	MenuItemID  int64           `json:"menu_item_id"`
	MenuItemAlt int64           `json:"menuItemId"`
	ItemID      int64           `json:"item_id"`
	Name        string          `json:"name"`
	Qty         int             `json:"qty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   json.RawMessage `json:"unit_price"`
	UnitPriceC  json.RawMessage `json:"unitPrice"`
	Price       json.RawMessage `json:"price"`
}

func (r rawLineItem) canonical() (pos.LineItem, error) {
	li := pos.LineItem{MenuItemID: r.MenuItemID, Name: r.Name, Qty: r.Qty}
	if li.MenuItemID == 0 {
		if r.MenuItemAlt != 0 {
			li.MenuItemID = r.MenuItemAlt
		} else {
			li.MenuItemID = r.ItemID
		}
	}
	if li.Qty == 0 {
		li.Qty = r.Quantity
	}

	raw := r.UnitPrice
	if raw == nil {
		raw = r.UnitPriceC
	}
	if raw == nil {
		raw = r.Price
	}
	if raw != nil {
		price, err := parseDecimal(raw)
		if err != nil {
			return pos.LineItem{}, fmt.Errorf("line item %d: %w", li.MenuItemID, err)
		}
		li.UnitPrice = price
	}
	return li, nil
}

// parseDecimal accepts both string and numeric JSON encodings of money.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Zero, fmt.Errorf("invalid money value %s", raw)
	}
	return d, nil
}

// marshalItems serializes line items in the canonical shape: snake_case
// keys, prices as strings.
func marshalItems(items []pos.LineItem) (string, error) {
	if items == nil {
		items = []pos.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	return string(data), nil
}

// unmarshalItems parses stored or incoming line items, normalizing any
// legacy key casing on the way in.
func unmarshalItems(data string) ([]pos.LineItem, error) {
	if data == "" || data == "[]" {
		return []pos.LineItem{}, nil
	}
	var raw []rawLineItem
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	items := make([]pos.LineItem, 0, len(raw))
	for _, r := range raw {
		li, err := r.canonical()
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, nil
}

func marshalAddresses(addrs []pos.Address) (string, error) {
	if addrs == nil {
		addrs = []pos.Address{}
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return "", fmt.Errorf("marshal addresses: %w", err)
	}
	return string(data), nil
}

func unmarshalAddresses(data string) ([]pos.Address, error) {
	if data == "" || data == "[]" {
		return []pos.Address{}, nil
	}
	var addrs []pos.Address
	if err := json.Unmarshal([]byte(data), &addrs); err != nil {
		return nil, fmt.Errorf("unmarshal addresses: %w", err)
	}
	return addrs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
