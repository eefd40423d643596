package pos

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes dine-in sales from deliveries.
type OrderKind string

const (
	KindDineIn   OrderKind = "dine_in"
	KindDelivery OrderKind = "delivery"
)

// OrderStatus is the kitchen-facing lifecycle of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status ends the order's lifecycle.
// A terminal order releases any table it held.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidStatus reports whether s is one of the known order statuses.
func ValidStatus(s OrderStatus) bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// TableRef designates where a dine-in order sits.
//
// The zero value means "no table" (deliveries, drafts). Takeaway is a
// sentinel that is never reservable and exempt from occupancy checks.
type TableRef struct {
	Number   int
	Takeaway bool
}

// Takeaway is the non-reservable sentinel table.
var Takeaway = TableRef{Takeaway: true}

// TableAt builds a concrete table reference. Table numbers start at 1.
func TableAt(n int) TableRef { return TableRef{Number: n} }

// IsZero reports whether no table is designated at all.
func (t TableRef) IsZero() bool { return !t.Takeaway && t.Number == 0 }

// Reservable reports whether the reference names a concrete table that
// participates in occupancy checks.
func (t TableRef) Reservable() bool { return !t.Takeaway && t.Number > 0 }

func (t TableRef) String() string {
	switch {
	case t.Takeaway:
		return "takeaway"
	case t.Number > 0:
		return strconv.Itoa(t.Number)
	default:
		return ""
	}
}

// ParseTableRef parses the stored text form produced by String.
func ParseTableRef(s string) (TableRef, error) {
	switch s {
	case "":
		return TableRef{}, nil
	case "takeaway":
		return Takeaway, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return TableRef{}, fmt.Errorf("invalid table reference %q", s)
	}
	return TableAt(n), nil
}

// MarshalJSON renders the wire form: an integer, "takeaway", or null.
func (t TableRef) MarshalJSON() ([]byte, error) {
	switch {
	case t.Takeaway:
		return json.Marshal("takeaway")
	case t.Number > 0:
		return json.Marshal(t.Number)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts an integer, the "takeaway" sentinel, a numeric
// string, or null. Cached and live payloads disagree on the encoding, so
// tolerance lives here, once, rather than at every call site.
func (t *TableRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = TableRef{}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*t = TableAt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid table reference %s", data)
	}
	ref, err := ParseTableRef(s)
	if err != nil {
		return err
	}
	*t = ref
	return nil
}

// LineItem is one menu item on an order. UnitPrice is snapshotted when the
// item is added and immutable afterward.
type LineItem struct {
	MenuItemID int64           `json:"menu_item_id"`
	Name       string          `json:"name,omitempty"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// LineTotal returns qty * unit price.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

// Order is one sale, dine-in or delivery.
type Order struct {
	ID            EntityID      `json:"id"`
	Number        string        `json:"order_number,omitempty"`
	Kind          OrderKind     `json:"kind"`
	Table         TableRef      `json:"table"`
	Items         []LineItem    `json:"items"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Status        OrderStatus   `json:"status"`
	DiscountPct   int           `json:"discount_pct,omitempty"`

	// Delivery fields; zero for dine-in orders.
	CustomerID     EntityID        `json:"customer_id,omitempty"`
	Address        string          `json:"address,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge,omitempty"`

	// Provisional marks a locally-minted identity awaiting the server.
	// Dirty marks local changes the server has not confirmed yet.
	Provisional bool `json:"provisional"`
	Dirty       bool `json:"dirty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subtotal sums line totals before discount and delivery charge.
func (o Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.LineTotal())
	}
	return total
}

// Total applies the discount percentage and adds the delivery charge.
func (o Order) Total() decimal.Decimal {
	total := o.Subtotal()
	if o.DiscountPct > 0 {
		factor := decimal.NewFromInt(int64(100 - o.DiscountPct)).Div(decimal.NewFromInt(100))
		total = total.Mul(factor)
	}
	return total.Add(o.DeliveryCharge)
}

// HoldsTable reports whether the order currently claims a concrete table:
// a dine-in order at a reservable table whose lifecycle has not ended.
func (o Order) HoldsTable() bool {
	return o.Kind == KindDineIn && o.Table.Reservable() && !o.Status.Terminal()
}

// Address is one delivery address of a customer.
type Address struct {
	Line    string `json:"line"`
	Notes   string `json:"notes,omitempty"`
	MapLink string `json:"map_link,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Customer is a delivery customer. Phone (normalized) is the natural
// de-duplication key across online and offline creation.
type Customer struct {
	ID          EntityID  `json:"id"`
	Phone       string    `json:"phone"`
	Name        string    `json:"name,omitempty"`
	BackupPhone string    `json:"backup_phone,omitempty"`
	Addresses   []Address `json:"addresses,omitempty"`
	Provisional bool      `json:"provisional"`
	Dirty       bool      `json:"dirty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MenuItem is the locally cached menu entry orders reference.
type MenuItem struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}
