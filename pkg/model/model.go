// Package model defines the IVXP data model shared by clients and providers:
// the server-authoritative Order record with its status state machine, service
// definitions, and the Deliverable produced for each paid order.
package model

import (
	"fmt"
	"maps"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderIDPrefix prefixes every order identifier.
const OrderIDPrefix = "ivxp-"

var orderIDPattern = regexp.MustCompile(`^ivxp-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewOrderID returns a fresh identifier in the form ivxp-{uuid-v4}.
func NewOrderID() string {
	return OrderIDPrefix + uuid.NewString()
}

// IsValidOrderID reports whether id has the ivxp-{uuid-v4} shape.
func IsValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusQuoted         OrderStatus = "quoted"
	StatusPaid           OrderStatus = "paid"
	StatusProcessing     OrderStatus = "processing"
	StatusDelivered      OrderStatus = "delivered"
	StatusDeliveryFailed OrderStatus = "delivery_failed"
	// StatusConfirmed is client-side bookkeeping; providers never store it.
	StatusConfirmed OrderStatus = "confirmed"
)

// transitions is the directed graph of allowed status changes.
var transitions = map[OrderStatus][]OrderStatus{
	StatusQuoted:         {StatusPaid},
	StatusPaid:           {StatusProcessing, StatusDeliveryFailed},
	StatusProcessing:     {StatusDelivered, StatusDeliveryFailed},
	StatusDelivered:      {StatusConfirmed},
	StatusDeliveryFailed: {StatusConfirmed},
	StatusConfirmed:      nil,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsCompleted reports whether the deliverable is retrievable in status s.
// delivered and delivery_failed differ only in whether push delivery succeeded.
func (s OrderStatus) IsCompleted() bool {
	return s == StatusDelivered || s == StatusDeliveryFailed || s == StatusConfirmed
}

// IsTerminal reports whether a poll loop may stop at s.
func (s OrderStatus) IsTerminal() bool {
	return s.IsCompleted()
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a wire string into an OrderStatus.
func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// ServiceDefinition is a single entry of a provider catalog.
type ServiceDefinition struct {
	Type                   string          `json:"type" yaml:"type"`
	BasePrice              decimal.Decimal `json:"base_price_usdc" yaml:"base_price_usdc"`
	EstimatedDeliveryHours float64         `json:"estimated_delivery_hours" yaml:"estimated_delivery_hours"`
	Description            string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// Order is the provider's authoritative record of one purchase. Only Status,
// TxHash, DeliveryEndpoint and ContentHash change after creation; UpdatedAt is
// maintained by the store.
type Order struct {
	OrderID        string          `json:"order_id"`
	Status         OrderStatus     `json:"status"`
	ClientName     string          `json:"client_name,omitempty"`
	ClientAddress  string          `json:"client_address"`
	ServiceType    string          `json:"service_type"`
	Description    string          `json:"description,omitempty"`
	DeliveryFormat string          `json:"delivery_format,omitempty"`
	Price          decimal.Decimal `json:"price_usdc"`
	PaymentAddress string          `json:"payment_address"`
	Network        string          `json:"network"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	QuoteExpiresAt time.Time       `json:"quote_expires_at"`

	TxHash           string `json:"tx_hash,omitempty"`
	DeliveryEndpoint string `json:"delivery_endpoint,omitempty"`
	ContentHash      string `json:"content_hash,omitempty"`
}

// Clone returns a copy of o that shares no mutable state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// QuoteExpired reports whether the quote is no longer payable at now.
func (o *Order) QuoteExpired(now time.Time) bool {
	return !o.QuoteExpiresAt.IsZero() && now.After(o.QuoteExpiresAt)
}

// Patch lists the mutable fields of an Order. Nil fields are left unchanged.
type Patch struct {
	Status           *OrderStatus
	TxHash           *string
	DeliveryEndpoint *string
	ContentHash      *string
}

// Apply writes p into o. It does not validate the status transition.
func (p Patch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.TxHash != nil {
		o.TxHash = *p.TxHash
	}
	if p.DeliveryEndpoint != nil {
		o.DeliveryEndpoint = *p.DeliveryEndpoint
	}
	if p.ContentHash != nil {
		o.ContentHash = *p.ContentHash
	}
}

// Deliverable is the artifact produced by a service handler for one order.
type Deliverable struct {
	OrderID     string            `json:"order_id"`
	Content     []byte            `json:"-"`
	ContentType string            `json:"content_type"`
	ContentHash string            `json:"content_hash"`
	Format      string            `json:"format,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Clone returns a deep copy of d.
func (d *Deliverable) Clone() *Deliverable {
	if d == nil {
		return nil
	}
	c := *d
	if d.Content != nil {
		c.Content = make([]byte, len(d.Content))
		copy(c.Content, d.Content)
	}
	c.Metadata = maps.Clone(d.Metadata)
	return &c
}

// IsText reports whether the content type denotes textual content that can
// travel on the wire without base64 encoding.
func (d *Deliverable) IsText() bool {
	return IsTextContentType(d.ContentType)
}

var textTypePattern = regexp.MustCompile(`^(text/.*|application/(json|xml|yaml|x-yaml|markdown|javascript)(;.*)?)$`)

// IsTextContentType reports whether ct is a textual MIME type.
func IsTextContentType(ct string) bool {
	return textTypePattern.MatchString(ct)
}
