// Package events is a small synchronous event bus for client-side protocol
// progress. Handlers run in subscription order on the emitting goroutine.
package events

import (
	"sync"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kind identifies an event type. The set is closed.
type Kind int

const (
	CatalogReceived Kind = iota
	OrderQuoted
	PaymentSent
	OrderPaid
	StatusChanged
	OrderDelivered
	OrderConfirmed

	kindCount
)

var kindNames = [kindCount]string{
	CatalogReceived: "catalog_received",
	OrderQuoted:     "order_quoted",
	PaymentSent:     "payment_sent",
	OrderPaid:       "order_paid",
	StatusChanged:   "status_changed",
	OrderDelivered:  "order_delivered",
	OrderConfirmed:  "order_confirmed",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every event kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Event is implemented by the concrete event structs below.
type Event interface {
	Kind() Kind
}

// CatalogReceivedEvent is emitted after a provider catalog is fetched.
type CatalogReceivedEvent struct {
	ProviderURL  string
	Provider     string
	ServiceCount int
}

// OrderQuotedEvent is emitted when a provider quotes an order.
type OrderQuotedEvent struct {
	OrderID        string
	Price          decimal.Decimal
	PaymentAddress string
	ExpiresAt      time.Time
}

// PaymentSentEvent is emitted once the USDC transfer is submitted.
type PaymentSentEvent struct {
	OrderID string
	TxHash  string
	Amount  decimal.Decimal
}

// OrderPaidEvent is emitted when the provider accepts the payment proof.
type OrderPaidEvent struct {
	OrderID string
	TxHash  string
}

// StatusChangedEvent is emitted for every observed order status change.
type StatusChangedEvent struct {
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
}

// OrderDeliveredEvent is emitted after a deliverable is downloaded and its hash checked.
type OrderDeliveredEvent struct {
	OrderID     string
	ContentHash string
	ContentType string
}

// OrderConfirmedEvent is emitted when the client signs a receipt confirmation.
type OrderConfirmedEvent struct {
	OrderID     string
	Signature   string
	ConfirmedAt time.Time
}

func (CatalogReceivedEvent) Kind() Kind { return CatalogReceived }
func (OrderQuotedEvent) Kind() Kind     { return OrderQuoted }
func (PaymentSentEvent) Kind() Kind     { return PaymentSent }
func (OrderPaidEvent) Kind() Kind       { return OrderPaid }
func (StatusChangedEvent) Kind() Kind   { return StatusChanged }
func (OrderDeliveredEvent) Kind() Kind  { return OrderDelivered }
func (OrderConfirmedEvent) Kind() Kind  { return OrderConfirmed }

// Handler receives events.
type Handler func(Event)

type registration struct {
	id   uint64
	kind Kind
	all  bool
	fn   Handler
}

// Bus dispatches events to subscribers. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []registration
}

// Subscription is one registration on a Bus.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe removes exactly this registration. Calling it twice is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s.id) })
}

// Subscribe registers fn for kind. Subscribing the same function twice
// creates two registrations.
func (b *Bus) Subscribe(kind Kind, fn Handler) *Subscription {
	return b.add(registration{kind: kind, fn: fn})
}

// SubscribeAll registers fn for every kind.
func (b *Bus) SubscribeAll(fn Handler) *Subscription {
	return b.add(registration{all: true, fn: fn})
}

// On registers a typed handler for the event type E.
func On[E Event](b *Bus, fn func(E)) *Subscription {
	var zero E
	return b.Subscribe(zero.Kind(), func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	})
}

func (b *Bus) add(r registration) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	r.id = b.nextID
	b.subs = append(b.subs, r)
	return &Subscription{bus: b, id: r.id}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.subs {
		if r.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers e to matching handlers in subscription order. A panicking
// handler is logged and does not stop the others. Handlers may subscribe or
// unsubscribe during Emit; changes apply to the next Emit.
func (b *Bus) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.RLock()
	snapshot := make([]registration, 0, len(b.subs))
	for _, r := range b.subs {
		if r.all || r.kind == e.Kind() {
			snapshot = append(snapshot, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range snapshot {
		b.call(r, e)
	}
}

func (b *Bus) call(r registration, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("event handler panicked",
				zap.String("event", e.Kind().String()),
				zap.Any("panic", rec))
		}
	}()
	r.fn(e)
}

// Len returns the number of registrations.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
