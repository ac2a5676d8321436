package events

import (
	"testing"
)

func TestKindNamesAreExhaustive(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range Kinds() {
		name := k.String()
		if name == "" || name == "unknown" {
			t.Fatalf("kind %d has no name", k)
		}
		if seen[name] {
			t.Fatalf("duplicate name %s", name)
		}
		seen[name] = true
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 kinds, got %d", len(seen))
	}
	if Kind(99).String() != "unknown" {
		t.Fatal("out of range kind should be unknown")
	}
}

func TestEmitOrderAndFiltering(t *testing.T) {
	var bus Bus
	var got []string
	bus.Subscribe(OrderPaid, func(Event) { got = append(got, "first") })
	bus.SubscribeAll(func(e Event) { got = append(got, "all:"+e.Kind().String()) })
	bus.Subscribe(OrderPaid, func(Event) { got = append(got, "second") })

	bus.Emit(OrderPaidEvent{OrderID: "ivxp-1"})
	bus.Emit(OrderQuotedEvent{OrderID: "ivxp-1"})

	want := []string{"first", "all:order_paid", "second", "all:order_quoted"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	var bus Bus
	calls := 0
	h := func(Event) { calls++ }
	a := bus.Subscribe(StatusChanged, h)
	bus.Subscribe(StatusChanged, h)

	bus.Emit(StatusChangedEvent{})
	if calls != 2 {
		t.Fatalf("same handler subscribed twice should run twice, got %d", calls)
	}

	a.Unsubscribe()
	a.Unsubscribe()
	bus.Emit(StatusChangedEvent{})
	if calls != 3 {
		t.Fatalf("expected one remaining registration, got %d calls", calls)
	}
	if bus.Len() != 1 {
		t.Fatalf("Len = %d", bus.Len())
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	var bus Bus
	ran := false
	bus.Subscribe(OrderDelivered, func(Event) { panic("boom") })
	bus.Subscribe(OrderDelivered, func(Event) { ran = true })

	bus.Emit(OrderDeliveredEvent{OrderID: "ivxp-1"})
	if !ran {
		t.Fatal("second handler did not run")
	}
}

func TestOnTyped(t *testing.T) {
	var bus Bus
	var hash string
	sub := On(&bus, func(e PaymentSentEvent) { hash = e.TxHash })
	bus.Emit(PaymentSentEvent{TxHash: "0xabc"})
	if hash != "0xabc" {
		t.Fatalf("typed handler got %q", hash)
	}
	sub.Unsubscribe()
	bus.Emit(PaymentSentEvent{TxHash: "0xdef"})
	if hash != "0xabc" {
		t.Fatal("handler ran after unsubscribe")
	}
}

func TestNilBusEmitIsSafe(t *testing.T) {
	var bus *Bus
	bus.Emit(OrderPaidEvent{})
}
