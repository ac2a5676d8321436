// Package model defines the core data structures of the IVXP protocol.
//
// # Orders
//
// An Order is created by the provider when it quotes a service request and is
// the single source of truth for that purchase. Its identifier has the form
// ivxp-{uuid-v4} and is assigned exactly once:
//
//	id := model.NewOrderID() // "ivxp-0b5a6bc4-5f0e-4d3e-9a47-1c7f1f0de8a1"
//
// # Lifecycle
//
// Status moves along a fixed graph:
//
//	quoted -> paid -> processing -> delivered       -> confirmed
//	                             \-> delivery_failed -> confirmed
//
// paid may also go straight to delivery_failed when processing cannot start.
// Entering paid is irreversible: no edge leads back to quoted. Use
// CanTransition to validate a change before writing it:
//
//	if !model.CanTransition(order.Status, model.StatusPaid) {
//		return errConflict
//	}
//
// delivered and delivery_failed are both completion states. They differ only
// in whether push delivery reached the requester; the deliverable can be
// downloaded in either case (store-and-forward).
//
// # Mutability
//
// Only Status, TxHash, DeliveryEndpoint and ContentHash may change after an
// order is created. Stores accept changes as a Patch so the write-once fields
// cannot be touched by accident.
//
// # Deliverables
//
// A Deliverable is written once per order by the service handler. Clone
// returns a deep copy; stores hand out clones so callers can never mutate
// stored content.
package model
