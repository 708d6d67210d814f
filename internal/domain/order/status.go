package order

import "slices"

// Status is the fulfillment status of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusApproved       Status = "approved"
	StatusPacked         Status = "packed"
	StatusDispatched     Status = "dispatched"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusRejected       Status = "rejected"
	StatusCancelled      Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:        {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:       {StatusPacked, StatusRejected, StatusCancelled},
	StatusPacked:         {StatusDispatched},
	StatusDispatched:     {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
}

// ParseStatus validates a client supplied status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusApproved, StatusPacked, StatusDispatched,
		StatusOutForDelivery, StatusDelivered, StatusRejected, StatusCancelled:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: "unknown status " + s}
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// Closed reports whether the order was withdrawn before fulfillment.
func (s Status) Closed() bool {
	return s == StatusRejected || s == StatusCancelled
}

// Allows reports whether orders of kind k use status s. Wholesale
// deliveries have no out-for-delivery leg.
func (k Kind) Allows(s Status) bool {
	return !(k == KindWholesale && s == StatusOutForDelivery)
}

// CanTransition reports whether an order of kind k may move from one status
// to another. Keeping the current status is always allowed.
func CanTransition(k Kind, from, to Status) bool {
	if !k.Allows(to) {
		return false
	}
	if from == to {
		return true
	}
	return slices.Contains(statusTransitions[from], to)
}
