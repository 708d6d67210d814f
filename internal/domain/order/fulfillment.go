package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/notify"
)

// StatusUpdate is an admin fulfillment change. Nil fields are left as they are.
type StatusUpdate struct {
	Status         string
	TrackingNumber *string
	Notes          *string
	Location       *Location
}

// UpdateStatus moves an order along the fulfillment state machine. Keeping
// the current status is allowed, so tracking, notes and location can be
// updated in place. Wholesale approval and rejection go through Decide.
func (s *Service) UpdateStatus(ctx context.Context, caller auth.Principal, id string, req StatusUpdate) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Kind == KindWholesale && o.Status != to && (to == StatusApproved || to == StatusRejected) {
		return nil, ErrUseApproval
	}
	if !CanTransition(o.Kind, o.Status, to) {
		return nil, &TransitionError{From: o.Status, To: to}
	}

	now := s.now()
	u := FulfillmentUpdate{
		From:  o.Status,
		To:    to,
		Notes: req.Notes,
		At:    now,
	}
	if req.TrackingNumber != nil {
		tn := strings.TrimSpace(*req.TrackingNumber)
		u.TrackingNumber = &tn
	}
	if req.Location != nil {
		loc := *req.Location
		loc.Address = loc.Describe()
		u.Location = &LocationEntry{Location: loc, Status: to, Timestamp: now}
	}

	updated, err := s.orders.UpdateFulfillment(ctx, o.ID, u)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrTrackingInUse) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update fulfillment")
	}
	s.notify(ctx, notify.EventStatusChanged, updated)
	return updated, nil
}

// DecisionRequest is an admin verdict on a pending wholesale order.
type DecisionRequest struct {
	Action          string
	RejectionReason string
}

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Decide approves or rejects a pending wholesale order. Approval reserves
// stock for every line in the same transaction. Admin only.
func (s *Service) Decide(ctx context.Context, caller auth.Principal, id string, req DecisionRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Decide")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action != ActionApprove && action != ActionReject {
		return nil, &ValidationError{Field: "action", Message: "must be approve or reject"}
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Kind != KindWholesale {
		return nil, ErrNotFound
	}
	if o.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}

	d := Decision{Approval: AdminApproval{
		Approved:   action == ActionApprove,
		ApprovedBy: caller.UserID,
		ApprovedAt: s.now(),
	}}
	if !d.Approval.Approved {
		d.RejectionReason = strings.TrimSpace(req.RejectionReason)
	}

	decided, err := s.orders.Decide(ctx, o.ID, d)
	if err != nil {
		if errors.Is(err, ErrAlreadyDecided) || errors.Is(err, ErrInsufficientStock) {
			return nil, err
		}
		return nil, errors.Wrap(err, "decide")
	}
	s.notify(ctx, notify.EventStatusChanged, decided)
	return decided, nil
}
