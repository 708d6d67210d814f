package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// Manager routes payment operations to the gateway registered for a method.
type Manager struct {
	gateways map[Method]Gateway
}

// NewManager registers the given gateways by their method. A later gateway
// replaces an earlier one serving the same method.
func NewManager(gateways ...Gateway) *Manager {
	m := &Manager{gateways: make(map[Method]Gateway, len(gateways))}
	for _, g := range gateways {
		m.gateways[g.Method()] = g
	}
	return m
}

// Gateway returns the gateway serving method.
func (m *Manager) Gateway(method Method) (Gateway, error) {
	g, ok := m.gateways[method]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "%q", method)
	}
	return g, nil
}

// Initiate starts a payment with the gateway serving method.
func (m *Manager) Initiate(ctx context.Context, method Method, req InitiateRequest) (*Initiation, error) {
	g, err := m.Gateway(method)
	if err != nil {
		return nil, err
	}
	return g.Initiate(ctx, req)
}

// Verify checks callback data with the gateway serving method.
func (m *Manager) Verify(ctx context.Context, method Method, req VerifyRequest) (*Verification, error) {
	g, err := m.Gateway(method)
	if err != nil {
		return nil, err
	}
	return g.Verify(ctx, req)
}

// Refund returns a settled payment through the gateway serving method.
func (m *Manager) Refund(ctx context.Context, method Method, req RefundRequest) error {
	g, err := m.Gateway(method)
	if err != nil {
		return err
	}
	return g.Refund(ctx, req)
}
