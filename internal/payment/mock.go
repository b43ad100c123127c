package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Refund is a refund recorded by MockGateway.
type Refund struct {
	ID          string
	PaymentID   string
	AmountMinor int64
}

// MockGateway is an in-process Gateway for development and tests. Order ids
// derive from the receipt, so they are deterministic and unique per booking.
type MockGateway struct {
	secret string

	mu        sync.Mutex
	refunds   []Refund
	failOrder error
	failRef   error
}

// NewMockGateway creates a mock gateway that signs with secret.
func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{secret: secret}
}

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failOrder != nil {
		return nil, g.failOrder
	}
	if amountMinor < 0 {
		return nil, fmt.Errorf("negative amount %d", amountMinor)
	}
	return &Order{
		ID:       "order_" + receipt,
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *MockGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return Verify(g.secret, orderID, paymentID, signature)
}

func (g *MockGateway) Refund(ctx context.Context, paymentID string, amountMinor int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failRef != nil {
		return "", g.failRef
	}
	r := Refund{ID: "rfnd_" + uuid.New().String()[:12], PaymentID: paymentID, AmountMinor: amountMinor}
	g.refunds = append(g.refunds, r)
	return r.ID, nil
}

// SignPayment produces the signature a client would receive from checkout.
func (g *MockGateway) SignPayment(orderID, paymentID string) string {
	return Sign(g.secret, orderID, paymentID)
}

// Refunds returns a copy of the refunds issued so far.
func (g *MockGateway) Refunds() []Refund {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Refund, len(g.refunds))
	copy(out, g.refunds)
	return out
}

// FailOrders makes subsequent CreateOrder calls return err (nil resets).
func (g *MockGateway) FailOrders(err error) {
	g.mu.Lock()
	g.failOrder = err
	g.mu.Unlock()
}

// FailRefunds makes subsequent Refund calls return err (nil resets).
func (g *MockGateway) FailRefunds(err error) {
	g.mu.Lock()
	g.failRef = err
	g.mu.Unlock()
}
