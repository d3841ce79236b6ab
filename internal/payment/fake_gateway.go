package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeGateway is a dev/test gateway that approves every charge unless told
// otherwise. Never enable outside dev: config.Load refuses a prod
// environment without a real gateway URL.
type FakeGateway struct {
	mu sync.Mutex

	// DeclineReason, when set, declines every charge with that reason.
	DeclineReason string
	// Unavailable, when set, makes every call fail with ErrGatewayUnavailable.
	Unavailable bool

	charges map[string]int64 // transaction id -> amount
	refunds map[string]int64
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		charges: make(map[string]int64),
		refunds: make(map[string]int64),
	}
}

func (g *FakeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Unavailable {
		return nil, ErrGatewayUnavailable
	}
	if g.DeclineReason != "" {
		return nil, &DeclineError{Reason: g.DeclineReason}
	}

	txID := "tx_" + uuid.NewString()
	g.charges[txID] = req.AmountCents
	return &ChargeResponse{TransactionID: txID}, nil
}

func (g *FakeGateway) Refund(ctx context.Context, transactionID string, amountCents int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Unavailable {
		return ErrGatewayUnavailable
	}
	if _, ok := g.charges[transactionID]; !ok {
		return &DeclineError{Reason: "unknown transaction"}
	}

	g.refunds[transactionID] += amountCents
	return nil
}

// RefundedCents reports how much has been refunded against a transaction.
// Test helper.
func (g *FakeGateway) RefundedCents(transactionID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds[transactionID]
}

// ChargedCents reports the original charge amount for a transaction. Test
// helper.
func (g *FakeGateway) ChargedCents(transactionID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.charges[transactionID]
	return amount, ok
}

// TotalChargedCents sums all charges taken so far. Test helper.
func (g *FakeGateway) TotalChargedCents() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total int64
	for _, amount := range g.charges {
		total += amount
	}
	return total
}

// TotalRefundedCents sums all refunds issued so far. Test helper.
func (g *FakeGateway) TotalRefundedCents() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total int64
	for _, amount := range g.refunds {
		total += amount
	}
	return total
}
