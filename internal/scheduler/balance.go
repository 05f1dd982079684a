package scheduler

import "context"

// Balance is a snapshot of the external sandbox's account state, fetched
// once per tick and shared by every task through TickContext.
type Balance struct {
	CreditCents int64
	USDCCents   int64
}

// BalanceSource fetches the current balance from the external sandbox
// collaborator. A production implementation calls out over the network;
// tests substitute a fixed or failing stub.
type BalanceSource interface {
	FetchBalance(ctx context.Context) (Balance, error)
}

// BalanceSourceFunc adapts a plain function to BalanceSource.
type BalanceSourceFunc func(ctx context.Context) (Balance, error)

// FetchBalance implements BalanceSource.
func (f BalanceSourceFunc) FetchBalance(ctx context.Context) (Balance, error) {
	return f(ctx)
}
