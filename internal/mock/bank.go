package mock

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/marketops/internal/bank"
	"github.com/punchamoorthee/marketops/internal/domain"
)

// Bank implements bank.Client over an in-memory balance map.
type Bank struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal

	// DepositErr, when set, makes every deposit fail. Used to provoke the
	// withdraw-succeeded-deposit-failed consistency path.
	DepositErr error
}

func NewBank() *Bank {
	return &Bank{balances: make(map[string]decimal.Decimal)}
}

// Open creates an account with the given balance.
func (b *Bank) Open(owner string, balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] = decimal.NewFromFloat(balance)
}

func (b *Bank) Balance(owner string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[owner]
}

func (b *Bank) FindAccount(_ context.Context, owner string) (*bank.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[owner]
	if !ok {
		return nil, nil
	}
	return &bank.Account{Owner: owner, Balance: bal}, nil
}

func (b *Bank) Deposit(_ context.Context, owner string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DepositErr != nil {
		return b.DepositErr
	}
	bal, ok := b.balances[owner]
	if !ok {
		return domain.ErrNoAccount
	}
	b.balances[owner] = bal.Add(amount)
	return nil
}

func (b *Bank) Withdraw(_ context.Context, owner string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[owner]
	if !ok {
		return domain.ErrNoAccount
	}
	if bal.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	b.balances[owner] = bal.Sub(amount)
	return nil
}
