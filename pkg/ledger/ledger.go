// Package ledger models the host's value accounting: what a stored byte costs and
// where surplus deposits go back to.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// DefaultStorageByteCost is 10^19 yocto per byte, so 100 KB costs 1 whole unit.
var DefaultStorageByteCost = new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)

type ILedger interface {
	// StorageByteCost is the price of one persisted byte.
	StorageByteCost() *big.Int

	// DepositForStorage is the amount owed for storing the given number of bytes.
	DepositForStorage(bytes uint64) (*big.Int, error)

	// Refund returns amount to account.
	Refund(ctx context.Context, account types.AccountId, amount *big.Int) error
}

// RefundRecord is one entry of the refund journal.
type RefundRecord struct {
	Account types.AccountId
	Amount  *big.Int
}

// InMemoryLedger keeps refunds in a journal instead of moving real funds.
type InMemoryLedger struct {
	byteCost *big.Int
	logger   *zap.Logger

	mu      sync.Mutex
	journal []RefundRecord
}

var _ ILedger = (*InMemoryLedger)(nil)

// NewInMemoryLedger creates a ledger charging byteCost per byte. A nil byteCost
// selects DefaultStorageByteCost.
func NewInMemoryLedger(byteCost *big.Int, logger *zap.Logger) (*InMemoryLedger, error) {
	if byteCost == nil {
		byteCost = DefaultStorageByteCost
	}
	if byteCost.Sign() < 0 {
		return nil, fmt.Errorf("storage byte cost cannot be negative: %s", byteCost)
	}
	return &InMemoryLedger{
		byteCost: new(big.Int).Set(byteCost),
		logger:   logger,
	}, nil
}

func (l *InMemoryLedger) StorageByteCost() *big.Int {
	return new(big.Int).Set(l.byteCost)
}

func (l *InMemoryLedger) DepositForStorage(bytes uint64) (*big.Int, error) {
	return new(big.Int).Mul(l.byteCost, new(big.Int).SetUint64(bytes)), nil
}

func (l *InMemoryLedger) Refund(ctx context.Context, account types.AccountId, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("refund amount must be positive")
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("invalid refund recipient: %w", err)
	}

	l.mu.Lock()
	l.journal = append(l.journal, RefundRecord{Account: account, Amount: new(big.Int).Set(amount)})
	l.mu.Unlock()

	l.logger.Sugar().Debugw("Recorded refund", "account", account, "amount", amount.String())
	return nil
}

// Refunds returns a copy of the journal.
func (l *InMemoryLedger) Refunds() []RefundRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RefundRecord, len(l.journal))
	for i, r := range l.journal {
		out[i] = RefundRecord{Account: r.Account, Amount: new(big.Int).Set(r.Amount)}
	}
	return out
}

// RefundedTo sums every refund sent to account.
func (l *InMemoryLedger) RefundedTo(account types.AccountId) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := new(big.Int)
	for _, r := range l.journal {
		if r.Account == account {
			total.Add(total, r.Amount)
		}
	}
	return total
}
