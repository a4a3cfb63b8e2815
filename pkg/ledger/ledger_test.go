package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/abstract-dao-go/pkg/logger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

func newTestLedger(t *testing.T, byteCost *big.Int) *InMemoryLedger {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	l, err := NewInMemoryLedger(byteCost, testLogger)
	require.NoError(t, err)
	return l
}

func TestInMemoryLedger_DefaultByteCost(t *testing.T) {
	l := newTestLedger(t, nil)
	assert.Equal(t, "10000000000000000000", l.StorageByteCost().String())

	// 100 KB of storage costs exactly one whole unit (10^24 yocto)
	owed, err := l.DepositForStorage(100_000)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000", owed.String())
}

func TestInMemoryLedger_StorageByteCostIsACopy(t *testing.T) {
	l := newTestLedger(t, big.NewInt(3))
	l.StorageByteCost().SetInt64(100)
	assert.Equal(t, int64(3), l.StorageByteCost().Int64())
}

func TestNewInMemoryLedger_RejectsNegativeCost(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err := NewInMemoryLedger(big.NewInt(-1), testLogger)
	assert.Error(t, err)
}

func TestInMemoryLedger_Refund(t *testing.T) {
	l := newTestLedger(t, big.NewInt(1))
	ctx := context.Background()

	require.NoError(t, l.Refund(ctx, "alice.near", big.NewInt(10)))
	require.NoError(t, l.Refund(ctx, "bob.near", big.NewInt(3)))
	require.NoError(t, l.Refund(ctx, "alice.near", big.NewInt(5)))

	assert.Equal(t, int64(15), l.RefundedTo("alice.near").Int64())
	assert.Equal(t, int64(3), l.RefundedTo("bob.near").Int64())
	assert.Equal(t, int64(0), l.RefundedTo("carol.near").Int64())
	assert.Len(t, l.Refunds(), 3)

	tests := []struct {
		name    string
		account string
		amount  *big.Int
	}{
		{name: "zero amount", account: "alice.near", amount: big.NewInt(0)},
		{name: "negative amount", account: "alice.near", amount: big.NewInt(-1)},
		{name: "nil amount", account: "alice.near", amount: nil},
		{name: "invalid account", account: "Alice!", amount: big.NewInt(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, l.Refund(ctx, types.AccountId(tt.account), tt.amount))
		})
	}
	assert.Len(t, l.Refunds(), 3)
}
