// Package env describes the execution context a contract call runs in: who is
// calling, what they attached, how much budget they brought and the current time.
package env

import (
	"math/big"
	"sync"
	"time"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// CallContext is the per-call view of the host.
type CallContext struct {
	Predecessor     types.AccountId
	AttachedDeposit *big.Int
	PrepaidGas      types.Gas
	UsedGas         types.Gas
	BlockTimestamp  types.Timestamp
}

// Attached returns the attached deposit, treating nil as zero.
func (c *CallContext) Attached() *big.Int {
	if c.AttachedDeposit == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.AttachedDeposit)
}

// Clock yields the block timestamp used for deadlines.
type Clock interface {
	Now() types.Timestamp
}

type SystemClock struct{}

func (SystemClock) Now() types.Timestamp {
	return types.TimestampFromTime(time.Now())
}

// FakeClock is a manually driven Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now types.Timestamp
}

func NewFakeClock(start types.Timestamp) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() types.Timestamp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) Set(t types.Timestamp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
