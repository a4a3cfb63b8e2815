package types

import "fmt"

// Gas is an amount of host execution budget.
type Gas uint64

// Tgas is 10^12 gas units.
const Tgas Gas = 1_000_000_000_000

// FromTgas converts whole teragas to gas.
func FromTgas(n uint64) Gas {
	return Gas(n) * Tgas
}

func (g Gas) String() string {
	if g%Tgas == 0 {
		return fmt.Sprintf("%d Tgas", uint64(g/Tgas))
	}
	return fmt.Sprintf("%d gas", uint64(g))
}
