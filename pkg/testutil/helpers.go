package testutil

import (
	"encoding/json"
	"math/big"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// SetAbi is the ABI entry of `function set(uint256 _num)`.
const SetAbi = `{"inputs":[{"internalType":"uint256","name":"_num","type":"uint256"}],"name":"set","outputs":[],"stateMutability":"nonpayable","type":"function"}`

// Signing hashes of set(0xA97) to SetTarget with nonce 0, gas 21000 and SepoliaFees, per chain.
const (
	SetTarget             = "0xe2a01146FFfC8432497ae49A7a6cBa5B9Abd71A3"
	SetPayloadSepolia     = "0x562d144722deba4da7630e9c494ffc8acdc3347aad329a61f6b7a824d7352bd0"
	SetPayloadArbitrumOne = "0x813223e0e83162210a5c2ea3ef0abc3651b3dda211ef46f6588fd5e027628299"
)

// StartTime is the fake block time test stacks start at, in nanoseconds.
const StartTime = types.Timestamp(1_700_000_000_000_000_000)

// OneNear returns 10^24 yocto, enough to cover any request's storage.
func OneNear() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
}

// SetRequestInput builds a registration of set(0xA97) that the given accounts may sign.
func SetRequestInput(actors ...types.AccountId) *types.InputRequest {
	in := &types.InputRequest{
		TransactionPayload: types.InputTransactionPayload{
			To: SetTarget,
			FunctionData: &types.FunctionData{
				FunctionAbi: json.RawMessage(SetAbi),
				Arguments:   []json.RawMessage{json.RawMessage(`{"Uint":"A97"}`)},
			},
			Nonce: types.QuantityFromUint64(0),
		},
	}
	for _, a := range actors {
		in.AllowedActors = append(in.AllowedActors, types.NewAccountActor(a))
	}
	return in
}

// SepoliaFees returns the live fee parameters SetPayloadSepolia was computed with.
func SepoliaFees() *types.FeePayload {
	return &types.FeePayload{
		ChainId:              11155111,
		MaxFeePerGas:         types.QuantityFromUint64(111551114121),
		MaxPriorityFeePerGas: types.QuantityFromUint64(294111551111),
	}
}
