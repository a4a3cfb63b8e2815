package eip1559

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// TxType is the EIP-2718 envelope type byte of a dynamic fee transaction.
const TxType byte = 0x02

// Transaction is a fully specified, unsigned EIP-1559 transaction with an empty access list.
type Transaction struct {
	ChainId              *big.Int
	Nonce                *big.Int
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	GasLimit             *big.Int
	To                   common.Address
	Value                *big.Int
	Data                 []byte
}

// unsignedPayload is the RLP field order of an unsigned dynamic fee transaction.
type unsignedPayload struct {
	ChainId              *big.Int
	Nonce                *big.Int
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	GasLimit             *big.Int
	To                   common.Address
	Value                *big.Int
	Data                 []byte
	AccessList           types.AccessList
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (tx *Transaction) validate() error {
	fields := map[string]*big.Int{
		"chain_id":                 tx.ChainId,
		"nonce":                    tx.Nonce,
		"max_priority_fee_per_gas": tx.MaxPriorityFeePerGas,
		"max_fee_per_gas":          tx.MaxFeePerGas,
		"gas_limit":                tx.GasLimit,
		"value":                    tx.Value,
	}
	for name, v := range fields {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
		if v != nil && v.BitLen() > 256 {
			return fmt.Errorf("%s overflows 256 bits", name)
		}
	}
	return nil
}

// Encode returns 0x02 || rlp([chain_id, nonce, max_priority_fee_per_gas, max_fee_per_gas,
// gas_limit, to, value, data, []]). Integers are minimal big-endian, zero is the empty string.
func Encode(tx *Transaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("cannot encode nil transaction")
	}
	if err := tx.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid transaction")
	}

	body, err := rlp.EncodeToBytes(&unsignedPayload{
		ChainId:              orZero(tx.ChainId),
		Nonce:                orZero(tx.Nonce),
		MaxPriorityFeePerGas: orZero(tx.MaxPriorityFeePerGas),
		MaxFeePerGas:         orZero(tx.MaxFeePerGas),
		GasLimit:             orZero(tx.GasLimit),
		To:                   tx.To,
		Value:                orZero(tx.Value),
		Data:                 tx.Data,
		AccessList:           types.AccessList{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to rlp encode transaction")
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, TxType)
	return append(out, body...), nil
}

// Hash is the Keccak-256 digest of an encoded transaction.
func Hash(encoded []byte) common.Hash {
	return crypto.Keccak256Hash(encoded)
}

// SigningHash encodes tx and returns both the encoding and its digest.
func SigningHash(tx *Transaction) ([]byte, common.Hash, error) {
	encoded, err := Encode(tx)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return encoded, Hash(encoded), nil
}

// ToDynamicFeeTx converts tx into go-ethereum's representation. Nonce and gas limit must fit in 64 bits.
func ToDynamicFeeTx(tx *Transaction) (*types.DynamicFeeTx, error) {
	if err := tx.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid transaction")
	}
	nonce, gas := orZero(tx.Nonce), orZero(tx.GasLimit)
	if !nonce.IsUint64() {
		return nil, fmt.Errorf("nonce %s does not fit in 64 bits", nonce)
	}
	if !gas.IsUint64() {
		return nil, fmt.Errorf("gas limit %s does not fit in 64 bits", gas)
	}
	to := tx.To
	return &types.DynamicFeeTx{
		ChainID:    new(big.Int).Set(orZero(tx.ChainId)),
		Nonce:      nonce.Uint64(),
		GasTipCap:  new(big.Int).Set(orZero(tx.MaxPriorityFeePerGas)),
		GasFeeCap:  new(big.Int).Set(orZero(tx.MaxFeePerGas)),
		Gas:        gas.Uint64(),
		To:         &to,
		Value:      new(big.Int).Set(orZero(tx.Value)),
		Data:       common.CopyBytes(tx.Data),
		AccessList: types.AccessList{},
	}, nil
}
