package canonical

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/abstract-dao-go/pkg/eip1559"
	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const (
	// MaxAllowedActors bounds the size of a request's allow list.
	MaxAllowedActors = 10

	// DefaultGasLimit is used when the signing call does not provide a gas limit.
	DefaultGasLimit = 21_000
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAddress accepts a 20 byte hex address with or without the 0x prefix.
// Checksum casing is not enforced.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.New(errs.CodeCantParseAddress, "invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseData decodes hex calldata with or without the 0x prefix. Empty input yields empty data.
func ParseData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return nil, errs.New(errs.CodeCantParseData, "invalid calldata: %v", err)
	}
	return b, nil
}

func checkAmount(name string, q *types.Quantity) (*big.Int, error) {
	v := q.Big()
	if v == nil {
		return nil, errs.New(errs.CodeInvalidAmount, "%s is required", name)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "%s is out of range", name)
	}
	return v, nil
}

// NewBasePayload validates the caller supplied transaction fields and produces the stored
// BasePayload. Function data takes the ABI encoding path; raw data is accepted only when no
// function data is given. A missing value defaults to zero.
func NewBasePayload(input *types.InputTransactionPayload) (*types.BasePayload, error) {
	if input == nil {
		return nil, errs.New(errs.CodeCantParseAddress, "transaction payload is missing")
	}
	to, err := ParseAddress(input.To)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch {
	case input.FunctionData != nil && input.Data != nil:
		return nil, errs.New(errs.CodeCantParseData, "function_data and data are mutually exclusive")
	case input.FunctionData != nil:
		data, err = EncodeFunctionData(input.FunctionData)
	case input.Data != nil:
		data, err = ParseData(*input.Data)
	default:
		data = []byte{}
	}
	if err != nil {
		return nil, err
	}

	value := input.Value
	if value == nil {
		value = types.QuantityFromUint64(0)
	}
	if _, err := checkAmount("value", value); err != nil {
		return nil, err
	}
	if _, err := checkAmount("nonce", input.Nonce); err != nil {
		return nil, err
	}

	return &types.BasePayload{
		To:    to,
		Data:  data,
		Value: types.NewQuantity(value.Big()),
		Nonce: types.NewQuantity(input.Nonce.Big()),
	}, nil
}

// ValidateActors enforces the 1..MaxAllowedActors cardinality and well formed identities.
func ValidateActors(actors types.Actors) error {
	if len(actors) == 0 {
		return errs.New(errs.CodeNoActors, "at least one allowed actor is required")
	}
	if len(actors) > MaxAllowedActors {
		return errs.New(errs.CodeTooManyActors, "at most %d allowed actors, got %d", MaxAllowedActors, len(actors))
	}
	for i, a := range actors {
		if a == nil {
			return errs.New(errs.CodeInvalidActor, "actor %d is empty", i)
		}
		if err := a.Validate(); err != nil {
			return errs.New(errs.CodeInvalidActor, "actor %d: %v", i, err)
		}
	}
	return nil
}

// CreateDerivationPath returns "<caller>-<seed>".
func CreateDerivationPath(caller types.AccountId, seed uint32) string {
	return fmt.Sprintf("%s-%d", caller, seed)
}

// ValidateFeePayload checks the live fee parameters of a signing call.
func ValidateFeePayload(fee *types.FeePayload) error {
	if fee == nil {
		return errs.New(errs.CodeInvalidAmount, "fee payload is missing")
	}
	if _, err := checkAmount("max_fee_per_gas", fee.MaxFeePerGas); err != nil {
		return err
	}
	if _, err := checkAmount("max_priority_fee_per_gas", fee.MaxPriorityFeePerGas); err != nil {
		return err
	}
	if fee.Gas != nil {
		if _, err := checkAmount("gas", fee.Gas); err != nil {
			return err
		}
	}
	return nil
}

// Merge combines the stored base payload with the live fee payload. Fee fields always
// come from fee; the gas limit falls back to DefaultGasLimit.
func Merge(base *types.BasePayload, fee *types.FeePayload) (*eip1559.Transaction, error) {
	if base == nil {
		return nil, fmt.Errorf("base payload is missing")
	}
	if err := ValidateFeePayload(fee); err != nil {
		return nil, err
	}

	gas := big.NewInt(DefaultGasLimit)
	if fee.Gas != nil {
		gas = fee.Gas.Big()
	}
	value := base.Value.Big()
	if value == nil {
		value = new(big.Int)
	}
	nonce := base.Nonce.Big()
	if nonce == nil {
		nonce = new(big.Int)
	}

	return &eip1559.Transaction{
		ChainId:              new(big.Int).SetUint64(fee.ChainId),
		Nonce:                nonce,
		MaxPriorityFeePerGas: fee.MaxPriorityFeePerGas.Big(),
		MaxFeePerGas:         fee.MaxFeePerGas.Big(),
		GasLimit:             gas,
		To:                   base.To,
		Value:                value,
		Data:                 common.CopyBytes(base.Data),
	}, nil
}
