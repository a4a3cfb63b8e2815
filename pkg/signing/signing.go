// Package signing builds the call to the threshold signer and dispatches it.
package signing

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/abstract-dao-go/pkg/env"
	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const (
	// GasForSign is what the signer itself needs to produce a signature.
	GasForSign = 250 * types.Tgas

	// GasForPromise is reserved for constructing the outgoing signer call.
	GasForPromise = 5 * types.Tgas

	// gasForBookkeeping covers loading the request and running the checks.
	gasForBookkeeping = 5 * types.Tgas

	// MinGasForGetSignature is the budget a signing call must bring.
	MinGasForGetSignature = GasForSign + gasForBookkeeping + GasForPromise
)

// ISigner is a threshold signer reachable from this service.
type ISigner interface {
	// Sign asks for a signature over args.Request.Payload, attaching deposit and
	// handing the remaining gas budget along.
	Sign(ctx context.Context, args *types.SignArgs, deposit *big.Int, gas types.Gas) (*types.SignatureResponse, error)

	// SignerId identifies the signer. It is reported to callers and bound at startup.
	SignerId() string
}

// AssertGas fails with ErrInsufficientGas if the call brought less than min.
func AssertGas(call *env.CallContext, min types.Gas) error {
	if call.PrepaidGas < min {
		return errs.New(errs.CodeInsufficientGas, "prepaid gas %s is below the required %s", call.PrepaidGas, min)
	}
	return nil
}

// ForwardedGas is the budget handed to the signer: prepaid minus used minus GasForPromise.
func ForwardedGas(call *env.CallContext) (types.Gas, error) {
	reserved := call.UsedGas + GasForPromise
	if reserved < call.UsedGas || call.PrepaidGas < reserved {
		return 0, errs.New(errs.CodeInsufficientGas, "prepaid gas %s does not cover used %s plus %s", call.PrepaidGas, call.UsedGas, GasForPromise)
	}
	return call.PrepaidGas - reserved, nil
}

// NewSignArgs wraps a digest and key selection in the signer's argument shape.
func NewSignArgs(hash common.Hash, path string, keyVersion uint32) *types.SignArgs {
	return &types.SignArgs{
		Request: types.SignRequest{
			Payload:    [32]byte(hash),
			Path:       path,
			KeyVersion: keyVersion,
		},
	}
}

// BuildSignArgs returns the JSON call arguments, with the digest as an array of 32 numbers.
func BuildSignArgs(hash common.Hash, path string, keyVersion uint32) ([]byte, error) {
	return json.Marshal(NewSignArgs(hash, path, keyVersion))
}
