// Package signer holds helpers shared by the threshold signer backends.
package signer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

var (
	secp256k1N, _  = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// ResponseFromRSV converts a 65 byte [R || S || V] signature with V in {0,1}
// into the signer's answer shape. R becomes a compressed point whose prefix
// carries the parity from V.
func ResponseFromRSV(sig []byte) (*types.SignatureResponse, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v > 1 {
		return nil, fmt.Errorf("recovery id must be 0 or 1, got %d", v)
	}

	bigR := make([]byte, 33)
	bigR[0] = 0x02 + v
	copy(bigR[1:], sig[:32])

	return &types.SignatureResponse{
		BigR:       types.AffinePoint{AffinePoint: strings.ToUpper(common.Bytes2Hex(bigR))},
		S:          types.Scalar{Scalar: strings.ToUpper(common.Bytes2Hex(sig[32:64]))},
		RecoveryId: v,
	}, nil
}

// NormalizeS folds s into the lower half of the curve order. The second return
// value reports whether s was folded, which flips the recovery id.
func NormalizeS(s *big.Int) (*big.Int, bool) {
	if s.Cmp(secp256k1HalfN) > 0 {
		return new(big.Int).Sub(secp256k1N, s), true
	}
	return new(big.Int).Set(s), false
}
