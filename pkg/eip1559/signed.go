package eip1559

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	dao "github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

var (
	secp256k1N, _  = new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// SignatureBytes converts a signer response into the 65 byte [R || S || V] form with V in {0, 1}.
// R is the x coordinate of the compressed big_r point. A high S is folded into the lower half
// of the curve order and V flipped accordingly.
func SignatureBytes(sig *dao.SignatureResponse) ([]byte, error) {
	if sig == nil {
		return nil, fmt.Errorf("signature is nil")
	}
	if sig.RecoveryId > 1 {
		return nil, fmt.Errorf("unsupported recovery id %d", sig.RecoveryId)
	}

	bigR, err := decodeHex(sig.BigR.AffinePoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid big_r")
	}
	if len(bigR) != 33 || (bigR[0] != 0x02 && bigR[0] != 0x03) {
		return nil, fmt.Errorf("big_r must be a 33 byte compressed point, got %d bytes", len(bigR))
	}
	sBytes, err := decodeHex(sig.S.Scalar)
	if err != nil {
		return nil, errors.Wrap(err, "invalid s")
	}
	if len(sBytes) != 32 {
		return nil, fmt.Errorf("s must be 32 bytes, got %d", len(sBytes))
	}

	r := new(big.Int).SetBytes(bigR[1:])
	r.Mod(r, secp256k1N)
	s := new(big.Int).SetBytes(sBytes)
	if r.Sign() == 0 || s.Sign() == 0 || s.Cmp(secp256k1N) >= 0 {
		return nil, fmt.Errorf("signature values out of range")
	}

	v := sig.RecoveryId
	if s.Cmp(secp256k1HalfN) > 0 {
		s.Sub(secp256k1N, s)
		v ^= 1
	}

	out := make([]byte, crypto.SignatureLength)
	r.FillBytes(out[0:32])
	s.FillBytes(out[32:64])
	out[64] = v
	return out, nil
}

// AssembleSigned attaches a signer response to tx and returns the raw signed transaction
// together with its transaction hash.
func AssembleSigned(tx *Transaction, sig *dao.SignatureResponse) ([]byte, common.Hash, error) {
	inner, err := ToDynamicFeeTx(tx)
	if err != nil {
		return nil, common.Hash{}, err
	}
	sigBytes, err := SignatureBytes(sig)
	if err != nil {
		return nil, common.Hash{}, err
	}

	signer := types.NewLondonSigner(inner.ChainID)
	signed, err := types.NewTx(inner).WithSignature(signer, sigBytes)
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "failed to attach signature")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "failed to marshal signed transaction")
	}
	return raw, signed.Hash(), nil
}

// RecoverSender returns the address that produced sig over the signing hash of tx.
func RecoverSender(tx *Transaction, sig *dao.SignatureResponse) (common.Address, error) {
	_, digest, err := SigningHash(tx)
	if err != nil {
		return common.Address{}, err
	}
	sigBytes, err := SignatureBytes(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sigBytes)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(strings.ToLower(s))
}
