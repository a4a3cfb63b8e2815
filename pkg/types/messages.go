package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HTTP headers carrying the host call context.
const (
	HeaderAttachedDeposit = "X-Attached-Deposit"
	HeaderPrepaidGas      = "X-Prepaid-Gas"
	HeaderAccountId       = "X-Account-Id"
	HeaderRequestId       = "X-Request-Id"
)

// SignRequest is the body of the call made to the threshold signer.
// Payload is serialized as a JSON array of 32 numbers.
type SignRequest struct {
	Payload    [32]byte `json:"payload"`
	Path       string   `json:"path"`
	KeyVersion uint32   `json:"key_version"`
}

// SignArgs wraps SignRequest the way the signer expects it.
type SignArgs struct {
	Request SignRequest `json:"request"`
}

type AffinePoint struct {
	AffinePoint string `json:"affine_point"`
}

type Scalar struct {
	Scalar string `json:"scalar"`
}

// SignatureResponse is the signer's answer, passed back to the caller untouched.
// BigR is a compressed secp256k1 point, S a 32 byte scalar, both upper or lower case hex.
type SignatureResponse struct {
	BigR       AffinePoint `json:"big_r"`
	S          Scalar      `json:"s"`
	RecoveryId uint8       `json:"recovery_id"`
}

type RegisterSignatureReqResponse struct {
	RequestId      RequestId `json:"request_id"`
	Deadline       Timestamp `json:"deadline"`
	DerivationPath string    `json:"derivation_path"`
	KeyVersion     uint32    `json:"key_version"`
	SignerId       string    `json:"signer_id"`
	AllowedActors  Actors    `json:"allowed_actors"`
	// StorageDeposit is the amount charged for the bytes the request occupies.
	StorageDeposit *Quantity `json:"storage_deposit"`
	Refund         *Quantity `json:"refund"`
}

type GetSignatureResponse struct {
	RequestId RequestId          `json:"request_id"`
	Tx        hexutil.Bytes      `json:"tx"`
	Payload   common.Hash        `json:"payload"`
	Signature *SignatureResponse `json:"signature"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SignerResponse struct {
	SignerId string `json:"signer_id"`
}
