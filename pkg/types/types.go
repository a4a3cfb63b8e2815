package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountId identifies a caller on the host ledger.
type AccountId string

const (
	minAccountIdLen = 2
	maxAccountIdLen = 64
)

// Validate checks the ledger account naming rules: 2-64 characters of lowercase
// alphanumerics, with '.', '_' or '-' only between alphanumerics.
func (a AccountId) Validate() error {
	s := string(a)
	if len(s) < minAccountIdLen || len(s) > maxAccountIdLen {
		return fmt.Errorf("account id %q must be between %d and %d characters", s, minAccountIdLen, maxAccountIdLen)
	}
	prevSeparator := true
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSeparator = false
		case c == '.' || c == '_' || c == '-':
			if prevSeparator {
				return fmt.Errorf("account id %q has an unexpected separator at %d", s, i)
			}
			prevSeparator = true
		default:
			return fmt.Errorf("account id %q contains invalid character %q", s, c)
		}
	}
	if prevSeparator {
		return fmt.Errorf("account id %q cannot end with a separator", s)
	}
	return nil
}

func (a AccountId) String() string {
	return string(a)
}

// RequestId is the monotonically increasing identifier of a stored Request.
type RequestId uint64

// Timestamp is a host block timestamp in nanoseconds.
type Timestamp uint64

func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d.Nanoseconds())
}

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Quantity is a non-negative integer that travels as a decimal string in JSON.
// Hex strings with a 0x prefix and bare JSON numbers are accepted on input.
type Quantity big.Int

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func NewQuantity(v *big.Int) *Quantity {
	if v == nil {
		return nil
	}
	return (*Quantity)(new(big.Int).Set(v))
}

func QuantityFromUint64(v uint64) *Quantity {
	return (*Quantity)(new(big.Int).SetUint64(v))
}

// ParseQuantity parses a decimal or 0x-prefixed hex string into a Quantity.
func ParseQuantity(s string) (*Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 2 {
			return nil, fmt.Errorf("empty hex quantity")
		}
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("quantity %q is negative", s)
	}
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("quantity %q overflows 256 bits", s)
	}
	return (*Quantity)(v), nil
}

// Big returns a copy of the underlying integer. A nil Quantity yields nil.
func (q *Quantity) Big() *big.Int {
	if q == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(q))
}

func (q *Quantity) String() string {
	if q == nil {
		return "0"
	}
	return (*big.Int)(q).String()
}

func (q *Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseQuantity(raw)
	if err != nil {
		return err
	}
	*q = *parsed
	return nil
}

// BasePayload is the caller-chosen part of an EIP-1559 transaction, fixed at registration.
type BasePayload struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *Quantity      `json:"value"`
	Nonce *Quantity      `json:"nonce"`
}

// FeePayload carries the fee and chain parameters supplied on every signing call.
type FeePayload struct {
	ChainId              uint64    `json:"chain_id"`
	MaxFeePerGas         *Quantity `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *Quantity `json:"max_priority_fee_per_gas"`
	Gas                  *Quantity `json:"gas,omitempty"`
}

// Request is a registered signature request. It is never mutated after it is stored.
type Request struct {
	Id             RequestId   `json:"id"`
	AllowedActors  Actors      `json:"allowed_actors"`
	Deadline       Timestamp   `json:"deadline"`
	Payload        BasePayload `json:"payload"`
	DerivationPath string      `json:"derivation_path"`
	KeyVersion     uint32      `json:"key_version"`
}

// FunctionData is a single ABI function entry together with the arguments to call it with.
type FunctionData struct {
	FunctionAbi json.RawMessage   `json:"function_abi"`
	Arguments   []json.RawMessage `json:"arguments"`
}

type InputTransactionPayload struct {
	To           string        `json:"to"`
	FunctionData *FunctionData `json:"function_data,omitempty"`
	// Data is pre-encoded calldata, used only when FunctionData is absent.
	Data  *string   `json:"data,omitempty"`
	Value *Quantity `json:"value,omitempty"`
	Nonce *Quantity `json:"nonce"`
}

type InputRequest struct {
	AllowedActors        Actors                  `json:"allowed_actors"`
	TransactionPayload   InputTransactionPayload `json:"transaction_payload"`
	DerivationSeedNumber uint32                  `json:"derivation_seed_number"`
	KeyVersion           *uint32                 `json:"key_version,omitempty"`
}
