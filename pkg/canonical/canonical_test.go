package canonical

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/abstract-dao-go/pkg/eip1559"
	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const setAbi = `{
	"inputs": [{"internalType": "uint256", "name": "_num", "type": "uint256"}],
	"name": "set",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}`

func word(hexValue string) string {
	return strings.Repeat("0", 64-len(hexValue)) + hexValue
}

func functionData(abiJSON string, args ...string) *types.FunctionData {
	fd := &types.FunctionData{FunctionAbi: json.RawMessage(abiJSON)}
	for _, a := range args {
		fd.Arguments = append(fd.Arguments, json.RawMessage(a))
	}
	return fd
}

func strPtr(s string) *string { return &s }

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    common.Address
		wantErr bool
	}{
		{"checksummed", "0x427F9620Be0fe8Db2d840E2b6145D1CF2975bcaD", common.HexToAddress("0x427f9620be0fe8db2d840e2b6145d1cf2975bcad"), false},
		{"no prefix", "427f9620be0fe8db2d840e2b6145d1cf2975bcad", common.HexToAddress("0x427f9620be0fe8db2d840e2b6145d1cf2975bcad"), false},
		{"zero", "0x0000000000000000000000000000000000000000", common.Address{}, false},
		{"empty", "", common.Address{}, true},
		{"too short", "0x1234", common.Address{}, true},
		{"too long", "0x427F9620Be0fe8Db2d840E2b6145D1CF2975bcaD00", common.Address{}, true},
		{"not hex", "0xZZ7F9620Be0fe8Db2d840E2b6145D1CF2975bcaD", common.Address{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errs.ErrCantParseAddress))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseData(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"prefixed", "0x2386f26fc10000", hexutil.MustDecode("0x2386f26fc10000"), false},
		{"unprefixed", "2386F26FC10000", hexutil.MustDecode("0x2386f26fc10000"), false},
		{"empty prefix", "0x", []byte{}, false},
		{"empty", "", []byte{}, false},
		{"odd length", "0x123", nil, true},
		{"garbage", "hello", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseData(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errs.ErrCantParseData))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeFunctionData(t *testing.T) {
	tests := []struct {
		name string
		fd   *types.FunctionData
		want string
	}{
		{
			name: "plain decimal argument",
			fd:   functionData(setAbi, `"2000"`),
			want: "60fe47b1" + word("7d0"),
		},
		{
			name: "json number argument",
			fd:   functionData(setAbi, `2000`),
			want: "60fe47b1" + word("7d0"),
		},
		{
			name: "tagged token argument is hex",
			fd:   functionData(setAbi, `{"Uint": "A97"}`),
			want: "60fe47b1" + word("a97"),
		},
		{
			name: "address and amount",
			fd: functionData(`{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}`,
				`"0x000000000000000000000000000000000000dEaD"`, `"0x3e8"`),
			want: "a9059cbb" + word("dead") + word("3e8"),
		},
		{
			name: "negative signed integer",
			fd:   functionData(`{"name":"f","type":"function","inputs":[{"name":"x","type":"int256"}],"outputs":[]}`, `-1`),
			want: "1c008df9" + strings.Repeat("f", 64),
		},
		{
			name: "static tuple",
			fd: functionData(`{"name":"g","type":"function","inputs":[{"name":"p","type":"tuple","components":[{"name":"who","type":"address"},{"name":"amount","type":"uint256"}]}],"outputs":[]}`,
				`{"who": "0x0000000000000000000000000000000000000001", "amount": 5}`),
			want: "830d3d94" + word("1") + word("5"),
		},
		{
			name: "small int, bool and dynamic string",
			fd: functionData(`{"name":"h","type":"function","inputs":[{"name":"a","type":"uint8"},{"name":"b","type":"bool"},{"name":"c","type":"string"}],"outputs":[]}`,
				`7`, `true`, `"hi"`),
			want: "c4813ed7" + word("7") + word("1") + word("60") + word("2") + "6869" + strings.Repeat("0", 60),
		},
		{
			name: "fixed bytes and dynamic array",
			fd: functionData(`{"name":"k","type":"function","inputs":[{"name":"a","type":"bytes32"},{"name":"b","type":"uint256[]"}],"outputs":[]}`,
				`"0x`+strings.Repeat("11", 32)+`"`, `[1, "2"]`),
			want: "89c1b7c8" + strings.Repeat("11", 32) + word("40") + word("2") + word("1") + word("2"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeFunctionData(tt.fd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hexutil.Encode(got)[2:])
		})
	}
}

func TestEncodeFunctionData_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		fd   *types.FunctionData
	}{
		{"nil", nil},
		{"missing argument", functionData(setAbi)},
		{"extra argument", functionData(setAbi, `1`, `2`)},
		{"wrong type", functionData(setAbi, `true`)},
		{"negative unsigned", functionData(setAbi, `-5`)},
		{"uint8 overflow", functionData(`{"name":"h","type":"function","inputs":[{"name":"a","type":"uint8"}]}`, `256`)},
		{"bad address", functionData(`{"name":"t","type":"function","inputs":[{"name":"a","type":"address"}]}`, `"0x1234"`)},
		{"bytes32 length", functionData(`{"name":"t","type":"function","inputs":[{"name":"a","type":"bytes32"}]}`, `"0x11"`)},
		{"abi is an array", functionData(`[` + setAbi + `]`, `1`)},
		{"abi is garbage", functionData(`{"name": 5}`, `1`)},
		{"abi is an event", functionData(`{"name":"E","type":"event","inputs":[]}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeFunctionData(tt.fd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrAbiEncoding), "got %v", err)
		})
	}
}

func TestNewBasePayload(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		payload, err := NewBasePayload(&types.InputTransactionPayload{
			To:    "0x0000000000000000000000000000000000000000",
			Nonce: types.QuantityFromUint64(0),
		})
		require.NoError(t, err)
		assert.Equal(t, common.Address{}, payload.To)
		assert.Empty(t, payload.Data)
		assert.Equal(t, "0", payload.Value.String())
		assert.Equal(t, "0", payload.Nonce.String())
	})

	t.Run("function data is encoded", func(t *testing.T) {
		payload, err := NewBasePayload(&types.InputTransactionPayload{
			To:           "0xe2a01146FFfC8432497ae49A7a6cBa5B9Abd71A3",
			FunctionData: functionData(setAbi, `{"Uint": "A97"}`),
			Nonce:        types.QuantityFromUint64(0),
		})
		require.NoError(t, err)
		assert.Equal(t, "0x60fe47b1"+word("a97"), hexutil.Encode(payload.Data))
	})

	t.Run("raw data", func(t *testing.T) {
		payload, err := NewBasePayload(&types.InputTransactionPayload{
			To:    "0x0000000000000000000000000000000000000000",
			Data:  strPtr("0x2386f26fc10000"),
			Value: types.QuantityFromUint64(1),
			Nonce: types.QuantityFromUint64(0),
		})
		require.NoError(t, err)
		assert.Equal(t, "0x2386f26fc10000", hexutil.Encode(payload.Data))
		assert.Equal(t, "1", payload.Value.String())
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name  string
			input *types.InputTransactionPayload
			want  error
		}{
			{"nil", nil, errs.ErrCantParseAddress},
			{"empty address", &types.InputTransactionPayload{To: "", Nonce: types.QuantityFromUint64(0)}, errs.ErrCantParseAddress},
			{"bad data", &types.InputTransactionPayload{To: common.Address{}.Hex(), Data: strPtr("0xzz"), Nonce: types.QuantityFromUint64(0)}, errs.ErrCantParseData},
			{"both data forms", &types.InputTransactionPayload{To: common.Address{}.Hex(), Data: strPtr("0x"), FunctionData: functionData(setAbi, `1`), Nonce: types.QuantityFromUint64(0)}, errs.ErrCantParseData},
			{"abi mismatch", &types.InputTransactionPayload{To: common.Address{}.Hex(), FunctionData: functionData(setAbi), Nonce: types.QuantityFromUint64(0)}, errs.ErrAbiEncoding},
			{"missing nonce", &types.InputTransactionPayload{To: common.Address{}.Hex()}, errs.ErrInvalidAmount},
			{"negative value", &types.InputTransactionPayload{To: common.Address{}.Hex(), Value: types.NewQuantity(big.NewInt(-1)), Nonce: types.QuantityFromUint64(0)}, errs.ErrInvalidAmount},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := NewBasePayload(tt.input)
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			})
		}
	})
}

func TestValidateActors(t *testing.T) {
	actors := func(n int) types.Actors {
		out := make(types.Actors, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, types.NewAccountActor(types.AccountId(fmt.Sprintf("user%d.near", i))))
		}
		return out
	}

	assert.NoError(t, ValidateActors(actors(1)))
	assert.NoError(t, ValidateActors(actors(MaxAllowedActors)))
	assert.True(t, errors.Is(ValidateActors(actors(0)), errs.ErrNoActors))
	assert.True(t, errors.Is(ValidateActors(actors(MaxAllowedActors+1)), errs.ErrTooManyActors))
	assert.True(t, errors.Is(ValidateActors(types.Actors{types.NewAccountActor("BAD")}), errs.ErrInvalidActor))
	assert.True(t, errors.Is(ValidateActors(types.Actors{nil}), errs.ErrInvalidActor))
}

func TestCreateDerivationPath(t *testing.T) {
	assert.Equal(t, "account-11111111", CreateDerivationPath("account", 11111111))
	assert.Equal(t, "alice.near-0", CreateDerivationPath("alice.near", 0))
}

func TestMerge(t *testing.T) {
	base := &types.BasePayload{
		To:    common.Address{},
		Data:  hexutil.MustDecode("0x2386f26fc10000"),
		Value: types.QuantityFromUint64(1),
		Nonce: types.QuantityFromUint64(0),
	}

	t.Run("produces the known hash", func(t *testing.T) {
		tx, err := Merge(base, &types.FeePayload{
			ChainId:              1111,
			MaxFeePerGas:         types.QuantityFromUint64(120000),
			MaxPriorityFeePerGas: types.QuantityFromUint64(120000),
			Gas:                  types.QuantityFromUint64(42000),
		})
		require.NoError(t, err)
		_, digest, err := eip1559.SigningHash(tx)
		require.NoError(t, err)
		assert.Equal(t, "0x05447cb13e58fdef395763ee0d6bd4157fbf1d3c69db79a9a348cc83f734ecb1", digest.Hex())
	})

	t.Run("gas defaults", func(t *testing.T) {
		tx, err := Merge(base, &types.FeePayload{
			ChainId:              1,
			MaxFeePerGas:         types.QuantityFromUint64(1),
			MaxPriorityFeePerGas: types.QuantityFromUint64(1),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(DefaultGasLimit), tx.GasLimit.Int64())
	})

	t.Run("base is not mutated", func(t *testing.T) {
		tx, err := Merge(base, &types.FeePayload{
			ChainId:              1,
			MaxFeePerGas:         types.QuantityFromUint64(1),
			MaxPriorityFeePerGas: types.QuantityFromUint64(1),
		})
		require.NoError(t, err)
		tx.Data[0] = 0xff
		tx.Value.SetInt64(99)
		assert.Equal(t, byte(0x23), base.Data[0])
		assert.Equal(t, "1", base.Value.String())
	})

	t.Run("missing fees", func(t *testing.T) {
		_, err := Merge(base, &types.FeePayload{ChainId: 1, MaxFeePerGas: types.QuantityFromUint64(1)})
		assert.True(t, errors.Is(err, errs.ErrInvalidAmount))

		_, err = Merge(base, nil)
		assert.True(t, errors.Is(err, errs.ErrInvalidAmount))
	})
}
