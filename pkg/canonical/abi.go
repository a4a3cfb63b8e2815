package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

var bigIntType = reflect.TypeOf(new(big.Int))

// tokenKinds are the externally tagged argument forms, e.g. {"Uint": "A97"}.
// Tagged integers are hex encoded with an optional 0x prefix.
var tokenKinds = map[string]bool{
	"Address": true, "FixedBytes": true, "Bytes": true, "Int": true, "Uint": true,
	"Bool": true, "String": true, "FixedArray": true, "Array": true, "Tuple": true,
}

// EncodeFunctionData packs the arguments according to the single function entry in
// fd.FunctionAbi and prepends the 4 byte selector. Any mismatch between the declared
// inputs and the supplied arguments is rejected.
func EncodeFunctionData(fd *types.FunctionData) ([]byte, error) {
	if fd == nil {
		return nil, errs.New(errs.CodeAbiEncoding, "function data is missing")
	}
	method, err := parseFunction(fd.FunctionAbi)
	if err != nil {
		return nil, err
	}
	if len(fd.Arguments) != len(method.Inputs) {
		return nil, errs.New(errs.CodeAbiEncoding, "function %s expects %d arguments, got %d",
			method.Name, len(method.Inputs), len(fd.Arguments))
	}

	values := make([]interface{}, 0, len(fd.Arguments))
	for i, input := range method.Inputs {
		v, err := convertArgument(input.Type, fd.Arguments[i], false)
		if err != nil {
			return nil, errs.New(errs.CodeAbiEncoding, "argument %d (%s %s): %v", i, input.Type.String(), input.Name, err)
		}
		values = append(values, v.Interface())
	}

	packed, err := method.Inputs.Pack(values...)
	if err != nil {
		return nil, errs.New(errs.CodeAbiEncoding, "failed to pack arguments for %s: %v", method.Name, err)
	}
	out := make([]byte, 0, len(method.ID)+len(packed))
	out = append(out, method.ID...)
	return append(out, packed...), nil
}

func parseFunction(entry json.RawMessage) (*abi.Method, error) {
	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errs.New(errs.CodeAbiEncoding, "function_abi must be a single ABI entry")
	}
	wrapped := make([]byte, 0, len(trimmed)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, trimmed...)
	wrapped = append(wrapped, ']')

	parsed, err := abi.JSON(bytes.NewReader(wrapped))
	if err != nil {
		return nil, errs.New(errs.CodeAbiEncoding, "invalid function_abi: %v", err)
	}
	if len(parsed.Methods) != 1 {
		return nil, errs.New(errs.CodeAbiEncoding, "function_abi must describe exactly one function")
	}
	for _, m := range parsed.Methods {
		method := m
		return &method, nil
	}
	return nil, errs.New(errs.CodeAbiEncoding, "function_abi must describe exactly one function")
}

// unwrapToken strips an externally tagged token wrapper if present.
func unwrapToken(raw json.RawMessage) (json.RawMessage, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || len(obj) != 1 {
		return trimmed, ""
	}
	for k, v := range obj {
		if tokenKinds[k] {
			return v, k
		}
	}
	return trimmed, ""
}

func convertArgument(t abi.Type, raw json.RawMessage, parentTagged bool) (reflect.Value, error) {
	inner, tag := unwrapToken(raw)
	tagged := parentTagged || tag != ""

	switch t.T {
	case abi.UintTy, abi.IntTy:
		v, err := parseInteger(inner, tagged)
		if err != nil {
			return reflect.Value{}, err
		}
		if t.T == abi.IntTy && tag == "Int" && v.BitLen() == 256 {
			// two's complement
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		if err := checkIntegerRange(t, v); err != nil {
			return reflect.Value{}, err
		}
		return integerValue(t, v)

	case abi.BoolTy:
		var b bool
		if err := json.Unmarshal(inner, &b); err != nil {
			return reflect.Value{}, fmt.Errorf("expected bool: %w", err)
		}
		return reflect.ValueOf(b), nil

	case abi.StringTy:
		var s string
		if err := json.Unmarshal(inner, &s); err != nil {
			return reflect.Value{}, fmt.Errorf("expected string: %w", err)
		}
		return reflect.ValueOf(s), nil

	case abi.AddressTy:
		var s string
		if err := json.Unmarshal(inner, &s); err != nil {
			return reflect.Value{}, fmt.Errorf("expected address string: %w", err)
		}
		if !common.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", s)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil

	case abi.BytesTy:
		b, err := decodeHexArgument(inner)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy:
		b, err := decodeHexArgument(inner)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(b) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr, nil

	case abi.SliceTy, abi.ArrayTy:
		var items []json.RawMessage
		if err := json.Unmarshal(inner, &items); err != nil {
			return reflect.Value{}, fmt.Errorf("expected array: %w", err)
		}
		var container reflect.Value
		if t.T == abi.ArrayTy {
			if len(items) != t.Size {
				return reflect.Value{}, fmt.Errorf("expected %d elements, got %d", t.Size, len(items))
			}
			container = reflect.New(t.GetType()).Elem()
		} else {
			container = reflect.MakeSlice(t.GetType(), len(items), len(items))
		}
		for i, item := range items {
			v, err := convertArgument(*t.Elem, item, tagged)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			container.Index(i).Set(v)
		}
		return container, nil

	case abi.TupleTy:
		fields, err := tupleFields(t, inner)
		if err != nil {
			return reflect.Value{}, err
		}
		st := reflect.New(t.GetType()).Elem()
		for i, elem := range t.TupleElems {
			v, err := convertArgument(*elem, fields[i], tagged)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("component %d: %w", i, err)
			}
			st.Field(i).Set(v)
		}
		return st, nil

	default:
		return reflect.Value{}, fmt.Errorf("unsupported abi type %s", t.String())
	}
}

// tupleFields accepts either a positional array or an object keyed by component name.
func tupleFields(t abi.Type, raw json.RawMessage) ([]json.RawMessage, error) {
	var positional []json.RawMessage
	if err := json.Unmarshal(raw, &positional); err == nil {
		if len(positional) != len(t.TupleElems) {
			return nil, fmt.Errorf("expected %d components, got %d", len(t.TupleElems), len(positional))
		}
		return positional, nil
	}
	var named map[string]json.RawMessage
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("expected tuple as array or object")
	}
	if len(named) != len(t.TupleElems) {
		return nil, fmt.Errorf("expected %d components, got %d", len(t.TupleElems), len(named))
	}
	out := make([]json.RawMessage, len(t.TupleElems))
	for i, name := range t.TupleRawNames {
		v, ok := named[name]
		if !ok {
			return nil, fmt.Errorf("missing component %q", name)
		}
		out[i] = v
	}
	return out, nil
}

func isJSONString(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '"'
}

// parseInteger reads a JSON number or string. Strings with a 0x prefix are always hex;
// unprefixed strings are hex when hexDefault is set and decimal otherwise.
func parseInteger(raw json.RawMessage, hexDefault bool) (*big.Int, error) {
	if !isJSONString(raw) {
		v, ok := new(big.Int).SetString(strings.TrimSpace(string(raw)), 10)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %s", string(raw))
		}
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case hexDefault:
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || s == "" {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if negative {
		v.Neg(v)
	}
	return v, nil
}

func checkIntegerRange(t abi.Type, v *big.Int) error {
	if t.T == abi.UintTy {
		if v.Sign() < 0 {
			return fmt.Errorf("negative value for %s", t.String())
		}
		if v.BitLen() > t.Size {
			return fmt.Errorf("value overflows %s", t.String())
		}
		return nil
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	lower := new(big.Int).Neg(limit)
	if v.Cmp(lower) < 0 || v.Cmp(limit) >= 0 {
		return fmt.Errorf("value overflows %s", t.String())
	}
	return nil
}

func integerValue(t abi.Type, v *big.Int) (reflect.Value, error) {
	goType := t.GetType()
	if goType == bigIntType {
		return reflect.ValueOf(v), nil
	}
	out := reflect.New(goType).Elem()
	switch goType.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out.SetUint(v.Uint64())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.SetInt(v.Int64())
	default:
		return reflect.Value{}, fmt.Errorf("unsupported integer type %s", goType)
	}
	return out, nil
}

func decodeHexArgument(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected hex string: %w", err)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
