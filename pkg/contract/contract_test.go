package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/abstract-dao-go/pkg/canonical"
	"github.com/Layr-Labs/abstract-dao-go/pkg/eip1559"
	"github.com/Layr-Labs/abstract-dao-go/pkg/env"
	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/ledger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/logger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/metrics"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence/memory"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const (
	setAbi = `{"inputs":[{"internalType":"uint256","name":"_num","type":"uint256"}],"name":"set","outputs":[],"stateMutability":"nonpayable","type":"function"}`

	startTime = types.Timestamp(1_700_000_000_000_000_000)
)

// oneNear is 10^24 yocto, plenty for any request's storage.
var oneNear = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// countingSigner wraps a signer and counts dispatched calls.
type countingSigner struct {
	inner signing.ISigner
	calls atomic.Int32

	mu       sync.Mutex
	lastGas  types.Gas
	lastArgs *types.SignArgs
}

func (c *countingSigner) Sign(ctx context.Context, args *types.SignArgs, deposit *big.Int, gas types.Gas) (*types.SignatureResponse, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.lastGas = gas
	c.lastArgs = args
	c.mu.Unlock()
	return c.inner.Sign(ctx, args, deposit, gas)
}

func (c *countingSigner) SignerId() string {
	return c.inner.SignerId()
}

type fixture struct {
	contract *Contract
	store    persistence.IRequestPersistence
	ledger   *ledger.InMemoryLedger
	signer   *countingSigner
	local    *localSigner.LocalSigner
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	local, err := localSigner.NewLocalSigner(bytes.Repeat([]byte{7}, 32), "v1.signer-dev.testnet", testLogger)
	require.NoError(t, err)
	signer := &countingSigner{inner: local}

	l, err := ledger.NewInMemoryLedger(nil, testLogger)
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	m := metrics.NewMetrics()

	c, err := NewContract(&ContractConfig{
		Persistence: store,
		Ledger:      l,
		Delegate:    signing.NewDelegate(signer, 5*time.Second, m, testLogger),
		Metrics:     m,
		Logger:      testLogger,
	})
	require.NoError(t, err)

	return &fixture{contract: c, store: store, ledger: l, signer: signer, local: local, metrics: m}
}

func registerCall(caller types.AccountId, deposit *big.Int) *env.CallContext {
	return &env.CallContext{
		Predecessor:     caller,
		AttachedDeposit: deposit,
		PrepaidGas:      types.FromTgas(30),
		BlockTimestamp:  startTime,
	}
}

func signCall(caller types.AccountId, at types.Timestamp) *env.CallContext {
	return &env.CallContext{
		Predecessor:     caller,
		AttachedDeposit: big.NewInt(1),
		PrepaidGas:      types.FromTgas(300),
		UsedGas:         types.FromTgas(3),
		BlockTimestamp:  at,
	}
}

func setRequestInput(actors ...types.AccountId) *types.InputRequest {
	in := &types.InputRequest{
		TransactionPayload: types.InputTransactionPayload{
			To: "0xe2a01146FFfC8432497ae49A7a6cBa5B9Abd71A3",
			FunctionData: &types.FunctionData{
				FunctionAbi: json.RawMessage(setAbi),
				Arguments:   []json.RawMessage{json.RawMessage(`{"Uint":"A97"}`)},
			},
			Nonce: types.QuantityFromUint64(0),
		},
		DerivationSeedNumber: 0,
	}
	for _, a := range actors {
		in.AllowedActors = append(in.AllowedActors, types.NewAccountActor(a))
	}
	return in
}

func sepoliaFees() *types.FeePayload {
	return &types.FeePayload{
		ChainId:              11155111,
		MaxFeePerGas:         types.QuantityFromUint64(111551114121),
		MaxPriorityFeePerGas: types.QuantityFromUint64(294111551111),
	}
}

func (f *fixture) register(t *testing.T, caller types.AccountId, actors ...types.AccountId) *types.RegisterSignatureReqResponse {
	t.Helper()
	resp, err := f.contract.RegisterSignatureRequest(context.Background(), registerCall(caller, oneNear), setRequestInput(actors...))
	require.NoError(t, err)
	return resp
}

func TestRegister_StoresRequest(t *testing.T) {
	f := newFixture(t)

	resp := f.register(t, "dao.near", "alice.near", "bob.near")
	assert.Equal(t, types.RequestId(0), resp.RequestId)
	assert.Equal(t, "dao.near-0", resp.DerivationPath)
	assert.Equal(t, uint32(0), resp.KeyVersion)
	assert.Equal(t, "v1.signer-dev.testnet", resp.SignerId)
	assert.Equal(t, startTime.Add(15*time.Minute), resp.Deadline)
	assert.Len(t, resp.AllowedActors, 2)

	req, err := f.contract.GetRequest(resp.RequestId)
	require.NoError(t, err)
	assert.Equal(t, "0x60fe47b10000000000000000000000000000000000000000000000000000000000000a97", hexutil.Encode(req.Payload.Data))
	assert.Equal(t, common.HexToAddress("0xe2a01146FFfC8432497ae49A7a6cBa5B9Abd71A3"), req.Payload.To)
	assert.Equal(t, "0", req.Payload.Value.String())
}

func TestRegister_IdsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)

	first := f.register(t, "dao.near", "alice.near")
	second := f.register(t, "dao.near", "alice.near")
	assert.Greater(t, second.RequestId, first.RequestId)
	assert.Equal(t, first.RequestId+1, second.RequestId)
}

func TestRegister_DepositAndRefund(t *testing.T) {
	f := newFixture(t)

	in := setRequestInput("alice.near")
	resp, err := f.contract.RegisterSignatureRequest(context.Background(), registerCall("dao.near", oneNear), in)
	require.NoError(t, err)

	usage, err := f.store.StorageUsage()
	require.NoError(t, err)
	owed := new(big.Int).Mul(ledger.DefaultStorageByteCost, new(big.Int).SetUint64(usage))
	assert.Equal(t, owed.String(), resp.StorageDeposit.String())

	expectedRefund := new(big.Int).Sub(oneNear, owed)
	assert.Equal(t, expectedRefund.String(), resp.Refund.String())
	assert.Equal(t, expectedRefund.String(), f.ledger.RefundedTo("dao.near").String())
}

func TestRegister_ExactDepositIsNotRefunded(t *testing.T) {
	f := newFixture(t)
	f.register(t, "dao.near", "alice.near")
	usage, err := f.store.StorageUsage()
	require.NoError(t, err)
	owed := new(big.Int).Mul(ledger.DefaultStorageByteCost, new(big.Int).SetUint64(usage))

	// a second identical request occupies the same number of bytes
	for _, surplus := range []int64{0, 1} {
		deposit := new(big.Int).Add(owed, big.NewInt(surplus))
		refundsBefore := len(f.ledger.Refunds())
		resp, err := f.contract.RegisterSignatureRequest(context.Background(), registerCall("dao.near", deposit), setRequestInput("alice.near"))
		require.NoError(t, err)
		assert.Equal(t, "0", resp.Refund.String())
		assert.Len(t, f.ledger.Refunds(), refundsBefore)
	}
}

func TestRegister_FailuresLeaveNoTrace(t *testing.T) {
	tooMany := setRequestInput()
	for i := 0; i < canonical.MaxAllowedActors+1; i++ {
		tooMany.AllowedActors = append(tooMany.AllowedActors, types.NewAccountActor(types.AccountId("actor"+string(rune('a'+i)))))
	}
	badAddress := setRequestInput("alice.near")
	badAddress.TransactionPayload.To = "0x1234"
	badData := setRequestInput("alice.near")
	badData.TransactionPayload.FunctionData = nil
	badData.TransactionPayload.Data = func() *string { s := "0xzz"; return &s }()
	badArgs := setRequestInput("alice.near")
	badArgs.TransactionPayload.FunctionData.Arguments = nil
	invalidActor := setRequestInput("Not Valid")

	tests := []struct {
		name    string
		caller  types.AccountId
		deposit *big.Int
		input   *types.InputRequest
		wantErr error
	}{
		{name: "no actors", caller: "dao.near", deposit: oneNear, input: setRequestInput(), wantErr: errs.ErrNoActors},
		{name: "too many actors", caller: "dao.near", deposit: oneNear, input: tooMany, wantErr: errs.ErrTooManyActors},
		{name: "invalid actor", caller: "dao.near", deposit: oneNear, input: invalidActor, wantErr: errs.ErrInvalidActor},
		{name: "invalid caller", caller: "", deposit: oneNear, input: setRequestInput("alice.near"), wantErr: errs.ErrInvalidActor},
		{name: "bad address", caller: "dao.near", deposit: oneNear, input: badAddress, wantErr: errs.ErrCantParseAddress},
		{name: "bad data", caller: "dao.near", deposit: oneNear, input: badData, wantErr: errs.ErrCantParseData},
		{name: "abi mismatch", caller: "dao.near", deposit: oneNear, input: badArgs, wantErr: errs.ErrAbiEncoding},
		{name: "no deposit", caller: "dao.near", deposit: nil, input: setRequestInput("alice.near"), wantErr: errs.ErrInsufficientDeposit},
		{name: "small deposit", caller: "dao.near", deposit: big.NewInt(1000), input: setRequestInput("alice.near"), wantErr: errs.ErrInsufficientDeposit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.contract.RegisterSignatureRequest(context.Background(), registerCall(tt.caller, tt.deposit), tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			next, err := f.store.NextRequestId()
			require.NoError(t, err)
			assert.Equal(t, types.RequestId(0), next)
			usage, err := f.store.StorageUsage()
			require.NoError(t, err)
			assert.Equal(t, uint64(0), usage)
			assert.Empty(t, f.ledger.Refunds())
		})
	}
}

func TestRegister_KeyVersionAndSeed(t *testing.T) {
	f := newFixture(t)

	in := setRequestInput("alice.near")
	in.DerivationSeedNumber = 11111111
	version := uint32(2)
	in.KeyVersion = &version

	resp, err := f.contract.RegisterSignatureRequest(context.Background(), registerCall("dao.near", oneNear), in)
	require.NoError(t, err)
	assert.Equal(t, "dao.near-11111111", resp.DerivationPath)
	assert.Equal(t, uint32(2), resp.KeyVersion)
}

func TestGetSignature_ProducesKnownHashAndRecoverableSignature(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "dao.near", "alice.near")

	pending, resp, err := f.contract.GetSignature(signCall("alice.near", startTime.Add(time.Minute)), reg.RequestId, sepoliaFees())
	require.NoError(t, err)
	assert.Equal(t, "0x562d144722deba4da7630e9c494ffc8acdc3347aad329a61f6b7a824d7352bd0", resp.Payload.Hex())
	assert.Equal(t, eip1559.TxType, resp.Tx[0])

	sig, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.signer.calls.Load())

	// 300 prepaid - 3 used - 5 reserved
	assert.Equal(t, types.FromTgas(292), f.signer.lastGas)
	assert.Equal(t, "dao.near-0", f.signer.lastArgs.Request.Path)

	req, err := f.contract.GetRequest(reg.RequestId)
	require.NoError(t, err)
	tx, err := canonical.Merge(&req.Payload, sepoliaFees())
	require.NoError(t, err)

	sender, err := eip1559.RecoverSender(tx, sig)
	require.NoError(t, err)
	want, err := f.local.DerivedAddress("dao.near-0", 0)
	require.NoError(t, err)
	assert.Equal(t, want, sender)
}

func TestGetSignature_RequestIsReusableUntilDeadline(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "dao.near", "alice.near", "bob.near")

	for _, caller := range []types.AccountId{"alice.near", "bob.near", "alice.near"} {
		pending, _, err := f.contract.GetSignature(signCall(caller, reg.Deadline), reg.RequestId, sepoliaFees())
		require.NoError(t, err)
		_, err = pending.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), f.signer.calls.Load())
}

func TestGetSignature_FeesComeFromTheCall(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "dao.near", "alice.near")

	_, first, err := f.contract.GetSignature(signCall("alice.near", startTime), reg.RequestId, sepoliaFees())
	require.NoError(t, err)

	arbitrum := sepoliaFees()
	arbitrum.ChainId = 42161
	_, second, err := f.contract.GetSignature(signCall("alice.near", startTime), reg.RequestId, arbitrum)
	require.NoError(t, err)

	assert.NotEqual(t, first.Payload, second.Payload)
	assert.Equal(t, "0x813223e0e83162210a5c2ea3ef0abc3651b3dda211ef46f6588fd5e027628299", second.Payload.Hex())
}

func TestGetSignature_Rejections(t *testing.T) {
	expiredAt := startTime.Add(RequestLifetime + time.Nanosecond)

	lowGas := signCall("alice.near", startTime)
	lowGas.PrepaidGas = signing.MinGasForGetSignature - 1

	noDeposit := signCall("alice.near", startTime)
	noDeposit.AttachedDeposit = big.NewInt(0)

	strangerLate := signCall("mallory.near", expiredAt)
	strangerLate.PrepaidGas = 0

	expiredLowGas := signCall("alice.near", expiredAt)
	expiredLowGas.PrepaidGas = 0

	badFees := sepoliaFees()
	badFees.MaxFeePerGas = nil

	tests := []struct {
		name    string
		call    *env.CallContext
		id      types.RequestId
		fee     *types.FeePayload
		wantErr error
	}{
		{name: "unknown id", call: signCall("alice.near", startTime), id: 99, fee: sepoliaFees(), wantErr: errs.ErrNotFound},
		{name: "stranger", call: signCall("mallory.near", startTime), id: 0, fee: sepoliaFees(), wantErr: errs.ErrForbidden},
		{name: "stranger after deadline with no gas", call: strangerLate, id: 0, fee: sepoliaFees(), wantErr: errs.ErrForbidden},
		{name: "registrant not in allow list", call: signCall("dao.near", startTime), id: 0, fee: sepoliaFees(), wantErr: errs.ErrForbidden},
		{name: "expired", call: signCall("alice.near", expiredAt), id: 0, fee: sepoliaFees(), wantErr: errs.ErrTimeIsUp},
		{name: "expired with no gas", call: expiredLowGas, id: 0, fee: sepoliaFees(), wantErr: errs.ErrTimeIsUp},
		{name: "low gas", call: lowGas, id: 0, fee: sepoliaFees(), wantErr: errs.ErrInsufficientGas},
		{name: "no deposit", call: noDeposit, id: 99, fee: sepoliaFees(), wantErr: errs.ErrInsufficientDeposit},
		{name: "missing fee", call: signCall("alice.near", startTime), id: 0, fee: badFees, wantErr: errs.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.register(t, "dao.near", "alice.near")

			pending, resp, err := f.contract.GetSignature(tt.call, tt.id, tt.fee)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Nil(t, pending)
			assert.Nil(t, resp)
			assert.Equal(t, int32(0), f.signer.calls.Load(), "rejected call must never dispatch")
		})
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.contract.GetRequest(3)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestContract_ConcurrentRegistrations(t *testing.T) {
	f := newFixture(t)

	const callers = 20
	ids := make(chan types.RequestId, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.contract.RegisterSignatureRequest(context.Background(), registerCall("dao.near", oneNear), setRequestInput("alice.near"))
			if assert.NoError(t, err) {
				ids <- resp.RequestId
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[types.RequestId]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, callers)
}

func TestNewContract_Config(t *testing.T) {
	_, err := NewContract(nil)
	assert.Error(t, err)
	_, err = NewContract(&ContractConfig{})
	assert.Error(t, err)
}

// interleavingStore lets another writer register right before its first allocation,
// the way a second replica on a shared store would.
type interleavingStore struct {
	persistence.IRequestPersistence
	before func()
	once   sync.Once
}

func (s *interleavingStore) AllocateRequest(build persistence.RequestBuilder) (*types.Request, error) {
	s.once.Do(s.before)
	return s.IRequestPersistence.AllocateRequest(build)
}

// rebuildingStore runs the builder for an id that is then lost, as a shared store does
// when its transaction aborts, before allocating for real.
type rebuildingStore struct {
	persistence.IRequestPersistence
}

func (s *rebuildingStore) AllocateRequest(build persistence.RequestBuilder) (*types.Request, error) {
	next, err := s.NextRequestId()
	if err != nil {
		return nil, err
	}
	// a wider id than the one finally assigned
	if _, err := build(next + 1_000_000_000); err != nil {
		return nil, err
	}
	return s.IRequestPersistence.AllocateRequest(build)
}

func newReplica(t *testing.T, f *fixture, store persistence.IRequestPersistence) *Contract {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	c, err := NewContract(&ContractConfig{
		Persistence: store,
		Ledger:      f.ledger,
		Delegate:    signing.NewDelegate(f.signer, 5*time.Second, f.metrics, testLogger),
		Metrics:     f.metrics,
		Logger:      testLogger,
	})
	require.NoError(t, err)
	return c
}

func TestRegister_ReplicasSharingAStore(t *testing.T) {
	f := newFixture(t)
	other := newReplica(t, f, f.store)

	var otherResp *types.RegisterSignatureReqResponse
	shared := &interleavingStore{IRequestPersistence: f.store}
	shared.before = func() {
		var err error
		otherResp, err = other.RegisterSignatureRequest(context.Background(), registerCall("other.near", oneNear), setRequestInput("bob.near"))
		require.NoError(t, err)
	}
	replica := newReplica(t, f, shared)

	resp, err := replica.RegisterSignatureRequest(context.Background(), registerCall("dao.near", oneNear), setRequestInput("alice.near"))
	require.NoError(t, err)
	require.NotNil(t, otherResp)

	assert.Equal(t, types.RequestId(0), otherResp.RequestId)
	assert.Equal(t, types.RequestId(1), resp.RequestId)

	first, err := f.contract.GetRequest(0)
	require.NoError(t, err)
	assert.Equal(t, "other.near-0", first.DerivationPath)
	second, err := f.contract.GetRequest(1)
	require.NoError(t, err)
	assert.Equal(t, "dao.near-0", second.DerivationPath)

	size0, err := persistence.MeasureRequest(first)
	require.NoError(t, err)
	size1, err := persistence.MeasureRequest(second)
	require.NoError(t, err)
	usage, err := f.store.StorageUsage()
	require.NoError(t, err)
	assert.Equal(t, size0+size1, usage)
}

func TestRegister_ChargesForTheIdFinallyAssigned(t *testing.T) {
	f := newFixture(t)
	replica := newReplica(t, f, &rebuildingStore{IRequestPersistence: f.store})

	resp, err := replica.RegisterSignatureRequest(context.Background(), registerCall("dao.near", oneNear), setRequestInput("alice.near"))
	require.NoError(t, err)
	assert.Equal(t, types.RequestId(0), resp.RequestId)

	stored, err := f.contract.GetRequest(0)
	require.NoError(t, err)
	size, err := persistence.MeasureRequest(stored)
	require.NoError(t, err)
	owed, err := f.ledger.DepositForStorage(size)
	require.NoError(t, err)
	assert.Equal(t, owed.String(), resp.StorageDeposit.String())
	assert.Equal(t, new(big.Int).Sub(oneNear, owed).String(), resp.Refund.String())
}
