// Package contract implements the request registry: callers register a transaction
// template with an allow list, and allowed actors later have it signed with live fees.
package contract

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/canonical"
	"github.com/Layr-Labs/abstract-dao-go/pkg/eip1559"
	"github.com/Layr-Labs/abstract-dao-go/pkg/env"
	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/guard"
	"github.com/Layr-Labs/abstract-dao-go/pkg/ledger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/metrics"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// RequestLifetime is how long a registered request stays signable.
const RequestLifetime = 15 * time.Minute

var (
	// minAttachedForSignature is the smallest deposit a signing call must carry.
	minAttachedForSignature = big.NewInt(1)

	// refundThreshold: surplus at or below this is kept rather than refunded.
	refundThreshold = big.NewInt(1)
)

type ContractConfig struct {
	Persistence persistence.IRequestPersistence
	Ledger      ledger.ILedger
	Delegate    *signing.Delegate
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Contract serializes every call under one lock, so a call sees and leaves the
// store in a consistent state.
type Contract struct {
	store    persistence.IRequestPersistence
	ledger   ledger.ILedger
	delegate *signing.Delegate
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu sync.Mutex
}

func NewContract(cfg *ContractConfig) (*Contract, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Delegate == nil {
		return nil, fmt.Errorf("signing delegate is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Contract{
		store:    cfg.Persistence,
		ledger:   cfg.Ledger,
		delegate: cfg.Delegate,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// GetSignerId returns the id of the signer every request is dispatched to.
func (c *Contract) GetSignerId() string {
	return c.delegate.SignerId()
}

func (c *Contract) reject(operation string, err error) error {
	code, ok := errs.CodeOf(err)
	if !ok {
		code = errs.CodeStorage
	}
	c.metrics.Rejected(operation, string(code))
	return err
}

func storageError(err error, format string, args ...interface{}) error {
	if _, coded := errs.CodeOf(err); coded {
		return err
	}
	return errors.Wrapf(&errs.CodedError{Code: errs.CodeStorage, Message: err.Error()}, format, args...)
}

// RegisterSignatureRequest validates and stores a new request on behalf of call.Predecessor.
// The attached deposit must cover the storage the request occupies; any surplus above one
// unit is refunded. Nothing is written unless every check passes.
func (c *Contract) RegisterSignatureRequest(ctx context.Context, call *env.CallContext, input *types.InputRequest) (*types.RegisterSignatureReqResponse, error) {
	resp, err := c.register(ctx, call, input)
	if err != nil {
		return nil, c.reject("register_signature_request", err)
	}
	return resp, nil
}

func (c *Contract) register(ctx context.Context, call *env.CallContext, input *types.InputRequest) (*types.RegisterSignatureReqResponse, error) {
	if input == nil {
		return nil, errs.New(errs.CodeCantParseData, "request input is missing")
	}
	if err := call.Predecessor.Validate(); err != nil {
		return nil, errs.New(errs.CodeInvalidActor, "invalid caller: %v", err)
	}
	if err := canonical.ValidateActors(input.AllowedActors); err != nil {
		return nil, err
	}
	payload, err := canonical.NewBasePayload(&input.TransactionPayload)
	if err != nil {
		return nil, err
	}

	var keyVersion uint32
	if input.KeyVersion != nil {
		keyVersion = *input.KeyVersion
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	derivationPath := canonical.CreateDerivationPath(call.Predecessor, input.DerivationSeedNumber)
	attached := call.Attached()

	// Measured and priced per build: the id width changes the serialized size.
	var size uint64
	var owed *big.Int
	req, err := c.store.AllocateRequest(func(id types.RequestId) (*types.Request, error) {
		req := &types.Request{
			Id:             id,
			AllowedActors:  input.AllowedActors,
			Deadline:       call.BlockTimestamp.Add(RequestLifetime),
			Payload:        *payload,
			DerivationPath: derivationPath,
			KeyVersion:     keyVersion,
		}
		var err error
		if size, err = persistence.MeasureRequest(req); err != nil {
			return nil, storageError(err, "failed to measure request %d", id)
		}
		if owed, err = c.ledger.DepositForStorage(size); err != nil {
			return nil, storageError(err, "failed to price storage")
		}
		if attached.Cmp(owed) < 0 {
			return nil, errs.New(errs.CodeInsufficientDeposit, "attached %s does not cover the storage cost %s for %d bytes", attached, owed, size)
		}
		return req, nil
	})
	if err != nil {
		return nil, storageError(err, "failed to store request")
	}
	id := req.Id

	refund := new(big.Int).Sub(attached, owed)
	if refund.Cmp(refundThreshold) > 0 {
		if err := c.ledger.Refund(ctx, call.Predecessor, refund); err != nil {
			// the request is already stored; the surplus stays with the contract
			c.logger.Sugar().Errorw("Failed to refund storage surplus",
				"request_id", id,
				"account", call.Predecessor,
				"amount", refund.String(),
				"error", err,
			)
			refund = new(big.Int)
		}
	} else {
		refund = new(big.Int)
	}

	c.metrics.RequestRegistered()
	c.logger.Sugar().Infow("Registered signature request",
		"request_id", id,
		"caller", call.Predecessor,
		"derivation_path", req.DerivationPath,
		"key_version", keyVersion,
		"actors", len(req.AllowedActors),
		"bytes", size,
		"deadline", req.Deadline.Time(),
	)

	return &types.RegisterSignatureReqResponse{
		RequestId:      id,
		Deadline:       req.Deadline,
		DerivationPath: req.DerivationPath,
		KeyVersion:     keyVersion,
		SignerId:       c.delegate.SignerId(),
		AllowedActors:  req.AllowedActors,
		StorageDeposit: types.NewQuantity(owed),
		Refund:         types.NewQuantity(refund),
	}, nil
}

// GetRequest returns a stored request or ErrNotFound.
func (c *Contract) GetRequest(id types.RequestId) (*types.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.store.GetRequest(id)
	if err != nil {
		return nil, storageError(err, "failed to load request %d", id)
	}
	if req == nil {
		return nil, errs.New(errs.CodeNotFound, "request %d not found", id)
	}
	return req, nil
}

// GetSignature builds the transaction for request id with the caller's live fees and
// dispatches its signing hash. Checks run in a fixed order: attached deposit, existence,
// authorization, deadline, gas budget, fee validation. The returned response has no
// signature yet; it arrives through the PendingSignature.
func (c *Contract) GetSignature(call *env.CallContext, id types.RequestId, fee *types.FeePayload) (*signing.PendingSignature, *types.GetSignatureResponse, error) {
	pending, resp, err := c.getSignature(call, id, fee)
	if err != nil {
		return nil, nil, c.reject("get_signature", err)
	}
	return pending, resp, nil
}

func (c *Contract) getSignature(call *env.CallContext, id types.RequestId, fee *types.FeePayload) (*signing.PendingSignature, *types.GetSignatureResponse, error) {
	attached := call.Attached()
	if attached.Cmp(minAttachedForSignature) < 0 {
		return nil, nil, errs.New(errs.CodeInsufficientDeposit, "at least %s must be attached to request a signature", minAttachedForSignature)
	}

	req, err := c.GetRequest(id)
	if err != nil {
		return nil, nil, err
	}

	if !guard.IsActorAllowed(req, types.NewAccountActor(call.Predecessor)) {
		return nil, nil, errs.New(errs.CodeForbidden, "%s is not allowed to sign request %d", call.Predecessor, id)
	}
	if guard.IsTimeExceeded(req, call.BlockTimestamp) {
		return nil, nil, errs.New(errs.CodeTimeIsUp, "request %d expired at %s", id, req.Deadline.Time().Format(time.RFC3339Nano))
	}
	if err := signing.AssertGas(call, signing.MinGasForGetSignature); err != nil {
		return nil, nil, err
	}

	tx, err := canonical.Merge(&req.Payload, fee)
	if err != nil {
		return nil, nil, err
	}
	encoded, hash, err := eip1559.SigningHash(tx)
	if err != nil {
		return nil, nil, errs.New(errs.CodeInvalidAmount, "%v", err)
	}
	gas, err := signing.ForwardedGas(call)
	if err != nil {
		return nil, nil, err
	}

	pending := c.delegate.RequestSignature(signing.NewSignArgs(hash, req.DerivationPath, req.KeyVersion), attached, gas)

	c.logger.Sugar().Infow("Dispatched signature request",
		"request_id", id,
		"caller", call.Predecessor,
		"chain_id", fee.ChainId,
		"payload", hash.Hex(),
		"forwarded_gas", uint64(gas),
	)

	return pending, &types.GetSignatureResponse{
		RequestId: id,
		Tx:        encoded,
		Payload:   hash,
	}, nil
}
