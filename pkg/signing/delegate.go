package signing

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/metrics"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// DefaultSignerTimeout bounds a dispatched signer call.
const DefaultSignerTimeout = 2 * time.Minute

// PendingSignature is the handle to an in-flight signer call.
type PendingSignature struct {
	done   chan struct{}
	result *types.SignatureResponse
	err    error
}

// Done is closed once the signer has answered or failed.
func (p *PendingSignature) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the signer answers or ctx is done. Giving up on the wait
// does not cancel the signer call.
func (p *PendingSignature) Wait(ctx context.Context) (*types.SignatureResponse, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delegate dispatches signing calls without waiting for them.
type Delegate struct {
	signer  ISigner
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDelegate creates a Delegate. A non-positive timeout selects DefaultSignerTimeout.
// m may be nil.
func NewDelegate(signer ISigner, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Delegate {
	if timeout <= 0 {
		timeout = DefaultSignerTimeout
	}
	return &Delegate{
		signer:  signer,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

func (d *Delegate) SignerId() string {
	return d.signer.SignerId()
}

// RequestSignature starts the signer call and returns immediately. The call runs
// on its own context, so it outlives the caller's request.
func (d *Delegate) RequestSignature(args *types.SignArgs, deposit *big.Int, gas types.Gas) *PendingSignature {
	pending := &PendingSignature{done: make(chan struct{})}
	if deposit == nil {
		deposit = new(big.Int)
	}
	deposit = new(big.Int).Set(deposit)

	d.metrics.SignatureRequested()
	d.logger.Sugar().Debugw("Dispatching signature request",
		"signer_id", d.signer.SignerId(),
		"path", args.Request.Path,
		"key_version", args.Request.KeyVersion,
		"deposit", deposit.String(),
		"gas", uint64(gas),
	)

	go func() {
		defer close(pending.done)

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		resp, err := d.signer.Sign(ctx, args, deposit, gas)
		if err == nil && resp == nil {
			err = fmt.Errorf("signer returned no signature")
		}
		d.metrics.SignerFinished(time.Since(start), err)

		if err != nil {
			d.logger.Sugar().Warnw("Signer call failed", "path", args.Request.Path, "error", err)
			if _, coded := errs.CodeOf(err); !coded {
				err = fmt.Errorf("%w: %v", errs.ErrSigner, err)
			}
			pending.err = err
			return
		}
		pending.result = resp
	}()

	return pending
}
