// Package httpSigner talks to a threshold signer exposed over HTTP.
package httpSigner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const maxErrorBodyBytes = 4096

// HttpSignerConfig holds the configuration for the HTTP signer backend
type HttpSignerConfig struct {
	// Endpoint is the signer base URL; signatures are requested from <Endpoint>/sign.
	Endpoint string
	// SignerId is reported to callers. Defaults to the endpoint host.
	SignerId string
	// Timeout bounds one HTTP round trip. Zero leaves it to the caller's context.
	Timeout time.Duration
	Logger  *zap.Logger
}

type HttpSigner struct {
	signUrl  string
	signerId string
	client   *http.Client
	logger   *zap.Logger
}

var _ signing.ISigner = (*HttpSigner)(nil)

func NewHttpSigner(cfg *HttpSignerConfig) (*HttpSigner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid signer endpoint %q", cfg.Endpoint)
	}

	signerId := cfg.SignerId
	if signerId == "" {
		signerId = u.Host
	}

	return &HttpSigner{
		signUrl:  strings.TrimRight(cfg.Endpoint, "/") + "/sign",
		signerId: signerId,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
	}, nil
}

// SetHttpClient replaces the HTTP client, mostly for tests.
func (h *HttpSigner) SetHttpClient(client *http.Client) {
	h.client = client
}

func (h *HttpSigner) SignerId() string {
	return h.signerId
}

// Sign posts the sign args once. Failures are returned as is; there is no retry.
func (h *HttpSigner) Sign(ctx context.Context, args *types.SignArgs, deposit *big.Int, gas types.Gas) (*types.SignatureResponse, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign args: %w", err)
	}
	if deposit == nil {
		deposit = new(big.Int)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.signUrl, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(types.HeaderAttachedDeposit, deposit.String())
	req.Header.Set(types.HeaderPrepaidGas, strconv.FormatUint(uint64(gas), 10))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact signer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		h.logger.Sugar().Warnw("Signer returned error",
			"status_code", resp.StatusCode,
			"body", string(errBody),
		)
		return nil, fmt.Errorf("signer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var sig types.SignatureResponse
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return nil, fmt.Errorf("failed to decode signer response: %w", err)
	}
	if sig.BigR.AffinePoint == "" || sig.S.Scalar == "" {
		return nil, fmt.Errorf("signer response is missing big_r or s")
	}

	h.logger.Sugar().Debugw("Received signature from signer", "path", args.Request.Path, "recovery_id", sig.RecoveryId)
	return &sig, nil
}
