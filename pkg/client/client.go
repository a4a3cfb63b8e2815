package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const defaultTimeout = 3 * time.Minute

// ClientConfig holds the configuration for the abstract-dao client
type ClientConfig struct {
	ServerURL string
	// AccountId is sent as X-Account-Id for servers using header authentication.
	AccountId types.AccountId
	// BearerToken is sent as an Authorization header for servers using JWT authentication.
	BearerToken string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client calls an abstract-dao server.
type Client struct {
	baseURL     *url.URL
	accountId   types.AccountId
	bearerToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a new client instance
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	u, err := url.Parse(strings.TrimRight(config.ServerURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", config.ServerURL)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:     u,
		accountId:   config.AccountId,
		bearerToken: config.BearerToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      config.Logger,
	}, nil
}

// SetHttpClient replaces the underlying HTTP client (for testing)
func (c *Client) SetHttpClient(hc *http.Client) {
	c.httpClient = hc
}

// SignatureCall carries the host parameters of a signature request.
type SignatureCall struct {
	// Deposit defaults to 1 when nil.
	Deposit *big.Int
	// PrepaidGas is omitted when zero and the server default applies.
	PrepaidGas types.Gas
}

// RegisterSignatureRequest registers input, attaching deposit for storage.
func (c *Client) RegisterSignatureRequest(ctx context.Context, input *types.InputRequest, deposit *big.Int) (*types.RegisterSignatureReqResponse, error) {
	headers := map[string]string{}
	if deposit != nil {
		headers[types.HeaderAttachedDeposit] = deposit.String()
	}

	var resp types.RegisterSignatureReqResponse
	if err := c.do(ctx, http.MethodPost, "/requests", input, headers, &resp); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Registered signature request",
		"request_id", resp.RequestId,
		"derivation_path", resp.DerivationPath,
		"deadline", resp.Deadline.Time().UTC(),
	)
	return &resp, nil
}

// GetSignature asks the server to build and sign request id with fee.
func (c *Client) GetSignature(ctx context.Context, id types.RequestId, fee *types.FeePayload, call *SignatureCall) (*types.GetSignatureResponse, error) {
	deposit := big.NewInt(1)
	var gas types.Gas
	if call != nil {
		if call.Deposit != nil {
			deposit = call.Deposit
		}
		gas = call.PrepaidGas
	}

	headers := map[string]string{types.HeaderAttachedDeposit: deposit.String()}
	if gas > 0 {
		headers[types.HeaderPrepaidGas] = fmt.Sprint(uint64(gas))
	}

	var resp types.GetSignatureResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/requests/%d/signature", id), fee, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetRequest(ctx context.Context, id types.RequestId) (*types.Request, error) {
	var resp types.Request
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/requests/%d", id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetSignerId(ctx context.Context) (string, error) {
	var resp types.SignerResponse
	if err := c.do(ctx, http.MethodGet, "/signer", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.SignerId, nil
}

// do sends a JSON request and decodes a JSON response. Error bodies come back as
// *errs.CodedError so callers can match them with errors.Is.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accountId != "" {
		req.Header.Set(types.HeaderAccountId, string(c.accountId))
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr types.ErrorResponse
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return &errs.CodedError{Code: errs.Code(apiErr.Error), Message: strings.TrimPrefix(apiErr.Message, apiErr.Error+": ")}
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
