package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/abstract-dao-go/pkg/auth"
	"github.com/Layr-Labs/abstract-dao-go/pkg/contract"
	"github.com/Layr-Labs/abstract-dao-go/pkg/env"
	"github.com/Layr-Labs/abstract-dao-go/pkg/metrics"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

/*
Server exposes the contract over HTTP.

Register flow:
  POST /requests
    - Headers: X-Attached-Deposit (storage deposit, decimal), caller identity
    - Body: InputRequest
    - Stores the request, returns its id, deadline and the refunded surplus

Signature flow:
  POST /requests/{id}/signature
    - Headers: X-Attached-Deposit (>= 1), X-Prepaid-Gas (>= 260 Tgas), caller identity
    - Body: FeePayload with the live chain id and fees
    - Builds the EIP-1559 transaction, dispatches its signing hash to the signer
      and blocks until the signer answers or the signature timeout elapses
    - Returns the unsigned encoding, its hash and the signer's {big_r, s, recovery_id}

Read-only:
  GET /requests/{id}   stored request
  GET /signer          id of the signer requests are dispatched to
  GET /health          persistence health
  GET /metrics         prometheus metrics

Caller identity comes from the configured IAuthenticator: the X-Account-Id header in
trusted deployments, or the subject of a bearer JWT.
*/

const (
	// DefaultPrepaidGas is assumed when a signature call does not send X-Prepaid-Gas.
	DefaultPrepaidGas = 300 * types.Tgas

	// maxBodyBytes bounds request bodies after decompression.
	maxBodyBytes = 1 << 20
)

type ServerConfig struct {
	Port          int
	Contract      *contract.Contract
	Persistence   persistence.IRequestPersistence
	Authenticator auth.IAuthenticator
	Clock         env.Clock
	Metrics       *metrics.Metrics

	// UsedGasOverhead is charged against every signature call's prepaid gas.
	UsedGasOverhead types.Gas

	// SignatureTimeout bounds how long a signature call waits for the signer.
	// Defaults to signing.DefaultSignerTimeout.
	SignatureTimeout time.Duration

	// RateLimit is requests per second across the API; zero disables limiting.
	RateLimit      float64
	RateLimitBurst int
}

// Server handles HTTP requests for the contract
type Server struct {
	contract         *contract.Contract
	persistence      persistence.IRequestPersistence
	authenticator    auth.IAuthenticator
	clock            env.Clock
	metrics          *metrics.Metrics
	usedGasOverhead  types.Gas
	signatureTimeout time.Duration
	logger           *zap.Logger

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *ServerConfig, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if cfg.Contract == nil {
		return nil, fmt.Errorf("contract is required")
	}
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	s := &Server{
		contract:         cfg.Contract,
		persistence:      cfg.Persistence,
		authenticator:    cfg.Authenticator,
		clock:            cfg.Clock,
		metrics:          cfg.Metrics,
		usedGasOverhead:  cfg.UsedGasOverhead,
		signatureTimeout: cfg.SignatureTimeout,
		logger:           logger,
		mux:              http.NewServeMux(),
	}
	if s.clock == nil {
		s.clock = env.SystemClock{}
	}
	if s.signatureTimeout <= 0 {
		s.signatureTimeout = signing.DefaultSignerTimeout
	}

	s.mux.HandleFunc("POST /requests", s.handleRegisterSignatureRequest)
	s.mux.HandleFunc("GET /requests/{id}", s.handleGetRequest)
	s.mux.HandleFunc("POST /requests/{id}/signature", s.handleGetSignature)
	s.mux.HandleFunc("GET /signer", s.handleGetSigner)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	var handler http.Handler = s.mux
	handler = gunzipRequestMiddleware(handler)
	handler = gziphandler.GzipHandler(handler)
	if cfg.RateLimit > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		handler = rateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst), handler)
	}
	handler = s.metricsMiddleware(handler)
	handler = requestIdMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "address", s.httpServer.Addr, "signer_id", s.contract.GetSignerId())
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
