package testutil

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/api"
	"github.com/Layr-Labs/abstract-dao-go/pkg/auth"
	"github.com/Layr-Labs/abstract-dao-go/pkg/contract"
	"github.com/Layr-Labs/abstract-dao-go/pkg/env"
	"github.com/Layr-Labs/abstract-dao-go/pkg/ledger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/logger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/metrics"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence/memory"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
)

// TestStack is a complete in-process deployment: memory persistence, in-memory ledger,
// local signer and the HTTP API served by httptest.
type TestStack struct {
	Server   *httptest.Server
	URL      string
	Contract *contract.Contract
	Store    persistence.IRequestPersistence
	Ledger   *ledger.InMemoryLedger
	Signer   *localSigner.LocalSigner
	Clock    *env.FakeClock
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// TestStackOption customizes a stack before it starts serving.
type TestStackOption func(cfg *api.ServerConfig)

// WithAuthenticator replaces header authentication.
func WithAuthenticator(a auth.IAuthenticator) TestStackOption {
	return func(cfg *api.ServerConfig) {
		cfg.Authenticator = a
	}
}

// NewTestStack starts a stack whose signer derives keys from a fixed root secret and
// whose clock sits at StartTime. The server is closed when the test ends.
func NewTestStack(t *testing.T, opts ...TestStackOption) *TestStack {
	t.Helper()

	stackLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	signer, err := localSigner.NewLocalSigner(bytes.Repeat([]byte{9}, 32), "", stackLogger)
	if err != nil {
		t.Fatalf("Failed to create local signer: %v", err)
	}
	hostLedger, err := ledger.NewInMemoryLedger(nil, stackLogger)
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	store := memory.NewMemoryPersistence()
	m := metrics.NewMetrics()

	c, err := contract.NewContract(&contract.ContractConfig{
		Persistence: store,
		Ledger:      hostLedger,
		Delegate:    signing.NewDelegate(signer, 5*time.Second, m, stackLogger),
		Metrics:     m,
		Logger:      stackLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create contract: %v", err)
	}

	clock := env.NewFakeClock(StartTime)
	cfg := &api.ServerConfig{
		Contract:      c,
		Persistence:   store,
		Authenticator: auth.HeaderAuthenticator{},
		Clock:         clock,
		Metrics:       m,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s, err := api.NewServer(cfg, stackLogger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	srv := httptest.NewServer(s.GetHandler())
	t.Cleanup(srv.Close)

	return &TestStack{
		Server:   srv,
		URL:      srv.URL,
		Contract: c,
		Store:    store,
		Ledger:   hostLedger,
		Signer:   signer,
		Clock:    clock,
		Metrics:  m,
		Logger:   stackLogger,
	}
}
