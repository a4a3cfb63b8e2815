// Package auth resolves the account a transport request is made on behalf of.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// IAuthenticator maps an incoming request to the calling account.
type IAuthenticator interface {
	Authenticate(r *http.Request) (types.AccountId, error)
}

// HeaderAuthenticator trusts the X-Account-Id header. Only use it behind a gateway
// that sets the header itself.
type HeaderAuthenticator struct{}

var _ IAuthenticator = HeaderAuthenticator{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (types.AccountId, error) {
	account := types.AccountId(strings.TrimSpace(r.Header.Get(types.HeaderAccountId)))
	if account == "" {
		return "", errs.New(errs.CodeUnauthenticated, "missing %s header", types.HeaderAccountId)
	}
	if err := account.Validate(); err != nil {
		return "", errs.New(errs.CodeUnauthenticated, "%v", err)
	}
	return account, nil
}

// JWTAuthenticator accepts bearer tokens and uses their subject claim as the account.
type JWTAuthenticator struct {
	parseOpts []jwt.ParseOption
	logger    *zap.Logger
}

var _ IAuthenticator = (*JWTAuthenticator)(nil)

type JWTConfig struct {
	// Issuer and Audience are enforced when set.
	Issuer   string
	Audience string
	Logger   *zap.Logger
}

func validationOptions(cfg *JWTConfig) []jwt.ParseOption {
	opts := []jwt.ParseOption{jwt.WithValidate(true), jwt.WithAcceptableSkew(30 * time.Second)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

// NewHMACAuthenticator verifies HS256 tokens against a shared secret.
func NewHMACAuthenticator(secret []byte, cfg *JWTConfig) (*JWTAuthenticator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if cfg == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	opts := append(validationOptions(cfg), jwt.WithKey(jwa.HS256(), secret))
	return &JWTAuthenticator{parseOpts: opts, logger: cfg.Logger}, nil
}

// NewJWKSAuthenticator verifies tokens against a remote key set refreshed every refreshInterval.
func NewJWKSAuthenticator(ctx context.Context, jwksUrl string, refreshInterval time.Duration, cfg *JWTConfig) (*JWTAuthenticator, error) {
	if cfg == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	keySet, err := NewJWKCache(ctx, jwksUrl, refreshInterval)
	if err != nil {
		return nil, err
	}
	return NewKeySetAuthenticator(keySet, cfg)
}

// NewKeySetAuthenticator verifies tokens against a fixed key set.
func NewKeySetAuthenticator(keySet jwk.Set, cfg *JWTConfig) (*JWTAuthenticator, error) {
	if keySet == nil {
		return nil, fmt.Errorf("key set is required")
	}
	if cfg == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	opts := append(validationOptions(cfg), jwt.WithKeySet(keySet))
	return &JWTAuthenticator{parseOpts: opts, logger: cfg.Logger}, nil
}

// NewJWKCache registers jwkUrl with a refreshing cache, fetches it once and returns the cached set.
func NewJWKCache(ctx context.Context, jwkUrl string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create jwk cache: %w", err)
	}

	if err := cache.Register(ctx, jwkUrl, jwk.WithConstantInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register jwk location: %w", err)
	}

	if _, err := cache.Refresh(ctx, jwkUrl); err != nil {
		return nil, fmt.Errorf("failed to fetch on startup: %w", err)
	}

	return cache.CachedSet(jwkUrl)
}

func (j *JWTAuthenticator) Authenticate(r *http.Request) (types.AccountId, error) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return "", errs.New(errs.CodeUnauthenticated, "missing bearer token")
	}

	token, err := jwt.Parse([]byte(tokenString), j.parseOpts...)
	if err != nil {
		j.logger.Sugar().Debugw("Rejected bearer token", "error", err)
		return "", errs.New(errs.CodeUnauthenticated, "invalid token: %v", err)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return "", errs.New(errs.CodeUnauthenticated, "token has no subject")
	}
	account := types.AccountId(subject)
	if err := account.Validate(); err != nil {
		return "", errs.New(errs.CodeUnauthenticated, "token subject is not an account: %v", err)
	}
	return account, nil
}
