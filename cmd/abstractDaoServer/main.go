package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/internal/aws"
	"github.com/Layr-Labs/abstract-dao-go/pkg/api"
	"github.com/Layr-Labs/abstract-dao-go/pkg/auth"
	"github.com/Layr-Labs/abstract-dao-go/pkg/config"
	"github.com/Layr-Labs/abstract-dao-go/pkg/contract"
	"github.com/Layr-Labs/abstract-dao-go/pkg/ledger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/logger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/metrics"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence/badger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence/memory"
	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence/redis"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signer/awsKmsSigner"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signer/httpSigner"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "abstract-dao-server",
		Usage: "Abstract DAO signature request server",
		Description: `Registers EIP-1559 transaction templates on behalf of a DAO and has them
signed by a threshold signer once an allowed actor supplies live fees.

This server implements:
- Request registration with storage deposits and refunds
- Per-request actor allow lists and a 15 minute signing window
- Canonical EIP-1559 encoding and signing hash computation
- Dispatch to an HTTP threshold signer, a local development signer or AWS KMS`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8000,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
			},
			&cli.StringFlag{
				Name:    "storage-byte-cost",
				Usage:   "Price of one stored byte in yocto (decimal); defaults to 10^19",
				EnvVars: []string{config.EnvStorageByteCost},
			},
			&cli.Uint64Flag{
				Name:    "used-gas-overhead",
				Usage:   "Tgas assumed burned by each signature call before dispatch",
				Value:   5,
				EnvVars: []string{config.EnvUsedGasOverhead},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Request store: memory, badger or redis",
				Value:   string(config.PersistenceTypeBadger),
				EnvVars: []string{config.EnvPersistenceType},
			},
			&cli.StringFlag{
				Name:    "badger-dir",
				Usage:   "Badger data directory",
				Value:   "./data/abstract-dao",
				EnvVars: []string{config.EnvBadgerDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "signer",
				Usage:   "Signer backend: http, local or awskms",
				Value:   string(config.SignerTypeHttp),
				EnvVars: []string{config.EnvSignerType},
			},
			&cli.StringFlag{
				Name:    "signer-endpoint",
				Usage:   "Base URL of the HTTP threshold signer",
				EnvVars: []string{config.EnvSignerEndpoint},
			},
			&cli.StringFlag{
				Name:    "signer-id",
				Usage:   "Signer id reported to callers",
				EnvVars: []string{config.EnvSignerId},
			},
			&cli.DurationFlag{
				Name:    "signer-timeout",
				Usage:   "Maximum time to wait for a signature",
				Value:   signing.DefaultSignerTimeout,
				EnvVars: []string{config.EnvSignerTimeout},
			},
			&cli.StringFlag{
				Name:    "local-signer-secret",
				Usage:   "Root secret of the local development signer (at least 32 bytes)",
				EnvVars: []string{config.EnvLocalSignerRoot},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region of the KMS signer",
				EnvVars: []string{config.EnvAWSRegion},
			},
			&cli.StringFlag{
				Name:    "aws-endpoint",
				Usage:   "Override the AWS service endpoint, e.g. a local KMS emulator",
				EnvVars: []string{config.EnvAWSEndpoint},
			},
			&cli.StringFlag{
				Name:    "kms-alias-prefix",
				Usage:   "Prefix of the KMS key aliases",
				Value:   "abstract-dao",
				EnvVars: []string{config.EnvKMSAliasPrefix},
			},
			&cli.StringFlag{
				Name:    "kms-environment",
				Usage:   "Environment tag written on created KMS keys",
				Value:   "production",
				EnvVars: []string{config.EnvKMSEnvironment},
			},
			&cli.BoolFlag{
				Name:    "kms-auto-create",
				Usage:   "Create KMS keys for unknown derivation paths",
				EnvVars: []string{config.EnvKMSAutoCreate},
			},
			&cli.StringFlag{
				Name:    "auth",
				Usage:   "Caller authentication: header or jwt",
				Value:   string(config.AuthTypeHeader),
				EnvVars: []string{config.EnvAuthType},
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Usage:   "HS256 secret for caller tokens",
				EnvVars: []string{config.EnvJWTSecret},
			},
			&cli.StringFlag{
				Name:    "jwks-url",
				Usage:   "JWKS URL for caller tokens",
				EnvVars: []string{config.EnvJWKSURL},
			},
			&cli.DurationFlag{
				Name:    "jwks-refresh",
				Usage:   "JWKS refresh interval",
				Value:   15 * time.Minute,
				EnvVars: []string{config.EnvJWKSRefresh},
			},
			&cli.StringFlag{
				Name:    "jwt-issuer",
				Usage:   "Required token issuer",
				EnvVars: []string{config.EnvJWTIssuer},
			},
			&cli.StringFlag{
				Name:    "jwt-audience",
				Usage:   "Required token audience",
				EnvVars: []string{config.EnvJWTAudience},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Requests per second across the API (0 disables)",
				EnvVars: []string{config.EnvRateLimitRPS},
			},
			&cli.IntFlag{
				Name:    "rate-limit-burst",
				Usage:   "Rate limiter burst size",
				Value:   20,
				EnvVars: []string{config.EnvRateLimitBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVerbose},
			},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func parseServerConfig(c *cli.Context) *config.ServerConfig {
	return &config.ServerConfig{
		Port:            c.Int("port"),
		StorageByteCost: c.String("storage-byte-cost"),
		UsedGasOverhead: types.FromTgas(c.Uint64("used-gas-overhead")),
		Persistence: config.PersistenceConfig{
			Type:           config.PersistenceType(c.String("persistence")),
			BadgerDir:      c.String("badger-dir"),
			RedisAddress:   c.String("redis-address"),
			RedisPassword:  c.String("redis-password"),
			RedisDB:        c.Int("redis-db"),
			RedisKeyPrefix: c.String("redis-key-prefix"),
		},
		Signer: config.SignerConfig{
			Type:           config.SignerType(c.String("signer")),
			Endpoint:       c.String("signer-endpoint"),
			SignerId:       c.String("signer-id"),
			Timeout:        c.Duration("signer-timeout"),
			RootSecret:     c.String("local-signer-secret"),
			AWSRegion:      c.String("aws-region"),
			AWSEndpoint:    c.String("aws-endpoint"),
			KMSAliasPrefix: c.String("kms-alias-prefix"),
			KMSAutoCreate:  c.Bool("kms-auto-create"),
			KMSEnvironment: c.String("kms-environment"),
		},
		Auth: config.AuthConfig{
			Type:        config.AuthType(c.String("auth")),
			JWTSecret:   c.String("jwt-secret"),
			JWKSURL:     c.String("jwks-url"),
			JWKSRefresh: c.Duration("jwks-refresh"),
			Issuer:      c.String("jwt-issuer"),
			Audience:    c.String("jwt-audience"),
		},
		RateLimit: config.RateLimitConfig{
			RPS:   c.Float64("rate-limit"),
			Burst: c.Int("rate-limit-burst"),
		},
		Debug:   c.Bool("verbose"),
		Verbose: c.Bool("verbose"),
	}
}

func runServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseServerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newPersistence(&cfg.Persistence, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	signer, err := newSigner(ctx, &cfg.Signer, l)
	if err != nil {
		return err
	}

	authenticator, err := newAuthenticator(ctx, &cfg.Auth, l)
	if err != nil {
		return err
	}

	byteCost, err := cfg.ParseStorageByteCost()
	if err != nil {
		return err
	}
	hostLedger, err := ledger.NewInMemoryLedger(byteCost, l)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	m := metrics.NewMetrics()
	dao, err := contract.NewContract(&contract.ContractConfig{
		Persistence: store,
		Ledger:      hostLedger,
		Delegate:    signing.NewDelegate(signer, cfg.Signer.Timeout, m, l),
		Metrics:     m,
		Logger:      l,
	})
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}

	server, err := api.NewServer(&api.ServerConfig{
		Port:             cfg.Port,
		Contract:         dao,
		Persistence:      store,
		Authenticator:    authenticator,
		Metrics:          m,
		UsedGasOverhead:  cfg.UsedGasOverhead,
		SignatureTimeout: cfg.Signer.Timeout,
		RateLimit:        cfg.RateLimit.RPS,
		RateLimitBurst:   cfg.RateLimit.Burst,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Verbose {
		l.Sugar().Infow("Abstract DAO server configuration",
			"port", cfg.Port,
			"persistence", cfg.Persistence.Type,
			"signer", cfg.Signer.Type,
			"signer_id", signer.SignerId(),
			"signer_timeout", cfg.Signer.Timeout,
			"auth", cfg.Auth.Type,
			"storage_byte_cost", hostLedger.StorageByteCost().String(),
			"used_gas_overhead", cfg.UsedGasOverhead.String(),
			"rate_limit", cfg.RateLimit.RPS)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Infow("Available endpoints",
		"register", "POST /requests",
		"sign", "POST /requests/{id}/signature",
		"get", "GET /requests/{id}",
		"signer", "GET /signer")

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signer.Timeout+5*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func newPersistence(cfg *config.PersistenceConfig, l *zap.Logger) (persistence.IRequestPersistence, error) {
	switch cfg.Type {
	case config.PersistenceTypeMemory:
		l.Sugar().Warn("Using in-memory persistence, requests are lost on restart")
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		store, err := badger.NewBadgerPersistence(cfg.BadgerDir, l)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger persistence: %w", err)
		}
		return store, nil
	case config.PersistenceTypeRedis:
		store, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis persistence: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type %q", cfg.Type)
	}
}

func newSigner(ctx context.Context, cfg *config.SignerConfig, l *zap.Logger) (signing.ISigner, error) {
	switch cfg.Type {
	case config.SignerTypeHttp:
		return httpSigner.NewHttpSigner(&httpSigner.HttpSignerConfig{
			Endpoint: cfg.Endpoint,
			SignerId: cfg.SignerId,
			Timeout:  cfg.Timeout,
			Logger:   l,
		})
	case config.SignerTypeLocal:
		l.Sugar().Warn("Using the local development signer, do not use in production")
		return localSigner.NewLocalSigner([]byte(cfg.RootSecret), cfg.SignerId, l)
	case config.SignerTypeAwsKms:
		awsCfg, err := aws.LoadAWSConfig(ctx, &aws.ConfigOptions{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		identity, err := aws.GetCallerIdentity(ctx, awsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to verify AWS credentials: %w", err)
		}
		l.Sugar().Infow("Using AWS KMS signer", "account", awssdk.ToString(identity.Account), "arn", awssdk.ToString(identity.Arn), "region", awsCfg.Region)
		return awsKmsSigner.NewAwsKmsSignerFromConfig(awsCfg, &awsKmsSigner.AwsKmsSignerConfig{
			AliasPrefix:    cfg.KMSAliasPrefix,
			SignerId:       cfg.SignerId,
			AutoCreateKeys: cfg.KMSAutoCreate,
			Environment:    cfg.KMSEnvironment,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported signer type %q", cfg.Type)
	}
}

func newAuthenticator(ctx context.Context, cfg *config.AuthConfig, l *zap.Logger) (auth.IAuthenticator, error) {
	switch cfg.Type {
	case config.AuthTypeHeader:
		l.Sugar().Warnw("Trusting caller identity from header, run behind a gateway that sets it", "header", types.HeaderAccountId)
		return auth.HeaderAuthenticator{}, nil
	case config.AuthTypeJWT:
		jwtCfg := &auth.JWTConfig{Issuer: cfg.Issuer, Audience: cfg.Audience, Logger: l}
		if cfg.JWKSURL != "" {
			return auth.NewJWKSAuthenticator(ctx, cfg.JWKSURL, cfg.JWKSRefresh, jwtCfg)
		}
		return auth.NewHMACAuthenticator([]byte(cfg.JWTSecret), jwtCfg)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}
