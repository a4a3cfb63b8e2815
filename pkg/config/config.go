package config

import (
	"fmt"
	"math/big"
	"net/url"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// Environment variable names for abstract-dao server configuration
const (
	EnvPort             = "ADAO_PORT"
	EnvVerbose          = "ADAO_VERBOSE"
	EnvStorageByteCost  = "ADAO_STORAGE_BYTE_COST"
	EnvUsedGasOverhead  = "ADAO_USED_GAS_OVERHEAD_TGAS"
	EnvPersistenceType  = "ADAO_PERSISTENCE_TYPE"
	EnvBadgerDir        = "ADAO_BADGER_DIR"
	EnvRedisAddress     = "ADAO_REDIS_ADDRESS"
	EnvRedisPassword    = "ADAO_REDIS_PASSWORD"
	EnvRedisDB          = "ADAO_REDIS_DB"
	EnvRedisKeyPrefix   = "ADAO_REDIS_KEY_PREFIX"
	EnvSignerType       = "ADAO_SIGNER_TYPE"
	EnvSignerEndpoint   = "ADAO_SIGNER_ENDPOINT"
	EnvSignerId         = "ADAO_SIGNER_ID"
	EnvSignerTimeout    = "ADAO_SIGNER_TIMEOUT"
	EnvLocalSignerRoot  = "ADAO_LOCAL_SIGNER_SECRET"
	EnvAWSRegion        = "ADAO_AWS_REGION"
	EnvAWSEndpoint      = "ADAO_AWS_ENDPOINT"
	EnvKMSAliasPrefix   = "ADAO_KMS_ALIAS_PREFIX"
	EnvKMSAutoCreate    = "ADAO_KMS_AUTO_CREATE"
	EnvKMSEnvironment   = "ADAO_KMS_ENVIRONMENT"
	EnvAuthType         = "ADAO_AUTH_TYPE"
	EnvJWTSecret        = "ADAO_JWT_SECRET"
	EnvJWKSURL          = "ADAO_JWKS_URL"
	EnvJWKSRefresh      = "ADAO_JWKS_REFRESH"
	EnvJWTIssuer        = "ADAO_JWT_ISSUER"
	EnvJWTAudience      = "ADAO_JWT_AUDIENCE"
	EnvRateLimitRPS     = "ADAO_RATE_LIMIT_RPS"
	EnvRateLimitBurst   = "ADAO_RATE_LIMIT_BURST"
	EnvServerURL        = "ADAO_SERVER_URL"
	EnvClientAccountId  = "ADAO_ACCOUNT_ID"
	EnvClientBearerAuth = "ADAO_BEARER_TOKEN"
)

type PersistenceType string

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

type SignerType string

const (
	SignerTypeHttp   SignerType = "http"
	SignerTypeLocal  SignerType = "local"
	SignerTypeAwsKms SignerType = "awskms"
)

type AuthType string

const (
	AuthTypeHeader AuthType = "header"
	AuthTypeJWT    AuthType = "jwt"
)

// minLocalSignerSecret is the shortest root secret the local signer accepts.
const minLocalSignerSecret = 32

type PersistenceConfig struct {
	Type           PersistenceType `json:"type"`
	BadgerDir      string          `json:"badger_dir,omitempty"`
	RedisAddress   string          `json:"redis_address,omitempty"`
	RedisPassword  string          `json:"-"`
	RedisDB        int             `json:"redis_db,omitempty"`
	RedisKeyPrefix string          `json:"redis_key_prefix,omitempty"`
}

func (p *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch p.Type {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if p.BadgerDir == "" {
			allErrors = append(allErrors, field.Required(path.Child("badgerDir"), "badgerDir is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if p.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if p.RedisDB < 0 || p.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDB"), p.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), p.Type,
			[]string{string(PersistenceTypeMemory), string(PersistenceTypeBadger), string(PersistenceTypeRedis)}))
	}
	return allErrors
}

type SignerConfig struct {
	Type     SignerType    `json:"type"`
	Endpoint string        `json:"endpoint,omitempty"`
	SignerId string        `json:"signer_id,omitempty"`
	Timeout  time.Duration `json:"timeout"`

	// local
	RootSecret string `json:"-"`

	// awskms
	AWSRegion      string `json:"aws_region,omitempty"`
	AWSEndpoint    string `json:"aws_endpoint,omitempty"`
	KMSAliasPrefix string `json:"kms_alias_prefix,omitempty"`
	KMSAutoCreate  bool   `json:"kms_auto_create,omitempty"`
	KMSEnvironment string `json:"kms_environment,omitempty"`
}

func (s *SignerConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if s.Timeout <= 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("timeout"), s.Timeout.String(), "must be positive"))
	}
	switch s.Type {
	case SignerTypeHttp:
		if s.Endpoint == "" {
			allErrors = append(allErrors, field.Required(path.Child("endpoint"), "endpoint is required for the http signer"))
		} else if u, err := url.Parse(s.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			allErrors = append(allErrors, field.Invalid(path.Child("endpoint"), s.Endpoint, "must be an absolute URL"))
		}
	case SignerTypeLocal:
		if len(s.RootSecret) < minLocalSignerSecret {
			allErrors = append(allErrors, field.Invalid(path.Child("rootSecret"), "<redacted>",
				fmt.Sprintf("must be at least %d bytes", minLocalSignerSecret)))
		}
	case SignerTypeAwsKms:
		if s.AWSRegion == "" {
			allErrors = append(allErrors, field.Required(path.Child("awsRegion"), "awsRegion is required for the awskms signer"))
		}
		if s.AWSEndpoint != "" {
			if u, err := url.Parse(s.AWSEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
				allErrors = append(allErrors, field.Invalid(path.Child("awsEndpoint"), s.AWSEndpoint, "must be an absolute URL"))
			}
		}
		if s.KMSAliasPrefix == "" {
			allErrors = append(allErrors, field.Required(path.Child("kmsAliasPrefix"), "kmsAliasPrefix is required for the awskms signer"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), s.Type,
			[]string{string(SignerTypeHttp), string(SignerTypeLocal), string(SignerTypeAwsKms)}))
	}
	return allErrors
}

type AuthConfig struct {
	Type        AuthType      `json:"type"`
	JWTSecret   string        `json:"-"`
	JWKSURL     string        `json:"jwks_url,omitempty"`
	JWKSRefresh time.Duration `json:"jwks_refresh,omitempty"`
	Issuer      string        `json:"issuer,omitempty"`
	Audience    string        `json:"audience,omitempty"`
}

func (a *AuthConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch a.Type {
	case AuthTypeHeader:
	case AuthTypeJWT:
		switch {
		case a.JWTSecret == "" && a.JWKSURL == "":
			allErrors = append(allErrors, field.Required(path, "one of jwtSecret or jwksUrl is required for jwt auth"))
		case a.JWTSecret != "" && a.JWKSURL != "":
			allErrors = append(allErrors, field.Forbidden(path.Child("jwksUrl"), "jwtSecret and jwksUrl are mutually exclusive"))
		case a.JWTSecret != "" && len(a.JWTSecret) < 32:
			allErrors = append(allErrors, field.Invalid(path.Child("jwtSecret"), "<redacted>", "must be at least 32 bytes"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), a.Type,
			[]string{string(AuthTypeHeader), string(AuthTypeJWT)}))
	}
	return allErrors
}

// RateLimitConfig caps requests per second across the whole API. RPS of 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

func (r *RateLimitConfig) Enabled() bool {
	return r.RPS > 0
}

func (r *RateLimitConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if r.RPS < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("rps"), r.RPS, "must not be negative"))
	}
	if r.Enabled() && r.Burst < 1 {
		allErrors = append(allErrors, field.Invalid(path.Child("burst"), r.Burst, "must be at least 1 when rate limiting is enabled"))
	}
	return allErrors
}

// ServerConfig represents the complete configuration for an abstract-dao server
type ServerConfig struct {
	Port int `json:"port"`

	// StorageByteCost is the decimal price of one stored byte. Empty selects the ledger default.
	StorageByteCost string `json:"storage_byte_cost,omitempty"`

	// UsedGasOverhead is the gas every signature call is assumed to have burned before
	// reaching the contract.
	UsedGasOverhead types.Gas `json:"used_gas_overhead"`

	Persistence PersistenceConfig `json:"persistence"`
	Signer      SignerConfig      `json:"signer"`
	Auth        AuthConfig        `json:"auth"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// ParseStorageByteCost returns the configured byte cost, or nil when the default applies.
func (c *ServerConfig) ParseStorageByteCost() (*big.Int, error) {
	if c.StorageByteCost == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(c.StorageByteCost, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid storage byte cost %q", c.StorageByteCost)
	}
	return v, nil
}

// Validate validates the server configuration, reporting every problem at once.
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}
	if _, err := c.ParseStorageByteCost(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("storageByteCost"), c.StorageByteCost, "must be a non-negative decimal integer"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	allErrors = append(allErrors, c.Signer.validate(field.NewPath("signer"))...)
	allErrors = append(allErrors, c.Auth.validate(field.NewPath("auth"))...)
	allErrors = append(allErrors, c.RateLimit.validate(field.NewPath("rateLimit"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
