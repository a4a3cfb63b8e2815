// Package awsKmsSigner signs with secp256k1 keys held in AWS KMS, one key per
// derivation path and key version, addressed through KMS aliases.
package awsKmsSigner

import (
	"context"
	cryptoEcdsa "crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/signer"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const maxAliasLen = 256

// KMSAPI is the subset of the KMS client the signer uses.
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, params *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
}

var _ KMSAPI = (*kms.Client)(nil)

type AwsKmsSignerConfig struct {
	// AliasPrefix namespaces the aliases, which look like alias/<prefix>-<path>-v<version>.
	AliasPrefix string
	// SignerId is reported to callers.
	SignerId string
	// AutoCreateKeys creates a key and alias the first time a (path, version) pair is used.
	AutoCreateKeys bool
	// Environment is written to the Environment tag of created keys.
	Environment string
}

type AwsKmsSigner struct {
	kmsClient KMSAPI
	config    *AwsKmsSignerConfig
	logger    *zap.Logger
}

var _ signing.ISigner = (*AwsKmsSigner)(nil)

// NewAwsKmsSignerFromConfig builds the signer on a KMS client created from awsCfg.
func NewAwsKmsSignerFromConfig(awsCfg aws.Config, cfg *AwsKmsSignerConfig, logger *zap.Logger) (*AwsKmsSigner, error) {
	return NewAwsKmsSigner(kms.NewFromConfig(awsCfg), cfg, logger)
}

func NewAwsKmsSigner(client KMSAPI, cfg *AwsKmsSignerConfig, logger *zap.Logger) (*AwsKmsSigner, error) {
	if client == nil {
		return nil, fmt.Errorf("kms client is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.AliasPrefix == "" {
		return nil, fmt.Errorf("alias prefix is required")
	}
	if cfg.SignerId == "" {
		return nil, fmt.Errorf("signer id is required")
	}
	return &AwsKmsSigner{
		kmsClient: client,
		config:    cfg,
		logger:    logger,
	}, nil
}

func (a *AwsKmsSigner) SignerId() string {
	return a.config.SignerId
}

// sanitizeAliasPart keeps the characters KMS allows in alias names and maps the rest to '_'.
func sanitizeAliasPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// AliasName returns the KMS alias for a derivation path and key version.
func (a *AwsKmsSigner) AliasName(path string, keyVersion uint32) (string, error) {
	alias := fmt.Sprintf("alias/%s-%s-v%d", sanitizeAliasPart(a.config.AliasPrefix), sanitizeAliasPart(path), keyVersion)
	if len(alias) > maxAliasLen {
		return "", fmt.Errorf("alias for path %q exceeds %d characters", path, maxAliasLen)
	}
	return alias, nil
}

func (a *AwsKmsSigner) Sign(ctx context.Context, args *types.SignArgs, _ *big.Int, _ types.Gas) (*types.SignatureResponse, error) {
	if args == nil {
		return nil, fmt.Errorf("sign args cannot be nil")
	}
	alias, err := a.AliasName(args.Request.Path, args.Request.KeyVersion)
	if err != nil {
		return nil, err
	}

	pubKey, err := a.publicKey(ctx, alias)
	if err != nil {
		return nil, err
	}

	sig, err := a.getSignatureFromKms(ctx, alias, pubKey, args.Request.Payload[:])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign with %s", alias)
	}
	return signer.ResponseFromRSV(sig)
}

// publicKey loads the key behind alias, creating it first when allowed.
func (a *AwsKmsSigner) publicKey(ctx context.Context, alias string) (*cryptoEcdsa.PublicKey, error) {
	out, err := a.kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(alias)})
	var notFound *kmstypes.NotFoundException
	if errors.As(err, &notFound) && a.config.AutoCreateKeys {
		if err := a.createKeyWithAlias(ctx, alias); err != nil {
			return nil, err
		}
		out, err = a.kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(alias)})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for %s", alias)
	}

	pubKey, err := parseECDSAPublicKey(out.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for %s", alias)
	}
	return pubKey, nil
}

// createKeyWithAlias creates a secp256k1 signing key and points alias at it.
func (a *AwsKmsSigner) createKeyWithAlias(ctx context.Context, alias string) error {
	name := strings.TrimPrefix(alias, "alias/")
	keyRes, err := a.kmsClient.CreateKey(ctx, &kms.CreateKeyInput{
		KeyUsage:    kmstypes.KeyUsageTypeSignVerify,
		KeySpec:     kmstypes.KeySpecEccSecgP256k1,
		Description: aws.String(fmt.Sprintf("Transaction signing key - %s", name)),
		Tags: []kmstypes.Tag{
			{TagKey: aws.String("Name"), TagValue: aws.String(name)},
			{TagKey: aws.String("Environment"), TagValue: aws.String(a.config.Environment)},
			{TagKey: aws.String("Purpose"), TagValue: aws.String("abstract-dao-signing")},
			{TagKey: aws.String("Curve"), TagValue: aws.String("secp256k1")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create KMS key: %w", err)
	}

	_, err = a.kmsClient.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(alias),
		TargetKeyId: keyRes.KeyMetadata.KeyId,
	})
	if err != nil {
		return fmt.Errorf("failed to create key alias %s: %w", alias, err)
	}

	a.logger.Sugar().Infow("Created KMS signing key", "alias", alias, "key_id", aws.ToString(keyRes.KeyMetadata.KeyId))
	return nil
}

// parseECDSAPublicKey parses the DER-encoded SubjectPublicKeyInfo returned by KMS.
func parseECDSAPublicKey(derBytes []byte) (*cryptoEcdsa.PublicKey, error) {
	var asn1pubk asn1EcPublicKey
	if _, err := asn1.Unmarshal(derBytes, &asn1pubk); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 public key: %w", err)
	}
	return crypto.UnmarshalPubkey(asn1pubk.PublicKey.Bytes)
}

type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

// getSignatureFromKms returns a 65 byte [R || S || V] signature with low S and V in {0,1}.
func (a *AwsKmsSigner) getSignatureFromKms(ctx context.Context, keyId string, expected *cryptoEcdsa.PublicKey, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("hash must be exactly 32 bytes, got %d", len(digest))
	}

	signOutput, err := a.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyId),
		Message:          digest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      kmstypes.MessageTypeDigest,
	})
	if err != nil {
		return nil, err
	}

	return recoverableSignature(signOutput.Signature, digest, expected, a.logger)
}

// recoverableSignature turns a DER signature into [R || S || V] by finding the
// recovery id that yields the expected key.
func recoverableSignature(der []byte, digest []byte, expected *cryptoEcdsa.PublicKey, logger *zap.Logger) ([]byte, error) {
	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(der, &sigAsn1); err != nil {
		return nil, fmt.Errorf("failed to parse DER signature: %w", err)
	}

	r := new(big.Int).SetBytes(sigAsn1.R.Bytes)
	s, _ := signer.NormalizeS(new(big.Int).SetBytes(sigAsn1.S.Bytes))

	signature := make([]byte, 65)
	r.FillBytes(signature[0:32])
	s.FillBytes(signature[32:64])

	for recoveryId := byte(0); recoveryId < 2; recoveryId++ {
		signature[64] = recoveryId

		recovered, err := crypto.SigToPub(digest, signature)
		if err != nil {
			logger.Debug("Ecrecover failed", zap.Uint8("recoveryId", recoveryId), zap.Error(err))
			continue
		}
		if recovered.X.Cmp(expected.X) == 0 && recovered.Y.Cmp(expected.Y) == 0 {
			return signature, nil
		}
	}

	return nil, fmt.Errorf("could not determine valid recovery ID - signature recovery failed")
}
