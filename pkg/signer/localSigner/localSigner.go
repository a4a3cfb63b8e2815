// Package localSigner is an in-process stand-in for the threshold signer, meant for
// development and tests. Every (path, key version) pair maps to its own secp256k1
// key derived from one root secret.
package localSigner

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/Layr-Labs/abstract-dao-go/pkg/signer"
	"github.com/Layr-Labs/abstract-dao-go/pkg/signing"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const (
	DefaultSignerId = "local-signer"

	// DefaultMaxCachedKeys bounds the derived key cache; past it an arbitrary entry is evicted.
	DefaultMaxCachedKeys = 4096

	minRootSecretLen = 32
	hkdfSalt         = "abstract-dao-local-signer"
)

// keyEntry caches a derived key
type keyEntry struct {
	keyId      string
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

type LocalSigner struct {
	rootSecret []byte
	signerId   string
	logger     *zap.Logger

	mu      sync.RWMutex
	keys    map[string]*keyEntry // "<version>/<path>" -> key
	maxKeys int
}

var _ signing.ISigner = (*LocalSigner)(nil)

// NewLocalSigner creates a signer from a root secret of at least 32 bytes.
func NewLocalSigner(rootSecret []byte, signerId string, logger *zap.Logger) (*LocalSigner, error) {
	if len(rootSecret) < minRootSecretLen {
		return nil, fmt.Errorf("root secret must be at least %d bytes, got %d", minRootSecretLen, len(rootSecret))
	}
	if signerId == "" {
		signerId = DefaultSignerId
	}
	return &LocalSigner{
		rootSecret: append([]byte{}, rootSecret...),
		signerId:   signerId,
		logger:     logger,
		keys:       make(map[string]*keyEntry),
		maxKeys:    DefaultMaxCachedKeys,
	}, nil
}

func (l *LocalSigner) SignerId() string {
	return l.signerId
}

// versionSeed expands the root secret into the BIP-32 seed for one key version.
func (l *LocalSigner) versionSeed(keyVersion uint32) ([]byte, error) {
	info := fmt.Sprintf("key-version-%d", keyVersion)
	seed := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, l.rootSecret, []byte(hkdfSalt), []byte(info)), seed); err != nil {
		return nil, errors.Wrap(err, "failed to expand root secret")
	}
	return seed, nil
}

// pathIndex maps a derivation path onto a non-hardened child index.
func pathIndex(path string) uint32 {
	return binary.BigEndian.Uint32(crypto.Keccak256([]byte(path))[:4]) &^ bip32.FirstHardenedChild
}

func (l *LocalSigner) deriveKey(path string, keyVersion uint32) (*keyEntry, error) {
	cacheKey := fmt.Sprintf("%d/%s", keyVersion, path)

	l.mu.RLock()
	entry, ok := l.keys[cacheKey]
	l.mu.RUnlock()
	if ok {
		return entry, nil
	}

	seed, err := l.versionSeed(keyVersion)
	if err != nil {
		return nil, err
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	// m/44'/60'/<version>'/0/<index of path>
	key := master
	for _, index := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + keyVersion%bip32.FirstHardenedChild,
		0,
		pathIndex(path),
	} {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	privateKey, err := crypto.ToECDSA(common.LeftPadBytes(key.Key, 32))
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	entry = &keyEntry{
		keyId:      fmt.Sprintf("local-key-%s", uuid.New().String()),
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}

	l.mu.Lock()
	if existing, ok := l.keys[cacheKey]; ok {
		entry = existing
	} else {
		for evict := range l.keys {
			if len(l.keys) < l.maxKeys {
				break
			}
			delete(l.keys, evict)
		}
		l.keys[cacheKey] = entry
	}
	l.mu.Unlock()

	l.logger.Sugar().Infow("Derived local signing key",
		"key_id", entry.keyId,
		"path", path,
		"key_version", keyVersion,
		"address", entry.address.String(),
	)
	return entry, nil
}

// DerivedAddress returns the address that signatures for (path, keyVersion) recover to.
func (l *LocalSigner) DerivedAddress(path string, keyVersion uint32) (common.Address, error) {
	entry, err := l.deriveKey(path, keyVersion)
	if err != nil {
		return common.Address{}, err
	}
	return entry.address, nil
}

// Sign ignores deposit and gas; the local signer does not charge for its work.
func (l *LocalSigner) Sign(ctx context.Context, args *types.SignArgs, _ *big.Int, _ types.Gas) (*types.SignatureResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, fmt.Errorf("sign args cannot be nil")
	}

	entry, err := l.deriveKey(args.Request.Path, args.Request.KeyVersion)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(args.Request.Payload[:], entry.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign payload")
	}
	return signer.ResponseFromRSV(sig)
}
