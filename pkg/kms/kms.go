/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package kms keeps the agent's Ed25519 key pairs. Keys are addressed by their did:key value; the key material
// lives in a Tink keyset store of the framework's storage provider.
package kms

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/kmscrypto/crypto/tinkcrypto"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/util/jwkkid"
	kmscrypto "github.com/hyperledger/aries-framework-go/component/kmscrypto/kms"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/kms/localkms"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/secretlock/noop"
	"github.com/hyperledger/aries-framework-go/component/log"
	kmsapi "github.com/hyperledger/aries-framework-go/spi/kms"
	"github.com/hyperledger/aries-framework-go/spi/secretlock"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
)

const (
	// Namespace is the store name of the key store.
	Namespace = localkms.Namespace

	defaultMasterKeyURI = "local-lock://default/master/key/"
)

var logger = log.New("aries-framework/kms")

var (
	// ErrKeyNotFound is returned when the kms holds no private key for a did:key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidSignature is returned by Verify when the signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
)

// KeyManager manages the agent's signing keys.
type KeyManager interface {
	// Create generates a new key pair and returns its did:key and public key.
	Create() (string, ed25519.PublicKey, error)
	// Has reports whether the private key of didKey is held.
	Has(didKey string) bool
	// Sign signs msg with the private key of didKey.
	Sign(didKey string, msg []byte) ([]byte, error)
	// Verify checks sig over msg with the public key of key (did:key or base58 verkey).
	Verify(key string, msg, sig []byte) error
}

// Option configures the LocalKMS.
type Option func(opts *kmsOpts)

type kmsOpts struct {
	masterKeyURI string
	secretLock   secretlock.Service
}

// WithSecretLock protects stored keys with lock instead of keeping them unencrypted.
func WithSecretLock(lock secretlock.Service) Option {
	return func(opts *kmsOpts) {
		opts.secretLock = lock
	}
}

// WithMasterKeyURI sets the URI of the master key used by the secret lock.
func WithMasterKeyURI(uri string) Option {
	return func(opts *kmsOpts) {
		opts.masterKeyURI = uri
	}
}

type kmsProvider struct {
	storageProvider kmsapi.Store
	secretLock      secretlock.Service
}

func (k *kmsProvider) StorageProvider() kmsapi.Store {
	return k.storageProvider
}

func (k *kmsProvider) SecretLock() secretlock.Service {
	return k.secretLock
}

// LocalKMS keeps Ed25519 keysets in a localkms and signs with tinkcrypto.
type LocalKMS struct {
	store  kmsapi.Store
	km     *localkms.LocalKMS
	crypto *tinkcrypto.Crypto
}

// New returns a LocalKMS backed by p.
func New(p storage.Provider, opts ...Option) (*LocalKMS, error) {
	o := &kmsOpts{masterKeyURI: defaultMasterKeyURI, secretLock: &noop.NoLock{}}

	for _, opt := range opts {
		opt(o)
	}

	store, err := kmscrypto.NewAriesProviderWrapper(p)
	if err != nil {
		return nil, fmt.Errorf("new kms: open store: %w", err)
	}

	km, err := localkms.New(o.masterKeyURI, &kmsProvider{storageProvider: store, secretLock: o.secretLock})
	if err != nil {
		return nil, fmt.Errorf("new kms: %w", err)
	}

	c, err := tinkcrypto.New()
	if err != nil {
		return nil, fmt.Errorf("new kms: crypto: %w", err)
	}

	return &LocalKMS{store: store, km: km, crypto: c}, nil
}

// Create generates an Ed25519 key pair.
func (k *LocalKMS) Create() (string, ed25519.PublicKey, error) {
	_, pubBytes, err := k.km.CreateAndExportPubKeyBytes(kmsapi.ED25519Type)
	if err != nil {
		return "", nil, fmt.Errorf("kms create: %w", err)
	}

	if len(pubBytes) != ed25519.PublicKeySize {
		return "", nil, fmt.Errorf("kms create: unexpected public key size %d", len(pubBytes))
	}

	pub := ed25519.PublicKey(pubBytes)
	didKey := keyutil.DIDKeyFromPublicKey(pub)

	logger.Debugf("created key %s", didKey)

	return didKey, pub, nil
}

// Has reports whether the private key of didKey is held.
func (k *LocalKMS) Has(didKey string) bool {
	kid, err := keyID(didKey)
	if err != nil {
		return false
	}

	_, err = k.store.Get(kid)

	return err == nil
}

// Sign signs msg with the private key of didKey. didKey may also be a base58 verkey.
func (k *LocalKMS) Sign(didKey string, msg []byte) ([]byte, error) {
	kid, err := keyID(didKey)
	if err != nil {
		return nil, err
	}

	if _, err := k.store.Get(kid); err != nil {
		if errors.Is(err, kmscrypto.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, didKey)
		}

		return nil, fmt.Errorf("get key: %w", err)
	}

	kh, err := k.km.Get(kid)
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", didKey, err)
	}

	sig, err := k.crypto.Sign(msg, kh)
	if err != nil {
		return nil, fmt.Errorf("sign with %s: %w", didKey, err)
	}

	return sig, nil
}

// Verify checks sig over msg with the public key of key (did:key or base58 verkey).
func (k *LocalKMS) Verify(key string, msg, sig []byte) error {
	pub, err := keyutil.Ed25519PublicKey(key)
	if err != nil {
		return err
	}

	kh, err := k.km.PubKeyBytesToHandle(pub, kmsapi.ED25519Type)
	if err != nil {
		return fmt.Errorf("public key handle: %w", err)
	}

	if err := k.crypto.Verify(sig, msg, kh); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err.Error())
	}

	return nil
}

// keyID returns the keyset id localkms stores the key of didKey under.
func keyID(didKey string) (string, error) {
	pub, err := keyutil.Ed25519PublicKey(didKey)
	if err != nil {
		return "", err
	}

	return jwkkid.CreateKID(pub, kmsapi.ED25519Type)
}
