/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keyutil converts DIDComm recipient keys between their did:key, fingerprint and legacy base58 forms.
package keyutil

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/util/fingerprint"
	"github.com/multiformats/go-multibase"
)

const didKeyPrefix = "did:key:"

// ErrInvalidKey is returned for keys that are neither did:key values nor base58 Ed25519 verkeys.
var ErrInvalidKey = errors.New("invalid key")

// IsDIDKey reports whether key is a did:key value.
func IsDIDKey(key string) bool {
	return strings.HasPrefix(key, didKeyPrefix)
}

// Fingerprint returns the multibase fingerprint (z6Mk...) of a key given either as did:key (with or without
// a fragment) or as a legacy base58 Ed25519 verkey.
func Fingerprint(key string) (string, error) {
	if IsDIDKey(key) {
		methodID, err := fingerprint.MethodIDFromDIDKey(stripFragment(key))
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
		}

		if err := validateFingerprint(methodID); err != nil {
			return "", err
		}

		return methodID, nil
	}

	pub, err := decodeVerKey(key)
	if err != nil {
		return "", err
	}

	return fingerprint.KeyFingerprint(fingerprint.ED25519PubKeyMultiCodec, pub), nil
}

// DIDKeyFromVerKey converts a legacy base58 verkey into its did:key form. did:key input is returned as is.
func DIDKeyFromVerKey(key string) (string, error) {
	if IsDIDKey(key) {
		return stripFragment(key), nil
	}

	pub, err := decodeVerKey(key)
	if err != nil {
		return "", err
	}

	didKey, _ := fingerprint.CreateDIDKey(pub)

	return didKey, nil
}

// VerKeyFromDIDKey converts a did:key value into a legacy base58 verkey. Verkey input is returned as is.
func VerKeyFromDIDKey(key string) (string, error) {
	pub, err := Ed25519PublicKey(key)
	if err != nil {
		return "", err
	}

	return base58.Encode(pub), nil
}

// VerKeysFromDIDKeys converts every key with VerKeyFromDIDKey.
func VerKeysFromDIDKeys(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return keys, nil
	}

	res := make([]string, 0, len(keys))

	for _, k := range keys {
		verKey, err := VerKeyFromDIDKey(k)
		if err != nil {
			return nil, err
		}

		res = append(res, verKey)
	}

	return res, nil
}

// DIDKeyFromPublicKey returns the did:key of an Ed25519 public key.
func DIDKeyFromPublicKey(pub ed25519.PublicKey) string {
	didKey, _ := fingerprint.CreateDIDKey(pub)

	return didKey
}

// Ed25519PublicKey decodes a did:key or base58 verkey into an Ed25519 public key.
func Ed25519PublicKey(key string) (ed25519.PublicKey, error) {
	if !IsDIDKey(key) {
		return decodeVerKey(key)
	}

	fp, err := Fingerprint(key)
	if err != nil {
		return nil, err
	}

	pub, code, err := fingerprint.PubKeyFromFingerprint(fp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	if code != fingerprint.ED25519PubKeyMultiCodec || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: not an ed25519 key [0x%x]", ErrInvalidKey, code)
	}

	return pub, nil
}

// Fingerprints maps a list of keys to their fingerprints, skipping duplicates.
func Fingerprints(keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	res := make([]string, 0, len(keys))

	for _, k := range keys {
		fp, err := Fingerprint(k)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[fp]; ok {
			continue
		}

		seen[fp] = struct{}{}
		res = append(res, fp)
	}

	return res, nil
}

func decodeVerKey(key string) (ed25519.PublicKey, error) {
	pub := base58.Decode(key)
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidKey, key)
	}

	return pub, nil
}

func validateFingerprint(fp string) error {
	enc, _, err := multibase.Decode(fp)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	if enc != multibase.Base58BTC {
		return fmt.Errorf("%w: fingerprint is not base58btc encoded", ErrInvalidKey)
	}

	return nil
}

func stripFragment(key string) string {
	if i := strings.Index(key, "#"); i >= 0 {
		return key[:i]
	}

	return key
}
