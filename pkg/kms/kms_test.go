/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package kms

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/secretlock/local/masterlock/hkdf"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	mockstorage "github.com/hyperledger/aries-framework-go/component/storageutil/mock/storage"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
)

func TestLocalKMS(t *testing.T) {
	k, err := New(mem.NewProvider())
	require.NoError(t, err)

	didKey, pub, err := k.Create()
	require.NoError(t, err)
	require.Equal(t, keyutil.DIDKeyFromPublicKey(pub), didKey)
	require.True(t, k.Has(didKey))
	require.True(t, k.Has(base58.Encode(pub)))
	require.False(t, k.Has("invalid"))

	msg := []byte("payload")

	t.Run("signs and verifies", func(t *testing.T) {
		sig, err := k.Sign(didKey, msg)
		require.NoError(t, err)
		require.True(t, ed25519.Verify(pub, msg, sig))

		require.NoError(t, k.Verify(didKey, msg, sig))
		require.NoError(t, k.Verify(base58.Encode(pub), msg, sig))
		require.True(t, errors.Is(k.Verify(didKey, []byte("other"), sig), ErrInvalidSignature))
		require.Error(t, k.Verify("invalid", msg, sig))
	})

	t.Run("verifies signatures of other agents", func(t *testing.T) {
		otherPub, otherPriv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		other := keyutil.DIDKeyFromPublicKey(otherPub)
		require.NoError(t, k.Verify(other, msg, ed25519.Sign(otherPriv, msg)))
	})

	t.Run("unknown keys", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		other := keyutil.DIDKeyFromPublicKey(otherPub)
		require.False(t, k.Has(other))

		_, err = k.Sign(other, msg)
		require.True(t, errors.Is(err, ErrKeyNotFound))

		_, err = k.Sign("invalid", msg)
		require.Error(t, err)
	})

	t.Run("keys survive a restart", func(t *testing.T) {
		store := mem.NewProvider()

		first, err := New(store)
		require.NoError(t, err)

		key, _, err := first.Create()
		require.NoError(t, err)

		second, err := New(store)
		require.NoError(t, err)
		require.True(t, second.Has(key))

		sig, err := second.Sign(key, msg)
		require.NoError(t, err)
		require.NoError(t, first.Verify(key, msg, sig))
	})
}

func TestLocalKMS_SecretLock(t *testing.T) {
	lock, err := hkdf.NewMasterLock("passphrase", sha256.New, nil)
	require.NoError(t, err)

	store := mem.NewProvider()

	k, err := New(store, WithSecretLock(lock), WithMasterKeyURI("local-lock://agent/master/key/"))
	require.NoError(t, err)

	didKey, _, err := k.Create()
	require.NoError(t, err)

	sig, err := k.Sign(didKey, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, k.Verify(didKey, []byte("payload"), sig))

	other, err := hkdf.NewMasterLock("other passphrase", sha256.New, nil)
	require.NoError(t, err)

	locked, err := New(store, WithSecretLock(other), WithMasterKeyURI("local-lock://agent/master/key/"))
	require.NoError(t, err)

	_, err = locked.Sign(didKey, []byte("payload"))
	require.Error(t, err)

	_, err = New(store, WithMasterKeyURI("agent/master/key"))
	require.Error(t, err)
}

func TestLocalKMS_StoreErrors(t *testing.T) {
	p := mockstorage.NewMockStoreProvider()
	p.ErrOpenStoreHandle = errors.New("open")

	_, err := New(p)
	require.Error(t, err)

	p = mockstorage.NewMockStoreProvider()
	p.Store.ErrPut = errors.New("put")

	k, err := New(p)
	require.NoError(t, err)

	_, _, err = k.Create()
	require.Error(t, err)
}
