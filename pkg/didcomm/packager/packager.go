/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package packager wraps plaintext DIDComm messages in signed envelopes.
//
// An envelope is a JSON object with three base64url (unpadded) members: 'protected' carries the header
// {typ, alg, from, to}, 'payload' the plaintext message and 'signature' an EdDSA signature over
// "<protected>.<payload>" made with the 'from' key. Anonymous envelopes have no 'from' and no signature.
package packager

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
)

const algEdDSA = "EdDSA"

// ErrInvalidEnvelope is returned when a payload cannot be unpacked.
var ErrInvalidEnvelope = errors.New("invalid envelope")

type signer interface {
	Sign(didKey string, msg []byte) ([]byte, error)
	Verify(key string, msg, sig []byte) error
}

// Provider contains dependencies for the packager.
type Provider interface {
	KMS() kms.KeyManager
}

// Packager is the signed-envelope implementation of transport.Packager.
type Packager struct {
	signer signer
}

type envelope struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature,omitempty"`
}

type header struct {
	Typ  string   `json:"typ"`
	Alg  string   `json:"alg,omitempty"`
	From string   `json:"from,omitempty"`
	To   []string `json:"to"`
}

// New returns a new packager.
func New(p Provider) *Packager {
	return &Packager{signer: p.KMS()}
}

// PackMessage packs env.Message for env.ToKeys, signing with env.FromKey when set.
func (p *Packager) PackMessage(env *transport.Envelope) ([]byte, error) {
	if env == nil || len(env.Message) == 0 {
		return nil, errors.New("pack: empty message")
	}

	if len(env.ToKeys) == 0 {
		return nil, errors.New("pack: no recipient keys")
	}

	h := header{Typ: transport.MediaTypeSignedEnvelope, From: env.FromKey, To: env.ToKeys}
	if env.FromKey != "" {
		h.Alg = algEdDSA
	}

	rawHeader, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("pack: marshal header: %w", err)
	}

	out := envelope{
		Protected: base64.RawURLEncoding.EncodeToString(rawHeader),
		Payload:   base64.RawURLEncoding.EncodeToString(env.Message),
	}

	if env.FromKey != "" {
		sig, err := p.signer.Sign(env.FromKey, signingInput(out))
		if err != nil {
			return nil, fmt.Errorf("pack: sign: %w", err)
		}

		out.Signature = base64.RawURLEncoding.EncodeToString(sig)
	}

	return json.Marshal(out)
}

// UnpackMessage decodes a packed message and verifies its signature.
func (p *Packager) UnpackMessage(packed []byte) (*transport.Envelope, error) {
	env := envelope{}
	if err := json.Unmarshal(packed, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, err.Error())
	}

	rawHeader, err := base64.RawURLEncoding.DecodeString(env.Protected)
	if err != nil {
		return nil, fmt.Errorf("%w: protected header: %s", ErrInvalidEnvelope, err.Error())
	}

	h := header{}
	if err := json.Unmarshal(rawHeader, &h); err != nil {
		return nil, fmt.Errorf("%w: protected header: %s", ErrInvalidEnvelope, err.Error())
	}

	if h.Typ != transport.MediaTypeSignedEnvelope {
		return nil, fmt.Errorf("%w: unsupported type '%s'", ErrInvalidEnvelope, h.Typ)
	}

	payload, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %s", ErrInvalidEnvelope, err.Error())
	}

	if h.From != "" {
		sig, err := base64.RawURLEncoding.DecodeString(env.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: signature: %s", ErrInvalidEnvelope, err.Error())
		}

		if err := p.signer.Verify(h.From, signingInput(env), sig); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, err.Error())
		}
	}

	return &transport.Envelope{Message: payload, FromKey: h.From, ToKeys: h.To}, nil
}

func signingInput(env envelope) []byte {
	return []byte(env.Protected + "." + env.Payload)
}
