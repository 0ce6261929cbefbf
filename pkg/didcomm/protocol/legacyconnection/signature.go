/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacyconnection

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/component/models/did"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
)

const timestampLength = 8

// newConnection returns the connection body for doc, with the document in its legacy form.
func newConnection(doc *did.Doc, withDoc bool) (*Connection, error) {
	conn := &Connection{DID: doc.ID}

	if !withDoc {
		return conn, nil
	}

	raw, err := doc.ToLegacyRawDoc()
	if err != nil {
		return nil, fmt.Errorf("legacy did document: %w", err)
	}

	conn.DIDDoc, err = json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal legacy did document: %w", err)
	}

	return conn, nil
}

// signConnection signs conn with the invitation key, prefixed by the signing time in seconds.
func signConnection(km kms.KeyManager, conn *Connection, invitationKey string) (*decorator.Signature, error) {
	connBytes, err := json.Marshal(conn)
	if err != nil {
		return nil, fmt.Errorf("marshal connection: %w", err)
	}

	sigData := make([]byte, timestampLength, timestampLength+len(connBytes))
	binary.BigEndian.PutUint64(sigData, uint64(time.Now().Unix()))
	sigData = append(sigData, connBytes...)

	sig, err := km.Sign(invitationKey, sigData)
	if err != nil {
		return nil, fmt.Errorf("sign connection: %w", err)
	}

	signer, err := keyutil.VerKeyFromDIDKey(invitationKey)
	if err != nil {
		return nil, err
	}

	return &decorator.Signature{
		Type:       SignatureType,
		Signature:  base64.URLEncoding.EncodeToString(sig),
		SignedData: base64.URLEncoding.EncodeToString(sigData),
		SignVerKey: signer,
	}, nil
}

// verifyConnection checks sig was made with invitationKey and returns the signed connection.
func verifyConnection(km kms.KeyManager, sig *decorator.Signature, invitationKey string) (*Connection, error) {
	if sig == nil {
		return nil, errors.New("missing connection signature")
	}

	if sig.SignVerKey != "" {
		signer, err := keyutil.Fingerprint(sig.SignVerKey)
		if err != nil {
			return nil, fmt.Errorf("%w: signer: %w", connection.ErrKeyMismatch, err)
		}

		want, err := keyutil.Fingerprint(invitationKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invitation key: %w", connection.ErrKeyMismatch, err)
		}

		if signer != want {
			return nil, fmt.Errorf("%w: connection signed by %s, invitation key is %s", connection.ErrKeyMismatch,
				sig.SignVerKey, invitationKey)
		}
	}

	sigData, err := base64.URLEncoding.DecodeString(sig.SignedData)
	if err != nil {
		return nil, fmt.Errorf("decode signature data: %w", err)
	}

	if len(sigData) <= timestampLength {
		return nil, errors.New("missing or invalid signature data")
	}

	signature, err := base64.URLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	if err := km.Verify(invitationKey, sigData, signature); err != nil {
		return nil, fmt.Errorf("%w: connection signature: %w", connection.ErrKeyMismatch, err)
	}

	conn := &Connection{}

	if err := json.Unmarshal(sigData[timestampLength:], conn); err != nil {
		return nil, fmt.Errorf("unmarshal signed connection: %w", err)
	}

	return conn, nil
}

// theirDocAttachment exposes the DID document of conn the way DID Exchange carries one.
func theirDocAttachment(conn *Connection) *decorator.Attachment {
	if len(conn.DIDDoc) == 0 {
		return nil
	}

	return decorator.NewJSONAttachment(conn.DID, conn.DIDDoc)
}
