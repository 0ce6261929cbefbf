/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
)

// Envelope holds a plaintext message and the keys it is (or was) packed with. Keys are did:key values.
type Envelope struct {
	Message []byte
	FromKey string
	ToKeys  []string
}

// Packager packs plaintext messages into wire envelopes and back.
type Packager interface {
	PackMessage(envelope *Envelope) ([]byte, error)
	UnpackMessage(packed []byte) (*Envelope, error)
}

// OutboundTransport is the client side of a transport.
type OutboundTransport interface {
	// Send delivers data to destination and returns whatever the other agent answered on the same session.
	Send(ctx context.Context, data []byte, destination *service.Destination) (string, error)
	// Accept reports whether the transport can reach url.
	Accept(url string) bool
}

// InboundMessageHandler processes a packed inbound payload. A non-empty result is a packed reply to return
// on the inbound session.
type InboundMessageHandler func(ctx context.Context, payload []byte) ([]byte, error)

// InboundProvider supplies what an inbound transport needs to serve requests.
type InboundProvider interface {
	InboundMessageHandler() InboundMessageHandler
}

// InboundTransport is the server side of a transport.
type InboundTransport interface {
	Start(prov InboundProvider) error
	Stop() error
	// Endpoint is the externally reachable address advertised in DID documents and invitations.
	Endpoint() string
}
