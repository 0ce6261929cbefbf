/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
)

// MessageHandler is a protocol service able to process inbound messages of the types it declares.
type MessageHandler interface {
	// SupportedMessageTypes returns the '@type' URIs this handler processes.
	SupportedMessageTypes() []string
	// HandleInbound processes msg. A non-nil OutboundMessage is the reply to deliver.
	HandleInbound(ctx context.Context, msg service.DIDCommMsgMap, c *service.InboundContext) (*service.OutboundMessage, error)
}

// Outbound delivers messages to other agents.
type Outbound interface {
	Send(ctx context.Context, msg *service.OutboundMessage) error
}

// Inbound feeds a plaintext message through the local dispatch pipeline as if it had been received.
type Inbound interface {
	HandleInboundMessage(ctx context.Context, msg service.DIDCommMsgMap, c *service.InboundContext) error
}
