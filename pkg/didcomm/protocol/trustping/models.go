/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package trustping

import "github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"

const (
	// Name of this protocol.
	Name = "trustping"
	// PIURI is the trust ping protocol identifier.
	PIURI = "https://didcomm.org/trust_ping/1.0"
	// PingMsgType defines the trust ping message type.
	PingMsgType = PIURI + "/ping"
	// PingResponseMsgType defines the trust ping response message type.
	PingResponseMsgType = PIURI + "/ping_response"
)

// Ping checks that a connection works.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0048-trust-ping#messages
type Ping struct {
	Type              string            `json:"@type,omitempty"`
	ID                string            `json:"@id,omitempty"`
	Comment           string            `json:"comment,omitempty"`
	ResponseRequested bool              `json:"response_requested"`
	Thread            *decorator.Thread `json:"~thread,omitempty"`
}

// PingResponse answers a Ping that requested a response.
type PingResponse struct {
	Type    string            `json:"@type,omitempty"`
	ID      string            `json:"@id,omitempty"`
	Comment string            `json:"comment,omitempty"`
	Thread  *decorator.Thread `json:"~thread,omitempty"`
}
