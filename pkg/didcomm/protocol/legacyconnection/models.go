/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacyconnection

import (
	"encoding/json"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
)

const (
	// Name of this protocol.
	Name = "legacyconnection"
	// PIURI is the Connections protocol identifier.
	PIURI = outofband.ConnectionsProtocol
	// RequestMsgType defines the legacy-connection request message type.
	RequestMsgType = PIURI + "/request"
	// ResponseMsgType defines the legacy-connection response message type.
	ResponseMsgType = PIURI + "/response"
	// AckMsgType defines the legacy-connection ack message type.
	AckMsgType = PIURI + "/ack"
	// ProblemReportMsgType defines the legacy-connection problem-report message type.
	ProblemReportMsgType = PIURI + "/problem_report"
)

const (
	// PlsAckOnReceipt ack type that says, "Please send me an ack as soon as you receive this message.".
	PlsAckOnReceipt = "RECEIPT"
	// SignatureType is the '@type' of the 'connection~sig' decorator.
	SignatureType = "https://didcomm.org/signature/1.0/ed25519Sha512_single"
)

// Request defines a2a Connection request
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#1-connection-request
type Request struct {
	Type       string            `json:"@type,omitempty"`
	ID         string            `json:"@id,omitempty"`
	Label      string            `json:"label"`
	Thread     *decorator.Thread `json:"~thread,omitempty"`
	Connection *Connection       `json:"connection,omitempty"`
}

// Response defines a2a Connection response
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#2-connection-response
type Response struct {
	Type                string               `json:"@type,omitempty"`
	ID                  string               `json:"@id,omitempty"`
	ConnectionSignature *decorator.Signature `json:"connection~sig,omitempty"`
	Thread              *decorator.Thread    `json:"~thread,omitempty"`
	PleaseAck           *PleaseAck           `json:"~please_ack,omitempty"`
}

// PleaseAck connection response accepted acknowledgement.
type PleaseAck struct {
	On []string `json:"on,omitempty"`
}

// Connection defines connection body of connection request. DIDDoc is a DID document in the legacy
// (publicKey based) JSON form.
type Connection struct {
	DID    string          `json:"DID,omitempty"`
	DIDDoc json.RawMessage `json:"DIDDoc,omitempty"`
}
