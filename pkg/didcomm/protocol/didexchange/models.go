/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
)

const (
	// Name of this protocol.
	Name = "didexchange"
	// PIURI is the DID Exchange protocol identifier.
	PIURI = "https://didcomm.org/didexchange/1.1"
	// RequestMsgType defines the did-exchange request message type.
	RequestMsgType = PIURI + "/request"
	// ResponseMsgType defines the did-exchange response message type.
	ResponseMsgType = PIURI + "/response"
	// CompleteMsgType defines the did-exchange complete message type.
	CompleteMsgType = PIURI + "/complete"
	// ProblemReportMsgType defines the did-exchange problem-report message type.
	ProblemReportMsgType = PIURI + "/problem_report"
)

// Problem codes.
const (
	ProblemCodeRequestNotAccepted  = "request_not_accepted"
	ProblemCodeRequestProcessing   = "request_processing_error"
	ProblemCodeResponseNotAccepted = "response_not_accepted"
	ProblemCodeResponseProcessing  = "response_processing_error"
)

// Request defines a2a DID exchange request
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0023-did-exchange#1-exchange-request
type Request struct {
	Type      string                `json:"@type,omitempty"`
	ID        string                `json:"@id,omitempty"`
	Label     string                `json:"label,omitempty"`
	Goal      string                `json:"goal,omitempty"`
	GoalCode  string                `json:"goal_code,omitempty"`
	DID       string                `json:"did,omitempty"`
	DocAttach *decorator.Attachment `json:"did_doc~attach,omitempty"`
	Thread    *decorator.Thread     `json:"~thread,omitempty"`
}

// Response defines a2a DID exchange response
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0023-did-exchange#2-exchange-response
type Response struct {
	Type      string                `json:"@type,omitempty"`
	ID        string                `json:"@id,omitempty"`
	DID       string                `json:"did,omitempty"`
	DocAttach *decorator.Attachment `json:"did_doc~attach,omitempty"`
	Thread    *decorator.Thread     `json:"~thread,omitempty"`
}

// Complete defines a2a DID exchange complete message
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0023-did-exchange#3-exchange-complete
type Complete struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}
