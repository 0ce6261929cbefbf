/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"encoding/json"

	"github.com/hyperledger/aries-handshake-go/pkg/client/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
)

// CreateInvitationArgs model
//
// This is used for creating an invitation.
//
type CreateInvitationArgs struct {
	Label                string   `json:"label"`
	Alias                string   `json:"alias"`
	Goal                 string   `json:"goal"`
	GoalCode             string   `json:"goal_code"`
	ImageURL             string   `json:"image_url"`
	HandshakeProtocols   []string `json:"handshake_protocols"`
	WithoutHandshake     bool     `json:"without_handshake"`
	MultiUse             bool     `json:"multi_use"`
	AutoAcceptConnection *bool    `json:"auto_accept_connection"`
	InvitationDID        string   `json:"invitation_did"`
	RouterConnectionID   string   `json:"router_connection_id"`
	// URLDomain, when set, adds an invitation URL on that domain to the response.
	URLDomain string `json:"url_domain"`
	// Attachments are DIDComm messages sent as requests~attach.
	Attachments []service.DIDCommMsgMap `json:"attachments"`
}

// CreateInvitationResponse model
//
// Represents a CreateInvitation response message.
//
type CreateInvitationResponse struct {
	RecordID      string                `json:"record_id"`
	Invitation    *outofband.Invitation `json:"invitation"`
	InvitationURL string                `json:"invitation_url,omitempty"`
}

// CreateLegacyInvitationResponse model
//
// Represents a CreateLegacyInvitation response message.
//
type CreateLegacyInvitationResponse struct {
	RecordID      string                      `json:"record_id"`
	Invitation    *outofband.LegacyInvitation `json:"invitation"`
	InvitationURL string                      `json:"invitation_url,omitempty"`
}

// ReceiveInvitationArgs model
//
// This is used for receiving an invitation. Exactly one of Invitation and InvitationURL is expected.
//
type ReceiveInvitationArgs struct {
	Invitation      json.RawMessage `json:"invitation"`
	InvitationURL   string          `json:"invitation_url"`
	MyLabel         string          `json:"my_label"`
	MyAlias         string          `json:"my_alias"`
	MyDID           string          `json:"my_did"`
	ReuseConnection bool            `json:"reuse_connection"`
	ManualAccept    bool            `json:"manual_accept"`
	// ManualConnectionAccept leaves the handshake response to be accepted through the connection API.
	ManualConnectionAccept bool `json:"manual_connection_accept"`
	// Timeout in milliseconds for the accept step.
	Timeout int64 `json:"timeout"`
}

// AcceptInvitationArgs model
//
// This is used for accepting an invitation received with manual_accept.
//
type AcceptInvitationArgs struct {
	ID              string `json:"id"`
	MyLabel         string `json:"my_label"`
	MyAlias         string `json:"my_alias"`
	MyDID           string `json:"my_did"`
	ReuseConnection bool   `json:"reuse_connection"`
	// ManualConnectionAccept leaves the handshake response to be accepted through the connection API.
	ManualConnectionAccept bool `json:"manual_connection_accept"`
	// Timeout in milliseconds.
	Timeout int64 `json:"timeout"`
}

// AcceptResponse model
//
// Represents the outcome of receiving or accepting an invitation.
//
type AcceptResponse struct {
	Record *outofband.Record `json:"record"`
	// Connection is empty for connection-less invitations and for invitations not accepted yet.
	Connection *connstore.Record `json:"connection,omitempty"`
}

// QueryRecordsArgs model
//
// This is used for querying out-of-band records. Empty fields match every record.
//
type QueryRecordsArgs struct {
	Role         string `json:"role"`
	State        string `json:"state"`
	InvitationID string `json:"invitation_id"`
}

// QueryRecordsResponse model
//
// Represents a QueryRecords response message.
//
type QueryRecordsResponse struct {
	Records []*outofband.Record `json:"results"`
}

// IDArgs model
//
// This is used for commands addressing one record.
//
type IDArgs struct {
	ID string `json:"id"`
}

// RecordResponse model
//
// Represents a single out-of-band record.
//
type RecordResponse struct {
	Record *outofband.Record `json:"result"`
}
