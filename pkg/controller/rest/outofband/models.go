/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	cmdoob "github.com/hyperledger/aries-handshake-go/pkg/controller/command/outofband"
)

// outofbandCreateInvitationRequest model
//
// This is used for operation to create an invitation.
//
// swagger:parameters outofbandCreateInvitation outofbandCreateLegacyInvitation
type outofbandCreateInvitationRequest struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.CreateInvitationArgs
}

// outofbandCreateInvitationResponse model
//
// Represents a CreateInvitation response message.
//
// swagger:response outofbandCreateInvitationResponse
type outofbandCreateInvitationResponse struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.CreateInvitationResponse
}

// outofbandCreateLegacyInvitationResponse model
//
// Represents a CreateLegacyInvitation response message.
//
// swagger:response outofbandCreateLegacyInvitationResponse
type outofbandCreateLegacyInvitationResponse struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.CreateLegacyInvitationResponse
}

// outofbandReceiveInvitationRequest model
//
// This is used for operation to receive an invitation.
//
// swagger:parameters outofbandReceiveInvitation
type outofbandReceiveInvitationRequest struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.ReceiveInvitationArgs
}

// outofbandAcceptInvitationRequest model
//
// This is used for operation to accept an invitation.
//
// swagger:parameters outofbandAcceptInvitation
type outofbandAcceptInvitationRequest struct { // nolint: unused,deadcode
	// The ID of the out-of-band record.
	//
	// in: path
	// required: true
	ID string `json:"id"`

	// in: body
	Body struct {
		MyLabel                string `json:"my_label"`
		MyAlias                string `json:"my_alias"`
		MyDID                  string `json:"my_did"`
		ReuseConnection        bool   `json:"reuse_connection"`
		ManualConnectionAccept bool   `json:"manual_connection_accept"`
		Timeout                int64  `json:"timeout"`
	}
}

// outofbandAcceptResponse model
//
// Represents the outcome of receiving or accepting an invitation.
//
// swagger:response outofbandAcceptResponse
type outofbandAcceptResponse struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.AcceptResponse
}

// outofbandQueryRecordsRequest model
//
// swagger:parameters outofbandQueryRecords
type outofbandQueryRecordsRequest struct { // nolint: unused,deadcode
	// in: query
	Role string `json:"role"`
	// in: query
	State string `json:"state"`
	// in: query
	InvitationID string `json:"invitation_id"`
}

// outofbandQueryRecordsResponse model
//
// swagger:response outofbandQueryRecordsResponse
type outofbandQueryRecordsResponse struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.QueryRecordsResponse
}

// outofbandRecordRequest model
//
// swagger:parameters outofbandGetRecord outofbandRemoveRecord
type outofbandRecordRequest struct { // nolint: unused,deadcode
	// in: path
	// required: true
	ID string `json:"id"`
}

// outofbandRecordResponse model
//
// swagger:response outofbandRecordResponse
type outofbandRecordResponse struct { // nolint: unused,deadcode
	// in: body
	Body cmdoob.RecordResponse
}
