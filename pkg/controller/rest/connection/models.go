/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"github.com/hyperledger/aries-handshake-go/pkg/controller/command/connection"
)

// queryConnectionsRequest model
//
// swagger:parameters queryConnections
type queryConnectionsRequest struct { // nolint: unused,deadcode
	// in: query
	State string `json:"state"`
	// in: query
	TheirDID string `json:"their_did"`
	// in: query
	MyDID string `json:"my_did"`
	// in: query
	OutOfBandID string `json:"outofband_id"`
	// in: query
	Protocol string `json:"protocol"`
}

// queryConnectionsResponse model
//
// swagger:response queryConnectionsResponse
type queryConnectionsResponse struct { // nolint: unused,deadcode
	// in: body
	Body connection.QueryConnectionsResponse
}

// connectionIDRequest model
//
// swagger:parameters getConnection removeConnection acceptRequest acceptResponse
type connectionIDRequest struct { // nolint: unused,deadcode
	// The ID of the connection.
	//
	// in: path
	// required: true
	ID string `json:"id"`
}

// connectionResponse model
//
// swagger:response connectionResponse
type connectionResponse struct { // nolint: unused,deadcode
	// in: body
	Body connection.ConnectionResponse
}

// pingRequest model
//
// swagger:parameters ping
type pingRequest struct { // nolint: unused,deadcode
	// in: path
	// required: true
	ID string `json:"id"`
	// Timeout in milliseconds.
	//
	// in: query
	Timeout int64 `json:"timeout"`
}

// pingResponse model
//
// swagger:response pingResponse
type pingResponse struct { // nolint: unused,deadcode
	// in: body
	Body connection.PingResponse
}
