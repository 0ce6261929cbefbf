/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"github.com/hyperledger/aries-handshake-go/pkg/client/connection"
)

// IDArgs model
//
// This is used for commands addressing one connection.
//
type IDArgs struct {
	ID string `json:"id"`
}

// QueryConnectionsArgs model
//
// This is used for querying connections. Empty fields match every connection.
//
type QueryConnectionsArgs struct {
	connection.QueryConnectionsParams
}

// QueryConnectionsResponse model
//
// Represents a QueryConnections response message.
//
type QueryConnectionsResponse struct {
	Results []*connection.Connection `json:"results,omitempty"`
}

// ConnectionResponse model
//
// Represents a single connection.
//
type ConnectionResponse struct {
	Result *connection.Connection `json:"result,omitempty"`
}

// PingArgs model
//
// This is used for sending a trust ping on a connection.
//
type PingArgs struct {
	ID string `json:"id"`
	// Timeout in milliseconds.
	Timeout int64 `json:"timeout"`
}

// PingResponse model
//
// Represents the round trip time of a trust ping.
//
type PingResponse struct {
	RoundTripMillis int64 `json:"round_trip_ms"`
}
