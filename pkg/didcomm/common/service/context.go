/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// Destination provides the recipientKeys, routingKeys, and serviceEndpoint of a delivery target.
// Keys are did:key values.
type Destination struct {
	RecipientKeys   []string `json:"recipientKeys"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
}

// InboundContext is what the transport layer learnt about an inbound message after unpacking it.
type InboundContext struct {
	// ConnectionID of the connection the sender key belongs to, if known.
	ConnectionID string
	// SenderKey is the did:key the message was authenticated with. Empty for anonymous messages.
	SenderKey string
	// RecipientKey is the did:key the message was addressed to.
	RecipientKey string
	// Services are set for connection-less exchanges started from an out-of-band invitation.
	Services []*Destination
	// ReturnRoute is true when the sender asked for replies on the inbound transport session.
	ReturnRoute bool
}

// OutboundMessage is a message a handler wants delivered. The dispatcher does not pick a transport:
// the caller decides between the inbound session and a new connection.
type OutboundMessage struct {
	Msg DIDCommMsgMap
	// ConnectionID is the connection to deliver on.
	ConnectionID string
	// Destinations are used for connection-less delivery when ConnectionID is empty.
	Destinations []*Destination
	// SenderKey is the did:key to sign/pack with for connection-less delivery.
	SenderKey string
	// NoReturnRoute disables '~transport.return_route' on the outbound message so that no transport
	// session is held open for a synchronous reply.
	NoReturnRoute bool
}
