/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package aries establishes DIDComm connections between agents, starting from out-of-band invitations.
//
// Packages for end developer usage
//
// pkg/framework/aries: creates an agent and its context from provider options. The context carries the
// out-of-band, DID-Exchange, Connections 1.0 and trust ping services.
//
// pkg/client/outofband: creates, receives and accepts out-of-band and legacy invitations.
//
// pkg/client/connection: queries and removes connections, accepts pending requests and responses and pings peers.
//
// pkg/controller: the REST and command handlers over both clients, with state notifications
// pushed to WebSocket, webhook and NATS subscribers.
//
// Basic workflow
//
//      1) Instantiate an aries instance using provider options.
//      2) Create a context using your aries instance.
//      3) Create a client instance using its New func, passing the context.
//      4) Create an invitation on one agent and hand it over to the other one out of band.
//      5) Call aries.Close() to release resources.
package aries
