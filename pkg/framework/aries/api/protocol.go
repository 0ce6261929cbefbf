/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"errors"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

// ErrSvcNotFound is returned when service not found.
var ErrSvcNotFound = errors.New("service not found")

// Provider interface for protocol ctx.
type Provider interface {
	StorageProvider() storage.Provider
	KMS() kms.KeyManager
	OutboundDispatcher() dispatcher.Outbound
	InboundDispatcher() dispatcher.Inbound
	MessageRegistry() *dispatcher.Registry
	VDRegistry() vdr.DIDRegistry
	RoutingService() mediator.RoutingService
	ConnectionService() *connection.Service
	OutOfBandService() *outofband.Service
	Waiters() *waiter.Hub
	Service(id string) (interface{}, error)
	ServiceEndpoint() string
	AutoAcceptConnections() bool
	Label() string
}

// ProtocolService is a protocol engine that handles inbound messages of its types.
type ProtocolService interface {
	dispatcher.MessageHandler
	Name() string
}

// ProtocolSvcCreator method to create new protocol service.
type ProtocolSvcCreator func(prv Provider) (ProtocolService, error)
