/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package context creates a framework Provider context to add optional (non default) framework services and provides
// simple accessor methods to those same services.
package context

import (
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher/inbound"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries/api"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

const (
	defaultConnectionLookupMaxRetries = 3
	defaultConnectionLookupBackOff    = 100 * time.Millisecond
)

// Provider supplies the framework configuration to client objects.
type Provider struct {
	services                   []api.ProtocolService
	storeProvider              storage.Provider
	kms                        kms.KeyManager
	packager                   transport.Packager
	serviceEndpoint            string
	outboundDispatcher         dispatcher.Outbound
	outboundTransports         []transport.OutboundTransport
	vdr                        vdr.DIDRegistry
	routing                    mediator.RoutingService
	registry                   *dispatcher.Registry
	dispatcher                 *dispatcher.Dispatcher
	connections                *connection.Service
	oob                        *outofband.Service
	waiters                    *waiter.Hub
	transportReturnRoute       string
	frameworkID                string
	label                      string
	autoAcceptConnections      bool
	connectionLookupMaxRetries uint64
	connectionLookupBackOff    time.Duration
	inboundHandler             *inbound.MessageHandler
}

// New instantiates a new context provider.
func New(opts ...ProviderOption) (*Provider, error) {
	ctxProvider := Provider{
		connectionLookupMaxRetries: defaultConnectionLookupMaxRetries,
		connectionLookupBackOff:    defaultConnectionLookupBackOff,
	}

	for _, opt := range opts {
		err := opt(&ctxProvider)
		if err != nil {
			return nil, fmt.Errorf("option failed: %w", err)
		}
	}

	if ctxProvider.registry == nil {
		ctxProvider.registry = dispatcher.NewRegistry()
	}

	ctxProvider.dispatcher = dispatcher.New(ctxProvider.registry)

	// uninitialized until every service it dispatches to exists
	if ctxProvider.inboundHandler == nil {
		ctxProvider.inboundHandler = &inbound.MessageHandler{}
	}

	return &ctxProvider, nil
}

// OutboundDispatcher returns an outbound dispatcher.
func (p *Provider) OutboundDispatcher() dispatcher.Outbound {
	return p.outboundDispatcher
}

// OutboundTransports returns an outbound transports.
func (p *Provider) OutboundTransports() []transport.OutboundTransport {
	return p.outboundTransports
}

// Service return protocol service.
func (p *Provider) Service(id string) (interface{}, error) {
	for _, v := range p.services {
		if v.Name() == id {
			return v, nil
		}
	}

	return nil, api.ErrSvcNotFound
}

// AllServices returns a copy of the Provider's list of ProtocolServices.
func (p *Provider) AllServices() []api.ProtocolService {
	ret := make([]api.ProtocolService, len(p.services))
	copy(ret, p.services)

	return ret
}

// KMS returns a Key Management Service.
func (p *Provider) KMS() kms.KeyManager {
	return p.kms
}

// Packager returns a packager service.
func (p *Provider) Packager() transport.Packager {
	return p.packager
}

// ServiceEndpoint returns an service endpoint. This endpoint is used in Out-Of-Band messages and
// DID Document service to send messages to the agent.
func (p *Provider) ServiceEndpoint() string {
	return p.serviceEndpoint
}

// InboundMessageHandler return an inbound message handler.
func (p *Provider) InboundMessageHandler() transport.InboundMessageHandler {
	return p.inboundHandler.HandlerFunc()
}

// InboundDispatcher dispatches plaintext messages, such as the requests attached to out-of-band invitations.
func (p *Provider) InboundDispatcher() dispatcher.Inbound {
	return p.inboundHandler
}

// InboundHandler returns the inbound message handler, which stays uninitialized until the framework calls
// its Initialize with this context.
func (p *Provider) InboundHandler() *inbound.MessageHandler {
	return p.inboundHandler
}

// StorageProvider return a storage provider.
func (p *Provider) StorageProvider() storage.Provider {
	return p.storeProvider
}

// VDRegistry returns a vdr registry.
func (p *Provider) VDRegistry() vdr.DIDRegistry {
	return p.vdr
}

// RoutingService returns the service handing out recipient keys and routing information.
func (p *Provider) RoutingService() mediator.RoutingService {
	return p.routing
}

// MessageRegistry returns the registry of message handlers.
func (p *Provider) MessageRegistry() *dispatcher.Registry {
	return p.registry
}

// Dispatcher returns the dispatcher over MessageRegistry.
func (p *Provider) Dispatcher() *dispatcher.Dispatcher {
	return p.dispatcher
}

// ConnectionService returns the connection record service.
func (p *Provider) ConnectionService() *connection.Service {
	return p.connections
}

// OutOfBandService returns the out-of-band service.
func (p *Provider) OutOfBandService() *outofband.Service {
	return p.oob
}

// Waiters returns the hub of pending waits.
func (p *Provider) Waiters() *waiter.Hub {
	return p.waiters
}

// TransportReturnRoute returns transport return route.
func (p *Provider) TransportReturnRoute() string {
	return p.transportReturnRoute
}

// AriesFrameworkID returns the id of the framework instance.
func (p *Provider) AriesFrameworkID() string {
	return p.frameworkID
}

// Label returns the default label sent with handshake requests.
func (p *Provider) Label() string {
	return p.label
}

// AutoAcceptConnections reports whether handshake requests and responses are accepted without user action.
func (p *Provider) AutoAcceptConnections() bool {
	return p.autoAcceptConnections
}

// ConnectionLookupMaxRetries returns how often a failed connection lookup of an inbound message is retried.
func (p *Provider) ConnectionLookupMaxRetries() uint64 {
	return p.connectionLookupMaxRetries
}

// ConnectionLookupBackOff returns the pause between connection lookup retries.
func (p *Provider) ConnectionLookupBackOff() time.Duration {
	return p.connectionLookupBackOff
}

// ProviderOption configures the framework.
type ProviderOption func(opts *Provider) error

// WithOutboundTransports injects an outbound transports into the context.
func WithOutboundTransports(transports ...transport.OutboundTransport) ProviderOption {
	return func(opts *Provider) error {
		opts.outboundTransports = transports
		return nil
	}
}

// WithConnectionLookupMaxRetries sets max retries.
func WithConnectionLookupMaxRetries(retries uint64) ProviderOption {
	return func(opts *Provider) error {
		opts.connectionLookupMaxRetries = retries
		return nil
	}
}

// WithConnectionLookupBackOff sets backoff duration.
func WithConnectionLookupBackOff(duration time.Duration) ProviderOption {
	return func(opts *Provider) error {
		opts.connectionLookupBackOff = duration
		return nil
	}
}

// WithOutboundDispatcher injects an outbound dispatcher into the context.
func WithOutboundDispatcher(outboundDispatcher dispatcher.Outbound) ProviderOption {
	return func(opts *Provider) error {
		opts.outboundDispatcher = outboundDispatcher
		return nil
	}
}

// WithTransportReturnRoute injects transport return route option to the Aries framework.
func WithTransportReturnRoute(transportReturnRoute string) ProviderOption {
	return func(opts *Provider) error {
		opts.transportReturnRoute = transportReturnRoute
		return nil
	}
}

// WithProtocolServices injects a protocol services into the context.
func WithProtocolServices(services ...api.ProtocolService) ProviderOption {
	return func(opts *Provider) error {
		opts.services = services
		return nil
	}
}

// WithKMS injects a kms service into the context.
func WithKMS(k kms.KeyManager) ProviderOption {
	return func(opts *Provider) error {
		opts.kms = k
		return nil
	}
}

// WithVDRegistry injects a vdr service into the context.
func WithVDRegistry(registry vdr.DIDRegistry) ProviderOption {
	return func(opts *Provider) error {
		opts.vdr = registry
		return nil
	}
}

// WithRoutingService injects the routing service into the context.
func WithRoutingService(routing mediator.RoutingService) ProviderOption {
	return func(opts *Provider) error {
		opts.routing = routing
		return nil
	}
}

// WithMessageRegistry injects the registry inbound messages are dispatched through.
func WithMessageRegistry(registry *dispatcher.Registry) ProviderOption {
	return func(opts *Provider) error {
		opts.registry = registry
		return nil
	}
}

// WithConnectionService injects the connection record service into the context.
func WithConnectionService(connections *connection.Service) ProviderOption {
	return func(opts *Provider) error {
		opts.connections = connections
		return nil
	}
}

// WithOutOfBandService injects the out-of-band service into the context.
func WithOutOfBandService(oob *outofband.Service) ProviderOption {
	return func(opts *Provider) error {
		opts.oob = oob
		return nil
	}
}

// WithWaiters injects the hub of pending waits into the context.
func WithWaiters(waiters *waiter.Hub) ProviderOption {
	return func(opts *Provider) error {
		opts.waiters = waiters
		return nil
	}
}

// WithServiceEndpoint injects an service transport endpoint into the context.
func WithServiceEndpoint(endpoint string) ProviderOption {
	return func(opts *Provider) error {
		opts.serviceEndpoint = endpoint
		return nil
	}
}

// WithStorageProvider injects a storage provider into the context.
func WithStorageProvider(s storage.Provider) ProviderOption {
	return func(opts *Provider) error {
		opts.storeProvider = s
		return nil
	}
}

// WithPackager injects a packager into the context.
func WithPackager(p transport.Packager) ProviderOption {
	return func(opts *Provider) error {
		opts.packager = p
		return nil
	}
}

// WithAriesFrameworkID injects the framework ID into the context.
func WithAriesFrameworkID(id string) ProviderOption {
	return func(opts *Provider) error {
		opts.frameworkID = id
		return nil
	}
}

// WithLabel injects the default handshake label into the context.
func WithLabel(label string) ProviderOption {
	return func(opts *Provider) error {
		opts.label = label
		return nil
	}
}

// WithAutoAcceptConnections sets whether handshakes proceed without user action.
func WithAutoAcceptConnections(autoAccept bool) ProviderOption {
	return func(opts *Provider) error {
		opts.autoAcceptConnections = autoAccept
		return nil
	}
}

// WithInboundMessageHandler injects the handler for inbound messages.
func WithInboundMessageHandler(handler *inbound.MessageHandler) ProviderOption {
	return func(opts *Provider) error {
		opts.inboundHandler = handler
		return nil
	}
}
