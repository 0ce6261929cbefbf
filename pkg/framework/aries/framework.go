/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package aries

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/secretlock"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher/inbound"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher/outbound"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/packager"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries/api"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/context"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

const defaultEndpoint = "didcomm:transport/queue"

var logger = log.New("aries-framework/framework")

// Aries provides access to the context being managed by the framework. The context can be used to create aries clients.
type Aries struct {
	storeProvider         storage.Provider
	protocolSvcCreators   []api.ProtocolSvcCreator
	services              []api.ProtocolService
	registry              *dispatcher.Registry
	outboundDispatcher    dispatcher.Outbound
	outboundTransports    []transport.OutboundTransport
	inboundTransports     []transport.InboundTransport
	kms                   kms.KeyManager
	secretLock            secretlock.Service
	vdrRegistry           *vdr.Registry
	vdrOpts               []vdr.Option
	packager              transport.Packager
	routing               mediator.RoutingService
	connections           *connection.Service
	oob                   *outofband.Service
	waiters               *waiter.Hub
	inboundHandler        inbound.MessageHandler
	transportReturnRoute  string
	serviceEndpoint       string
	label                 string
	autoAcceptConnections bool
	lookupMaxRetries      uint64
	lookupBackOff         time.Duration
	sendMaxRetries        uint64
	sendRetryInterval     time.Duration
	id                    string
}

// Option configures the framework.
type Option func(opts *Aries) error

// New initializes the Aries framework based on the set of options provided. This function returns a framework
// which can be used to manage Aries clients by getting the framework context.
func New(opts ...Option) (*Aries, error) {
	frameworkOpts := &Aries{autoAcceptConnections: true}

	// generate framework configs from options
	for _, option := range opts {
		err := option(frameworkOpts)
		if err != nil {
			closeErr := frameworkOpts.Close()
			return nil, fmt.Errorf("close err: %v Error in option passed to New: %w", closeErr, err)
		}
	}

	// generate a random framework ID
	frameworkOpts.id = uuid.New().String()

	// get the default framework options
	err := defFrameworkOpts(frameworkOpts)
	if err != nil {
		return nil, fmt.Errorf("default option initialization failed: %w", err)
	}

	a, err := initializeServices(frameworkOpts)
	if err != nil {
		if closeErr := frameworkOpts.Close(); closeErr != nil {
			logger.Warnf("close after failed initialization: %v", closeErr)
		}

		return nil, err
	}

	return a, nil
}

func initializeServices(frameworkOpts *Aries) (*Aries, error) {
	// Order of initializing service is important
	if e := createKMS(frameworkOpts); e != nil {
		return nil, e
	}

	if e := createVDR(frameworkOpts); e != nil {
		return nil, e
	}

	// packager signs with the kms keys
	if err := createPackager(frameworkOpts); err != nil {
		return nil, err
	}

	// the outbound dispatcher resolves connection-bound messages through the connection service
	if err := createConnectionService(frameworkOpts); err != nil {
		return nil, err
	}

	if err := createOutboundDispatcher(frameworkOpts); err != nil {
		return nil, err
	}

	if err := loadServices(frameworkOpts); err != nil {
		return nil, err
	}

	if err := startTransports(frameworkOpts); err != nil {
		return nil, err
	}

	return frameworkOpts, nil
}

// WithOutboundTransports injects an outbound transports to the Aries framework.
func WithOutboundTransports(outboundTransports ...transport.OutboundTransport) Option {
	return func(opts *Aries) error {
		opts.outboundTransports = append(opts.outboundTransports, outboundTransports...)
		return nil
	}
}

// WithInboundTransport injects an inbound transport to the Aries framework.
func WithInboundTransport(inboundTransport ...transport.InboundTransport) Option {
	return func(opts *Aries) error {
		opts.inboundTransports = append(opts.inboundTransports, inboundTransport...)
		return nil
	}
}

// WithTransportReturnRoute injects transport return route option to the Aries framework. Acceptable values - "none"
// or "all". RFC - https://github.com/hyperledger/aries-rfcs/tree/master/features/0092-transport-return-route.
func WithTransportReturnRoute(transportReturnRoute string) Option {
	return func(opts *Aries) error {
		//  "thread" option is not supported at the moment.
		if transportReturnRoute != decorator.TransportReturnRouteNone &&
			transportReturnRoute != decorator.TransportReturnRouteAll {
			return fmt.Errorf("invalid transport return route option : %s", transportReturnRoute)
		}

		opts.transportReturnRoute = transportReturnRoute

		return nil
	}
}

// WithStoreProvider injects a storage provider to the Aries framework.
func WithStoreProvider(prov storage.Provider) Option {
	return func(opts *Aries) error {
		opts.storeProvider = prov
		return nil
	}
}

// WithSecretLock injects a SecretLock service protecting the keys of the KMS.
func WithSecretLock(s secretlock.Service) Option {
	return func(opts *Aries) error {
		opts.secretLock = s
		return nil
	}
}

// WithProtocols injects a protocol service to the Aries framework.
func WithProtocols(protocolSvcCreator ...api.ProtocolSvcCreator) Option {
	return func(opts *Aries) error {
		opts.protocolSvcCreators = append(opts.protocolSvcCreators, protocolSvcCreator...)
		return nil
	}
}

// WithVDR adds the options of the DID registry, such as additional did methods or cache settings.
func WithVDR(vdrOpts ...vdr.Option) Option {
	return func(opts *Aries) error {
		opts.vdrOpts = append(opts.vdrOpts, vdrOpts...)
		return nil
	}
}

// WithServiceEndpoint sets the endpoint advertised in invitations and DID documents. Without it the endpoint
// of the first inbound transport is used.
func WithServiceEndpoint(endpoint string) Option {
	return func(opts *Aries) error {
		opts.serviceEndpoint = endpoint
		return nil
	}
}

// WithLabel sets the default label sent with handshake requests.
func WithLabel(label string) Option {
	return func(opts *Aries) error {
		opts.label = label
		return nil
	}
}

// WithAutoAcceptConnections sets whether handshake requests and responses are accepted without user action.
// Defaults to true.
func WithAutoAcceptConnections(autoAccept bool) Option {
	return func(opts *Aries) error {
		opts.autoAcceptConnections = autoAccept
		return nil
	}
}

// WithConnectionLookup sets how often and how far apart the connection of an inbound message is looked up
// before the message is dispatched without one.
func WithConnectionLookup(maxRetries uint64, backOff time.Duration) Option {
	return func(opts *Aries) error {
		opts.lookupMaxRetries = maxRetries
		opts.lookupBackOff = backOff

		return nil
	}
}

// WithOutboundRetry sets how often and how far apart failed transport sends are retried.
func WithOutboundRetry(maxRetries uint64, interval time.Duration) Option {
	return func(opts *Aries) error {
		if interval <= 0 {
			return errors.New("outbound retry interval must be positive")
		}

		opts.sendMaxRetries = maxRetries
		opts.sendRetryInterval = interval

		return nil
	}
}

// Context provides a handle to the framework context.
func (a *Aries) Context() (*context.Provider, error) {
	return newContext(a,
		context.WithProtocolServices(a.services...),
		context.WithOutOfBandService(a.oob),
	)
}

// Close frees resources being maintained by the framework.
func (a *Aries) Close() error {
	var errs []error

	for _, inbound := range a.inboundTransports {
		if err := inbound.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("inbound transport close failed: %w", err))
		}
	}

	if a.waiters != nil {
		a.waiters.Close()
	}

	if err := a.closeVDR(); err != nil {
		errs = append(errs, err)
	}

	if a.storeProvider != nil {
		if err := a.storeProvider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close the store: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (a *Aries) closeVDR() error {
	if a.vdrRegistry != nil {
		if err := a.vdrRegistry.Close(); err != nil {
			return fmt.Errorf("vdr registry close failed: %w", err)
		}
	}

	return nil
}

// newContext returns a context over every collaborator created so far.
func newContext(a *Aries, opts ...context.ProviderOption) (*context.Provider, error) {
	all := []context.ProviderOption{
		context.WithStorageProvider(a.storeProvider),
		context.WithKMS(a.kms),
		context.WithPackager(a.packager),
		context.WithOutboundDispatcher(a.outboundDispatcher),
		context.WithOutboundTransports(a.outboundTransports...),
		context.WithTransportReturnRoute(a.transportReturnRoute),
		context.WithRoutingService(a.routing),
		context.WithMessageRegistry(a.registry),
		context.WithConnectionService(a.connections),
		context.WithWaiters(a.waiters),
		context.WithServiceEndpoint(serviceEndpoint(a)),
		context.WithAriesFrameworkID(a.id),
		context.WithLabel(a.label),
		context.WithAutoAcceptConnections(a.autoAcceptConnections),
		context.WithInboundMessageHandler(&a.inboundHandler),
	}

	// a nil *vdr.Registry must not become a non-nil interface
	if a.vdrRegistry != nil {
		all = append(all, context.WithVDRegistry(a.vdrRegistry))
	}

	if a.lookupBackOff > 0 {
		all = append(all,
			context.WithConnectionLookupMaxRetries(a.lookupMaxRetries),
			context.WithConnectionLookupBackOff(a.lookupBackOff),
		)
	}

	ctx, err := context.New(append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create context failed: %w", err)
	}

	return ctx, nil
}

func createKMS(frameworkOpts *Aries) error {
	var kmsOpts []kms.Option
	if frameworkOpts.secretLock != nil {
		kmsOpts = append(kmsOpts, kms.WithSecretLock(frameworkOpts.secretLock))
	}

	km, err := kms.New(frameworkOpts.storeProvider, kmsOpts...)
	if err != nil {
		return fmt.Errorf("create KMS failed: %w", err)
	}

	frameworkOpts.kms = km
	frameworkOpts.routing = mediator.NewService(km, serviceEndpoint(frameworkOpts), nil)

	return nil
}

func createVDR(frameworkOpts *Aries) error {
	registry, err := vdr.New(frameworkOpts.storeProvider, frameworkOpts.vdrOpts...)
	if err != nil {
		return fmt.Errorf("create vdr registry failed: %w", err)
	}

	frameworkOpts.vdrRegistry = registry

	return nil
}

func createPackager(frameworkOpts *Aries) error {
	ctx, err := newContext(frameworkOpts)
	if err != nil {
		return fmt.Errorf("create packager context failed: %w", err)
	}

	frameworkOpts.packager = packager.New(ctx)

	return nil
}

func createConnectionService(frameworkOpts *Aries) error {
	frameworkOpts.waiters = waiter.New()

	ctx, err := newContext(frameworkOpts)
	if err != nil {
		return err
	}

	frameworkOpts.connections, err = connection.New(ctx)
	if err != nil {
		return fmt.Errorf("create connection service failed: %w", err)
	}

	return nil
}

func createOutboundDispatcher(frameworkOpts *Aries) error {
	ctx, err := newContext(frameworkOpts)
	if err != nil {
		return err
	}

	var opts []outbound.Option

	if frameworkOpts.sendRetryInterval > 0 {
		opts = append(opts, outbound.WithRetry(frameworkOpts.sendMaxRetries, frameworkOpts.sendRetryInterval))
	}

	frameworkOpts.outboundDispatcher = outbound.NewOutbound(ctx, opts...)

	return nil
}

func startTransports(frameworkOpts *Aries) error {
	ctx, err := newContext(frameworkOpts)
	if err != nil {
		return err
	}

	for _, inbound := range frameworkOpts.inboundTransports {
		// Start the inbound transport
		if err = inbound.Start(ctx); err != nil {
			return fmt.Errorf("inbound transport start failed: %w", err)
		}

		logger.Infof("inbound transport started at %s", inbound.Endpoint())
	}

	return nil
}

func loadServices(frameworkOpts *Aries) error {
	frameworkOpts.registry = dispatcher.NewRegistry()
	// uninitialized until every service exists
	frameworkOpts.inboundHandler = inbound.MessageHandler{}

	ctx, err := newContext(frameworkOpts)
	if err != nil {
		return err
	}

	frameworkOpts.oob, err = outofband.New(ctx)
	if err != nil {
		return fmt.Errorf("create out-of-band service failed: %w", err)
	}

	if e := context.WithOutOfBandService(frameworkOpts.oob)(ctx); e != nil {
		return e
	}

	for _, v := range frameworkOpts.protocolSvcCreators {
		svc, svcErr := v(ctx)
		if svcErr != nil {
			return fmt.Errorf("new protocol service failed: %w", svcErr)
		}

		frameworkOpts.services = append(frameworkOpts.services, svc)
	}

	frameworkOpts.services = append(frameworkOpts.services, frameworkOpts.oob)

	for _, svc := range frameworkOpts.services {
		if e := frameworkOpts.registry.RegisterHandler(svc); e != nil {
			return fmt.Errorf("register %s handler: %w", svc.Name(), e)
		}
	}

	if e := context.WithProtocolServices(frameworkOpts.services...)(ctx); e != nil {
		return e
	}

	// after adding all protocol services to the context, we can initialize the handler properly.
	frameworkOpts.inboundHandler.Initialize(ctx)

	return nil
}

func serviceEndpoint(frameworkOpts *Aries) string {
	if frameworkOpts.serviceEndpoint != "" {
		return frameworkOpts.serviceEndpoint
	}

	return fetchEndpoint(frameworkOpts, "http")
}

func fetchEndpoint(frameworkOpts *Aries, defaultScheme string) string {
	for _, inbound := range frameworkOpts.inboundTransports {
		if strings.HasPrefix(inbound.Endpoint(), defaultScheme) {
			return inbound.Endpoint()
		}
	}

	if len(frameworkOpts.inboundTransports) > 0 {
		return frameworkOpts.inboundTransports[0].Endpoint()
	}

	return defaultEndpoint
}
