/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/didcommtype"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

var logger = log.New("aries-framework/out-of-band/service")

const (
	// DefaultAcceptInvitationTimeout bounds the wait for a connection before attached requests are dropped.
	DefaultAcceptInvitationTimeout = 20 * time.Second
	// DefaultHandshakeReuseTimeout bounds the wait for handshake-reuse-accepted.
	DefaultHandshakeReuseTimeout = 15 * time.Second

	// KindHandshakeReused is the waiter kind fulfilled by handshake-reuse-accepted messages.
	KindHandshakeReused waiter.Kind = "handshake-reused"
)

// Provider contains dependencies for the out-of-band service.
type Provider interface {
	StorageProvider() storage.Provider
	MessageRegistry() *dispatcher.Registry
	OutboundDispatcher() dispatcher.Outbound
	InboundDispatcher() dispatcher.Inbound
	VDRegistry() vdr.DIDRegistry
	RoutingService() mediator.RoutingService
	ConnectionService() *connection.Service
	Waiters() *waiter.Hub
}

// HandshakeOptions are passed to the handshake protocol that accepts an invitation.
type HandshakeOptions struct {
	Label                string
	Alias                string
	ImageURL             string
	AutoAcceptConnection *bool
	Routing              *mediator.Routing
	OurDID               string
}

// HandshakeProtocol is a connection protocol able to answer an out-of-band invitation.
type HandshakeProtocol interface {
	// ProtocolURI is the protocol implemented, e.g. https://didcomm.org/didexchange/1.1.
	ProtocolURI() string
	// AcceptOutOfBandInvitation starts the handshake and returns the new connection.
	AcceptOutOfBandInvitation(ctx context.Context, rec *Record, opts *HandshakeOptions) (*connstore.Record, error)
}

// CreateInvitationConfig configures CreateInvitation.
type CreateInvitationConfig struct {
	// InvitationID is the invitation '@id'. A random id is used when empty.
	InvitationID string
	Label        string
	Alias        string
	Goal         string
	GoalCode     string
	ImageURL     string
	// Handshake defaults to true. An invitation without handshake must carry Messages.
	Handshake *bool
	// HandshakeProtocols in order of preference. All of them must be supported. Defaults to every supported one.
	HandshakeProtocols []string
	// Messages are attached as requests~attach.
	Messages             []service.DIDCommMsgMap
	MultiUseInvitation   bool
	AutoAcceptConnection *bool
	// InvitationDID is a public DID to use as the only service. Cannot be combined with Routing.
	InvitationDID string
	// Routing is used for the inline service. New routing is created when both Routing and InvitationDID are unset.
	Routing    *mediator.Routing
	MediatorID string
}

// CreateLegacyInvitationConfig configures CreateLegacyInvitation.
type CreateLegacyInvitationConfig struct {
	Label                string
	Alias                string
	ImageURL             string
	MultiUseInvitation   bool
	AutoAcceptConnection *bool
	InvitationDID        string
	Routing              *mediator.Routing
	MediatorID           string
}

// ReceiveInvitationConfig configures ReceiveInvitation.
type ReceiveInvitationConfig struct {
	Label    string
	Alias    string
	ImageURL string
	// AutoAcceptInvitation defaults to true.
	AutoAcceptInvitation *bool
	// AutoAcceptConnection defaults to true.
	AutoAcceptConnection *bool
	ReuseConnection      bool
	Routing              *mediator.Routing
	MediatorID           string
	// AcceptInvitationTimeout defaults to DefaultAcceptInvitationTimeout.
	AcceptInvitationTimeout time.Duration
	// HandshakeReuseTimeout defaults to DefaultHandshakeReuseTimeout.
	HandshakeReuseTimeout time.Duration
	OurDID                string
}

// ImplicitInvitationConfig configures ReceiveImplicitInvitation.
type ImplicitInvitationConfig struct {
	// DID is the public DID to connect to.
	DID string
	// HandshakeProtocols defaults to DID Exchange.
	HandshakeProtocols []string
	ReceiveInvitationConfig
}

// AcceptInvitationConfig configures AcceptInvitation.
type AcceptInvitationConfig struct {
	Label                string
	Alias                string
	ImageURL             string
	AutoAcceptConnection *bool
	ReuseConnection      bool
	// Routing is not used when a connection is reused.
	Routing *mediator.Routing
	// Timeout defaults to DefaultAcceptInvitationTimeout.
	Timeout time.Duration
	// HandshakeReuseTimeout defaults to DefaultHandshakeReuseTimeout.
	HandshakeReuseTimeout time.Duration
	OurDID                string
}

// ImplicitRequest describes a handshake request addressed to one of our public DIDs without an invitation.
type ImplicitRequest struct {
	DID                  string
	ThreadID             string
	HandshakeProtocols   []string
	AutoAcceptConnection *bool
	// RecipientKey is the key of DID the request was sent to.
	RecipientKey string
}

// AcceptResult is the outcome of accepting an invitation.
type AcceptResult struct {
	Record *Record
	// Connection is nil for connection-less exchanges and for invitations that were not accepted yet.
	Connection *connstore.Record
}

// Service implements the out-of-band protocol.
type Service struct {
	service.Message
	store       *Store
	registry    *dispatcher.Registry
	outbound    dispatcher.Outbound
	inbound     dispatcher.Inbound
	vdRegistry  vdr.DIDRegistry
	routing     mediator.RoutingService
	connections *connection.Service
	waiters     *waiter.Hub

	mu        sync.RWMutex
	protocols []HandshakeProtocol
}

// New returns the out-of-band service.
func New(p Provider) (*Service, error) {
	store, err := NewStore(p.StorageProvider())
	if err != nil {
		return nil, err
	}

	return &Service{
		store:       store,
		registry:    p.MessageRegistry(),
		outbound:    p.OutboundDispatcher(),
		inbound:     p.InboundDispatcher(),
		vdRegistry:  p.VDRegistry(),
		routing:     p.RoutingService(),
		connections: p.ConnectionService(),
		waiters:     p.Waiters(),
	}, nil
}

// Name returns the protocol name.
func (s *Service) Name() string {
	return Name
}

// Store returns the record store.
func (s *Service) Store() *Store {
	return s.store
}

// RegisterHandshakeProtocol makes h available for accepting invitations.
func (s *Service) RegisterHandshakeProtocol(h HandshakeProtocol) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.protocols = append(s.protocols, h)
}

// CreateInvitation creates an invitation and the Sender record tracking it.
func (s *Service) CreateInvitation(_ context.Context, cfg *CreateInvitationConfig) (*Record, error) {
	rec, err := s.newSenderRecord(cfg)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(rec); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	logger.Debugf("created invitation %s (record %s)", rec.Invitation.ID, rec.ID)

	s.notifyState(rec, nil)

	return rec, nil
}

// CreateLegacyInvitation creates a Connections invitation and the Sender record tracking it.
func (s *Service) CreateLegacyInvitation(_ context.Context, cfg *CreateLegacyInvitationConfig) (*Record,
	*LegacyInvitation, error) {
	handshake := true

	rec, err := s.newSenderRecord(&CreateInvitationConfig{
		Label:                cfg.Label,
		Alias:                cfg.Alias,
		ImageURL:             cfg.ImageURL,
		Handshake:            &handshake,
		HandshakeProtocols:   []string{ConnectionsProtocol},
		MultiUseInvitation:   cfg.MultiUseInvitation,
		AutoAcceptConnection: cfg.AutoAcceptConnection,
		InvitationDID:        cfg.InvitationDID,
		Routing:              cfg.Routing,
		MediatorID:           cfg.MediatorID,
	})
	if err != nil {
		return nil, nil, err
	}

	rec.Metadata.LegacyInvitation = &LegacyInvitationMetadata{Type: InvitationTypeConnection}

	legacy, err := ConvertToOldInvitation(rec.Invitation)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.Save(rec); err != nil {
		return nil, nil, fmt.Errorf("create legacy invitation: %w", err)
	}

	s.notifyState(rec, nil)

	return rec, legacy, nil
}

func (s *Service) newSenderRecord(cfg *CreateInvitationConfig) (*Record, error) {
	handshake := cfg.Handshake == nil || *cfg.Handshake

	if !handshake && len(cfg.Messages) == 0 {
		return nil, fmt.Errorf("%w: one or both of handshake_protocols and requests~attach MUST be included",
			ErrInvalidInvitation)
	}

	if !handshake && len(cfg.HandshakeProtocols) > 0 {
		return nil, fmt.Errorf("%w: handshake can not be false when handshake protocols are given", ErrInvalidInvitation)
	}

	if len(cfg.Messages) > 0 && cfg.MultiUseInvitation {
		return nil, fmt.Errorf("%w: a multi-use invitation can not carry messages", ErrInvalidInvitation)
	}

	if cfg.Routing != nil && cfg.InvitationDID != "" {
		return nil, fmt.Errorf("%w: routing and invitation DID can not be used together", ErrInvalidInvitation)
	}

	inv := &Invitation{
		ID:       cfg.InvitationID,
		Type:     InvitationMsgType,
		Label:    cfg.Label,
		Goal:     cfg.Goal,
		GoalCode: cfg.GoalCode,
		ImageURL: cfg.ImageURL,
		Accept:   DIDCommProfiles,
	}

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	if handshake {
		protocols, err := s.supportedHandshakeProtocols(cfg.HandshakeProtocols)
		if err != nil {
			return nil, err
		}

		inv.HandshakeProtocols = protocols
	}

	mediatorID := cfg.MediatorID

	if cfg.InvitationDID != "" {
		inv.Services = []ServiceEntry{{DID: cfg.InvitationDID}}
	} else {
		routing := cfg.Routing
		if routing == nil {
			var err error

			routing, err = s.routing.GetRouting(cfg.MediatorID)
			if err != nil {
				return nil, fmt.Errorf("create invitation routing: %w", err)
			}
		}

		mediatorID = routing.MediatorID

		inv.Services = []ServiceEntry{{Inline: &InlineService{
			ID:              fmt.Sprintf("%s-%d", inlineServiceIDPrefix, 0),
			Type:            vdrapi.DIDCommServiceType,
			RecipientKeys:   []string{routing.RecipientKey},
			RoutingKeys:     routing.RoutingKeys,
			ServiceEndpoint: routing.Endpoint,
			Accept:          DIDCommProfiles,
		}}}
	}

	for _, m := range cfg.Messages {
		if m.Type() == "" {
			return nil, fmt.Errorf("%w: attached message without @type", ErrInvalidInvitation)
		}

		msg := m.Clone()
		delete(msg, "~service")

		if msg.ID() == "" {
			msg.SetID(uuid.New().String())
		}

		inv.AddRequest(msg)
	}

	fingerprints, err := s.resolveFingerprints(inv)
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:                       uuid.New().String(),
		State:                    StateAwaitResponse,
		Role:                     RoleSender,
		Invitation:               inv,
		Reusable:                 cfg.MultiUseInvitation,
		AutoAcceptConnection:     cfg.AutoAcceptConnection,
		Alias:                    cfg.Alias,
		MediatorID:               mediatorID,
		RecipientKeyFingerprints: fingerprints,
	}, nil
}

// ReceiveInvitation stores a received invitation and, unless disabled, accepts it.
func (s *Service) ReceiveInvitation(ctx context.Context, inv *Invitation, cfg *ReceiveInvitationConfig) (*AcceptResult,
	error) {
	if cfg == nil {
		cfg = &ReceiveInvitationConfig{}
	}

	return s.receive(ctx, inv, cfg, false)
}

// ReceiveImplicitInvitation connects to a public DID as if it had sent an invitation.
func (s *Service) ReceiveImplicitInvitation(ctx context.Context, cfg *ImplicitInvitationConfig) (*AcceptResult,
	error) {
	if cfg.DID == "" {
		return nil, fmt.Errorf("%w: implicit invitation without DID", ErrInvalidInvitation)
	}

	candidates := cfg.HandshakeProtocols
	if len(candidates) == 0 {
		candidates = []string{DIDExchangeProtocol}
	}

	protocols, err := s.supportedHandshakeProtocols(candidates)
	if err != nil {
		return nil, err
	}

	inv := &Invitation{
		ID:                 cfg.DID,
		Type:               InvitationMsgType,
		Label:              cfg.Alias,
		Services:           []ServiceEntry{{DID: cfg.DID}},
		HandshakeProtocols: protocols,
	}

	return s.receive(ctx, inv, &cfg.ReceiveInvitationConfig, true)
}

func (s *Service) receive(ctx context.Context, inv *Invitation, cfg *ReceiveInvitationConfig,
	implicit bool) (*AcceptResult, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	autoAcceptInvitation := cfg.AutoAcceptInvitation == nil || *cfg.AutoAcceptInvitation

	autoAcceptConnection := true
	if cfg.AutoAcceptConnection != nil {
		autoAcceptConnection = *cfg.AutoAcceptConnection
	}

	recordID := inv.ID

	if implicit {
		recordID = uuid.New().String()
	} else {
		existing, err := s.store.FindAll(Query{Role: RoleReceiver, InvitationID: inv.ID})
		if err != nil {
			return nil, fmt.Errorf("receive invitation %s: %w", inv.ID, err)
		}

		if len(existing) > 0 {
			return nil, fmt.Errorf("%w: invitation '%s' was already received", ErrDuplicateInvitation, inv.ID)
		}
	}

	fingerprints, err := s.resolveFingerprints(inv)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:                       recordID,
		State:                    StateInitial,
		Role:                     RoleReceiver,
		Invitation:               inv,
		Implicit:                 implicit,
		AutoAcceptConnection:     &autoAcceptConnection,
		Alias:                    cfg.Alias,
		MediatorID:               cfg.MediatorID,
		RecipientKeyFingerprints: fingerprints,
	}

	if cfg.Routing != nil {
		rec.MediatorID = cfg.Routing.MediatorID

		if rec.IsConnectionless() || !autoAcceptInvitation {
			rec.Metadata.RecipientRouting = &RecipientRouting{
				RecipientKey: cfg.Routing.RecipientKey,
				RoutingKeys:  cfg.Routing.RoutingKeys,
				Endpoint:     cfg.Routing.Endpoint,
				MediatorID:   cfg.Routing.MediatorID,
			}
		}
	}

	if inv.InvitationType != "" && inv.InvitationType != InvitationTypeOutOfBand {
		rec.Metadata.LegacyInvitation = &LegacyInvitationMetadata{Type: inv.InvitationType}
	}

	if err := s.store.Save(rec); err != nil {
		return nil, fmt.Errorf("receive invitation: %w", err)
	}

	logger.Debugf("received invitation %s (record %s)", inv.ID, rec.ID)

	s.notifyState(rec, nil)

	if !autoAcceptInvitation {
		return &AcceptResult{Record: rec}, nil
	}

	return s.AcceptInvitation(ctx, rec.ID, &AcceptInvitationConfig{
		Label:                 cfg.Label,
		Alias:                 cfg.Alias,
		ImageURL:              cfg.ImageURL,
		AutoAcceptConnection:  &autoAcceptConnection,
		ReuseConnection:       cfg.ReuseConnection,
		Routing:               cfg.Routing,
		Timeout:               cfg.AcceptInvitationTimeout,
		HandshakeReuseTimeout: cfg.HandshakeReuseTimeout,
		OurDID:                cfg.OurDID,
	})
}

// AcceptInvitation answers a received invitation: an existing connection is reused when allowed, otherwise a
// handshake is started. Attached requests are then handed to the local dispatcher.
func (s *Service) AcceptInvitation(ctx context.Context, id string, cfg *AcceptInvitationConfig) (*AcceptResult,
	error) {
	if cfg == nil {
		cfg = &AcceptInvitationConfig{}
	}

	rec, err := s.transition(id, StatePrepareResponse, func(r *Record) error {
		if r.Role != RoleReceiver || r.State != StateInitial {
			return fmt.Errorf("%w: accept invitation record %s is %s/%s", ErrInvalidState, r.ID, r.Role, r.State)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	inv := rec.Invitation

	requests, err := inv.RequestMessages()
	if err != nil {
		return nil, err
	}

	routing := cfg.Routing
	if routing == nil && rec.Metadata.RecipientRouting != nil {
		rr := rec.Metadata.RecipientRouting
		routing = &mediator.Routing{
			Endpoint:     rr.Endpoint,
			RoutingKeys:  rr.RoutingKeys,
			RecipientKey: rr.RecipientKey,
			MediatorID:   rr.MediatorID,
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAcceptInvitationTimeout
	}

	existing := s.findExistingConnection(inv)

	if rec.IsConnectionless() {
		if existing != nil && cfg.ReuseConnection {
			err = s.emitWithConnection(ctx, rec, existing, requests)
		} else {
			err = s.emitWithServices(ctx, rec, routing, requests)
		}

		if err != nil {
			return nil, fmt.Errorf("accept invitation %s: %w", inv.ID, err)
		}

		rec = s.advance(rec, StatePrepareResponse, StateDone)

		return &AcceptResult{Record: rec}, nil
	}

	var conn *connstore.Record

	if existing != nil && cfg.ReuseConnection {
		if len(requests) > 0 {
			logger.Debugf("reusing connection %s for invitation %s", existing.ConnectionID, inv.ID)

			conn = existing
			rec = s.advance(rec, StatePrepareResponse, StateDone)
		} else if s.handshakeReuse(ctx, rec, existing, cfg.HandshakeReuseTimeout) {
			conn = existing
		}
	}

	if conn == nil {
		proto, err := s.firstSupportedProtocol(inv.HandshakeProtocols)
		if err != nil {
			return nil, fmt.Errorf("accept invitation %s: %w", inv.ID, err)
		}

		conn, err = proto.AcceptOutOfBandInvitation(ctx, rec, &HandshakeOptions{
			Label:                cfg.Label,
			Alias:                cfg.Alias,
			ImageURL:             cfg.ImageURL,
			AutoAcceptConnection: cfg.AutoAcceptConnection,
			Routing:              routing,
			OurDID:               cfg.OurDID,
		})
		if err != nil {
			return nil, fmt.Errorf("accept invitation %s with %s: %w", inv.ID, proto.ProtocolURI(), err)
		}

		rec = s.advance(rec, StatePrepareResponse, StateAwaitResponse)
	}

	if len(requests) > 0 {
		if conn.IsReady() {
			if err := s.emitWithConnection(ctx, rec, conn, requests); err != nil {
				return nil, fmt.Errorf("accept invitation %s: %w", inv.ID, err)
			}
		} else {
			go s.emitWhenConnected(rec, conn.ConnectionID, requests, timeout)
		}
	}

	if latest, err := s.store.Get(rec.ID); err == nil {
		rec = latest
	}

	return &AcceptResult{Record: rec, Connection: conn}, nil
}

func (s *Service) emitWhenConnected(rec *Record, connectionID string, requests []service.DIDCommMsgMap,
	timeout time.Duration) {
	conn, err := s.connections.ReturnWhenIsConnected(context.Background(), connectionID, timeout)
	if err != nil {
		if errors.Is(err, waiter.ErrTimeout) || errors.Is(err, waiter.ErrClosed) {
			logger.Warnf("dropping requests of invitation %s: connection %s not ready: %s",
				rec.Invitation.ID, connectionID, err)

			return
		}

		logger.Errorf("waiting for connection %s of invitation %s failed: %s", connectionID, rec.Invitation.ID, err)

		return
	}

	if err := s.emitWithConnection(context.Background(), rec, conn, requests); err != nil {
		logger.Errorf("emit requests of invitation %s: %s", rec.Invitation.ID, err)
	}
}

// handshakeReuse asks the other agent to reuse conn for rec and reports whether it agreed in time.
func (s *Service) handshakeReuse(ctx context.Context, rec *Record, conn *connstore.Record,
	timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultHandshakeReuseTimeout
	}

	reuse := &HandshakeReuse{
		ID:     uuid.New().String(),
		Type:   HandshakeReuseMsgType,
		Thread: &decorator.Thread{PID: rec.Invitation.ID},
	}
	reuse.Thread.ID = reuse.ID

	if _, err := s.store.Update(rec.ID, func(r *Record) error {
		r.ReuseConnectionID = conn.ConnectionID

		return nil
	}); err != nil {
		logger.Errorf("handshake reuse for record %s: %s", rec.ID, err)

		return false
	}

	w := s.waiters.Register(waiter.Key{Kind: KindHandshakeReused, ID: reuse.ID}, func(v interface{}) bool {
		e, ok := v.(*HandshakeReused)

		return ok && e.OutOfBandID == rec.ID && e.ConnectionID == conn.ConnectionID
	})

	err := s.outbound.Send(ctx, &service.OutboundMessage{
		Msg:          service.NewDIDCommMsgMap(reuse),
		ConnectionID: conn.ConnectionID,
	})
	if err != nil {
		w.Cancel()
		logger.Warnf("sending handshake-reuse on connection %s failed: %s", conn.ConnectionID, err)
		s.clearReuse(rec.ID)

		return false
	}

	if _, err := w.Wait(ctx, timeout); err != nil {
		logger.Warnf("no handshake-reuse-accepted for invitation %s on connection %s: %s",
			rec.Invitation.ID, conn.ConnectionID, err)
		s.clearReuse(rec.ID)

		return false
	}

	return true
}

func (s *Service) clearReuse(id string) {
	_, err := s.store.Update(id, func(r *Record) error {
		r.ReuseConnectionID = ""

		return nil
	})
	if err != nil {
		logger.Warnf("clear reuse connection of record %s: %s", id, err)
	}
}

// findExistingConnection returns a ready connection created from one of the invitation's DIDs. The first DID
// with a ready connection wins.
func (s *Service) findExistingConnection(inv *Invitation) *connstore.Record {
	for _, invitationDID := range inv.InvitationDIDs() {
		conns, err := s.connections.FindByInvitationDID(invitationDID)
		if err != nil {
			logger.Warnf("looking up connections of invitation did %s: %s", invitationDID, err)

			continue
		}

		var ready []*connstore.Record

		for _, c := range conns {
			if c.IsReady() {
				ready = append(ready, c)
			}
		}

		if len(ready) == 0 {
			continue
		}

		if len(ready) > 1 {
			logger.Warnf("found %d connections created from invitation did %s, using the first one",
				len(ready), invitationDID)
		}

		return ready[0]
	}

	return nil
}

func (s *Service) emitWithConnection(ctx context.Context, rec *Record, conn *connstore.Record,
	requests []service.DIDCommMsgMap) error {
	ictx := &service.InboundContext{
		ConnectionID: conn.ConnectionID,
		RecipientKey: conn.MyRecipientKey,
	}

	if len(conn.TheirRecipientKeys) > 0 {
		ictx.SenderKey = conn.TheirRecipientKeys[0]
	}

	return s.emit(ctx, rec, requests, ictx)
}

func (s *Service) emitWithServices(ctx context.Context, rec *Record, routing *mediator.Routing,
	requests []service.DIDCommMsgMap) error {
	dests, err := s.GetResolvedServices(rec)
	if err != nil {
		return err
	}

	if routing == nil {
		routing, err = s.routing.GetRouting(rec.MediatorID)
		if err != nil {
			return fmt.Errorf("routing for connection-less exchange: %w", err)
		}
	}

	ictx := &service.InboundContext{
		Services:     dests,
		RecipientKey: routing.RecipientKey,
	}

	if len(dests[0].RecipientKeys) > 0 {
		ictx.SenderKey = dests[0].RecipientKeys[0]
	}

	return s.emit(ctx, rec, requests, ictx)
}

func (s *Service) emit(ctx context.Context, rec *Record, requests []service.DIDCommMsgMap,
	ictx *service.InboundContext) error {
	for _, req := range requests {
		if !s.registry.IsSupported(req.Type()) {
			continue
		}

		msg := req.Clone()

		if err := ensureParentThreadID(rec, msg); err != nil {
			return err
		}

		logger.Debugf("emitting request %s of invitation %s", msg.Type(), rec.Invitation.ID)

		return s.inbound.HandleInboundMessage(ctx, msg, ictx)
	}

	return fmt.Errorf("%w: invitation %s", errNoSupportedRequest, rec.Invitation.ID)
}

// ensureParentThreadID makes replies to an attached request carry the invitation id as parent thread id.
func ensureParentThreadID(rec *Record, msg service.DIDCommMsgMap) error {
	invID := rec.Invitation.ID

	if pthid := msg.ParentThreadID(); pthid != "" && pthid != invID {
		return fmt.Errorf("%w: request %s has parent thread id '%s', invitation is '%s'", ErrInvalidThreading,
			msg.ID(), pthid, invID)
	}

	if rec.Metadata.LegacyInvitation != nil && rec.Metadata.LegacyInvitation.Type == InvitationTypeConnectionless {
		return nil
	}

	msg.SetThread("", invID)

	return nil
}

// GetResolvedServices returns the destinations of the invitation's services in order.
func (s *Service) GetResolvedServices(rec *Record) ([]*service.Destination, error) {
	var dests []*service.Destination

	for _, entry := range rec.Invitation.Services {
		if entry.Inline != nil {
			dests = append(dests, &service.Destination{
				RecipientKeys:   entry.Inline.RecipientKeys,
				RoutingKeys:     entry.Inline.RoutingKeys,
				ServiceEndpoint: entry.Inline.ServiceEndpoint,
			})

			continue
		}

		doc, err := s.vdRegistry.ResolveDIDDocument(entry.DID)
		if err != nil {
			return nil, fmt.Errorf("resolve service %s: %w", entry.DID, err)
		}

		for _, svc := range doc.Services {
			dests = append(dests, &service.Destination{
				RecipientKeys:   svc.RecipientKeys,
				RoutingKeys:     svc.RoutingKeys,
				ServiceEndpoint: svc.ServiceEndpoint,
			})
		}
	}

	if len(dests) == 0 {
		return nil, fmt.Errorf("%w: no service of invitation %s can be resolved", ErrInvalidInvitation,
			rec.Invitation.ID)
	}

	return dests, nil
}

func (s *Service) resolveFingerprints(inv *Invitation) ([]string, error) {
	var keys []string

	for _, entry := range inv.Services {
		if entry.Inline != nil {
			keys = append(keys, entry.Inline.RecipientKeys...)

			continue
		}

		doc, err := s.vdRegistry.ResolveDIDDocument(entry.DID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve service %s: %w", ErrInvalidInvitation, entry.DID, err)
		}

		keys = append(keys, doc.RecipientKeys...)
	}

	fingerprints, err := keyutil.Fingerprints(keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	return fingerprints, nil
}

// supportedHandshakeProtocols returns the locally supported protocols among candidates in the candidates'
// order. Without candidates every known handshake protocol is considered; with candidates all of them must be
// supported.
func (s *Service) supportedHandshakeProtocols(candidates []string) ([]string, error) {
	custom := len(candidates) > 0
	if !custom {
		candidates = DefaultHandshakeProtocols
	}

	var supported []string

	for _, c := range candidates {
		uri, err := didcommtype.ParseProtocolURI(strings.Replace(c, ".x", ".0", 1))
		if err != nil {
			return nil, fmt.Errorf("%w: handshake protocol: %w", ErrInvalidInvitation, err)
		}

		if len(s.registry.FilterSupportedProtocolsByURIs([]didcommtype.ProtocolURI{uri})) == 0 {
			continue
		}

		if h := s.handshakeProtocol(uri); h != nil {
			supported = append(supported, h.ProtocolURI())
		}
	}

	if custom && len(supported) != len(candidates) {
		return nil, fmt.Errorf("%w: handshake protocols %v are not all supported, supported are %v",
			ErrInvalidInvitation, candidates, supported)
	}

	if len(supported) == 0 {
		return nil, fmt.Errorf("%w: no handshake protocol is supported", ErrInvalidInvitation)
	}

	return supported, nil
}

// firstSupportedProtocol returns the handshake protocol for the first entry of the invitation's list that is
// supported locally.
func (s *Service) firstSupportedProtocol(uris []string) (HandshakeProtocol, error) {
	for _, u := range uris {
		uri, err := didcommtype.ParseProtocolURI(strings.Replace(u, ".x", ".0", 1))
		if err != nil {
			logger.Debugf("skipping handshake protocol '%s': %s", u, err)

			continue
		}

		if len(s.registry.FilterSupportedProtocolsByURIs([]didcommtype.ProtocolURI{uri})) == 0 {
			continue
		}

		if h := s.handshakeProtocol(uri); h != nil {
			return h, nil
		}
	}

	return nil, fmt.Errorf("%w: handshake protocols %v are not supported", ErrInvalidInvitation, uris)
}

func (s *Service) handshakeProtocol(uri didcommtype.ProtocolURI) HandshakeProtocol {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.protocols {
		local, err := didcommtype.ParseProtocolURI(h.ProtocolURI())
		if err != nil {
			continue
		}

		if local.Supports(uri) {
			return h
		}
	}

	return nil
}

// transition atomically moves record id to state to after guard accepted the current copy.
func (s *Service) transition(id string, to State, guard func(r *Record) error) (*Record, error) {
	rec, err := s.store.Update(id, func(r *Record) error {
		if err := guard(r); err != nil {
			return err
		}

		r.State = to

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyState(rec, nil)

	return rec, nil
}

// advance moves rec from one state to another when it is still in the first one. A record that moved on in
// the meantime is returned as stored.
func (s *Service) advance(rec *Record, from, to State) *Record {
	updated, err := s.transition(rec.ID, to, func(r *Record) error {
		if r.State != from {
			return fmt.Errorf("%w: record %s is %s", ErrInvalidState, r.ID, r.State)
		}

		return nil
	})
	if err == nil {
		return updated
	}

	if latest, getErr := s.store.Get(rec.ID); getErr == nil {
		return latest
	}

	return rec
}

// CompleteHandshake marks the invitation of record id as used by a finished handshake. Reusable records stay
// in their state; single-use records move to done and cannot be used again.
func (s *Service) CompleteHandshake(id string) (*Record, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	if rec.Reusable {
		return rec, nil
	}

	return s.transition(id, StateDone, func(r *Record) error {
		if r.State != StateAwaitResponse && r.State != StatePrepareResponse {
			return fmt.Errorf("%w: complete handshake of record %s in state %s", ErrInvalidState, r.ID, r.State)
		}

		return nil
	})
}

// CreateFromImplicitInvitation creates the Sender record for a handshake request addressed to our public DID.
func (s *Service) CreateFromImplicitInvitation(req *ImplicitRequest) (*Record, error) {
	if !IsDID(req.DID) {
		return nil, fmt.Errorf("%w: implicit invitation '%s' is not a DID", ErrInvalidInvitation, req.DID)
	}

	if _, err := s.vdRegistry.ResolveDIDDocument(req.DID); err != nil {
		return nil, fmt.Errorf("implicit invitation %s: %w", req.DID, err)
	}

	var fingerprints []string

	if req.RecipientKey != "" {
		fp, err := keyutil.Fingerprint(req.RecipientKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
		}

		fingerprints = []string{fp}
	}

	autoAccept := false
	if req.AutoAcceptConnection != nil {
		autoAccept = *req.AutoAcceptConnection
	}

	rec := &Record{
		ID:    uuid.New().String(),
		State: StateAwaitResponse,
		Role:  RoleSender,
		Invitation: &Invitation{
			ID:                 req.DID,
			Type:               InvitationMsgType,
			Services:           []ServiceEntry{{DID: req.DID}},
			HandshakeProtocols: req.HandshakeProtocols,
			Thread:             &decorator.Thread{ID: req.ThreadID},
		},
		Reusable:                 true,
		Implicit:                 true,
		AutoAcceptConnection:     &autoAccept,
		RecipientKeyFingerprints: fingerprints,
	}

	if err := s.store.Save(rec); err != nil {
		return nil, fmt.Errorf("create from implicit invitation: %w", err)
	}

	s.notifyState(rec, nil)

	return rec, nil
}

// MatchIncomingMessage settles connection-less invitations: a message answering one of the attached requests
// moves a single-use Sender record to done.
func (s *Service) MatchIncomingMessage(msg service.DIDCommMsgMap) (*Record, error) {
	thid, err := msg.ThreadID()
	if err != nil {
		return nil, err
	}

	rec, err := s.store.FindByRequestThreadID(thid)
	if err != nil {
		return nil, err
	}

	if rec.Reusable || rec.State != StateAwaitResponse {
		return rec, nil
	}

	return s.transition(rec.ID, StateDone, func(r *Record) error {
		if r.State != StateAwaitResponse {
			return fmt.Errorf("%w: record %s is %s", ErrInvalidState, r.ID, r.State)
		}

		return nil
	})
}

// FindByID returns record id.
func (s *Service) FindByID(id string) (*Record, error) {
	return s.store.Get(id)
}

// GetAll returns every record.
func (s *Service) GetAll() ([]*Record, error) {
	return s.store.GetAll()
}

// FindAll returns the records matching q.
func (s *Service) FindAll(q Query) ([]*Record, error) {
	return s.store.FindAll(q)
}

// FindByReceivedInvitationID returns the Receiver record of invitation invID.
func (s *Service) FindByReceivedInvitationID(invID string) (*Record, error) {
	return s.store.FindByReceivedInvitationID(invID)
}

// FindByCreatedInvitationID returns the Sender record of invitation invID. thid is needed for implicit
// invitations only.
func (s *Service) FindByCreatedInvitationID(invID, thid string) (*Record, error) {
	return s.store.FindByCreatedInvitationID(invID, thid)
}

// FindCreatedByRecipientKey returns the Sender records advertising key.
func (s *Service) FindCreatedByRecipientKey(key string) ([]*Record, error) {
	return s.store.FindCreatedByRecipientKey(key)
}

// DeleteByID deletes record id. Keys registered with a mediator for the invitation are removed when no
// connection depends on them.
func (s *Service) DeleteByID(id string) error {
	rec, err := s.store.Get(id)
	if err != nil {
		return err
	}

	conns, err := s.connections.FindAllByOutOfBandID(id)
	if err != nil {
		return fmt.Errorf("delete out-of-band record %s: %w", id, err)
	}

	if rec.MediatorID != "" && len(rec.Invitation.DIDServices()) == 0 && (len(conns) == 0 || rec.Reusable) {
		var keys []string

		for _, svc := range rec.Invitation.InlineServices() {
			keys = append(keys, svc.RecipientKeys...)
		}

		if err := s.routing.RemoveRouting(rec.MediatorID, keys); err != nil {
			return fmt.Errorf("delete out-of-band record %s: %w", id, err)
		}
	}

	return s.store.Delete(id)
}

func supportsMessageType(local, incoming string) bool {
	l, err := didcommtype.ParseMessageType(local)
	if err != nil {
		return false
	}

	in, err := didcommtype.ParseMessageType(incoming)
	if err != nil {
		return false
	}

	return l.Supports(in)
}
