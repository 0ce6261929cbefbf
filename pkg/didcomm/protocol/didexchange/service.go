/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/didcommtype"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

var logger = log.New("aries-framework/did-exchange/service")

// Provider contains dependencies for the DID Exchange protocol.
type Provider interface {
	OutboundDispatcher() dispatcher.Outbound
	VDRegistry() vdr.DIDRegistry
	RoutingService() mediator.RoutingService
	ConnectionService() *connection.Service
	OutOfBandService() *outofband.Service
	AutoAcceptConnections() bool
	Label() string
}

// Service for the DID Exchange protocol.
type Service struct {
	outbound    dispatcher.Outbound
	vdRegistry  vdr.DIDRegistry
	routing     mediator.RoutingService
	connections *connection.Service
	oob         *outofband.Service
	autoAccept  bool
	label       string
}

// New returns the DID Exchange service and registers it as a handshake protocol of the out-of-band service.
func New(p Provider) (*Service, error) {
	oob := p.OutOfBandService()
	if oob == nil {
		return nil, errors.New("did-exchange: out-of-band service is required")
	}

	svc := &Service{
		outbound:    p.OutboundDispatcher(),
		vdRegistry:  p.VDRegistry(),
		routing:     p.RoutingService(),
		connections: p.ConnectionService(),
		oob:         oob,
		autoAccept:  p.AutoAcceptConnections(),
		label:       p.Label(),
	}

	oob.RegisterHandshakeProtocol(svc)

	return svc, nil
}

// Name returns the protocol name.
func (s *Service) Name() string {
	return Name
}

// ProtocolURI returns the protocol identifier.
func (s *Service) ProtocolURI() string {
	return PIURI
}

// SupportedMessageTypes returns the message types handled by the service.
func (s *Service) SupportedMessageTypes() []string {
	return []string{RequestMsgType, ResponseMsgType, CompleteMsgType, ProblemReportMsgType}
}

// HandleInbound processes DID Exchange messages.
func (s *Service) HandleInbound(_ context.Context, msg service.DIDCommMsgMap,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	logger.Debugf("receive inbound message : %s", msg.Type())

	if ictx == nil {
		ictx = &service.InboundContext{}
	}

	thid, err := msg.ThreadID()
	if err != nil {
		return nil, fmt.Errorf("did-exchange %s: %w", msg.Type(), err)
	}

	var out *service.OutboundMessage

	switch {
	case isType(msg.Type(), RequestMsgType):
		out, err = s.handleRequest(msg, thid, ictx)
	case isType(msg.Type(), ResponseMsgType):
		out, err = s.handleResponse(msg, thid, ictx)
	case isType(msg.Type(), CompleteMsgType):
		err = s.handleComplete(msg, thid)
	case isType(msg.Type(), ProblemReportMsgType):
		err = s.handleProblemReport(msg, thid)
	default:
		return nil, fmt.Errorf("unsupported message type %s", msg.Type())
	}

	if err != nil {
		return nil, fmt.Errorf("process %s (thid=%s): %w", msg.Type(), thid, err)
	}

	return out, nil
}

// AcceptOutOfBandInvitation sends a DID Exchange request for the invitation of rec.
func (s *Service) AcceptOutOfBandInvitation(ctx context.Context, rec *outofband.Record,
	opts *outofband.HandshakeOptions) (*connstore.Record, error) {
	if opts == nil {
		opts = &outofband.HandshakeOptions{}
	}

	inv := rec.Invitation

	dests, err := s.oob.GetResolvedServices(rec)
	if err != nil {
		return nil, err
	}

	routing := opts.Routing
	if routing == nil && opts.OurDID == "" {
		routing, err = s.routing.GetRouting(rec.MediatorID)
		if err != nil {
			return nil, fmt.Errorf("routing for invitation %s: %w", inv.ID, err)
		}
	}

	my, err := connection.CreateMyDID(s.vdRegistry, routing, opts.OurDID, vdrapi.DIDCommServiceType)
	if err != nil {
		return nil, err
	}

	request := &Request{
		Type:     RequestMsgType,
		ID:       uuid.New().String(),
		Label:    s.labelOr(opts.Label),
		Goal:     inv.Goal,
		GoalCode: inv.GoalCode,
		DID:      my.Doc.ID,
	}
	request.Thread = &decorator.Thread{ID: request.ID, PID: inv.ID}

	// a public DID is resolvable, a peer DID travels with the request
	if opts.OurDID == "" {
		request.DocAttach, err = connection.DIDDocAttachment(my.Doc)
		if err != nil {
			return nil, err
		}
	}

	conn := &connstore.Record{
		ConnectionID:         uuid.New().String(),
		State:                connstore.StateRequested,
		Role:                 connstore.RoleRequester,
		Protocol:             PIURI,
		ThreadID:             request.ID,
		ParentThreadID:       inv.ID,
		TheirLabel:           inv.Label,
		TheirRecipientKeys:   dests[0].RecipientKeys,
		MyDID:                my.Doc.ID,
		MyRecipientKey:       my.RecipientKey,
		OutOfBandID:          rec.ID,
		InvitationDID:        inv.InvitationDID(),
		AutoAcceptConnection: opts.AutoAcceptConnection,
		Alias:                opts.Alias,
		ImageURL:             opts.ImageURL,
	}

	msg := service.NewDIDCommMsgMap(request)

	if err := s.connections.Create(conn, msg); err != nil {
		return nil, fmt.Errorf("save connection for invitation %s: %w", inv.ID, err)
	}

	err = s.outbound.Send(ctx, &service.OutboundMessage{
		Msg:          msg,
		Destinations: dests,
		SenderKey:    my.RecipientKey,
	})
	if err != nil {
		if _, abandonErr := s.connections.Abandon(conn.ConnectionID, err.Error(), nil); abandonErr != nil {
			logger.Warnf("abandon connection %s: %v", conn.ConnectionID, abandonErr)
		}

		return nil, fmt.Errorf("send request (thid=%s): %w", request.ID, err)
	}

	// a response on the return route may already have moved the connection on
	if latest, err := s.connections.Get(conn.ConnectionID); err == nil {
		conn = latest
	}

	return conn, nil
}

// AcceptExchangeRequest answers a request that was not accepted automatically.
func (s *Service) AcceptExchangeRequest(ctx context.Context, connectionID string) error {
	conn, err := s.connections.Get(connectionID)
	if err != nil {
		return err
	}

	if conn.Role != connstore.RoleResponder || conn.Protocol != PIURI {
		return fmt.Errorf("%w: connection %s is not a did-exchange responder", connection.ErrInvalidState,
			connectionID)
	}

	rec, err := s.oob.FindByID(conn.OutOfBandID)
	if err != nil {
		return fmt.Errorf("%w: %w", connection.ErrOutOfBandRecordNotFound, err)
	}

	out, err := s.respond(conn, rec)
	if err != nil {
		return err
	}

	return s.outbound.Send(ctx, out)
}

// AcceptExchangeResponse completes a handshake whose response was not accepted automatically.
func (s *Service) AcceptExchangeResponse(ctx context.Context, connectionID string) error {
	conn, err := s.connections.Get(connectionID)
	if err != nil {
		return err
	}

	if conn.Role != connstore.RoleRequester || conn.Protocol != PIURI {
		return fmt.Errorf("%w: connection %s is not a did-exchange requester", connection.ErrInvalidState,
			connectionID)
	}

	out, err := s.complete(conn)
	if err != nil {
		return err
	}

	return s.outbound.Send(ctx, out)
}

// handleRequest creates the Responder connection for a request answering one of our invitations.
func (s *Service) handleRequest(msg service.DIDCommMsgMap, thid string,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	request := &Request{}
	if err := msg.Decode(request); err != nil {
		return nil, err
	}

	pthid := msg.ParentThreadID()
	if pthid == "" {
		return nil, fmt.Errorf("%w: request %s", connection.ErrMissingParentThread, msg.ID())
	}

	if _, err := s.connections.FindByRoleAndThreadID(connstore.RoleResponder, thid); err == nil {
		return nil, fmt.Errorf("%w: request was already received", connection.ErrInvalidState)
	}

	rec, err := s.invitationFor(pthid, thid, ictx)
	if err != nil {
		return nil, err
	}

	if err := checkInvitation(rec, ictx); err != nil {
		return nil, err
	}

	if !rec.Reusable {
		conns, err := s.connections.FindAllByOutOfBandID(rec.ID)
		if err != nil {
			return nil, err
		}

		if len(conns) > 0 {
			return nil, fmt.Errorf("%w: invitation %s was already used", connection.ErrInvalidState, pthid)
		}
	}

	their, err := connection.TheirDID(s.vdRegistry, request.DID, request.DocAttach)
	if err != nil {
		return nil, err
	}

	conn := &connstore.Record{
		ConnectionID:         uuid.New().String(),
		State:                connstore.StateRequested,
		Role:                 connstore.RoleResponder,
		Protocol:             PIURI,
		ThreadID:             thid,
		ParentThreadID:       pthid,
		TheirLabel:           request.Label,
		TheirDID:             their.DID,
		TheirRecipientKeys:   their.Services[0].RecipientKeys,
		OutOfBandID:          rec.ID,
		InvitationKey:        ictx.RecipientKey,
		AutoAcceptConnection: rec.AutoAcceptConnection,
		Alias:                rec.Alias,
	}

	if rec.Implicit {
		conn.InvitationDID = rec.Invitation.ID
	}

	if err := their.Save(s.vdRegistry); err != nil {
		return nil, err
	}

	if err := s.connections.Create(conn, msg); err != nil {
		return nil, err
	}

	if !s.autoAccepts(conn) {
		logger.Debugf("request for connection %s waits to be accepted", conn.ConnectionID)

		return nil, nil
	}

	return s.respond(conn, rec)
}

// invitationFor returns the Sender record of the invitation a request answers. Requests addressed to our
// public DID bootstrap a record of their own.
func (s *Service) invitationFor(pthid, thid string, ictx *service.InboundContext) (*outofband.Record, error) {
	if outofband.IsDID(pthid) {
		rec, err := s.oob.FindByCreatedInvitationID(pthid, thid)
		if err == nil {
			return rec, nil
		}

		if !errors.Is(err, outofband.ErrRecordNotFound) {
			return nil, err
		}

		rec, err = s.oob.CreateFromImplicitInvitation(&outofband.ImplicitRequest{
			DID:                pthid,
			ThreadID:           thid,
			HandshakeProtocols: []string{PIURI},
			RecipientKey:       ictx.RecipientKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", connection.ErrConnectionNotFound, err)
		}

		return rec, nil
	}

	rec, err := s.oob.FindByCreatedInvitationID(pthid, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connection.ErrConnectionNotFound, err)
	}

	return rec, nil
}

func checkInvitation(rec *outofband.Record, ictx *service.InboundContext) error {
	if rec.Role != outofband.RoleSender || rec.State != outofband.StateAwaitResponse {
		return fmt.Errorf("%w: invitation %s is %s/%s", connection.ErrInvalidState, rec.Invitation.ID,
			rec.Role, rec.State)
	}

	if !offers(rec.Invitation.HandshakeProtocols, PIURI) {
		return fmt.Errorf("%w: invitation %s does not offer %s", connection.ErrProtocolMismatch,
			rec.Invitation.ID, PIURI)
	}

	if ictx.RecipientKey == "" || len(rec.RecipientKeyFingerprints) == 0 {
		return nil
	}

	key, err := keyutil.Fingerprint(ictx.RecipientKey)
	if err != nil {
		return fmt.Errorf("%w: %w", connection.ErrKeyMismatch, err)
	}

	for _, fp := range rec.RecipientKeyFingerprints {
		if fp == key {
			return nil
		}
	}

	return fmt.Errorf("%w: request to %s is not addressed to invitation %s", connection.ErrKeyMismatch,
		ictx.RecipientKey, rec.Invitation.ID)
}

// respond creates our DID for the connection and moves it to responded.
func (s *Service) respond(conn *connstore.Record, rec *outofband.Record) (*service.OutboundMessage, error) {
	var (
		routing *mediator.Routing
		ourDID  string
		err     error
	)

	if rec.Implicit {
		ourDID = rec.Invitation.ID
	} else {
		routing, err = s.routing.GetRouting(rec.MediatorID)
		if err != nil {
			return nil, fmt.Errorf("routing for connection %s: %w", conn.ConnectionID, err)
		}
	}

	my, err := connection.CreateMyDID(s.vdRegistry, routing, ourDID, vdrapi.DIDCommServiceType)
	if err != nil {
		return nil, err
	}

	response := &Response{
		Type:   ResponseMsgType,
		ID:     uuid.New().String(),
		DID:    my.Doc.ID,
		Thread: &decorator.Thread{ID: conn.ThreadID},
	}

	if ourDID == "" {
		response.DocAttach, err = connection.DIDDocAttachment(my.Doc)
		if err != nil {
			return nil, err
		}
	}

	msg := service.NewDIDCommMsgMap(response)

	_, err = s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateRequested},
		connstore.StateResponded, msg, func(r *connstore.Record) error {
			r.MyDID = my.Doc.ID
			r.MyRecipientKey = my.RecipientKey

			return nil
		})
	if err != nil {
		return nil, err
	}

	return &service.OutboundMessage{Msg: msg, ConnectionID: conn.ConnectionID}, nil
}

// handleResponse authenticates a response to our request and applies it.
func (s *Service) handleResponse(msg service.DIDCommMsgMap, thid string,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	response := &Response{}
	if err := msg.Decode(response); err != nil {
		return nil, err
	}

	conn, err := s.connections.FindByRoleAndThreadID(connstore.RoleRequester, thid)
	if err != nil {
		return nil, err
	}

	if conn.Protocol != PIURI {
		return nil, fmt.Errorf("%w: connection %s uses %s", connection.ErrProtocolMismatch, conn.ConnectionID,
			conn.Protocol)
	}

	if ictx.SenderKey == "" || ictx.RecipientKey == "" {
		return nil, connection.ErrMissingKeys
	}

	if err := connection.CheckRecipientKey(s.vdRegistry, conn.MyDID, ictx.RecipientKey); err != nil {
		return nil, err
	}

	rec, err := s.oob.FindByID(conn.OutOfBandID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connection.ErrOutOfBandRecordNotFound, err)
	}

	their, err := connection.TheirDID(s.vdRegistry, response.DID, response.DocAttach)
	if err != nil {
		return nil, err
	}

	conn, err = s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateRequested},
		connstore.StateResponded, msg, func(r *connstore.Record) error {
			r.TheirDID = their.DID
			r.TheirRecipientKeys = their.Services[0].RecipientKeys

			return their.Save(s.vdRegistry)
		})
	if err != nil {
		return nil, err
	}

	if _, err := s.oob.CompleteHandshake(rec.ID); err != nil {
		logger.Warnf("complete handshake of invitation record %s: %v", rec.ID, err)
	}

	if !s.autoAccepts(conn) {
		return nil, nil
	}

	return s.complete(conn)
}

// complete moves a responded Requester connection to completed.
func (s *Service) complete(conn *connstore.Record) (*service.OutboundMessage, error) {
	msg := service.NewDIDCommMsgMap(&Complete{
		Type:   CompleteMsgType,
		ID:     uuid.New().String(),
		Thread: &decorator.Thread{ID: conn.ThreadID, PID: conn.ParentThreadID},
	})

	_, err := s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateResponded},
		connstore.StateCompleted, msg, nil)
	if err != nil {
		return nil, err
	}

	return &service.OutboundMessage{Msg: msg, ConnectionID: conn.ConnectionID, NoReturnRoute: true}, nil
}

// handleComplete finishes the handshake on the Responder side.
func (s *Service) handleComplete(msg service.DIDCommMsgMap, thid string) error {
	conn, err := s.connections.FindByRoleAndThreadID(connstore.RoleResponder, thid)
	if err != nil {
		return err
	}

	if conn.Protocol != PIURI {
		return fmt.Errorf("%w: connection %s uses %s", connection.ErrProtocolMismatch, conn.ConnectionID,
			conn.Protocol)
	}

	pthid := msg.ParentThreadID()
	if pthid == "" {
		return fmt.Errorf("%w: complete %s", connection.ErrMissingParentThread, msg.ID())
	}

	invThread := ""
	if outofband.IsDID(pthid) {
		invThread = thid
	}

	rec, err := s.oob.FindByCreatedInvitationID(pthid, invThread)
	if err != nil {
		return fmt.Errorf("%w: %w", connection.ErrOutOfBandRecordNotFound, err)
	}

	_, err = s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateResponded},
		connstore.StateCompleted, msg, nil)
	if err != nil {
		return err
	}

	if _, err := s.oob.CompleteHandshake(rec.ID); err != nil {
		logger.Warnf("complete handshake of invitation record %s: %v", rec.ID, err)
	}

	return nil
}

func (s *Service) handleProblemReport(msg service.DIDCommMsgMap, thid string) error {
	report := &model.ProblemReport{}
	if err := msg.Decode(report); err != nil {
		return err
	}

	conn, err := s.findByThreadID(thid)
	if err != nil {
		return err
	}

	_, err = s.connections.Abandon(conn.ConnectionID, report.Description.Code, msg)

	return err
}

func (s *Service) findByThreadID(thid string) (*connstore.Record, error) {
	conn, err := s.connections.FindByRoleAndThreadID(connstore.RoleRequester, thid)
	if err == nil {
		return conn, nil
	}

	return s.connections.FindByRoleAndThreadID(connstore.RoleResponder, thid)
}

func (s *Service) autoAccepts(conn *connstore.Record) bool {
	if conn.AutoAcceptConnection != nil {
		return *conn.AutoAcceptConnection
	}

	return s.autoAccept
}

func (s *Service) labelOr(label string) string {
	if label != "" {
		return label
	}

	return s.label
}

func offers(protocols []string, piuri string) bool {
	want, err := didcommtype.ParseProtocolURI(piuri)
	if err != nil {
		return false
	}

	for _, p := range protocols {
		uri, err := didcommtype.ParseProtocolURI(p)
		if err == nil && want.Supports(uri) {
			return true
		}
	}

	return false
}

func isType(incoming, local string) bool {
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
