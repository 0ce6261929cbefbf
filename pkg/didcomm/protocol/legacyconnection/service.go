/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacyconnection

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
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/trustping"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

var logger = log.New("aries-framework/legacyconnection/service")

// Provider contains dependencies for the Connection protocol.
type Provider interface {
	OutboundDispatcher() dispatcher.Outbound
	VDRegistry() vdr.DIDRegistry
	RoutingService() mediator.RoutingService
	ConnectionService() *connection.Service
	OutOfBandService() *outofband.Service
	KMS() kms.KeyManager
	AutoAcceptConnections() bool
	Label() string
}

// Service for the Connections protocol.
type Service struct {
	outbound    dispatcher.Outbound
	vdRegistry  vdr.DIDRegistry
	routing     mediator.RoutingService
	connections *connection.Service
	oob         *outofband.Service
	kms         kms.KeyManager
	autoAccept  bool
	label       string
}

// New returns the Connections service and registers it as a handshake protocol of the out-of-band service.
func New(p Provider) (*Service, error) {
	oob := p.OutOfBandService()
	if oob == nil {
		return nil, errors.New("legacy-connection: out-of-band service is required")
	}

	svc := &Service{
		outbound:    p.OutboundDispatcher(),
		vdRegistry:  p.VDRegistry(),
		routing:     p.RoutingService(),
		connections: p.ConnectionService(),
		oob:         oob,
		kms:         p.KMS(),
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
	return []string{RequestMsgType, ResponseMsgType, AckMsgType, ProblemReportMsgType}
}

// HandleInbound processes Connections messages.
func (s *Service) HandleInbound(_ context.Context, msg service.DIDCommMsgMap,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	logger.Debugf("receive inbound message : %s", msg.Type())

	if ictx == nil {
		ictx = &service.InboundContext{}
	}

	thid, err := msg.ThreadID()
	if err != nil {
		return nil, fmt.Errorf("legacy-connection %s: %w", msg.Type(), err)
	}

	var out *service.OutboundMessage

	switch {
	case isType(msg.Type(), RequestMsgType):
		out, err = s.handleRequest(msg, thid, ictx)
	case isType(msg.Type(), ResponseMsgType):
		out, err = s.handleResponse(msg, thid, ictx)
	case isType(msg.Type(), AckMsgType):
		err = s.handleAck(msg, thid)
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

// AcceptOutOfBandInvitation sends a connection request for the invitation of rec.
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

	my, err := connection.CreateMyDID(s.vdRegistry, routing, opts.OurDID, vdrapi.LegacyServiceType)
	if err != nil {
		return nil, err
	}

	body, err := newConnection(my.Doc, opts.OurDID == "")
	if err != nil {
		return nil, err
	}

	request := &Request{
		Type:       RequestMsgType,
		ID:         uuid.New().String(),
		Label:      s.labelOr(opts.Label),
		Connection: body,
	}
	request.Thread = &decorator.Thread{PID: inv.ID}

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

	if latest, err := s.connections.Get(conn.ConnectionID); err == nil {
		conn = latest
	}

	return conn, nil
}

// AcceptConnectionRequest answers a request that was not accepted automatically.
func (s *Service) AcceptConnectionRequest(ctx context.Context, connectionID string) error {
	conn, err := s.connections.Get(connectionID)
	if err != nil {
		return err
	}

	if conn.Role != connstore.RoleResponder || conn.Protocol != PIURI {
		return fmt.Errorf("%w: connection %s is not a legacy-connection responder", connection.ErrInvalidState,
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

// AcceptConnectionResponse completes a handshake whose response was not accepted automatically.
func (s *Service) AcceptConnectionResponse(ctx context.Context, connectionID string) error {
	conn, err := s.connections.Get(connectionID)
	if err != nil {
		return err
	}

	if conn.Role != connstore.RoleRequester || conn.Protocol != PIURI {
		return fmt.Errorf("%w: connection %s is not a legacy-connection requester", connection.ErrInvalidState,
			connectionID)
	}

	out, err := s.complete(conn)
	if err != nil {
		return err
	}

	return s.outbound.Send(ctx, out)
}

func (s *Service) handleRequest(msg service.DIDCommMsgMap, thid string,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	request := &Request{}
	if err := msg.Decode(request); err != nil {
		return nil, err
	}

	if request.Connection == nil || request.Connection.DID == "" {
		return nil, fmt.Errorf("request %s carries no connection", msg.ID())
	}

	if _, err := s.connections.FindByRoleAndThreadID(connstore.RoleResponder, thid); err == nil {
		return nil, fmt.Errorf("%w: request was already received", connection.ErrInvalidState)
	}

	pthid := msg.ParentThreadID()

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
			return nil, fmt.Errorf("%w: invitation %s was already used", connection.ErrInvalidState,
				rec.Invitation.ID)
		}
	}

	their, err := connection.TheirDID(s.vdRegistry, request.Connection.DID, theirDocAttachment(request.Connection))
	if err != nil {
		return nil, err
	}

	invitationKey := ictx.RecipientKey
	if invitationKey == "" {
		invitationKey, err = s.invitationKey(rec)
		if err != nil {
			return nil, err
		}
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
		InvitationKey:        invitationKey,
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

// invitationFor returns the Sender record a request answers. Requests without a parent thread are matched by
// the key they were addressed to.
func (s *Service) invitationFor(pthid, thid string, ictx *service.InboundContext) (*outofband.Record, error) {
	switch {
	case outofband.IsDID(pthid):
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
	case pthid != "":
		rec, err := s.oob.FindByCreatedInvitationID(pthid, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", connection.ErrConnectionNotFound, err)
		}

		return rec, nil
	}

	if ictx.RecipientKey == "" {
		return nil, fmt.Errorf("%w: request without parent thread or recipient key", connection.ErrMissingParentThread)
	}

	recs, err := s.oob.FindCreatedByRecipientKey(ictx.RecipientKey)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if rec.State == outofband.StateAwaitResponse {
			return rec, nil
		}
	}

	return nil, fmt.Errorf("%w: no pending invitation for key %s", connection.ErrConnectionNotFound,
		ictx.RecipientKey)
}

func (s *Service) invitationKey(rec *outofband.Record) (string, error) {
	dests, err := s.oob.GetResolvedServices(rec)
	if err != nil {
		return "", err
	}

	return dests[0].RecipientKeys[0], nil
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

// respond creates our DID for the connection, signs it with the invitation key and moves the connection to
// responded.
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

	my, err := connection.CreateMyDID(s.vdRegistry, routing, ourDID, vdrapi.LegacyServiceType)
	if err != nil {
		return nil, err
	}

	body, err := newConnection(my.Doc, ourDID == "")
	if err != nil {
		return nil, err
	}

	sig, err := signConnection(s.kms, body, conn.InvitationKey)
	if err != nil {
		return nil, err
	}

	msg := service.NewDIDCommMsgMap(&Response{
		Type:                ResponseMsgType,
		ID:                  uuid.New().String(),
		ConnectionSignature: sig,
		Thread:              &decorator.Thread{ID: conn.ThreadID, PID: conn.ParentThreadID},
		PleaseAck:           &PleaseAck{On: []string{PlsAckOnReceipt}},
	})

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

// handleResponse verifies the connection signature of a response to our request and applies it.
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

	if len(conn.TheirRecipientKeys) == 0 {
		return nil, fmt.Errorf("%w: connection %s has no invitation key", connection.ErrMissingKeys,
			conn.ConnectionID)
	}

	body, err := verifyConnection(s.kms, response.ConnectionSignature, conn.TheirRecipientKeys[0])
	if err != nil {
		return nil, err
	}

	rec, err := s.oob.FindByID(conn.OutOfBandID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connection.ErrOutOfBandRecordNotFound, err)
	}

	their, err := connection.TheirDID(s.vdRegistry, body.DID, theirDocAttachment(body))
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

// complete moves a responded Requester connection to completed. The trust ping it returns completes the
// Responder side.
func (s *Service) complete(conn *connstore.Record) (*service.OutboundMessage, error) {
	msg := trustping.NewPing()

	_, err := s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateResponded},
		connstore.StateCompleted, msg, nil)
	if err != nil {
		return nil, err
	}

	return &service.OutboundMessage{Msg: msg, ConnectionID: conn.ConnectionID, NoReturnRoute: true}, nil
}

// handleAck completes the Responder side for agents that acknowledge the response instead of pinging.
func (s *Service) handleAck(msg service.DIDCommMsgMap, thid string) error {
	ack := &model.Ack{}
	if err := msg.Decode(ack); err != nil {
		return err
	}

	conn, err := s.connections.FindByRoleAndThreadID(connstore.RoleResponder, thid)
	if err != nil {
		return err
	}

	if conn.Protocol != PIURI {
		return fmt.Errorf("%w: connection %s uses %s", connection.ErrProtocolMismatch, conn.ConnectionID,
			conn.Protocol)
	}

	_, err = s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateResponded},
		connstore.StateCompleted, msg, nil)
	if err != nil {
		return err
	}

	if _, err := s.oob.CompleteHandshake(conn.OutOfBandID); err != nil {
		logger.Warnf("complete handshake of invitation record %s: %v", conn.OutOfBandID, err)
	}

	return nil
}

func (s *Service) handleProblemReport(msg service.DIDCommMsgMap, thid string) error {
	report := &model.ProblemReport{}
	if err := msg.Decode(report); err != nil {
		return err
	}

	conn, err := s.connections.FindByRoleAndThreadID(connstore.RoleRequester, thid)
	if err != nil {
		conn, err = s.connections.FindByRoleAndThreadID(connstore.RoleResponder, thid)
		if err != nil {
			return err
		}
	}

	_, err = s.connections.Abandon(conn.ConnectionID, report.Description.Code, msg)

	return err
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
