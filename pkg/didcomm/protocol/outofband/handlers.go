/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"context"
	"fmt"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
)

// SupportedMessageTypes returns the message types handled by the service.
func (s *Service) SupportedMessageTypes() []string {
	return []string{HandshakeReuseMsgType, HandshakeReuseAcceptedMsgType}
}

// HandleInbound processes handshake-reuse and handshake-reuse-accepted messages.
func (s *Service) HandleInbound(_ context.Context, msg service.DIDCommMsgMap,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	logger.Debugf("receive inbound message : %s", msg.Type())

	switch {
	case isType(msg.Type(), HandshakeReuseMsgType):
		return s.handleHandshakeReuse(msg, ictx)
	case isType(msg.Type(), HandshakeReuseAcceptedMsgType):
		return nil, s.handleHandshakeReuseAccepted(msg, ictx)
	default:
		return nil, fmt.Errorf("unsupported message type %s", msg.Type())
	}
}

// handleHandshakeReuse answers an invitee reusing an existing connection for one of our invitations.
func (s *Service) handleHandshakeReuse(msg service.DIDCommMsgMap,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	pthid := msg.ParentThreadID()
	if pthid == "" {
		return nil, fmt.Errorf("%w: handshake-reuse %s has no parent thread id", ErrInvalidThreading, msg.ID())
	}

	thid, err := msg.ThreadID()
	if err != nil {
		return nil, fmt.Errorf("handshake-reuse: %w", err)
	}

	rec, err := s.store.FindByCreatedInvitationID(pthid, "")
	if err != nil {
		return nil, fmt.Errorf("handshake-reuse for invitation %s: %w", pthid, err)
	}

	if ictx == nil || ictx.ConnectionID == "" {
		return nil, fmt.Errorf("%w: handshake-reuse %s was not received on a connection", ErrInvalidState, msg.ID())
	}

	conn, err := s.connections.Get(ictx.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("handshake-reuse: %w", err)
	}

	if !conn.IsReady() {
		return nil, fmt.Errorf("%w: handshake-reuse on connection %s in state %s", ErrInvalidState,
			conn.ConnectionID, conn.State)
	}

	rec, err = s.store.Update(rec.ID, func(r *Record) error {
		if r.Role != RoleSender || r.State != StateAwaitResponse {
			return fmt.Errorf("%w: handshake-reuse for record %s in %s/%s", ErrInvalidState, r.ID, r.Role, r.State)
		}

		if len(r.Invitation.Requests) > 0 {
			return fmt.Errorf("%w: handshake-reuse for invitation %s with attached requests", ErrInvalidState,
				r.Invitation.ID)
		}

		if !r.Reusable {
			r.State = StateDone
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debugf("invitation %s reused connection %s", rec.Invitation.ID, conn.ConnectionID)

	s.notifyHandshakeReused(rec, conn.ConnectionID, thid, msg)

	accepted := &HandshakeReuseAccepted{
		ID:     msg.ID() + "-accepted",
		Type:   HandshakeReuseAcceptedMsgType,
		Thread: &decorator.Thread{ID: thid, PID: pthid},
	}

	return &service.OutboundMessage{
		Msg:          service.NewDIDCommMsgMap(accepted),
		ConnectionID: conn.ConnectionID,
	}, nil
}

// handleHandshakeReuseAccepted settles a handshake-reuse we sent.
func (s *Service) handleHandshakeReuseAccepted(msg service.DIDCommMsgMap, ictx *service.InboundContext) error {
	pthid := msg.ParentThreadID()
	if pthid == "" {
		return fmt.Errorf("%w: handshake-reuse-accepted %s has no parent thread id", ErrInvalidThreading, msg.ID())
	}

	thid, err := msg.ThreadID()
	if err != nil {
		return fmt.Errorf("handshake-reuse-accepted: %w", err)
	}

	rec, err := s.store.FindByReceivedInvitationID(pthid)
	if err != nil {
		return fmt.Errorf("handshake-reuse-accepted for invitation %s: %w", pthid, err)
	}

	connectionID := rec.ReuseConnectionID
	if ictx != nil && ictx.ConnectionID != "" {
		connectionID = ictx.ConnectionID
	}

	rec, err = s.store.Update(rec.ID, func(r *Record) error {
		if r.Role != RoleReceiver || r.State != StatePrepareResponse {
			return fmt.Errorf("%w: handshake-reuse-accepted for record %s in %s/%s", ErrInvalidState, r.ID,
				r.Role, r.State)
		}

		if r.ReuseConnectionID == "" || r.ReuseConnectionID != connectionID {
			return fmt.Errorf("%w: handshake-reuse-accepted on connection %s, reuse was asked on '%s'",
				ErrInvalidState, connectionID, r.ReuseConnectionID)
		}

		r.State = StateDone

		return nil
	})
	if err != nil {
		return err
	}

	s.notifyHandshakeReused(rec, connectionID, thid, msg)

	s.waiters.Fulfil(waiter.Key{Kind: KindHandshakeReused, ID: thid}, &HandshakeReused{
		OutOfBandID:   rec.ID,
		ConnectionID:  connectionID,
		ReuseThreadID: thid,
	})

	return nil
}
