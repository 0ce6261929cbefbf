/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
)

// StateIDHandshakeReused is the StateID of events published when an existing connection is reused.
const StateIDHandshakeReused = "handshake-reused"

// EventProperties are the properties of out-of-band events.
type EventProperties struct {
	oobID         string
	invitationID  string
	role          Role
	state         State
	connectionID  string
	reuseThreadID string
}

// ConnectionID returns the reused connection. Empty for plain state changes.
func (e *EventProperties) ConnectionID() string {
	return e.connectionID
}

// OutOfBandID returns the out-of-band record id.
func (e *EventProperties) OutOfBandID() string {
	return e.oobID
}

// InvitationID returns the invitation id.
func (e *EventProperties) InvitationID() string {
	return e.invitationID
}

// ReuseThreadID returns the thread of the handshake-reuse exchange.
func (e *EventProperties) ReuseThreadID() string {
	return e.reuseThreadID
}

// All returns all the properties.
func (e *EventProperties) All() map[string]interface{} {
	all := map[string]interface{}{
		"outOfBandID":  e.oobID,
		"invitationID": e.invitationID,
		"role":         string(e.role),
		"state":        string(e.state),
	}

	if e.connectionID != "" {
		all["connectionID"] = e.connectionID
	}

	if e.reuseThreadID != "" {
		all["reuseThreadID"] = e.reuseThreadID
	}

	return all
}

// HandshakeReused is what a pending handshake-reuse waiter is fulfilled with.
type HandshakeReused struct {
	OutOfBandID   string
	ConnectionID  string
	ReuseThreadID string
}

func newEventProperties(rec *Record) *EventProperties {
	props := &EventProperties{oobID: rec.ID, role: rec.Role, state: rec.State}

	if rec.Invitation != nil {
		props.invitationID = rec.Invitation.ID
	}

	return props
}

func (s *Service) notifyState(rec *Record, msg service.DIDCommMsgMap) {
	s.Notify(service.StateMsg{
		ProtocolName: Name,
		Type:         service.PostState,
		StateID:      string(rec.State),
		Msg:          msg,
		Properties:   newEventProperties(rec),
	})
}

func (s *Service) notifyHandshakeReused(rec *Record, connectionID, reuseThreadID string, msg service.DIDCommMsgMap) {
	props := newEventProperties(rec)
	props.connectionID = connectionID
	props.reuseThreadID = reuseThreadID

	s.Notify(service.StateMsg{
		ProtocolName: Name,
		Type:         service.PostState,
		StateID:      StateIDHandshakeReused,
		Msg:          msg,
		Properties:   props,
	})
}
