/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// StateMsgType state msg type.
type StateMsgType int

const (
	// PreState pre state.
	PreState StateMsgType = iota

	// PostState post state.
	PostState
)

func (t StateMsgType) String() string {
	if t == PreState {
		return "pre_state"
	}

	return "post_state"
}

// StateMsg is used in MsgEvent to pass the state details to the consumer. Refer service.Event.RegisterMsgEvent
// for more details.
type StateMsg struct {
	// Name of the protocol.
	//
	// Supported protocols
	//   - Out-of-Band :  outofband.Name
	//   - Connections :  connection.Name
	ProtocolName string

	// type of the message (pre or post), refer service.StateMsgType
	Type StateMsgType

	// current state. Refer protocol RFC for possible states.
	StateID string

	// DIDComm message that triggered the transition. Nil for transitions started locally.
	Msg DIDCommMsgMap

	// Properties contains value based on specific protocol.
	//
	//   - Out-of-Band :  outofband.EventProperties
	//   - Connections :  connection.EventProperties
	Properties EventProperties
}

// EventProperties type for event related data.
// NOTE: Properties always should be serializable.
type EventProperties interface {
	All() map[string]interface{}
}

// Event event related apis.
type Event interface {
	// RegisterMsgEvent on protocol messages. The message events are triggered for state transitions.
	RegisterMsgEvent(ch chan<- StateMsg) error

	// UnregisterMsgEvent on protocol messages. Refer RegisterMsgEvent().
	UnregisterMsgEvent(ch chan<- StateMsg) error
}
