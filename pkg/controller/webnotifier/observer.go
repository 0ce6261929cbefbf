/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"encoding/json"

	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
)

// StateMsg is the notification payload of a state change.
type StateMsg struct {
	ProtocolName string                 `json:"protocol"`
	Type         string                 `json:"type"`
	StateID      string                 `json:"state_id"`
	Message      service.DIDCommMsgMap  `json:"message,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// Observer forwards service events to a notifier.
type Observer struct {
	notifier command.Notifier
}

// NewObserver returns an Observer publishing to notifier.
func NewObserver(notifier command.Notifier) *Observer {
	return &Observer{notifier: notifier}
}

// RegisterStateMsg publishes every state message read from ch on topic until ch is closed.
func (o *Observer) RegisterStateMsg(topic string, ch <-chan service.StateMsg) {
	go func() {
		for msg := range ch {
			o.notify(topic, toStateMsg(msg))
		}
	}()
}

func (o *Observer) notify(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("observer marshal %s: %v", topic, err)

		return
	}

	if err := o.notifier.Notify(topic, payload); err != nil {
		logger.Warnf("observer notify %s: %v", topic, err)
	}
}

func toStateMsg(msg service.StateMsg) *StateMsg {
	sm := &StateMsg{
		ProtocolName: msg.ProtocolName,
		Type:         msg.Type.String(),
		StateID:      msg.StateID,
	}

	if msg.Msg != nil {
		sm.Message = msg.Msg.Clone()
	}

	if msg.Properties != nil {
		sm.Properties = msg.Properties.All()
	}

	return sm
}
