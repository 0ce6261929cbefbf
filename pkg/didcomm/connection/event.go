/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
)

// EventProperties are the properties of connection state events.
type EventProperties struct {
	connectionID string
	oobID        string
	state        string
	protocol     string
	err          string
}

// NewEventProperties returns the event properties of rec.
func NewEventProperties(rec *connstore.Record) *EventProperties {
	return &EventProperties{
		connectionID: rec.ConnectionID,
		oobID:        rec.OutOfBandID,
		state:        string(rec.State),
		protocol:     rec.Protocol,
		err:          rec.ErrorMessage,
	}
}

// ConnectionID returns the connection id.
func (e *EventProperties) ConnectionID() string {
	return e.connectionID
}

// OutOfBandID returns the out-of-band record the connection was created from.
func (e *EventProperties) OutOfBandID() string {
	return e.oobID
}

// All returns all the properties.
func (e *EventProperties) All() map[string]interface{} {
	all := map[string]interface{}{
		"connectionID": e.connectionID,
		"state":        e.state,
		"protocol":     e.protocol,
	}

	if e.oobID != "" {
		all["outOfBandID"] = e.oobID
	}

	if e.err != "" {
		all["error"] = e.err
	}

	return all
}
