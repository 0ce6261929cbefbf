/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import "errors"

// ErrRouterNotRegistered is returned when no mediator is registered under the given id.
var ErrRouterNotRegistered = errors.New("router not registered")

// ProtocolService is the client side of a mediation relationship.
type ProtocolService interface {
	// AddKey registers recKey with the mediator so that it forwards messages addressed to it.
	AddKey(mediatorID, recKey string) error

	// RemoveKey unregisters recKey from the mediator.
	RemoveKey(mediatorID, recKey string) error

	// Config gives back the router configuration.
	Config(mediatorID string) (*Config, error)
}

// Config is what a mediator tells its clients: where to send messages and which keys to wrap them for.
type Config struct {
	Endpoint    string
	RoutingKeys []string
}

// RoutingService hands out recipient keys and tells how they are reached.
type RoutingService interface {
	GetRouting(mediatorID string) (*Routing, error)
	RemoveRouting(mediatorID string, recipientKeys []string) error
}
