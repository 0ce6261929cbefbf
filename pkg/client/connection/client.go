/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection is the client for connections created by the DID Exchange and Connections handshakes.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/didexchange"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/legacyconnection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/trustping"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
)

// Connection is a connection record.
type Connection = connstore.Record

// ErrConnectionNotFound is returned when connection not found.
var ErrConnectionNotFound = connection.ErrConnectionNotFound

type provider interface {
	ConnectionService() *connection.Service
	Service(id string) (interface{}, error)
}

type exchangeService interface {
	AcceptExchangeRequest(ctx context.Context, connectionID string) error
	AcceptExchangeResponse(ctx context.Context, connectionID string) error
}

type legacyService interface {
	AcceptConnectionRequest(ctx context.Context, connectionID string) error
	AcceptConnectionResponse(ctx context.Context, connectionID string) error
}

type pingService interface {
	Ping(ctx context.Context, connectionID string, timeout time.Duration) (time.Duration, error)
}

// QueryConnectionsParams model
//
// Parameters for querying connections. Empty fields match any connection.
type QueryConnectionsParams struct {
	State       string `json:"state,omitempty"`
	TheirDID    string `json:"their_did,omitempty"`
	MyDID       string `json:"my_did,omitempty"`
	OutOfBandID string `json:"outofband_id,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
}

// Client is a connection management SDK client.
type Client struct {
	service.Event
	connections *connection.Service
	services    provider
}

// New creates connection Client.
func New(prov provider) (*Client, error) {
	connections := prov.ConnectionService()
	if connections == nil {
		return nil, fmt.Errorf("failed to look up service %s", connection.Name)
	}

	return &Client{
		Event:       connections,
		connections: connections,
		services:    prov,
	}, nil
}

// GetConnection returns the connection with the id.
func (c *Client) GetConnection(connectionID string) (*Connection, error) {
	return c.connections.Get(connectionID)
}

// QueryConnections returns the connections matching every non-empty parameter.
func (c *Client) QueryConnections(params *QueryConnectionsParams) ([]*Connection, error) {
	records, err := c.connections.GetAll()
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}

	if params == nil {
		return records, nil
	}

	var result []*Connection

	for _, rec := range records {
		if matches(params.State, string(rec.State)) && matches(params.TheirDID, rec.TheirDID) &&
			matches(params.MyDID, rec.MyDID) && matches(params.OutOfBandID, rec.OutOfBandID) &&
			matches(params.Protocol, rec.Protocol) {
			result = append(result, rec)
		}
	}

	return result, nil
}

// RemoveConnection removes the connection record.
func (c *Client) RemoveConnection(connectionID string) error {
	if _, err := c.connections.Get(connectionID); err != nil {
		return err
	}

	return c.connections.Delete(connectionID)
}

// WaitUntilConnected blocks until the connection can be used to exchange messages or the timeout elapses.
func (c *Client) WaitUntilConnected(ctx context.Context, connectionID string, timeout time.Duration) (*Connection,
	error) {
	return c.connections.ReturnWhenIsConnected(ctx, connectionID, timeout)
}

// AcceptRequest answers a handshake request received while connections are not accepted automatically.
func (c *Client) AcceptRequest(ctx context.Context, connectionID string) error {
	rec, err := c.connections.Get(connectionID)
	if err != nil {
		return err
	}

	switch rec.Protocol {
	case didexchange.PIURI:
		svc, err := c.exchange()
		if err != nil {
			return err
		}

		return svc.AcceptExchangeRequest(ctx, connectionID)
	case legacyconnection.PIURI:
		svc, err := c.legacy()
		if err != nil {
			return err
		}

		return svc.AcceptConnectionRequest(ctx, connectionID)
	default:
		return fmt.Errorf("%w: connection %s uses protocol '%s'", connection.ErrProtocolMismatch, connectionID,
			rec.Protocol)
	}
}

// AcceptResponse completes a handshake whose response was not accepted automatically.
func (c *Client) AcceptResponse(ctx context.Context, connectionID string) error {
	rec, err := c.connections.Get(connectionID)
	if err != nil {
		return err
	}

	switch rec.Protocol {
	case didexchange.PIURI:
		svc, err := c.exchange()
		if err != nil {
			return err
		}

		return svc.AcceptExchangeResponse(ctx, connectionID)
	case legacyconnection.PIURI:
		svc, err := c.legacy()
		if err != nil {
			return err
		}

		return svc.AcceptConnectionResponse(ctx, connectionID)
	default:
		return fmt.Errorf("%w: connection %s uses protocol '%s'", connection.ErrProtocolMismatch, connectionID,
			rec.Protocol)
	}
}

// Ping sends a trust ping on the connection and returns the round trip time.
func (c *Client) Ping(ctx context.Context, connectionID string, timeout time.Duration) (time.Duration, error) {
	s, err := c.services.Service(trustping.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to look up service %s : %w", trustping.Name, err)
	}

	svc, ok := s.(pingService)
	if !ok {
		return 0, fmt.Errorf("failed to cast service %s as a dependency", trustping.Name)
	}

	return svc.Ping(ctx, connectionID, timeout)
}

func (c *Client) exchange() (exchangeService, error) {
	s, err := c.services.Service(didexchange.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up service %s : %w", didexchange.Name, err)
	}

	svc, ok := s.(exchangeService)
	if !ok {
		return nil, fmt.Errorf("failed to cast service %s as a dependency", didexchange.Name)
	}

	return svc, nil
}

func (c *Client) legacy() (legacyService, error) {
	s, err := c.services.Service(legacyconnection.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up service %s : %w", legacyconnection.Name, err)
	}

	svc, ok := s.(legacyService)
	if !ok {
		return nil, fmt.Errorf("failed to cast service %s as a dependency", legacyconnection.Name)
	}

	return svc, nil
}

func matches(want, got string) bool {
	return want == "" || want == got
}
