/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
)

type (
	// Invitation is this protocol's `invitation` message.
	Invitation = outofband.Invitation
	// LegacyInvitation is the Connections protocol `invitation` message.
	LegacyInvitation = outofband.LegacyInvitation
	// Record tracks an invitation on either side.
	Record = outofband.Record
	// AcceptResult is the outcome of accepting an invitation.
	AcceptResult = outofband.AcceptResult
	// Query filters records.
	Query = outofband.Query
)

const (
	// InvitationMsgType is the '@type' for the invitation message.
	InvitationMsgType = outofband.InvitationMsgType
)

// OobService defines the outofband service.
type OobService interface {
	service.Event
	CreateInvitation(context.Context, *outofband.CreateInvitationConfig) (*outofband.Record, error)
	CreateLegacyInvitation(context.Context, *outofband.CreateLegacyInvitationConfig) (*outofband.Record,
		*outofband.LegacyInvitation, error)
	ReceiveInvitation(context.Context, *outofband.Invitation,
		*outofband.ReceiveInvitationConfig) (*outofband.AcceptResult, error)
	ReceiveImplicitInvitation(context.Context, *outofband.ImplicitInvitationConfig) (*outofband.AcceptResult,
		error)
	AcceptInvitation(context.Context, string, *outofband.AcceptInvitationConfig) (*outofband.AcceptResult, error)
	FindByID(id string) (*outofband.Record, error)
	FindAll(q outofband.Query) ([]*outofband.Record, error)
	DeleteByID(id string) error
}

// Provider provides the dependencies for the client.
type Provider interface {
	Service(id string) (interface{}, error)
}

// MessageOption allow you to customize the way out-of-band messages are built.
type MessageOption func(*outofband.CreateInvitationConfig)

// WithLabel sets the label of the invitation.
func WithLabel(label string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.Label = label
	}
}

// WithAlias sets the alias of the connections created from the invitation.
func WithAlias(alias string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.Alias = alias
	}
}

// WithGoal sets the goal and goal code of the invitation.
func WithGoal(goal, goalCode string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.Goal = goal
		c.GoalCode = goalCode
	}
}

// WithImageURL sets the image shown to the receiver.
func WithImageURL(url string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.ImageURL = url
	}
}

// WithHandshakeProtocols lists the accepted handshake protocols in order of preference.
func WithHandshakeProtocols(protocols ...string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.HandshakeProtocols = protocols
	}
}

// WithoutHandshake creates a connection-less invitation. It must carry attachments.
func WithoutHandshake() MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		handshake := false
		c.Handshake = &handshake
	}
}

// WithAttachments attaches the messages as requests of the invitation.
func WithAttachments(msgs ...service.DIDCommMsgMap) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.Messages = append(c.Messages, msgs...)
	}
}

// WithMultiUse allows any number of connections to be created from the invitation.
func WithMultiUse() MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.MultiUseInvitation = true
	}
}

// WithAutoAcceptConnection overrides the framework default for handshakes started from the invitation.
func WithAutoAcceptConnection(autoAccept bool) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.AutoAcceptConnection = &autoAccept
	}
}

// WithInvitationDID uses a public DID as the only service of the invitation.
func WithInvitationDID(did string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.InvitationDID = did
	}
}

// WithRouterConnection routes the invitation's service through the mediator of the connection.
func WithRouterConnection(mediatorID string) MessageOption {
	return func(c *outofband.CreateInvitationConfig) {
		c.MediatorID = mediatorID
	}
}

// ReceiveOption customizes how a received invitation is answered.
type ReceiveOption func(*outofband.ReceiveInvitationConfig)

// WithMyLabel is shared with the other agent during the subsequent handshake.
func WithMyLabel(label string) ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		c.Label = label
	}
}

// WithMyAlias names the connection created from the invitation.
func WithMyAlias(alias string) ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		c.Alias = alias
	}
}

// WithReuseConnection reuses an existing connection to the inviter when there is one.
func WithReuseConnection() ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		c.ReuseConnection = true
	}
}

// WithManualAccept only stores the invitation. It is accepted later with AcceptInvitation.
func WithManualAccept() ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		autoAccept := false
		c.AutoAcceptInvitation = &autoAccept
	}
}

// WithManualConnectionAccept stops the handshake before the response is completed.
func WithManualConnectionAccept() ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		autoAccept := false
		c.AutoAcceptConnection = &autoAccept
	}
}

// WithTimeout bounds how long attached requests wait for the connection.
func WithTimeout(timeout time.Duration) ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		c.AcceptInvitationTimeout = timeout
	}
}

// WithMyDID uses an existing DID of ours for the connection.
func WithMyDID(did string) ReceiveOption {
	return func(c *outofband.ReceiveInvitationConfig) {
		c.OurDID = did
	}
}

// Client for the Out-Of-Band protocol:
// https://github.com/hyperledger/aries-rfcs/blob/master/features/0434-outofband/README.md
type Client struct {
	service.Event
	oobService OobService
}

// New returns a new Client for the Out-Of-Band protocol.
func New(p Provider) (*Client, error) {
	s, err := p.Service(outofband.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up service %s : %w", outofband.Name, err)
	}

	oobSvc, ok := s.(OobService)
	if !ok {
		return nil, fmt.Errorf("failed to cast service %s as a dependency", outofband.Name)
	}

	return &Client{
		Event:      oobSvc,
		oobService: oobSvc,
	}, nil
}

// CreateInvitation creates and saves an out-of-band invitation.
func (c *Client) CreateInvitation(ctx context.Context, opts ...MessageOption) (*Record, error) {
	cfg := &outofband.CreateInvitationConfig{}

	for _, opt := range opts {
		opt(cfg)
	}

	rec, err := c.oobService.CreateInvitation(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return rec, nil
}

// CreateLegacyInvitation creates and saves a Connections protocol invitation.
// Only the label, alias, image, multi-use, auto-accept, DID and router connection options apply.
func (c *Client) CreateLegacyInvitation(ctx context.Context, opts ...MessageOption) (*Record,
	*LegacyInvitation, error) {
	cfg := &outofband.CreateInvitationConfig{}

	for _, opt := range opts {
		opt(cfg)
	}

	rec, inv, err := c.oobService.CreateLegacyInvitation(ctx, &outofband.CreateLegacyInvitationConfig{
		Label:                cfg.Label,
		Alias:                cfg.Alias,
		ImageURL:             cfg.ImageURL,
		MultiUseInvitation:   cfg.MultiUseInvitation,
		AutoAcceptConnection: cfg.AutoAcceptConnection,
		InvitationDID:        cfg.InvitationDID,
		MediatorID:           cfg.MediatorID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create legacy invitation: %w", err)
	}

	return rec, inv, nil
}

// ReceiveInvitation stores an invitation received out of band and, unless WithManualAccept is given, accepts it.
func (c *Client) ReceiveInvitation(ctx context.Context, inv *Invitation, opts ...ReceiveOption) (*AcceptResult,
	error) {
	res, err := c.oobService.ReceiveInvitation(ctx, inv, receiveConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to receive invitation: %w", err)
	}

	return res, nil
}

// ReceiveRawInvitation is ReceiveInvitation for the JSON of an out-of-band or Connections invitation.
func (c *Client) ReceiveRawInvitation(ctx context.Context, raw []byte, opts ...ReceiveOption) (*AcceptResult,
	error) {
	inv, err := outofband.ParseInvitation(raw)
	if err != nil {
		return nil, err
	}

	return c.ReceiveInvitation(ctx, inv, opts...)
}

// ReceiveInvitationURL is ReceiveInvitation for an invitation URL.
func (c *Client) ReceiveInvitationURL(ctx context.Context, invitationURL string,
	opts ...ReceiveOption) (*AcceptResult, error) {
	inv, err := outofband.ParseInvitationURL(invitationURL)
	if err != nil {
		return nil, err
	}

	return c.ReceiveInvitation(ctx, inv, opts...)
}

// ConnectToDID connects to a public DID without an invitation.
func (c *Client) ConnectToDID(ctx context.Context, did string, opts ...ReceiveOption) (*AcceptResult, error) {
	res, err := c.oobService.ReceiveImplicitInvitation(ctx, &outofband.ImplicitInvitationConfig{
		DID:                     did,
		ReceiveInvitationConfig: *receiveConfig(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", did, err)
	}

	return res, nil
}

// AcceptInvitation accepts an invitation received with WithManualAccept.
func (c *Client) AcceptInvitation(ctx context.Context, id string, opts ...ReceiveOption) (*AcceptResult, error) {
	cfg := receiveConfig(opts)

	res, err := c.oobService.AcceptInvitation(ctx, id, &outofband.AcceptInvitationConfig{
		Label:                cfg.Label,
		Alias:                cfg.Alias,
		ImageURL:             cfg.ImageURL,
		AutoAcceptConnection: cfg.AutoAcceptConnection,
		ReuseConnection:      cfg.ReuseConnection,
		Routing:              cfg.Routing,
		Timeout:              cfg.AcceptInvitationTimeout,
		OurDID:               cfg.OurDID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	return res, nil
}

// GetRecord returns the record with the id.
func (c *Client) GetRecord(id string) (*Record, error) {
	return c.oobService.FindByID(id)
}

// Records returns the records matching the query.
func (c *Client) Records(q Query) ([]*Record, error) {
	return c.oobService.FindAll(q)
}

// DeleteRecord removes the record and the routing registered for it.
func (c *Client) DeleteRecord(id string) error {
	return c.oobService.DeleteByID(id)
}

func receiveConfig(opts []ReceiveOption) *outofband.ReceiveInvitationConfig {
	cfg := &outofband.ReceiveInvitationConfig{}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}
