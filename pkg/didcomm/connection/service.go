/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection drives the state of connection records shared by the handshake protocols.
//
// Every transition re-reads the persisted record and checks its current state before anything is written, so
// messages of one thread arriving out of order fail their guard instead of being applied.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
)

var logger = log.New("aries-framework/connection")

// Name is the protocol name of connection state events.
const Name = "connection"

// KindReady is the waiter kind fulfilled when a connection becomes ready.
const KindReady waiter.Kind = "connection-ready"

var (
	// ErrConnectionNotFound is returned when no connection record matches.
	ErrConnectionNotFound = connstore.ErrNotFound
	// ErrOutOfBandRecordNotFound is returned when the invitation a connection was created from is unknown.
	ErrOutOfBandRecordNotFound = errors.New("out-of-band record not found")
	// ErrKeyMismatch is returned when a response is not addressed to a key of our DID document.
	ErrKeyMismatch = errors.New("key mismatch")
	// ErrMissingKeys is returned when an inbound message has no sender or recipient key.
	ErrMissingKeys = errors.New("missing sender or recipient key")
	// ErrProtocolMismatch is returned when a message arrives for a connection of another protocol.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrMissingParentThread is returned when a message lacks the required parent thread id.
	ErrMissingParentThread = errors.New("missing parent thread id")
	// ErrInvalidState is returned when a connection is not in a state that allows the transition.
	ErrInvalidState = errors.New("invalid connection state")
)

// Provider contains dependencies for the connection service.
type Provider interface {
	StorageProvider() storage.Provider
	Waiters() *waiter.Hub
}

// Service owns connection record transitions.
type Service struct {
	service.Message
	store   *connstore.Store
	waiters *waiter.Hub
}

// New returns a connection service.
func New(p Provider) (*Service, error) {
	store, err := connstore.New(p.StorageProvider())
	if err != nil {
		return nil, err
	}

	return &Service{store: store, waiters: p.Waiters()}, nil
}

// Store returns the underlying record store.
func (s *Service) Store() *connstore.Store {
	return s.store
}

// Create saves a new connection record and publishes its initial state.
func (s *Service) Create(rec *connstore.Record, msg service.DIDCommMsgMap) error {
	if err := s.store.Save(rec); err != nil {
		return fmt.Errorf("create connection: %w", err)
	}

	s.notify(rec, msg)

	if rec.IsReady() {
		s.waiters.Fulfil(waiter.Key{Kind: KindReady, ID: rec.ConnectionID}, rec)
	}

	return nil
}

// Transition moves connection id to state to if its current state is one of from. mutate, if set, runs on the
// fresh copy before the state changes; its error aborts the transition and nothing is written.
func (s *Service) Transition(id string, from []connstore.State, to connstore.State, msg service.DIDCommMsgMap,
	mutate func(r *connstore.Record) error) (*connstore.Record, error) {
	rec, err := s.store.Update(id, func(r *connstore.Record) error {
		if !oneOf(r.State, from) {
			return fmt.Errorf("%w: connection %s is '%s', expected one of %v", ErrInvalidState, r.ConnectionID,
				r.State, from)
		}

		if mutate != nil {
			if err := mutate(r); err != nil {
				return err
			}
		}

		r.State = to

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debugf("connection %s moved to state %s", rec.ConnectionID, rec.State)

	s.notify(rec, msg)

	if rec.IsReady() {
		s.waiters.Fulfil(waiter.Key{Kind: KindReady, ID: rec.ConnectionID}, rec)
	}

	return rec, nil
}

// Abandon moves a non-terminal connection to abandoned, recording reason.
func (s *Service) Abandon(id, reason string, msg service.DIDCommMsgMap) (*connstore.Record, error) {
	return s.Transition(id,
		[]connstore.State{connstore.StateInvited, connstore.StateRequested, connstore.StateResponded},
		connstore.StateAbandoned, msg,
		func(r *connstore.Record) error {
			r.ErrorMessage = reason

			return nil
		})
}

// Get returns connection id.
func (s *Service) Get(id string) (*connstore.Record, error) {
	return s.store.Get(id)
}

// GetAll returns every connection.
func (s *Service) GetAll() ([]*connstore.Record, error) {
	return s.store.GetAll()
}

// Delete removes connection id.
func (s *Service) Delete(id string) error {
	return s.store.Delete(id)
}

// FindByRoleAndThreadID returns the connection with the given role on thread thid.
func (s *Service) FindByRoleAndThreadID(role connstore.Role, thid string) (*connstore.Record, error) {
	return s.store.FindByThreadID(role, thid)
}

// FindByInvitationDID returns the connections created from an invitation that carried did.
func (s *Service) FindByInvitationDID(did string) ([]*connstore.Record, error) {
	return s.store.FindByInvitationDID(did)
}

// FindAllByOutOfBandID returns the connections created from out-of-band record oobID.
func (s *Service) FindAllByOutOfBandID(oobID string) ([]*connstore.Record, error) {
	return s.store.FindAllByOutOfBandID(oobID)
}

// FindByTheirKey returns the connections where key belongs to the other party and, when set, myKey is ours.
func (s *Service) FindByTheirKey(key, myKey string) ([]*connstore.Record, error) {
	return s.store.FindByTheirKey(key, myKey)
}

// ReturnWhenIsConnected blocks until connection id is ready, the timeout elapses or ctx is done.
func (s *Service) ReturnWhenIsConnected(ctx context.Context, id string, timeout time.Duration) (*connstore.Record,
	error) {
	// registered before reading so that a transition in between is not missed
	w := s.waiters.Register(waiter.Key{Kind: KindReady, ID: id}, nil)

	rec, err := s.store.Get(id)
	if err != nil {
		w.Cancel()

		return nil, err
	}

	if rec.IsReady() {
		w.Cancel()

		return rec, nil
	}

	v, err := w.Wait(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("wait for connection %s: %w", id, err)
	}

	return v.(*connstore.Record), nil // nolint:forcetypeassert
}

func (s *Service) notify(rec *connstore.Record, msg service.DIDCommMsgMap) {
	s.Notify(service.StateMsg{
		ProtocolName: Name,
		Type:         service.PostState,
		StateID:      string(rec.State),
		Msg:          msg,
		Properties:   NewEventProperties(rec),
	})
}

func oneOf(state connstore.State, states []connstore.State) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}

	return false
}
