/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/recordstore"
)

const (
	// Namespace is the store name of connection records.
	Namespace = "connection"

	connectionTag    = "connection"
	threadIDTag      = "thid"
	roleTag          = "role"
	oobIDTag         = "oobID"
	invitationDIDTag = "invitationDID"
	theirDIDTag      = "theirDID"
	myDIDTag         = "myDID"
	theirKeyTagPfx   = "tk_"
)

var logger = log.New("aries-framework/store/connection")

var (
	// ErrNotFound is returned when no connection record matches.
	ErrNotFound = errors.New("connection record not found")
	// ErrDuplicate is returned when a connection record with the same id already exists.
	ErrDuplicate = errors.New("connection record already exists")
)

// State of a connection.
type State string

// Connection states.
const (
	StateInvited   State = "invited"
	StateRequested State = "requested"
	StateResponded State = "responded"
	StateCompleted State = "completed"
	StateAbandoned State = "abandoned"
)

// Role of this agent in a connection.
type Role string

// Connection roles.
const (
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
)

// Record is a pairwise relationship with another agent.
type Record struct {
	ConnectionID         string    `json:"connectionID"`
	State                State     `json:"state"`
	Role                 Role      `json:"role"`
	Protocol             string    `json:"protocol,omitempty"`
	ThreadID             string    `json:"threadID,omitempty"`
	ParentThreadID       string    `json:"parentThreadID,omitempty"`
	TheirLabel           string    `json:"theirLabel,omitempty"`
	TheirDID             string    `json:"theirDID,omitempty"`
	MyDID                string    `json:"myDID,omitempty"`
	TheirRecipientKeys   []string  `json:"theirRecipientKeys,omitempty"`
	MyRecipientKey       string    `json:"myRecipientKey,omitempty"`
	OutOfBandID          string    `json:"outOfBandID,omitempty"`
	InvitationDID        string    `json:"invitationDID,omitempty"`
	InvitationKey        string    `json:"invitationKey,omitempty"`
	AutoAcceptConnection *bool     `json:"autoAcceptConnection,omitempty"`
	Alias                string    `json:"alias,omitempty"`
	ImageURL             string    `json:"imageUrl,omitempty"`
	ErrorMessage         string    `json:"errorMessage,omitempty"`
	Version              int       `json:"version"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// RecordVersion returns the optimistic-concurrency version.
func (r *Record) RecordVersion() int { return r.Version }

// SetRecordVersion sets the optimistic-concurrency version.
func (r *Record) SetRecordVersion(v int) { r.Version = v }

// IsReady reports whether messages can be exchanged over the connection: it is completed, or this agent
// responded and waits for the requester's acknowledgement.
func (r *Record) IsReady() bool {
	return r.State == StateCompleted || (r.State == StateResponded && r.Role == RoleResponder)
}

// Store persists connection records.
type Store struct {
	records *recordstore.Store
}

// New opens the connection store.
func New(p storage.Provider) (*Store, error) {
	records, err := recordstore.Open(p, Namespace, connectionTag, threadIDTag, roleTag, oobIDTag,
		invitationDIDTag, theirDIDTag, myDIDTag)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection store: %w", err)
	}

	return &Store{records: records}, nil
}

// Save stores a new connection record.
func (s *Store) Save(r *Record) error {
	if r.ConnectionID == "" {
		return errors.New("connection id is mandatory")
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	err := s.records.Create(r.ConnectionID, r, tags(r)...)
	if errors.Is(err, recordstore.ErrDuplicate) {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.ConnectionID)
	}

	return err
}

// Get returns the connection record with the given id.
func (s *Store) Get(id string) (*Record, error) {
	r := &Record{}

	err := s.records.Get(id, r)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: id '%s'", ErrNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return r, nil
}

// Update applies fn to the current copy of the record atomically. When fn fails nothing is written and its
// error is returned.
func (s *Store) Update(id string, fn func(r *Record) error) (*Record, error) {
	res, err := s.records.Update(id,
		func() recordstore.Versioned { return &Record{} },
		func(v recordstore.Versioned) ([]storage.Tag, error) {
			r := v.(*Record) // nolint:forcetypeassert

			if err := fn(r); err != nil {
				return nil, err
			}

			r.UpdatedAt = time.Now().UTC()

			return tags(r), nil
		})
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: id '%s'", ErrNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return res.(*Record), nil // nolint:forcetypeassert
}

// Delete removes the connection record with the given id.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	return s.records.Delete(id)
}

// GetAll returns every connection record.
func (s *Store) GetAll() ([]*Record, error) {
	return s.query(connectionTag, nil)
}

// FindByThreadID returns the record with the given role on thread thid.
func (s *Store) FindByThreadID(role Role, thid string) (*Record, error) {
	records, err := s.query(recordstore.Expression(threadIDTag, thid), func(r *Record) bool {
		return r.Role == role
	})
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: role '%s' thread '%s'", ErrNotFound, role, thid)
	}

	if len(records) > 1 {
		logger.Warnf("found %d %s connections on thread %s, using the first one", len(records), role, thid)
	}

	return records[0], nil
}

// FindByTheirKey returns the records where key is one of the other party's recipient keys. When myKey is set
// only records where it is this agent's recipient key are returned.
func (s *Store) FindByTheirKey(key, myKey string) ([]*Record, error) {
	fp, err := keyutil.Fingerprint(key)
	if err != nil {
		return nil, err
	}

	var myFP string

	if myKey != "" {
		myFP, err = keyutil.Fingerprint(myKey)
		if err != nil {
			return nil, err
		}
	}

	return s.query(theirKeyTagPfx+fp, func(r *Record) bool {
		if myFP == "" {
			return true
		}

		rfp, e := keyutil.Fingerprint(r.MyRecipientKey)

		return e == nil && rfp == myFP
	})
}

// FindByInvitationDID returns the records created from an invitation that carried did.
func (s *Store) FindByInvitationDID(did string) ([]*Record, error) {
	return s.query(recordstore.Expression(invitationDIDTag, did), nil)
}

// FindByDIDs returns the record between myDID and theirDID.
func (s *Store) FindByDIDs(myDID, theirDID string) (*Record, error) {
	records, err := s.query(recordstore.Expression(theirDIDTag, theirDID), func(r *Record) bool {
		return r.MyDID == myDID
	})
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: my did '%s' their did '%s'", ErrNotFound, myDID, theirDID)
	}

	return records[0], nil
}

// FindAllByOutOfBandID returns the records created from the out-of-band record oobID.
func (s *Store) FindAllByOutOfBandID(oobID string) ([]*Record, error) {
	return s.query(recordstore.Expression(oobIDTag, oobID), nil)
}

func (s *Store) query(expression string, filter func(r *Record) bool) ([]*Record, error) {
	raw, err := s.records.Query(expression)
	if err != nil {
		return nil, err
	}

	var records []*Record

	for _, b := range raw {
		r := &Record{}
		if err := json.Unmarshal(b, r); err != nil {
			return nil, fmt.Errorf("unmarshal connection record: %w", err)
		}

		if filter == nil || filter(r) {
			records = append(records, r)
		}
	}

	return records, nil
}

func tags(r *Record) []storage.Tag {
	t := []storage.Tag{
		{Name: connectionTag},
		{Name: roleTag, Value: string(r.Role)},
	}

	add := func(name, value string) {
		if value != "" {
			t = append(t, recordstore.Tag(name, value))
		}
	}

	add(threadIDTag, r.ThreadID)
	add(oobIDTag, r.OutOfBandID)
	add(invitationDIDTag, r.InvitationDID)
	add(theirDIDTag, r.TheirDID)
	add(myDIDTag, r.MyDID)

	for _, k := range r.TheirRecipientKeys {
		fp, err := keyutil.Fingerprint(k)
		if err != nil {
			logger.Warnf("skipping tag for invalid recipient key of connection %s: %s", r.ConnectionID, err)

			continue
		}

		t = append(t, storage.Tag{Name: theirKeyTagPfx + fp})
	}

	return t
}
