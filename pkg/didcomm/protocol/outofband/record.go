/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/recordstore"
)

const (
	// Namespace is the store name of out-of-band records.
	Namespace = "outofband"

	oobTag          = "oob"
	roleTag         = "role"
	stateTag        = "state"
	invitationIDTag = "invitationId"
	threadIDTag     = "thid"
	fingerprintPfx  = "rkf_"
	requestThidPfx  = "rqt_"
)

var (
	// ErrRecordNotFound is returned when no out-of-band record matches.
	ErrRecordNotFound = errors.New("out-of-band record not found")
	// ErrOutOfBandRecordNotFound is an alias of ErrRecordNotFound.
	ErrOutOfBandRecordNotFound = ErrRecordNotFound
	// ErrInvalidInvitation is returned for malformed or contradictory invitations and invitation configs.
	ErrInvalidInvitation = errors.New("invalid invitation")
	// ErrDuplicateInvitation is returned when an invitation with the same id was already received.
	ErrDuplicateInvitation = errors.New("duplicate invitation")
	// ErrInvalidThreading is returned when an attached request carries a parent thread id other than the
	// invitation id.
	ErrInvalidThreading = errors.New("invalid threading")
	// ErrInvalidState is returned when a record is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timeout")
)

// State of an out-of-band record.
type State string

// Record states.
const (
	StateInitial         State = "initial"
	StatePrepareResponse State = "prepare-response"
	StateAwaitResponse   State = "await-response"
	StateDone            State = "done"
)

// Role of this agent for an invitation.
type Role string

// Record roles.
const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// LegacyInvitationMetadata marks records of invitations converted from another message type.
type LegacyInvitationMetadata struct {
	Type InvitationType `json:"type"`
}

// RecipientRouting is routing created for an invitation whose response is still pending.
type RecipientRouting struct {
	RecipientKey string   `json:"recipientKey"`
	RoutingKeys  []string `json:"routingKeys,omitempty"`
	Endpoint     string   `json:"endpoint"`
	MediatorID   string   `json:"mediatorId,omitempty"`
}

// Metadata is the bookkeeping kept with a record across handshake steps.
type Metadata struct {
	LegacyInvitation *LegacyInvitationMetadata `json:"legacyInvitation,omitempty"`
	RecipientRouting *RecipientRouting         `json:"recipientRouting,omitempty"`
}

// Record tracks one invitation.
type Record struct {
	ID                       string      `json:"id"`
	State                    State       `json:"state"`
	Role                     Role        `json:"role"`
	Invitation               *Invitation `json:"invitation"`
	Reusable                 bool        `json:"reusable,omitempty"`
	Implicit                 bool        `json:"implicit,omitempty"`
	AutoAcceptConnection     *bool       `json:"autoAcceptConnection,omitempty"`
	Alias                    string      `json:"alias,omitempty"`
	MediatorID               string      `json:"mediatorId,omitempty"`
	ReuseConnectionID        string      `json:"reuseConnectionId,omitempty"`
	RecipientKeyFingerprints []string    `json:"recipientKeyFingerprints,omitempty"`
	Metadata                 Metadata    `json:"metadata"`
	Version                  int         `json:"version"`
	CreatedAt                time.Time   `json:"createdAt"`
	UpdatedAt                time.Time   `json:"updatedAt"`
}

// RecordVersion returns the optimistic-concurrency version.
func (r *Record) RecordVersion() int { return r.Version }

// SetRecordVersion sets the optimistic-concurrency version.
func (r *Record) SetRecordVersion(v int) { r.Version = v }

// IsLegacy reports whether the invitation was converted from a Connections invitation or a connection-less
// message.
func (r *Record) IsLegacy() bool {
	return r.Metadata.LegacyInvitation != nil
}

// IsConnectionless reports whether the invitation offers no handshake.
func (r *Record) IsConnectionless() bool {
	return r.Invitation != nil && len(r.Invitation.HandshakeProtocols) == 0
}

// Query filters records. Empty fields match anything.
type Query struct {
	Role         Role
	State        State
	InvitationID string
}

// Store persists out-of-band records.
type Store struct {
	records *recordstore.Store
}

// NewStore opens the out-of-band record store.
func NewStore(p storage.Provider) (*Store, error) {
	records, err := recordstore.Open(p, Namespace, oobTag, roleTag, stateTag, invitationIDTag, threadIDTag)
	if err != nil {
		return nil, fmt.Errorf("failed to open out-of-band store: %w", err)
	}

	return &Store{records: records}, nil
}

// Save stores a new record. Received invitations are keyed by invitation id, so saving the same invitation
// twice fails with ErrDuplicateInvitation.
func (s *Store) Save(r *Record) error {
	if r.ID == "" {
		return errors.New("out-of-band record id is mandatory")
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	err := s.records.Create(r.ID, r, tags(r)...)
	if errors.Is(err, recordstore.ErrDuplicate) {
		return fmt.Errorf("%w: invitation '%s'", ErrDuplicateInvitation, r.Invitation.ID)
	}

	return err
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (*Record, error) {
	r := &Record{}

	err := s.records.Get(id, r)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: id '%s'", ErrRecordNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return r, nil
}

// Update applies fn to the current copy of the record atomically. When fn fails nothing is written.
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
		return nil, fmt.Errorf("%w: id '%s'", ErrRecordNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return res.(*Record), nil // nolint:forcetypeassert
}

// Delete removes the record with the given id.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	return s.records.Delete(id)
}

// GetAll returns every record.
func (s *Store) GetAll() ([]*Record, error) {
	return s.query(oobTag, nil)
}

// FindAll returns the records matching q.
func (s *Store) FindAll(q Query) ([]*Record, error) {
	expr := oobTag

	switch {
	case q.InvitationID != "":
		expr = recordstore.Expression(invitationIDTag, q.InvitationID)
	case q.Role != "":
		expr = roleTag + ":" + string(q.Role)
	case q.State != "":
		expr = stateTag + ":" + string(q.State)
	}

	return s.query(expr, func(r *Record) bool {
		return (q.Role == "" || r.Role == q.Role) &&
			(q.State == "" || r.State == q.State) &&
			(q.InvitationID == "" || r.Invitation.ID == q.InvitationID)
	})
}

// FindByReceivedInvitationID returns the Receiver record of invitation invID.
func (s *Store) FindByReceivedInvitationID(invID string) (*Record, error) {
	return s.findOne(Query{Role: RoleReceiver, InvitationID: invID})
}

// FindByCreatedInvitationID returns the Sender record of invitation invID. Records created from implicit
// invitations share the public DID as invitation id; pass the request thread id to tell them apart.
func (s *Store) FindByCreatedInvitationID(invID, thid string) (*Record, error) {
	if thid == "" {
		return s.findOne(Query{Role: RoleSender, InvitationID: invID})
	}

	records, err := s.query(recordstore.Expression(threadIDTag, thid), func(r *Record) bool {
		return r.Role == RoleSender && r.Invitation.ID == invID
	})
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: created invitation '%s' thread '%s'", ErrRecordNotFound, invID, thid)
	}

	return records[0], nil
}

// FindCreatedByRecipientKey returns the Sender records whose services include key.
func (s *Store) FindCreatedByRecipientKey(key string) ([]*Record, error) {
	fp, err := keyutil.Fingerprint(key)
	if err != nil {
		return nil, err
	}

	return s.query(fingerprintPfx+fp, func(r *Record) bool {
		return r.Role == RoleSender
	})
}

// FindByRequestThreadID returns the Sender record whose attached request started thread thid.
func (s *Store) FindByRequestThreadID(thid string) (*Record, error) {
	records, err := s.query(requestThidPfx+recordstore.TagValue(thid), func(r *Record) bool {
		return r.Role == RoleSender
	})
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: request thread '%s'", ErrRecordNotFound, thid)
	}

	return records[0], nil
}

func (s *Store) findOne(q Query) (*Record, error) {
	records, err := s.FindAll(q)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: role '%s' invitation '%s'", ErrRecordNotFound, q.Role, q.InvitationID)
	}

	if len(records) > 1 {
		logger.Warnf("found %d %s records of invitation %s, using the first one", len(records), q.Role, q.InvitationID)
	}

	return records[0], nil
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
			return nil, fmt.Errorf("unmarshal out-of-band record: %w", err)
		}

		if filter == nil || filter(r) {
			records = append(records, r)
		}
	}

	return records, nil
}

func tags(r *Record) []storage.Tag {
	t := []storage.Tag{
		{Name: oobTag},
		{Name: roleTag, Value: string(r.Role)},
		{Name: stateTag, Value: string(r.State)},
	}

	if r.Invitation != nil {
		t = append(t, recordstore.Tag(invitationIDTag, r.Invitation.ID))

		if r.Invitation.Thread != nil && r.Invitation.Thread.ID != "" {
			t = append(t, recordstore.Tag(threadIDTag, r.Invitation.Thread.ID))
		}

		for _, thid := range r.Invitation.RequestThreadIDs() {
			t = append(t, storage.Tag{Name: requestThidPfx + recordstore.TagValue(thid)})
		}
	}

	for _, fp := range r.RecipientKeyFingerprints {
		t = append(t, storage.Tag{Name: fingerprintPfx + fp})
	}

	return t
}
