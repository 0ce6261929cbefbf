/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/didcommtype"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
)

const (
	// Name of this protocol.
	Name = "out-of-band"
	// PIURI is the out-of-band protocol identifier.
	PIURI = "https://didcomm.org/out-of-band/1.1"
	// InvitationMsgType is the '@type' of the invitation message.
	InvitationMsgType = PIURI + "/invitation"
	// HandshakeReuseMsgType is the '@type' of the handshake-reuse message.
	HandshakeReuseMsgType = PIURI + "/handshake-reuse"
	// HandshakeReuseAcceptedMsgType is the '@type' of the handshake-reuse-accepted message.
	HandshakeReuseAcceptedMsgType = PIURI + "/handshake-reuse-accepted"

	// LegacyInvitationMsgType is the '@type' of a Connections 1.0 invitation.
	LegacyInvitationMsgType = "https://didcomm.org/connections/1.0/invitation"

	// DIDExchangeProtocol is the DID Exchange handshake protocol.
	DIDExchangeProtocol = "https://didcomm.org/didexchange/1.1"
	// ConnectionsProtocol is the Connections handshake protocol.
	ConnectionsProtocol = "https://didcomm.org/connections/1.0"

	inlineServiceIDPrefix = "#inline"
)

// DIDCommProfiles are advertised in the 'accept' attribute of created invitations.
var DIDCommProfiles = []string{"didcomm/aip1", "didcomm/aip2;env=rfc19"}

// DefaultHandshakeProtocols in order of preference.
var DefaultHandshakeProtocols = []string{DIDExchangeProtocol, ConnectionsProtocol}

// InvitationType tells which kind of message an invitation was converted from.
type InvitationType string

// Invitation types.
const (
	InvitationTypeOutOfBand      InvitationType = "out-of-band/1.x"
	InvitationTypeConnection     InvitationType = "connections/1.x"
	InvitationTypeConnectionless InvitationType = "connectionless"
)

// InlineService is an inline DIDComm service of an invitation. Keys are did:key values.
type InlineService struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	RecipientKeys   []string `json:"recipientKeys"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	Accept          []string `json:"accept,omitempty"`
}

// ServiceEntry is one element of an invitation's 'services': either a DID or an inline service.
type ServiceEntry struct {
	DID    string
	Inline *InlineService
}

// MarshalJSON writes a DID as a plain string and an inline service as an object.
func (e ServiceEntry) MarshalJSON() ([]byte, error) {
	if e.Inline != nil {
		return json.Marshal(e.Inline)
	}

	return json.Marshal(e.DID)
}

// UnmarshalJSON reads either form.
func (e *ServiceEntry) UnmarshalJSON(b []byte) error {
	var didRef string
	if err := json.Unmarshal(b, &didRef); err == nil {
		e.DID = didRef
		e.Inline = nil

		return nil
	}

	s := &InlineService{}
	if err := json.Unmarshal(b, s); err != nil {
		return fmt.Errorf("service is neither a DID nor an inline service: %w", err)
	}

	e.DID = ""
	e.Inline = s

	return nil
}

// Invitation is the out-of-band 'invitation' message.
type Invitation struct {
	ID                 string                  `json:"@id"`
	Type               string                  `json:"@type"`
	Label              string                  `json:"label,omitempty"`
	Goal               string                  `json:"goal,omitempty"`
	GoalCode           string                  `json:"goal_code,omitempty"`
	Accept             []string                `json:"accept,omitempty"`
	HandshakeProtocols []string                `json:"handshake_protocols,omitempty"`
	Requests           []*decorator.Attachment `json:"requests~attach,omitempty"`
	Services           []ServiceEntry          `json:"services"`
	ImageURL           string                  `json:"imageUrl,omitempty"`
	Thread             *decorator.Thread       `json:"~thread,omitempty"`

	// InvitationType is set when the invitation was converted from a legacy message. It is not serialised.
	InvitationType InvitationType `json:"-"`
}

// DIDServices returns the DIDs referenced by the invitation's services.
func (i *Invitation) DIDServices() []string {
	var dids []string

	for _, s := range i.Services {
		if s.Inline == nil && s.DID != "" {
			dids = append(dids, s.DID)
		}
	}

	return dids
}

// InlineServices returns the invitation's inline services.
func (i *Invitation) InlineServices() []*InlineService {
	var svcs []*InlineService

	for _, s := range i.Services {
		if s.Inline != nil {
			svcs = append(svcs, s.Inline)
		}
	}

	return svcs
}

// InvitationDIDs are the identities connections created from this invitation are recorded under: every DID
// service and the did:key of the first recipient key of each inline service.
func (i *Invitation) InvitationDIDs() []string {
	dids := i.DIDServices()

	for _, s := range i.InlineServices() {
		if len(s.RecipientKeys) == 0 {
			continue
		}

		didKey, err := keyutil.DIDKeyFromVerKey(s.RecipientKeys[0])
		if err != nil {
			logger.Debugf("skipping inline service %s of invitation %s: %s", s.ID, i.ID, err)

			continue
		}

		dids = append(dids, didKey)
	}

	return dids
}

// InvitationDID is the identity connections created from this invitation are recorded under.
func (i *Invitation) InvitationDID() string {
	if dids := i.InvitationDIDs(); len(dids) > 0 {
		return dids[0]
	}

	return ""
}

// RequestMessages decodes the attached request messages.
func (i *Invitation) RequestMessages() ([]service.DIDCommMsgMap, error) {
	msgs := make([]service.DIDCommMsgMap, 0, len(i.Requests))

	for _, a := range i.Requests {
		raw, err := a.Data.Fetch()
		if err != nil {
			return nil, fmt.Errorf("%w: request attachment %s: %w", ErrInvalidInvitation, a.ID, err)
		}

		msg, err := service.ParseDIDCommMsgMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: request attachment %s: %w", ErrInvalidInvitation, a.ID, err)
		}

		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// AddRequest attaches msg to the invitation.
func (i *Invitation) AddRequest(msg service.DIDCommMsgMap) {
	i.Requests = append(i.Requests,
		decorator.NewJSONAttachment(fmt.Sprintf("request-%d", len(i.Requests)), msg))
}

// RequestThreadIDs returns the thread ids of the attached requests.
func (i *Invitation) RequestThreadIDs() []string {
	msgs, err := i.RequestMessages()
	if err != nil {
		return nil
	}

	thids := make([]string, 0, len(msgs))

	for _, m := range msgs {
		if thid, err := m.ThreadID(); err == nil {
			thids = append(thids, thid)
		}
	}

	return thids
}

// Validate checks the invitation carries what a receiver needs to act on it.
func (i *Invitation) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: missing @id", ErrInvalidInvitation)
	}

	if len(i.Services) == 0 {
		return fmt.Errorf("%w: invitation %s has no services", ErrInvalidInvitation, i.ID)
	}

	if len(i.HandshakeProtocols) == 0 && len(i.Requests) == 0 {
		return fmt.Errorf("%w: one or both of handshake_protocols and requests~attach MUST be included",
			ErrInvalidInvitation)
	}

	for _, s := range i.InlineServices() {
		if len(s.RecipientKeys) == 0 {
			return fmt.Errorf("%w: inline service %s has no recipient keys", ErrInvalidInvitation, s.ID)
		}

		if _, err := keyutil.Fingerprints(s.RecipientKeys); err != nil {
			return fmt.Errorf("%w: inline service %s: %w", ErrInvalidInvitation, s.ID, err)
		}
	}

	return nil
}

// HandshakeReuse is the 'handshake-reuse' message.
type HandshakeReuse struct {
	ID     string            `json:"@id"`
	Type   string            `json:"@type"`
	Thread *decorator.Thread `json:"~thread"`
}

// HandshakeReuseAccepted is the 'handshake-reuse-accepted' message.
type HandshakeReuseAccepted struct {
	ID     string            `json:"@id"`
	Type   string            `json:"@type"`
	Thread *decorator.Thread `json:"~thread"`
}

// LegacyInvitation is the Connections 1.0 'invitation' message. Keys are base58 verkeys.
type LegacyInvitation struct {
	ID              string   `json:"@id"`
	Type            string   `json:"@type"`
	Label           string   `json:"label,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	DID             string   `json:"did,omitempty"`
	ImageURL        string   `json:"imageUrl,omitempty"`
}

// ConvertToNewInvitation turns a Connections invitation into an out-of-band invitation.
func ConvertToNewInvitation(legacy *LegacyInvitation) (*Invitation, error) {
	inv := &Invitation{
		ID:                 legacy.ID,
		Type:               InvitationMsgType,
		Label:              legacy.Label,
		ImageURL:           legacy.ImageURL,
		HandshakeProtocols: []string{ConnectionsProtocol},
		InvitationType:     InvitationTypeConnection,
	}

	if legacy.DID != "" {
		inv.Services = []ServiceEntry{{DID: legacy.DID}}

		return inv, nil
	}

	recipientKeys, err := toDIDKeys(legacy.RecipientKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	routingKeys, err := toDIDKeys(legacy.RoutingKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	inv.Services = []ServiceEntry{{Inline: &InlineService{
		ID:              inlineServiceIDPrefix,
		Type:            vdrapi.DIDCommServiceType,
		RecipientKeys:   recipientKeys,
		RoutingKeys:     routingKeys,
		ServiceEndpoint: legacy.ServiceEndpoint,
	}}}

	return inv, nil
}

// ConvertToOldInvitation turns an out-of-band invitation with a single service into a Connections invitation.
func ConvertToOldInvitation(inv *Invitation) (*LegacyInvitation, error) {
	if len(inv.Services) != 1 {
		return nil, fmt.Errorf("%w: a legacy invitation needs exactly one service, got %d",
			ErrInvalidInvitation, len(inv.Services))
	}

	legacy := &LegacyInvitation{
		ID:       inv.ID,
		Type:     didcommtype.ToLegacyDIDSovPrefix(LegacyInvitationMsgType),
		Label:    inv.Label,
		ImageURL: inv.ImageURL,
	}

	entry := inv.Services[0]
	if entry.Inline == nil {
		legacy.DID = entry.DID

		return legacy, nil
	}

	var err error

	legacy.ServiceEndpoint = entry.Inline.ServiceEndpoint

	legacy.RecipientKeys, err = toVerKeys(entry.Inline.RecipientKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	legacy.RoutingKeys, err = toVerKeys(entry.Inline.RoutingKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	return legacy, nil
}

// ConnectionlessInvitation builds the invitation implied by a connection-less message carrying a '~service'
// decorator.
func ConnectionlessInvitation(msg service.DIDCommMsgMap) (*Invitation, error) {
	raw, ok := msg["~service"]
	if !ok {
		return nil, fmt.Errorf("%w: connection-less message without ~service", ErrInvalidInvitation)
	}

	svc := &decorator.Service{}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	if err = json.Unmarshal(b, svc); err != nil {
		return nil, fmt.Errorf("%w: ~service: %w", ErrInvalidInvitation, err)
	}

	recipientKeys, err := toDIDKeys(svc.RecipientKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	routingKeys, err := toDIDKeys(svc.RoutingKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	request := msg.Clone()
	delete(request, "~service")

	inv := &Invitation{
		ID:   msg.ID(),
		Type: InvitationMsgType,
		Services: []ServiceEntry{{Inline: &InlineService{
			ID:              inlineServiceIDPrefix,
			Type:            vdrapi.DIDCommServiceType,
			RecipientKeys:   recipientKeys,
			RoutingKeys:     routingKeys,
			ServiceEndpoint: svc.ServiceEndpoint,
		}}},
		InvitationType: InvitationTypeConnectionless,
	}

	inv.AddRequest(request)

	return inv, nil
}

// ParseInvitation decodes an out-of-band or Connections invitation.
func ParseInvitation(raw []byte) (*Invitation, error) {
	msg, err := service.ParseDIDCommMsgMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	switch {
	case isType(msg.Type(), InvitationMsgType):
		inv := &Invitation{}
		if err := json.Unmarshal(raw, inv); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
		}

		return inv, nil
	case isType(msg.Type(), LegacyInvitationMsgType):
		legacy := &LegacyInvitation{}
		if err := json.Unmarshal(raw, legacy); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
		}

		return ConvertToNewInvitation(legacy)
	default:
		return nil, fmt.Errorf("%w: unsupported invitation type '%s'", ErrInvalidInvitation, msg.Type())
	}
}

func isType(msgType, expected string) bool {
	return supportsMessageType(expected, msgType)
}

func toDIDKeys(keys []string) ([]string, error) {
	res := make([]string, 0, len(keys))

	for _, k := range keys {
		didKey, err := keyutil.DIDKeyFromVerKey(k)
		if err != nil {
			return nil, err
		}

		res = append(res, didKey)
	}

	return res, nil
}

func toVerKeys(keys []string) ([]string, error) {
	res := make([]string, 0, len(keys))

	for _, k := range keys {
		if !keyutil.IsDIDKey(k) {
			res = append(res, k)

			continue
		}

		verKey, err := keyutil.VerKeyFromDIDKey(k)
		if err != nil {
			return nil, err
		}

		res = append(res, verKey)
	}

	return res, nil
}

// IsDID reports whether s is a DID rather than an invitation id.
func IsDID(s string) bool {
	return strings.HasPrefix(s, "did:")
}

var errNoSupportedRequest = errors.New("no message in requests~attach is supported")
