/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/models/did"
	"github.com/hyperledger/aries-framework-go/component/models/did/endpoint"
	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

const (
	didMethodPeer              = "peer"
	ed25519VerificationKey2018 = "Ed25519VerificationKey2018"
	didDocMimeType             = "application/json"
)

// ErrNoDIDCommService is returned when a DID document has no service other agents can be reached at.
var ErrNoDIDCommService = errors.New("no DIDComm service in DID document")

// MyDID is the DID this agent uses in a connection together with the key messages are addressed to.
type MyDID struct {
	Doc          *did.Doc
	RecipientKey string
}

// CreateMyDID returns the DID to use for a new connection. A public DID is used when ourDID is set. Otherwise a
// did:peer is created for routing with a single service of serviceType.
func CreateMyDID(registry vdr.DIDRegistry, routing *mediator.Routing, ourDID, serviceType string) (*MyDID, error) {
	if ourDID != "" {
		resolved, err := registry.ResolveDIDDocument(ourDID)
		if err != nil {
			return nil, fmt.Errorf("resolve public did %s: %w", ourDID, err)
		}

		if len(resolved.RecipientKeys) == 0 {
			return nil, fmt.Errorf("public did %s: %w", ourDID, ErrNoDIDCommService)
		}

		return &MyDID{Doc: resolved.Doc, RecipientKey: resolved.RecipientKeys[0]}, nil
	}

	if routing == nil {
		return nil, errors.New("create peer did: routing is required")
	}

	pub, err := keyutil.Ed25519PublicKey(routing.RecipientKey)
	if err != nil {
		return nil, fmt.Errorf("create peer did: %w", err)
	}

	routingKeys := routing.RoutingKeys
	if serviceType == vdrapi.LegacyServiceType {
		// legacy documents carry base58 verkeys
		routingKeys, err = keyutil.VerKeysFromDIDKeys(routingKeys)
		if err != nil {
			return nil, fmt.Errorf("create peer did: routing keys: %w", err)
		}
	}

	doc := &did.Doc{
		VerificationMethod: []did.VerificationMethod{
			*did.NewVerificationMethodFromBytes("#key-1", ed25519VerificationKey2018, "", pub),
		},
		Service: []did.Service{{
			ID:              "#didcomm-1",
			Type:            serviceType,
			RoutingKeys:     routingKeys,
			ServiceEndpoint: endpoint.NewDIDCommV1Endpoint(routing.Endpoint),
		}},
	}

	res, err := registry.Create(didMethodPeer, doc)
	if err != nil {
		return nil, fmt.Errorf("create peer did: %w", err)
	}

	return &MyDID{Doc: res.DIDDocument, RecipientKey: routing.RecipientKey}, nil
}

// DIDDocAttachment wraps doc into a 'did_doc~attach' attachment.
func DIDDocAttachment(doc *did.Doc) (*decorator.Attachment, error) {
	raw, err := doc.JSONBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal did document: %w", err)
	}

	return &decorator.Attachment{
		ID:       doc.ID,
		MimeType: didDocMimeType,
		Data:     decorator.AttachmentData{Base64: base64.StdEncoding.EncodeToString(raw)},
	}, nil
}

// TheirDocument is the other agent's DID as resolved during a handshake step.
type TheirDocument struct {
	*vdr.ResolvedDocument
	attached bool
}

// Save keeps a document that came as an attachment so that it can be resolved later. Handlers call it once the
// step's guards passed.
func (t *TheirDocument) Save(registry vdr.DIDRegistry) error {
	if !t.attached {
		return nil
	}

	return registry.Store(t.Doc)
}

// TheirDID resolves the other agent's DID document, either from the attachment sent along or through the
// registry. Nothing is persisted.
func TheirDID(registry vdr.DIDRegistry, didID string, attachment *decorator.Attachment) (*TheirDocument, error) {
	if attachment == nil {
		resolved, err := registry.ResolveDIDDocument(didID)
		if err != nil {
			return nil, fmt.Errorf("resolve their did %s: %w", didID, err)
		}

		if _, err := withService(resolved); err != nil {
			return nil, err
		}

		return &TheirDocument{ResolvedDocument: resolved}, nil
	}

	raw, err := attachment.Data.Fetch()
	if err != nil {
		return nil, fmt.Errorf("did document attachment: %w", err)
	}

	doc, err := did.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parse did document attachment: %w", err)
	}

	if didID != "" && doc.ID != didID {
		return nil, fmt.Errorf("did document %s does not belong to %s", doc.ID, didID)
	}

	resolved, err := vdr.DIDCommView(doc)
	if err != nil {
		return nil, err
	}

	if _, err := withService(resolved); err != nil {
		return nil, err
	}

	return &TheirDocument{ResolvedDocument: resolved, attached: true}, nil
}

// Destination is where messages for a resolved DID go.
func Destination(resolved *vdr.ResolvedDocument) (*service.Destination, error) {
	if _, err := withService(resolved); err != nil {
		return nil, err
	}

	svc := resolved.Services[0]

	return &service.Destination{
		RecipientKeys:   svc.RecipientKeys,
		RoutingKeys:     svc.RoutingKeys,
		ServiceEndpoint: svc.ServiceEndpoint,
	}, nil
}

// CheckRecipientKey fails with ErrKeyMismatch unless key is one of the recipient keys of our DID myDID.
func CheckRecipientKey(resolver vdr.Resolver, myDID, key string) error {
	resolved, err := resolver.ResolveDIDDocument(myDID)
	if err != nil {
		return fmt.Errorf("resolve my did %s: %w", myDID, err)
	}

	fp, err := keyutil.Fingerprint(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyMismatch, err)
	}

	known, err := keyutil.Fingerprints(resolved.RecipientKeys)
	if err != nil {
		return fmt.Errorf("recipient keys of %s: %w", myDID, err)
	}

	for _, k := range known {
		if k == fp {
			return nil
		}
	}

	return fmt.Errorf("%w: %s is not a recipient key of %s", ErrKeyMismatch, key, myDID)
}

func withService(resolved *vdr.ResolvedDocument) (*vdr.ResolvedDocument, error) {
	if len(resolved.Services) == 0 || len(resolved.Services[0].RecipientKeys) == 0 {
		return nil, fmt.Errorf("%s: %w", resolved.DID, ErrNoDIDCommService)
	}

	return resolved, nil
}
