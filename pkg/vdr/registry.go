/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vdr

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	"github.com/hyperledger/aries-framework-go/component/vdr"
	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"
	vdrkey "github.com/hyperledger/aries-framework-go/component/vdr/key"
	"github.com/hyperledger/aries-framework-go/component/vdr/peer"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
)

const (
	defaultCacheSize       = 100
	defaultCacheExpiration = 10 * time.Minute
)

var logger = log.New("aries-framework/vdr")

// ErrNotFound is returned when a DID cannot be resolved.
var ErrNotFound = vdrapi.ErrNotFound

// ResolvedService is a DIDComm v1 service of a resolved DID document. Keys are did:key values.
type ResolvedService struct {
	ID              string
	ServiceEndpoint string
	RecipientKeys   []string
	RoutingKeys     []string
}

// ResolvedDocument is the DIDComm view of a DID document.
type ResolvedDocument struct {
	DID           string
	Doc           *did.Doc
	RecipientKeys []string
	Services      []*ResolvedService
}

// Option configures the Registry.
type Option func(r *Registry)

// WithVDR adds a did method implementation. Methods added this way are consulted before did:peer and did:key.
func WithVDR(v vdrapi.VDR) Option {
	return func(r *Registry) {
		r.extra = append(r.extra, v)
	}
}

// WithCacheSize sets the number of resolved documents kept in memory.
func WithCacheSize(n int) Option {
	return func(r *Registry) {
		r.cacheSize = n
	}
}

// WithCacheExpiration sets how long resolved documents are kept in memory.
func WithCacheExpiration(d time.Duration) Option {
	return func(r *Registry) {
		r.cacheExpiration = d
	}
}

// Registry resolves and creates DIDs. did:peer documents (ours and the ones received from other agents) live
// in the storage provider; did:key documents are derived from the key.
type Registry struct {
	registry        *vdr.Registry
	peer            *peer.VDR
	extra           []vdrapi.VDR
	cache           gcache.Cache
	cacheSize       int
	cacheExpiration time.Duration
}

// New returns a Registry storing peer DIDs in p.
func New(p storage.Provider, opts ...Option) (*Registry, error) {
	peerVDR, err := peer.New(p)
	if err != nil {
		return nil, fmt.Errorf("create peer vdr: %w", err)
	}

	r := &Registry{
		peer:            peerVDR,
		cacheSize:       defaultCacheSize,
		cacheExpiration: defaultCacheExpiration,
	}

	for _, opt := range opts {
		opt(r)
	}

	var vdrOpts []vdr.Option

	for _, v := range r.extra {
		vdrOpts = append(vdrOpts, vdr.WithVDR(v))
	}

	vdrOpts = append(vdrOpts, vdr.WithVDR(peerVDR), vdr.WithVDR(vdrkey.New()))

	r.registry = vdr.New(vdrOpts...)
	r.cache = gcache.New(r.cacheSize).LRU().Expiration(r.cacheExpiration).Build()

	return r, nil
}

// Resolve returns the DID document of didID.
func (r *Registry) Resolve(didID string, opts ...vdrapi.DIDMethodOption) (*did.DocResolution, error) {
	if cached, err := r.cache.Get(didID); err == nil {
		if res, ok := cached.(*did.DocResolution); ok {
			return res, nil
		}
	}

	res, err := r.registry.Resolve(didID, opts...)
	if err != nil {
		// documents of other agents may use methods we cannot resolve; they are kept in the peer store
		stored, peerErr := r.peer.Read(didID)
		if peerErr != nil {
			if isNotFound(err) || isNotFound(peerErr) {
				return nil, fmt.Errorf("resolve %s: %w", didID, ErrNotFound)
			}

			return nil, fmt.Errorf("resolve %s: %w", didID, err)
		}

		res = stored
	}

	if err := r.cache.Set(didID, res); err != nil {
		logger.Warnf("failed to cache DID document %s: %s", didID, err)
	}

	return res, nil
}

// Create creates a DID of the given method from doc.
func (r *Registry) Create(method string, doc *did.Doc, opts ...vdrapi.DIDMethodOption) (*did.DocResolution, error) {
	res, err := r.registry.Create(method, doc, opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s did: %w", method, err)
	}

	r.cache.Remove(res.DIDDocument.ID)

	return res, nil
}

// Store keeps a DID document received from another agent so that it can be resolved later.
func (r *Registry) Store(doc *did.Doc) error {
	if doc == nil || doc.ID == "" {
		return errors.New("store did document: missing id")
	}

	cp := *doc

	// documents parsed from the legacy form carry a context the peer store cannot read back
	if ctx, ok := did.ContextPeekString(cp.Context); !ok || (ctx != did.ContextV1 && ctx != did.ContextV1Old) {
		cp.Context = []string{did.ContextV1}
	}

	raw, err := cp.JSONBytes()
	if err != nil {
		return fmt.Errorf("store did document %s: %w", doc.ID, err)
	}

	if _, err := did.ParseDocument(raw); err != nil {
		return fmt.Errorf("store did document %s: %w", doc.ID, err)
	}

	if _, err := r.peer.Create(&cp, vdrapi.WithOption("store", true)); err != nil {
		return fmt.Errorf("store did document %s: %w", doc.ID, err)
	}

	r.cache.Remove(doc.ID)

	return nil
}

// Update updates a DID document.
func (r *Registry) Update(doc *did.Doc, opts ...vdrapi.DIDMethodOption) error {
	r.cache.Remove(doc.ID)

	return r.registry.Update(doc, opts...)
}

// Deactivate deactivates a DID.
func (r *Registry) Deactivate(didID string, opts ...vdrapi.DIDMethodOption) error {
	r.cache.Remove(didID)

	return r.registry.Deactivate(didID, opts...)
}

// Close frees resources being maintained by the registry.
func (r *Registry) Close() error {
	r.cache.Purge()

	return r.registry.Close()
}

// ResolveDIDDocument resolves didID and extracts its DIDComm services. Services are ordered by priority.
func (r *Registry) ResolveDIDDocument(didID string) (*ResolvedDocument, error) {
	res, err := r.Resolve(didID)
	if err != nil {
		return nil, err
	}

	return DIDCommView(res.DIDDocument)
}

// DIDCommView extracts the DIDComm services and recipient keys of doc.
func DIDCommView(doc *did.Doc) (*ResolvedDocument, error) {
	if doc == nil {
		return nil, errors.New("did document is nil")
	}

	type prioritized struct {
		priority int
		svc      *ResolvedService
	}

	var services []prioritized

	for i := range doc.Service {
		s := &doc.Service[i]

		t := serviceType(s.Type)
		if t != vdrapi.DIDCommServiceType && t != vdrapi.LegacyServiceType {
			continue
		}

		uri, err := s.ServiceEndpoint.URI()
		if err != nil {
			logger.Debugf("skipping service %s of %s without endpoint: %s", s.ID, doc.ID, err)

			continue
		}

		recipientKeys, err := toDIDKeys(doc, s.RecipientKeys)
		if err != nil {
			return nil, fmt.Errorf("service %s recipient keys: %w", s.ID, err)
		}

		routingKeys, err := toDIDKeys(doc, s.RoutingKeys)
		if err != nil {
			return nil, fmt.Errorf("service %s routing keys: %w", s.ID, err)
		}

		services = append(services, prioritized{
			priority: priority(s.Priority),
			svc: &ResolvedService{
				ID:              s.ID,
				ServiceEndpoint: uri,
				RecipientKeys:   recipientKeys,
				RoutingKeys:     routingKeys,
			},
		})
	}

	sort.SliceStable(services, func(i, j int) bool { return services[i].priority < services[j].priority })

	resolved := &ResolvedDocument{DID: doc.ID, Doc: doc}
	seen := map[string]struct{}{}

	for _, p := range services {
		resolved.Services = append(resolved.Services, p.svc)

		for _, k := range p.svc.RecipientKeys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}

				resolved.RecipientKeys = append(resolved.RecipientKeys, k)
			}
		}
	}

	if len(resolved.RecipientKeys) == 0 {
		for i := range doc.VerificationMethod {
			vm := &doc.VerificationMethod[i]
			if vm.Type == ed25519VerificationKey2018 && len(vm.Value) > 0 {
				resolved.RecipientKeys = append(resolved.RecipientKeys, keyutil.DIDKeyFromPublicKey(vm.Value))
			}
		}
	}

	return resolved, nil
}

const ed25519VerificationKey2018 = "Ed25519VerificationKey2018"

// toDIDKeys normalises keys given as did:key, base58 verkeys or references to verification methods of doc.
func toDIDKeys(doc *did.Doc, keys []string) ([]string, error) {
	res := make([]string, 0, len(keys))

	for _, k := range keys {
		if vm, ok := lookupVerificationMethod(doc, k); ok {
			res = append(res, keyutil.DIDKeyFromPublicKey(vm.Value))

			continue
		}

		didKey, err := keyutil.DIDKeyFromVerKey(k)
		if err != nil {
			return nil, err
		}

		res = append(res, didKey)
	}

	return res, nil
}

func lookupVerificationMethod(doc *did.Doc, ref string) (*did.VerificationMethod, bool) {
	for i := range doc.VerificationMethod {
		vm := &doc.VerificationMethod[i]

		if vm.ID == ref || (len(ref) > 0 && ref[0] == '#' && vm.ID == doc.ID+ref) {
			return vm, true
		}
	}

	return nil, false
}

func isNotFound(err error) bool {
	return errors.Is(err, vdrapi.ErrNotFound) || errors.Is(err, storage.ErrDataNotFound)
}

func serviceType(t interface{}) string {
	switch v := t.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []interface{}:
		if len(v) > 0 {
			s, _ := v[0].(string) // nolint:errcheck

			return s
		}
	}

	return ""
}

func priority(p interface{}) int {
	switch v := p.(type) {
	case int:
		return v
	case uint:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Resolver resolves DIDs into their DIDComm view.
type Resolver interface {
	ResolveDIDDocument(didID string) (*ResolvedDocument, error)
}

// DIDRegistry creates, stores and resolves DIDs.
type DIDRegistry interface {
	Resolver
	Create(method string, doc *did.Doc, opts ...vdrapi.DIDMethodOption) (*did.DocResolution, error)
	Store(doc *did.Doc) error
}
