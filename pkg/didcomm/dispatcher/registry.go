/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/didcommtype"
)

// ErrNoHandlerFound is returned when no registered handler supports a message type.
var ErrNoHandlerFound = errors.New("no handler found")

type registration struct {
	handler MessageHandler
	types   []didcommtype.MessageType
}

// Registry maps message types to handlers. Handlers are consulted in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers []registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterHandler adds h for the message types it declares.
func (r *Registry) RegisterHandler(h MessageHandler) error {
	if h == nil {
		return errors.New("handler is nil")
	}

	reg := registration{handler: h}

	for _, t := range h.SupportedMessageTypes() {
		mt, err := didcommtype.ParseMessageType(t)
		if err != nil {
			return fmt.Errorf("register handler: %w", err)
		}

		reg.types = append(reg.types, mt)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, reg)
	r.mu.Unlock()

	return nil
}

// HandlerFor returns the first handler supporting msgType.
func (r *Registry) HandlerFor(msgType string) (MessageHandler, error) {
	incoming, err := didcommtype.ParseMessageType(msgType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoHandlerFound, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.handlers {
		for _, t := range reg.types {
			if t.Supports(incoming) {
				return reg.handler, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: message type '%s'", ErrNoHandlerFound, msgType)
}

// IsSupported reports whether some handler processes msgType.
func (r *Registry) IsSupported(msgType string) bool {
	_, err := r.HandlerFor(msgType)

	return err == nil
}

// SupportedMessageTypes returns every declared message type in registration order.
func (r *Registry) SupportedMessageTypes() []didcommtype.MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []didcommtype.MessageType

	for _, reg := range r.handlers {
		res = append(res, reg.types...)
	}

	return res
}

// SupportedProtocolURIs returns the distinct protocols of the declared message types.
func (r *Registry) SupportedProtocolURIs() []didcommtype.ProtocolURI {
	var res []didcommtype.ProtocolURI

	seen := map[string]struct{}{}

	for _, t := range r.SupportedMessageTypes() {
		key := t.ProtocolURI.String()
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}

		res = append(res, t.ProtocolURI)
	}

	return res
}

// FilterSupportedProtocolsByURIs keeps the candidates some handler supports. The candidates' order is kept
// and the candidate values (not the local ones) are returned.
func (r *Registry) FilterSupportedProtocolsByURIs(candidates []didcommtype.ProtocolURI) []didcommtype.ProtocolURI {
	supported := r.SupportedProtocolURIs()

	var res []didcommtype.ProtocolURI

	for _, c := range candidates {
		if slices.ContainsFunc(supported, func(s didcommtype.ProtocolURI) bool { return s.Supports(c) }) {
			res = append(res, c)
		}
	}

	return res
}
