/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/kms"
)

var logger = log.New("aries-framework/mediator")

// Routing is how other agents reach a freshly created recipient key.
type Routing struct {
	Endpoint     string
	RoutingKeys  []string
	RecipientKey string
	MediatorID   string
}

// Service hands out recipient keys together with the endpoint and routing keys they are reachable at.
type Service struct {
	kms      kms.KeyManager
	endpoint string
	mediator ProtocolService
}

// NewService returns a routing service for keys created in km. mediator may be nil when the agent has
// no mediator and is reachable at endpoint directly.
func NewService(km kms.KeyManager, endpoint string, mediator ProtocolService) *Service {
	return &Service{kms: km, endpoint: endpoint, mediator: mediator}
}

// Endpoint returns the agent's own endpoint.
func (s *Service) Endpoint() string {
	return s.endpoint
}

// GetRouting creates a new recipient key. When mediatorID is set the key is registered with that mediator and
// the mediator's endpoint and routing keys are returned.
func (s *Service) GetRouting(mediatorID string) (*Routing, error) {
	recKey, _, err := s.kms.Create()
	if err != nil {
		return nil, fmt.Errorf("create recipient key: %w", err)
	}

	r := &Routing{Endpoint: s.endpoint, RecipientKey: recKey, MediatorID: mediatorID}

	if mediatorID == "" {
		return r, nil
	}

	endpoint, routingKeys, err := GetRouterConfig(s.mediator, mediatorID, s.endpoint)
	if err != nil {
		return nil, err
	}

	r.Endpoint = endpoint
	r.RoutingKeys = routingKeys

	if err := AddKeyToRouter(s.mediator, mediatorID, recKey); err != nil {
		return nil, err
	}

	return r, nil
}

// RemoveRouting unregisters recipient keys from the mediator.
func (s *Service) RemoveRouting(mediatorID string, recipientKeys []string) error {
	if mediatorID == "" || s.mediator == nil {
		return nil
	}

	var errs []error

	for _, k := range recipientKeys {
		if err := s.mediator.RemoveKey(mediatorID, k); err != nil && !errors.Is(err, ErrRouterNotRegistered) {
			errs = append(errs, fmt.Errorf("remove key %s: %w", k, err))
		}
	}

	return errors.Join(errs...)
}

// GetRouterConfig returns the mediator endpoint and routing keys, or defaultEndpoint when no mediator is
// registered under mediatorID.
func GetRouterConfig(routeSvc ProtocolService, mediatorID, defaultEndpoint string) (string, []string, error) {
	if routeSvc == nil {
		return defaultEndpoint, nil, nil
	}

	conf, err := routeSvc.Config(mediatorID)
	if err != nil {
		if errors.Is(err, ErrRouterNotRegistered) {
			logger.Debugf("no mediator registered as %s, using %s", mediatorID, defaultEndpoint)

			return defaultEndpoint, nil, nil
		}

		return "", nil, fmt.Errorf("fetch router config: %w", err)
	}

	return conf.Endpoint, conf.RoutingKeys, nil
}

// AddKeyToRouter registers recKey with the mediator. A missing mediator is not an error.
func AddKeyToRouter(routeSvc ProtocolService, mediatorID, recKey string) error {
	if routeSvc == nil {
		return nil
	}

	if err := routeSvc.AddKey(mediatorID, recKey); err != nil && !errors.Is(err, ErrRouterNotRegistered) {
		return fmt.Errorf("addKey: %w", err)
	}

	return nil
}
