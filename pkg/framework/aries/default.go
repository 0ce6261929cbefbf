/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package aries

import (
	"fmt"
	"net/http"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/didexchange"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/legacyconnection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/trustping"
	arieshttp "github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport/http"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries/api"
)

// defFrameworkOpts provides default framework options.
func defFrameworkOpts(frameworkOpts *Aries) error {
	if len(frameworkOpts.outboundTransports) == 0 {
		outbound, err := arieshttp.NewOutbound(arieshttp.WithOutboundHTTPClient(&http.Client{}))
		if err != nil {
			return fmt.Errorf("http outbound transport initialization failed: %w", err)
		}

		frameworkOpts.outboundTransports = append(frameworkOpts.outboundTransports, outbound)
	}

	if frameworkOpts.storeProvider == nil {
		frameworkOpts.storeProvider = mem.NewProvider()
	}

	// order is important: both handshake protocols register with the out-of-band service, in the order
	// they are preferred when an invitation leaves the choice to us
	frameworkOpts.protocolSvcCreators = append(frameworkOpts.protocolSvcCreators,
		newExchangeSvc(), newLegacyConnectionSvc(), newTrustPingSvc())

	return nil
}

func newExchangeSvc() api.ProtocolSvcCreator {
	return func(prv api.Provider) (api.ProtocolService, error) {
		svc, err := didexchange.New(prv)
		if err != nil {
			return nil, err
		}

		return svc, nil
	}
}

func newLegacyConnectionSvc() api.ProtocolSvcCreator {
	return func(prv api.Provider) (api.ProtocolService, error) {
		svc, err := legacyconnection.New(prv)
		if err != nil {
			return nil, err
		}

		return svc, nil
	}
}

func newTrustPingSvc() api.ProtocolSvcCreator {
	return func(prv api.Provider) (api.ProtocolService, error) {
		return trustping.New(prv), nil
	}
}
