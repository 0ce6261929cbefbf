/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package defaults

import (
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport/http"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport/ws"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries"
	"github.com/hyperledger/aries-handshake-go/pkg/storage/sqlite"
)

// WithStorePath return new default store provider instantiate with db path.
func WithStorePath(storePath string) aries.Option {
	return func(opts *aries.Aries) error {
		if storePath == "" {
			return errors.New("storage initialization failed : store path is empty")
		}

		return aries.WithStoreProvider(leveldb.NewProvider(storePath))(opts)
	}
}

// WithSQLiteStore returns a store provider keeping every record in the sqlite database at dbPath.
func WithSQLiteStore(dbPath string) aries.Option {
	return func(opts *aries.Aries) error {
		storeProv, err := sqlite.NewProvider(dbPath)
		if err != nil {
			return fmt.Errorf("storage initialization failed : %w", err)
		}

		return aries.WithStoreProvider(storeProv)(opts)
	}
}

// WithInboundHTTPAddr return new default inbound transport.
func WithInboundHTTPAddr(internalAddr, externalAddr string) aries.Option {
	return func(opts *aries.Aries) error {
		inbound, err := http.NewInbound(internalAddr, externalAddr)
		if err != nil {
			return fmt.Errorf("http inbound transport initialization failed : %w", err)
		}

		return aries.WithInboundTransport(inbound)(opts)
	}
}

// WithInboundWSAddr return new default inbound transport.
func WithInboundWSAddr(internalAddr, externalAddr string) aries.Option {
	return func(opts *aries.Aries) error {
		inbound, err := ws.NewInbound(internalAddr, externalAddr)
		if err != nil {
			return fmt.Errorf("ws inbound transport initialization failed : %w", err)
		}

		return aries.WithInboundTransport(inbound)(opts)
	}
}
