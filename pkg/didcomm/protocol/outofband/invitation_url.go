/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
)

// Query parameters carrying encoded invitations.
const (
	OOBQueryParam            = "oob"
	LegacyQueryParam         = "c_i"
	ConnectionlessQueryParam = "d_m"
)

// InvitationURL returns domain with inv encoded in the 'oob' query parameter.
func InvitationURL(domain string, inv *Invitation) (string, error) {
	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("invitation url domain: %w", err)
	}

	raw, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("marshal invitation: %w", err)
	}

	q := u.Query()
	q.Set(OOBQueryParam, base64.URLEncoding.EncodeToString(raw))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// LegacyInvitationURL returns domain with inv encoded in the 'c_i' query parameter.
func LegacyInvitationURL(domain string, inv *LegacyInvitation) (string, error) {
	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("invitation url domain: %w", err)
	}

	raw, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("marshal legacy invitation: %w", err)
	}

	q := u.Query()
	q.Set(LegacyQueryParam, base64.URLEncoding.EncodeToString(raw))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ParseInvitationURL decodes the invitation carried by an invitation URL. Out-of-band, Connections and
// connection-less ('d_m') encodings are accepted.
func ParseInvitationURL(invitationURL string) (*Invitation, error) {
	u, err := url.Parse(invitationURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}

	q := u.Query()

	for _, param := range []string{OOBQueryParam, LegacyQueryParam} {
		if v := q.Get(param); v != "" {
			raw, err := decodeParam(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidInvitation, param, err)
			}

			return ParseInvitation(raw)
		}
	}

	if v := q.Get(ConnectionlessQueryParam); v != "" {
		raw, err := decodeParam(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidInvitation, ConnectionlessQueryParam, err)
		}

		msg, err := service.ParseDIDCommMsgMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
		}

		return ConnectionlessInvitation(msg)
	}

	return nil, fmt.Errorf("%w: url has none of the %s, %s or %s parameters", ErrInvalidInvitation,
		OOBQueryParam, LegacyQueryParam, ConnectionlessQueryParam)
}

func decodeParam(v string) ([]byte, error) {
	var lastErr error

	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding,
		base64.RawStdEncoding} {
		raw, err := enc.DecodeString(v)
		if err == nil {
			return raw, nil
		}

		lastErr = err
	}

	return nil, lastErr
}
