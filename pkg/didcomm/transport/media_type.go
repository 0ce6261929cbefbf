/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

// Media types of packed DIDComm messages.
const (
	// MediaTypeSignedEnvelope is the media type of envelopes produced by the packager.
	MediaTypeSignedEnvelope = "application/didcomm-signed+json"
	// MediaTypeRFC0019EncryptedEnvelope is the DIDComm v1 encrypted envelope.
	MediaTypeRFC0019EncryptedEnvelope = "application/didcomm-envelope-enc"
	// MediaTypeLegacyWire is the pre-RFC0044 agent wire type.
	MediaTypeLegacyWire = "application/ssi-agent-wire"
)

// IsSupportedMediaType reports whether inbound transports accept payloads of content type ct.
func IsSupportedMediaType(ct string) bool {
	switch ct {
	case MediaTypeSignedEnvelope, MediaTypeRFC0019EncryptedEnvelope, MediaTypeLegacyWire:
		return true
	default:
		return false
	}
}
