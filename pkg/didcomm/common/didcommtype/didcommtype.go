/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didcommtype parses DIDComm '@type' and protocol URIs and decides whether a
// locally supported identifier can accept an incoming one.
//
// A message type has the form <doc-uri>/<protocol-name>/<major>.<minor>/<message-name>; a protocol
// URI drops the trailing message name. Identifiers are compatible when the document URI, the protocol
// name and the major version are equal. Minor versions may differ.
package didcommtype

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// LegacyDIDSovPrefix is the document URI prefix used by early Aries agents.
	LegacyDIDSovPrefix = "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec"
	// DIDCommPrefix replaces LegacyDIDSovPrefix when types are normalised.
	DIDCommPrefix = "https://didcomm.org"
)

var (
	protocolURIRegex = regexp.MustCompile(`^(.+)/([^/\\]+)/(\d+)\.(\d+)$`)
	messageTypeRegex = regexp.MustCompile(`^(.+)/([^/\\]+)/(\d+)\.(\d+)/([^/\\]+)$`)
)

// ErrInvalidMessageType is returned when a '@type' or protocol URI cannot be parsed.
var ErrInvalidMessageType = errors.New("invalid message type")

// ProtocolURI is a normalised protocol identifier.
type ProtocolURI struct {
	DocumentURI  string
	ProtocolName string
	MajorVersion int
	MinorVersion int
}

// ParseProtocolURI parses a protocol URI such as https://didcomm.org/didexchange/1.1.
func ParseProtocolURI(uri string) (ProtocolURI, error) {
	match := protocolURIRegex.FindStringSubmatch(ReplaceLegacyDIDSovPrefix(uri))
	if match == nil {
		return ProtocolURI{}, fmt.Errorf("%w: protocol uri '%s'", ErrInvalidMessageType, uri)
	}

	return newProtocolURI(match[1], match[2], match[3], match[4])
}

// MustParseProtocolURI is like ParseProtocolURI but panics on malformed input. Use it for
// package-level constants only.
func MustParseProtocolURI(uri string) ProtocolURI {
	p, err := ParseProtocolURI(uri)
	if err != nil {
		panic(err)
	}

	return p
}

func newProtocolURI(doc, name, major, minor string) (ProtocolURI, error) {
	maj, err := strconv.Atoi(major)
	if err != nil {
		return ProtocolURI{}, fmt.Errorf("%w: major version '%s'", ErrInvalidMessageType, major)
	}

	mnr, err := strconv.Atoi(minor)
	if err != nil {
		return ProtocolURI{}, fmt.Errorf("%w: minor version '%s'", ErrInvalidMessageType, minor)
	}

	return ProtocolURI{
		DocumentURI:  doc,
		ProtocolName: name,
		MajorVersion: maj,
		MinorVersion: mnr,
	}, nil
}

// Version returns "<major>.<minor>".
func (p ProtocolURI) Version() string {
	return fmt.Sprintf("%d.%d", p.MajorVersion, p.MinorVersion)
}

func (p ProtocolURI) String() string {
	return fmt.Sprintf("%s/%s/%s", p.DocumentURI, p.ProtocolName, p.Version())
}

// Supports reports whether a handler declared for p can process the incoming protocol.
func (p ProtocolURI) Supports(incoming ProtocolURI) bool {
	return p.DocumentURI == incoming.DocumentURI &&
		p.ProtocolName == incoming.ProtocolName &&
		p.MajorVersion == incoming.MajorVersion
}

// MessageType is a parsed '@type'.
type MessageType struct {
	ProtocolURI
	MessageName string
}

// ParseMessageType parses a message '@type'. The legacy did:sov prefix is normalised first.
func ParseMessageType(t string) (MessageType, error) {
	match := messageTypeRegex.FindStringSubmatch(ReplaceLegacyDIDSovPrefix(t))
	if match == nil {
		return MessageType{}, fmt.Errorf("%w: '%s'", ErrInvalidMessageType, t)
	}

	p, err := newProtocolURI(match[1], match[2], match[3], match[4])
	if err != nil {
		return MessageType{}, err
	}

	return MessageType{ProtocolURI: p, MessageName: match[5]}, nil
}

// MustParseMessageType is like ParseMessageType but panics on malformed input.
func MustParseMessageType(t string) MessageType {
	m, err := ParseMessageType(t)
	if err != nil {
		panic(err)
	}

	return m
}

func (m MessageType) String() string {
	return m.ProtocolURI.String() + "/" + m.MessageName
}

// Supports reports whether a handler declared for m can process the incoming message type.
func (m MessageType) Supports(incoming MessageType) bool {
	return m.ProtocolURI.Supports(incoming.ProtocolURI) && m.MessageName == incoming.MessageName
}

// ReplaceLegacyDIDSovPrefix rewrites the did:sov document URI to https://didcomm.org.
func ReplaceLegacyDIDSovPrefix(t string) string {
	if strings.HasPrefix(t, LegacyDIDSovPrefix) {
		return DIDCommPrefix + strings.TrimPrefix(t, LegacyDIDSovPrefix)
	}

	return t
}

// ToLegacyDIDSovPrefix rewrites an https://didcomm.org type to the did:sov form.
func ToLegacyDIDSovPrefix(t string) string {
	if strings.HasPrefix(t, DIDCommPrefix) {
		return LegacyDIDSovPrefix + strings.TrimPrefix(t, DIDCommPrefix)
	}

	return t
}
