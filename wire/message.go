/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"bytes"
	"fmt"
)

// DiscoveryTag is the 7-byte protocol tag of the Link discovery and
// measurement protocol, followed by a one-byte version.
const DiscoveryTag = "_asdp_v"

// DiscoveryVersion is the only version this implementation speaks.
const DiscoveryVersion uint8 = 1

// MessageType enumerates discovery/measurement message types. Names
// match the upstream implementation so wire-compatible peers agree.
type MessageType uint8

// Discovery message types.
const (
	Invalid  MessageType = 0
	Alive    MessageType = 1
	Response MessageType = 2
	ByeBye   MessageType = 3
	Ping     MessageType = 4
	Pong     MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case Invalid:
		return "Invalid"
	case Alive:
		return "Alive"
	case Response:
		return "Response"
	case ByeBye:
		return "ByeBye"
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	default:
		return "Unknown"
	}
}

const headerSize = 1 /*type*/ + 1 /*ttl*/ + 2 /*groupId*/ + NodeIDSize

// Header is the common discovery message header that follows the tag.
type Header struct {
	Type    MessageType
	TTL     uint8
	GroupID uint16
	Ident   NodeID
}

// Message is a fully framed discovery message: tag + version +
// header + TLV payload.
type Message struct {
	Header  Header
	Payload Payload
}

// Encode serializes the message to its wire representation.
func (m Message) Encode() []byte {
	w := NewWriter()
	w.RawBytes([]byte(DiscoveryTag))
	w.Uint8(DiscoveryVersion)
	w.Uint8(uint8(m.Header.Type))
	w.Uint8(m.Header.TTL)
	w.Uint16(m.Header.GroupID)
	w.RawBytes(m.Header.Ident[:])
	w.RawBytes(m.Payload.Encode())
	return w.Bytes()
}

// DecodeMessage parses a framed discovery message from b. It fails if
// the tag doesn't match, if the version byte is absent, if the header
// is truncated, or if the payload fails to parse.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if len(b) < len(DiscoveryTag)+1+headerSize {
		return m, fmt.Errorf("wire: message too short: %d bytes", len(b))
	}
	if !bytes.Equal(b[:len(DiscoveryTag)], []byte(DiscoveryTag)) {
		return m, fmt.Errorf("wire: unrecognized protocol tag %q", b[:len(DiscoveryTag)])
	}
	pos := len(DiscoveryTag)
	version := b[pos]
	if version != DiscoveryVersion {
		return m, fmt.Errorf("wire: unsupported discovery version %d", version)
	}
	pos++
	r := NewReader(b[pos:])
	msgType, err := r.Uint8()
	if err != nil {
		return m, fmt.Errorf("decoding message type: %w", err)
	}
	ttl, err := r.Uint8()
	if err != nil {
		return m, fmt.Errorf("decoding ttl: %w", err)
	}
	groupID, err := r.Uint16()
	if err != nil {
		return m, fmt.Errorf("decoding groupId: %w", err)
	}
	ident, err := r.RawBytes(NodeIDSize)
	if err != nil {
		return m, fmt.Errorf("decoding ident: %w", err)
	}
	m.Header.Type = MessageType(msgType)
	m.Header.TTL = ttl
	m.Header.GroupID = groupID
	copy(m.Header.Ident[:], ident)
	payload, err := DecodePayload(b[pos+headerSize:])
	if err != nil {
		return m, fmt.Errorf("decoding payload: %w", err)
	}
	m.Payload = payload
	return m, nil
}

// ProbeTag reports whether b begins with the discovery protocol tag
// and a supported version byte, without otherwise parsing it. Useful
// for dispatching a raw datagram to the right protocol family before
// fully decoding it.
func ProbeTag(b []byte) bool {
	if len(b) < len(DiscoveryTag)+1 {
		return false
	}
	return bytes.Equal(b[:len(DiscoveryTag)], []byte(DiscoveryTag)) && b[len(DiscoveryTag)] == DiscoveryVersion
}
