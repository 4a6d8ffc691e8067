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

// Package linkaudio implements the wire boundary of the LinkAudio
// extension: channel announcement and PCM transport message framing.
// Per spec §1 this is covered at interface level only — no channel
// mixing, buffering, or audio engine lives here, only the types and
// codecs a real engine would sit behind.
package linkaudio

import (
	"bytes"
	"fmt"

	"github.com/ableton-link/link/wire"
)

// Tag is the 7-byte protocol tag of the LinkAudio protocol, distinct
// from the discovery protocol's tag and dispatched on separately so
// the two FOURCC namespaces are never confused (see spec §9).
const Tag = "chnnlsv"

// Version is the only LinkAudio wire version this implementation
// speaks.
const Version uint8 = 1

// MessageType enumerates LinkAudio message types. Names match the
// upstream implementation, including its "Invalid=0, ... Pong=2, ..."
// numbering, which intentionally does not line up with discovery's
// MessageType values despite the shared English names.
type MessageType uint8

// LinkAudio message types.
const (
	Invalid            MessageType = 0
	PeerAnnouncement   MessageType = 1
	Pong               MessageType = 2
	ChannelByes        MessageType = 3
	ChannelRequest     MessageType = 4
	StopChannelRequest MessageType = 5
	AudioBuffer        MessageType = 6
)

// Header is the common LinkAudio message header that follows the tag.
type Header struct {
	Type    MessageType
	TTL     uint8
	GroupID uint16
	Ident   wire.NodeID
}

const headerSize = 1 + 1 + 2 + wire.NodeIDSize

func encodeHeader(w *wire.Writer, h Header) {
	w.Uint8(uint8(h.Type))
	w.Uint8(h.TTL)
	w.Uint16(h.GroupID)
	w.RawBytes(h.Ident[:])
}

func decodeHeader(r *wire.Reader) (Header, error) {
	var h Header
	t, err := r.Uint8()
	if err != nil {
		return h, err
	}
	ttl, err := r.Uint8()
	if err != nil {
		return h, err
	}
	gid, err := r.Uint16()
	if err != nil {
		return h, err
	}
	ident, err := r.RawBytes(wire.NodeIDSize)
	if err != nil {
		return h, err
	}
	h.Type = MessageType(t)
	h.TTL = ttl
	h.GroupID = gid
	copy(h.Ident[:], ident)
	return h, nil
}

// ProbeTag reports whether b begins with the LinkAudio tag and a
// supported version byte.
func ProbeTag(b []byte) bool {
	if len(b) < len(Tag)+1 {
		return false
	}
	return bytes.Equal(b[:len(Tag)], []byte(Tag)) && b[len(Tag)] == Version
}

// PeerAnnouncementMsg advertises a node's identity, the session it
// belongs to, a human-readable name, and the channels it offers.
type PeerAnnouncementMsg struct {
	Header    Header
	SessionID wire.NodeID
	PeerName  string
	Channels  []string
}

// Encode serializes a PeerAnnouncementMsg.
func (m PeerAnnouncementMsg) Encode() []byte {
	w := wire.NewWriter()
	w.RawBytes([]byte(Tag))
	w.Uint8(Version)
	encodeHeader(w, m.Header)
	w.RawBytes(m.SessionID[:])
	w.String(m.PeerName)
	w.Uint32(uint32(len(m.Channels)))
	for _, c := range m.Channels {
		w.String(c)
	}
	return w.Bytes()
}

// DecodePeerAnnouncement parses a PeerAnnouncementMsg.
func DecodePeerAnnouncement(b []byte) (PeerAnnouncementMsg, error) {
	var m PeerAnnouncementMsg
	if !ProbeTag(b) {
		return m, fmt.Errorf("linkaudio: not a LinkAudio frame")
	}
	r := wire.NewReader(b[len(Tag)+1:])
	h, err := decodeHeader(r)
	if err != nil {
		return m, fmt.Errorf("decoding header: %w", err)
	}
	m.Header = h
	sid, err := r.RawBytes(wire.NodeIDSize)
	if err != nil {
		return m, fmt.Errorf("decoding session id: %w", err)
	}
	copy(m.SessionID[:], sid)
	name, err := r.String()
	if err != nil {
		return m, fmt.Errorf("decoding peer name: %w", err)
	}
	m.PeerName = name
	n, err := r.Uint32()
	if err != nil {
		return m, fmt.Errorf("decoding channel count: %w", err)
	}
	m.Channels = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := r.String()
		if err != nil {
			return m, fmt.Errorf("decoding channel %d: %w", i, err)
		}
		m.Channels = append(m.Channels, c)
	}
	return m, nil
}

// ChannelRequestMsg asks a peer to start streaming a named channel.
type ChannelRequestMsg struct {
	Header  Header
	Channel string
}

// Encode serializes a ChannelRequestMsg.
func (m ChannelRequestMsg) Encode() []byte {
	w := wire.NewWriter()
	w.RawBytes([]byte(Tag))
	w.Uint8(Version)
	encodeHeader(w, m.Header)
	w.String(m.Channel)
	return w.Bytes()
}

// DecodeChannelRequest parses a ChannelRequestMsg.
func DecodeChannelRequest(b []byte) (ChannelRequestMsg, error) {
	var m ChannelRequestMsg
	if !ProbeTag(b) {
		return m, fmt.Errorf("linkaudio: not a LinkAudio frame")
	}
	r := wire.NewReader(b[len(Tag)+1:])
	h, err := decodeHeader(r)
	if err != nil {
		return m, fmt.Errorf("decoding header: %w", err)
	}
	m.Header = h
	ch, err := r.String()
	if err != nil {
		return m, fmt.Errorf("decoding channel: %w", err)
	}
	m.Channel = ch
	return m, nil
}

// StopChannelRequestMsg asks a peer to stop streaming a channel.
type StopChannelRequestMsg struct {
	Header  Header
	Channel string
}

// Encode serializes a StopChannelRequestMsg.
func (m StopChannelRequestMsg) Encode() []byte {
	w := wire.NewWriter()
	w.RawBytes([]byte(Tag))
	w.Uint8(Version)
	encodeHeader(w, m.Header)
	w.String(m.Channel)
	return w.Bytes()
}

// ChannelByesMsg announces that the sender is tearing down one or
// more channels, the LinkAudio analogue of discovery's ByeBye.
type ChannelByesMsg struct {
	Header   Header
	Channels []string
}

// Encode serializes a ChannelByesMsg.
func (m ChannelByesMsg) Encode() []byte {
	w := wire.NewWriter()
	w.RawBytes([]byte(Tag))
	w.Uint8(Version)
	encodeHeader(w, m.Header)
	w.Uint32(uint32(len(m.Channels)))
	for _, c := range m.Channels {
		w.String(c)
	}
	return w.Bytes()
}

// AudioBufferMsg carries one chunk of interleaved 16-bit PCM, tagged
// with the beat and tempo it starts at and gated by session id: a
// receiver must discard buffers whose SessionID doesn't match the
// session it currently believes it's in.
type AudioBufferMsg struct {
	Header       Header
	SessionID    wire.NodeID
	Channel      string
	BeatAtStart  int64 // micro-beats, per spec's beat encoding
	MicrosPerBeat int64
	Samples      []int16
}

// Encode serializes an AudioBufferMsg. Callers are responsible for
// keeping the result under wire.MaxDatagramSize; LinkAudio streams
// PCM in small chunks for exactly this reason.
func (m AudioBufferMsg) Encode() []byte {
	w := wire.NewWriter()
	w.RawBytes([]byte(Tag))
	w.Uint8(Version)
	encodeHeader(w, m.Header)
	w.RawBytes(m.SessionID[:])
	w.String(m.Channel)
	w.Int64(m.BeatAtStart)
	w.Int64(m.MicrosPerBeat)
	w.Uint32(uint32(len(m.Samples)))
	for _, s := range m.Samples {
		w.Uint16(uint16(s))
	}
	return w.Bytes()
}

// DecodeAudioBuffer parses an AudioBufferMsg.
func DecodeAudioBuffer(b []byte) (AudioBufferMsg, error) {
	var m AudioBufferMsg
	if !ProbeTag(b) {
		return m, fmt.Errorf("linkaudio: not a LinkAudio frame")
	}
	r := wire.NewReader(b[len(Tag)+1:])
	h, err := decodeHeader(r)
	if err != nil {
		return m, fmt.Errorf("decoding header: %w", err)
	}
	m.Header = h
	sid, err := r.RawBytes(wire.NodeIDSize)
	if err != nil {
		return m, fmt.Errorf("decoding session id: %w", err)
	}
	copy(m.SessionID[:], sid)
	ch, err := r.String()
	if err != nil {
		return m, fmt.Errorf("decoding channel: %w", err)
	}
	m.Channel = ch
	beat, err := r.Int64()
	if err != nil {
		return m, fmt.Errorf("decoding beat: %w", err)
	}
	m.BeatAtStart = beat
	tempo, err := r.Int64()
	if err != nil {
		return m, fmt.Errorf("decoding tempo: %w", err)
	}
	m.MicrosPerBeat = tempo
	n, err := r.Uint32()
	if err != nil {
		return m, fmt.Errorf("decoding sample count: %w", err)
	}
	m.Samples = make([]int16, n)
	for i := range m.Samples {
		v, err := r.Uint16()
		if err != nil {
			return m, fmt.Errorf("decoding sample %d: %w", i, err)
		}
		m.Samples[i] = int16(v)
	}
	return m, nil
}
