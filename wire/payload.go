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
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Known discovery payload entry keys (FOURCC, big-endian).
var (
	KeyTimeline             = FourCC("tmln")
	KeySessionMembership    = FourCC("sess")
	KeyMeasurementEndpointV4 = FourCC("mep4")
	KeyStartStopState       = FourCC("stst")
	KeyHostTime             = FourCC("__ht")
	KeyGHostTime            = FourCC("__gt")
	KeyPrevGHostTime        = FourCC("_pgt")
)

// Entry is one TLV payload entry: a FOURCC key and its raw bytes; the
// size field on the wire is len(Data).
type Entry struct {
	Key  uint32
	Data []byte
}

// Payload is an ordered sequence of TLV entries.
type Payload []Entry

// Get returns the first entry matching key, if any.
func (p Payload) Get(key uint32) ([]byte, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Data, true
		}
	}
	return nil, false
}

// Add appends an entry carrying data under key, returning the
// extended payload. This is how two payloads are concatenated into
// one, entry by entry.
func (p Payload) Add(key uint32, data []byte) Payload {
	return append(p, Entry{Key: key, Data: data})
}

// Encode serializes the payload as a sequence of (key: u32, size: u32,
// bytes[size]) entries.
func (p Payload) Encode() []byte {
	w := NewWriter()
	for _, e := range p {
		w.Uint32(e.Key)
		w.Uint32(uint32(len(e.Data)))
		w.RawBytes(e.Data)
	}
	return w.Bytes()
}

// DecodePayload parses a TLV payload out of b. A declared entry size
// that would overrun the buffer is a hard parse failure; an entry with
// an unknown key is not an error: it is logged at debug level and kept
// in the returned payload like any other entry.
func DecodePayload(b []byte) (Payload, error) {
	r := NewReader(b)
	var p Payload
	for r.Remaining() > 0 {
		if r.Remaining() < 8 {
			return nil, fmt.Errorf("wire: truncated TLV entry header, %d bytes left", r.Remaining())
		}
		key, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		size, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		if int(size) > r.Remaining() {
			return nil, fmt.Errorf("wire: TLV entry %08x declares size %d, only %d bytes remain", key, size, r.Remaining())
		}
		data, err := r.RawBytes(int(size))
		if err != nil {
			return nil, err
		}
		if !isKnownKey(key) {
			log.Debugf("wire: skipping unknown TLV key %08x (%d bytes)", key, size)
		}
		p = append(p, Entry{Key: key, Data: append([]byte(nil), data...)})
	}
	return p, nil
}

func isKnownKey(key uint32) bool {
	switch key {
	case KeyTimeline, KeySessionMembership, KeyMeasurementEndpointV4,
		KeyStartStopState, KeyHostTime, KeyGHostTime, KeyPrevGHostTime:
		return true
	default:
		return false
	}
}
