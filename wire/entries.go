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

import "fmt"

// Typed encoders/decoders for the known discovery payload entries.
// They deal only in plain integers so this leaf package never depends
// on the timeline/session/measurement packages that own the richer
// types built from these bytes.

// EncodeTimeline encodes the (tempo, beatOrigin, timeOrigin) triple.
func EncodeTimeline(microsPerBeat, beatOrigin, timeOrigin int64) []byte {
	w := NewWriter()
	w.Int64(microsPerBeat)
	w.Int64(beatOrigin)
	w.Int64(timeOrigin)
	return w.Bytes()
}

// DecodeTimeline decodes a Timeline entry.
func DecodeTimeline(data []byte) (microsPerBeat, beatOrigin, timeOrigin int64, err error) {
	r := NewReader(data)
	if microsPerBeat, err = r.Int64(); err != nil {
		return 0, 0, 0, fmt.Errorf("decoding timeline tempo: %w", err)
	}
	if beatOrigin, err = r.Int64(); err != nil {
		return 0, 0, 0, fmt.Errorf("decoding timeline beatOrigin: %w", err)
	}
	if timeOrigin, err = r.Int64(); err != nil {
		return 0, 0, 0, fmt.Errorf("decoding timeline timeOrigin: %w", err)
	}
	return microsPerBeat, beatOrigin, timeOrigin, nil
}

// EncodeSessionMembership encodes a SessionId.
func EncodeSessionMembership(id NodeID) []byte {
	return append([]byte(nil), id[:]...)
}

// DecodeSessionMembership decodes a SessionId.
func DecodeSessionMembership(data []byte) (NodeID, error) {
	var id NodeID
	if len(data) != NodeIDSize {
		return id, fmt.Errorf("session membership: expected %d bytes, got %d", NodeIDSize, len(data))
	}
	copy(id[:], data)
	return id, nil
}

// EncodeMeasurementEndpointV4 encodes a dotted-quad IPv4 address and
// UDP port.
func EncodeMeasurementEndpointV4(ip [4]byte, port uint16) []byte {
	w := NewWriter()
	w.RawBytes(ip[:])
	w.Uint16(port)
	return w.Bytes()
}

// DecodeMeasurementEndpointV4 decodes an IPv4 measurement endpoint.
func DecodeMeasurementEndpointV4(data []byte) (ip [4]byte, port uint16, err error) {
	r := NewReader(data)
	raw, err := r.RawBytes(4)
	if err != nil {
		return ip, 0, fmt.Errorf("decoding measurement endpoint address: %w", err)
	}
	copy(ip[:], raw)
	port, err = r.Uint16()
	if err != nil {
		return ip, 0, fmt.Errorf("decoding measurement endpoint port: %w", err)
	}
	return ip, port, nil
}

// EncodeStartStopState encodes isPlaying and its ghost-time
// timestamp.
func EncodeStartStopState(isPlaying bool, timestampMicros int64) []byte {
	w := NewWriter()
	if isPlaying {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
	w.Int64(timestampMicros)
	return w.Bytes()
}

// DecodeStartStopState decodes a StartStopState entry.
func DecodeStartStopState(data []byte) (isPlaying bool, timestampMicros int64, err error) {
	r := NewReader(data)
	flag, err := r.Uint8()
	if err != nil {
		return false, 0, fmt.Errorf("decoding start/stop flag: %w", err)
	}
	timestampMicros, err = r.Int64()
	if err != nil {
		return false, 0, fmt.Errorf("decoding start/stop timestamp: %w", err)
	}
	return flag != 0, timestampMicros, nil
}

// EncodeMicros encodes a bare i64-microseconds entry, used for
// HostTime, GHostTime, and PrevGHostTime.
func EncodeMicros(v int64) []byte {
	w := NewWriter()
	w.Int64(v)
	return w.Bytes()
}

// DecodeMicros decodes a bare i64-microseconds entry.
func DecodeMicros(data []byte) (int64, error) {
	r := NewReader(data)
	v, err := r.Int64()
	if err != nil {
		return 0, fmt.Errorf("decoding micros entry: %w", err)
	}
	return v, nil
}
