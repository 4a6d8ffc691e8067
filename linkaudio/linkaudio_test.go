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

package linkaudio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ableton-link/link/wire"
)

func TestPeerAnnouncementRoundTrip(t *testing.T) {
	id, err := wire.NewNodeID()
	require.NoError(t, err)
	sid, err := wire.NewNodeID()
	require.NoError(t, err)

	m := PeerAnnouncementMsg{
		Header:    Header{Type: PeerAnnouncement, TTL: 5, Ident: id},
		SessionID: sid,
		PeerName:  "studio-left",
		Channels:  []string{"click", "vocals"},
	}
	decoded, err := DecodePeerAnnouncement(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestAudioBufferRoundTrip(t *testing.T) {
	id, err := wire.NewNodeID()
	require.NoError(t, err)
	sid, err := wire.NewNodeID()
	require.NoError(t, err)

	m := AudioBufferMsg{
		Header:        Header{Type: AudioBuffer, TTL: 1, Ident: id},
		SessionID:     sid,
		Channel:       "click",
		BeatAtStart:   4_000_000,
		MicrosPerBeat: 500_000,
		Samples:       []int16{0, 100, -100, 32767, -32768},
	}
	decoded, err := DecodeAudioBuffer(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestProbeTagRejectsDiscoveryFrame(t *testing.T) {
	require.False(t, ProbeTag([]byte("_asdp_v\x01")))
	require.True(t, ProbeTag([]byte("chnnlsv\x01")))
}

func TestChannelRequestRoundTrip(t *testing.T) {
	id, err := wire.NewNodeID()
	require.NoError(t, err)
	m := ChannelRequestMsg{Header: Header{Type: ChannelRequest, Ident: id}, Channel: "click"}
	decoded, err := DecodeChannelRequest(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}
