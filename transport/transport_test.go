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

package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatIntervalUsesFloorForSmallTTL(t *testing.T) {
	require.Equal(t, HeartbeatDelayFloor/4, HeartbeatIntervalMillis(0))
}

func TestHeartbeatIntervalScalesWithTTL(t *testing.T) {
	got := HeartbeatIntervalMillis(int(MessageTTL))
	require.Equal(t, int(MessageTTL)*1000/ttlRatio, got)
	require.Greater(t, got, HeartbeatDelayFloor/4)
}

func TestScanInterfacesReturnsOnlyIPv4(t *testing.T) {
	addrs, err := ScanInterfaces()
	require.NoError(t, err)
	for _, a := range addrs {
		require.NotNil(t, a.Addr.To4())
		require.NotEmpty(t, a.Key())
	}
}

func TestInterfaceAddrKeyIsStable(t *testing.T) {
	a := InterfaceAddr{Iface: &net.Interface{Name: "eth0"}, Addr: net.IPv4(10, 0, 0, 1)}
	require.Equal(t, a.Key(), a.Key())
}
