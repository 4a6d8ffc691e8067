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

// Package transport implements the per-interface discovery Gateway:
// a multicast receive socket joined on one local IPv4 interface, a
// unicast send/receive socket used for measurement and Response
// traffic, and the heartbeat cadence that keeps this node's presence
// advertised on the multicast group.
//
// This is the one corner of the implementation the PTP side of the
// teacher codebase never needed: PTP there is unicast-only, so the
// multicast group join comes from golang.org/x/net/ipv4 rather than
// from a pattern already present in the teacher.
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/ableton-link/link/wire"
)

// MulticastAddr is the Link discovery multicast group and port.
const MulticastAddr = "224.76.78.75:20808"

// MessageTTL is the ttl field value stamped on every Alive broadcast:
// how many seconds the registry should consider a peer's
// advertisement valid for.
const MessageTTL uint8 = 5

// ttlRatio divides MessageTTL (in milliseconds) to get the heartbeat
// period: a peer's advertisement is refreshed 20 times within its own
// ttl, tolerating lost datagrams (spec §4.3: 5s ttl, 250ms heartbeat).
const ttlRatio = 20

// HeartbeatDelayFloor bounds the broadcast interval from below,
// regardless of ttl, so a very small ttl can't spin the heartbeat loop
// too tight; the actual minimum interval is a quarter of it (50ms).
const HeartbeatDelayFloor = 200 // milliseconds

// HeartbeatIntervalMillis returns the broadcast interval: the greater
// of the delay floor / 4 and ttlSeconds*1000/ttlRatio (spec §4.3).
func HeartbeatIntervalMillis(ttlSeconds int) int {
	floor := HeartbeatDelayFloor / 4
	byTTL := ttlSeconds * 1000 / ttlRatio
	if byTTL > floor {
		return byTTL
	}
	return floor
}

// Gateway bundles the multicast and unicast sockets bound to one
// local IPv4 address.
type Gateway struct {
	LocalAddr net.IP

	multicast   *ipv4.PacketConn
	multicastIf *net.Interface
	unicast     *net.UDPConn
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket before
// bind, so more than one Gateway can share the multicast port 20808 on
// the same host.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// NewGateway opens a Gateway bound to localAddr on iface: a multicast
// socket joined to MulticastAddr, and a unicast socket on an ephemeral
// port for measurement and Response traffic.
func NewGateway(iface *net.Interface, localAddr net.IP) (*Gateway, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	mc, err := lc.ListenPacket(context.Background(), "udp4", "0.0.0.0:20808")
	if err != nil {
		return nil, fmt.Errorf("transport: binding multicast socket on %s: %w", iface.Name, err)
	}
	pc := ipv4.NewPacketConn(mc)
	groupAddr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: resolving multicast group: %w", err)
	}
	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: groupAddr.IP}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: joining multicast group on %s: %w", iface.Name, err)
	}
	if err := pc.SetMulticastInterface(iface); err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: setting outbound multicast interface %s: %w", iface.Name, err)
	}
	loopback := iface.Flags&net.FlagLoopback != 0
	if err := pc.SetMulticastLoopback(loopback); err != nil {
		log.Warnf("transport: setting multicast loopback on %s: %v", iface.Name, err)
	}

	uc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: localAddr, Port: 0})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: binding unicast socket on %s: %w", localAddr, err)
	}

	return &Gateway{
		LocalAddr:   localAddr,
		multicast:   pc,
		multicastIf: iface,
		unicast:     uc,
	}, nil
}

// Close tears down both sockets.
func (g *Gateway) Close() error {
	err1 := g.multicast.Close()
	err2 := g.unicast.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SendMulticast sends b (already encoded, per wire.MaxDatagramSize) to
// the discovery multicast group.
func (g *Gateway) SendMulticast(b []byte) error {
	if len(b) > wire.MaxDatagramSize {
		return fmt.Errorf("transport: datagram of %d bytes exceeds max %d", len(b), wire.MaxDatagramSize)
	}
	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return err
	}
	_, err = g.multicast.WriteTo(b, nil, addr)
	return err
}

// SendUnicast sends b to a specific peer address via the unicast
// socket.
func (g *Gateway) SendUnicast(b []byte, addr *net.UDPAddr) error {
	if len(b) > wire.MaxDatagramSize {
		return fmt.Errorf("transport: datagram of %d bytes exceeds max %d", len(b), wire.MaxDatagramSize)
	}
	_, err := g.unicast.WriteToUDP(b, addr)
	return err
}

// ReceiveMulticast blocks for the next multicast datagram.
func (g *Gateway) ReceiveMulticast(buf []byte) (n int, src net.Addr, err error) {
	n, _, src, err = g.multicast.ReadFrom(buf)
	return n, src, err
}

// ReceiveUnicast blocks for the next unicast datagram.
func (g *Gateway) ReceiveUnicast(buf []byte) (n int, src *net.UDPAddr, err error) {
	return g.unicast.ReadFromUDP(buf)
}

// MeasurementEndpoint returns the IPv4 address and port peers should
// target to measure this node, suitable for EncodeMeasurementEndpointV4.
func (g *Gateway) MeasurementEndpoint() (ip [4]byte, port uint16) {
	copy(ip[:], g.LocalAddr.To4())
	port = uint16(g.unicast.LocalAddr().(*net.UDPAddr).Port)
	return ip, port
}
