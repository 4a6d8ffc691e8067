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
)

// InterfaceAddr pairs a usable local interface with the IPv4 address
// a Gateway should bind to on it.
type InterfaceAddr struct {
	Iface *net.Interface
	Addr  net.IP
}

// ScanInterfaces enumerates the current usable IPv4 interface
// addresses: up, multicast-capable, and carrying an assigned IPv4
// address. The Controller diffs this set against its live gateways
// every 5 seconds to create or destroy them (spec §4.3).
func ScanInterfaces() ([]InterfaceAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []InterfaceAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			out = append(out, InterfaceAddr{Iface: ifaceCopy(iface), Addr: ip4})
		}
	}
	return out, nil
}

func ifaceCopy(iface net.Interface) *net.Interface {
	i := iface
	return &i
}

// Key returns a stable identifier for diffing scans against live
// gateways: the interface name plus bound address.
func (a InterfaceAddr) Key() string {
	return a.Iface.Name + "|" + a.Addr.String()
}
