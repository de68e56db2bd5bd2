// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import "net/netip"

// NewEndpointFunc returns a [Func] that always returns the given [netip.AddrPort].
//
// Use it to bind a fixed peer endpoint at the head of a dial pipeline.
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
