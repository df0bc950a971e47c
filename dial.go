/*
 * MIT License
 *
 * Copyright (c) 2024 the chirp authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package chirp

import (
	"net"
	"strconv"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/message"
	"github.com/hengestone/chirp/netproto"
)

// beginConnect implements spec.md §4.3 "Connect path": dial the remote's
// key address, marking it connecting so process_queues doesn't dial twice
// while the attempt is outstanding. The dial itself runs on its own
// goroutine so it never blocks the loop; config.Timeout bounds it via
// net.Dialer, the same budget the wire spec gives write and handshake.
func (n *Node) beginConnect(r *remote) {
	r.connecting = true
	addr := addrString(r.key)
	network := dialNetwork(r.key)
	encrypted := n.shouldEncrypt(r.key)

	go func() {
		d := net.Dialer{Timeout: n.cfg.Timeout}
		raw, err := d.DialContext(n.ctx, network.String(), addr)
		n.post(func() { n.onConnectResult(r, raw, encrypted, err) })
	}()
}

// dialNetwork picks tcp4/tcp6 by the remote's address family, the one
// place chirp turns netproto.NetworkProtocol into an actual net.Dial
// argument (spec.md §4.3 "Connect path").
func dialNetwork(a message.Addr) netproto.NetworkProtocol {
	if a.Family == message.FamilyV6 {
		return netproto.NetworkTCP6
	}
	return netproto.NetworkTCP4
}

// addrString renders a wire Addr as a dial target.
func addrString(a message.Addr) string {
	var ip net.IP
	if a.Family == message.FamilyV4 {
		ip = net.IP(a.IP[:4])
	} else {
		ip = net.IP(a.IP[:16])
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(a.Port)))
}

func (n *Node) onConnectResult(r *remote, raw net.Conn, encrypted bool, err error) {
	r.connecting = false

	if err != nil {
		n.failConnect(r, cerr.CannotConnect.Error(err))
		return
	}

	c, cErr := newConnection(raw, false, encrypted, n.cfg.MaxSlots)
	if cErr != nil {
		_ = raw.Close()
		n.failConnect(r, cerr.ENoMem.Error(cErr))
		return
	}
	c.peer = r.key

	if encrypted {
		tlsCfg, buildErr := n.tlsConfig.Build()
		if buildErr != nil {
			_ = raw.Close()
			n.failConnect(r, cerr.TLSError.Error(buildErr))
			return
		}
		c.raw = buildTLSConn(raw, tlsCfg, true)
	}

	c.armConnectTimeout(n, n.cfg.Timeout)

	n.connectedCount++
	n.metrics.ConnectionsOpen.Inc()
	c.connected = true

	n.sendHandshake(c)
	n.startReader(c)
}

// failConnect aborts the remote's head-of-line message with the dial
// failure and lets the reconnect-debounce window prevent a tight retry
// loop (spec.md §4.3 "Connect path": "re-dispatch the remote so the next
// attempt can proceed").
func (n *Node) failConnect(r *remote, reason cerr.Error) {
	n.log.With(map[string]interface{}{"peer": r.key, "error": reason.Error()}).Warn("dial: connect failed")

	if len(r.control) > 0 {
		m := r.control[0]
		r.control = r.control[1:]
		completeSend(m, reason.Code())
	} else if len(r.data) > 0 {
		m := r.data[0]
		r.data = r.data[1:]
		completeSend(m, reason.Code())
	}

	r.connBlocked = true
	n.proto.reconnectStack = append(n.proto.reconnectStack, r)
	n.metrics.ReconnectDebounce.Inc()
	n.scheduleDebounceDrain()
}
