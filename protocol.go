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
	"math/rand"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/message"
	"github.com/hengestone/chirp/slotpool"
)

// protocolState is the per-node root of spec.md §3 "Protocol state": the
// listening sockets, the remote tree, the old-connections and
// handshake-in-progress sets, and the reconnect-debounce stack.
type protocolState struct {
	listeners []net.Listener

	remotes map[message.Addr]*remote

	oldConns    map[*connection]struct{}
	handshaking map[*connection]struct{}

	reconnectStack []*remote
	debounceTimer  *time.Timer

	gcTimer *time.Timer
}

func newProtocolState() *protocolState {
	return &protocolState{
		remotes:     make(map[message.Addr]*remote),
		oldConns:    make(map[*connection]struct{}),
		handshaking: make(map[*connection]struct{}),
	}
}

// listen binds and listens on both v4 and v6 per spec.md §4.5 "Start"
// and §6 "Listen addresses": two sockets are always opened at
// config.Port, one bound to BindV4 (zero = 0.0.0.0) and one to BindV6
// (zero = ::, IPV6_V6ONLY so the two sockets never collide). Bind
// failures are reported as EADDRINUSE.
//
// net.ListenConfig has no backlog knob, so both sockets are built by
// hand with golang.org/x/sys/unix (the same package SO_REUSEADDR uses
// below) and handed to net.FileListener once listening.
func (n *Node) listen() cerr.Error {
	ln4, err := n.listenRaw(unix.AF_INET, n.cfg.BindV4[:], false)
	if err != nil {
		return cerr.EAddrInUse.Error(err)
	}
	n.proto.listeners = append(n.proto.listeners, ln4)
	n.publicPort = uint16(ln4.Addr().(*net.TCPAddr).Port)
	go n.acceptLoop(ln4)

	ln6, err := n.listenRaw(unix.AF_INET6, n.cfg.BindV6[:], true)
	if err != nil {
		return cerr.EAddrInUse.Error(err)
	}
	n.proto.listeners = append(n.proto.listeners, ln6)
	go n.acceptLoop(ln6)

	n.log.With(map[string]interface{}{"port": n.publicPort, "backlog": n.cfg.Backlog}).Info("protocol: listening")

	return nil
}

// listenRaw builds one listening socket: SO_REUSEADDR so a restarted
// node can rebind immediately instead of waiting out TIME_WAIT, bind to
// addr:config.Port, IPV6_V6ONLY when requested, and listen with
// config.Backlog (spec.md §6 "BACKLOG ... 0-127").
func (n *Node) listenRaw(family int, addr []byte, v6only bool) (net.Listener, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		var a [4]byte
		copy(a[:], addr)
		sa = &unix.SockaddrInet4{Port: int(n.cfg.Port), Addr: a}
	} else {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, boolToInt(v6only)); err != nil {
			unix.Close(fd)
			return nil, err
		}
		var a [16]byte
		copy(a[:], addr)
		sa = &unix.SockaddrInet6{Port: int(n.cfg.Port), Addr: a}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	backlog := n.cfg.Backlog
	if backlog <= 0 {
		backlog = 1
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// net.FileListener dups the descriptor into the returned Listener;
	// closing f afterward releases this function's copy, not the
	// listener's.
	f := os.NewFile(uintptr(fd), "chirp-listener")
	ln, err := net.FileListener(f)
	f.Close()
	return ln, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// acceptLoop runs on its own goroutine per listener (spec.md §4.5
// "Accept"); every accepted socket is handed to the loop goroutine to
// become a connection in the handshake set.
func (n *Node) acceptLoop(ln net.Listener) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return // listener closed during node shutdown
		}
		if tcp, ok := raw.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(30 * time.Second)
		}
		n.post(func() { n.acceptConnection(raw) })
	}
}

func (n *Node) acceptConnection(raw net.Conn) {
	peer := peerAddrOf(raw.RemoteAddr())
	encrypted := n.shouldEncrypt(peer)

	c, err := newConnection(raw, true, encrypted, n.cfg.MaxSlots)
	if err != nil {
		_ = raw.Close()
		return
	}
	c.peer = peer

	if encrypted {
		tlsCfg, err := n.tlsConfig.Build()
		if err != nil {
			n.log.Warn("accept: tls config build failed")
			_ = raw.Close()
			return
		}
		c.raw = buildTLSConn(raw, tlsCfg, false)
	}

	c.armConnectTimeout(n, n.cfg.Timeout)

	n.proto.handshaking[c] = struct{}{}
	n.connectedCount++
	n.metrics.ConnectionsOpen.Inc()
	c.connected = true

	n.sendHandshake(c)
	n.startReader(c)
}

// sendHandshake writes the application-level handshake record
// (spec.md §4.4 "Handshake payload"). The write is issued from its own
// goroutine, so the caller (the loop goroutine) never blocks on it; for a
// TLS connection that first Write also drives the TLS handshake.
func (n *Node) sendHandshake(c *connection) {
	buf := message.EncodeHandshake(n.publicPort, n.identity)
	go func() {
		_, _ = c.raw.Write(buf[:])
	}()
}

// onHandshake implements spec.md §4.2 "HANDSHAKE" state, running on the
// loop goroutine.
func (n *Node) onHandshake(c *connection, port uint16, id message.Identity) {
	if c.cancelConnectTimeout != nil {
		c.cancelConnectTimeout()
	}
	if c.incoming {
		delete(n.proto.handshaking, c)
	}

	c.publicPort = port
	c.remoteIdentity = id
	c.peer.Port = port

	r, ok := n.proto.remotes[c.peer]
	if !ok {
		r = newRemote(c.peer)
		n.proto.remotes[c.peer] = r
		n.metrics.RemotesTracked.Set(float64(len(n.proto.remotes)))
	}

	// Network-race resolution (spec.md §4.5): the connection whose
	// handshake completes later wins; the previous current connection
	// is moved to old-connections for GC.
	if r.conn != nil && r.conn != c {
		prev := r.conn
		n.proto.oldConns[prev] = struct{}{}
		prev.remote = nil
	}
	r.conn = c
	c.remote = r
	r.touch()

	n.processQueues(r)
}

func (n *Node) onNoop(c *connection) {
	c.touch()
	if c.remote != nil {
		c.remote.touch()
	}
}

func (n *Node) onAck(c *connection, id message.Identity) {
	c.touch()
	r := c.remote
	if r == nil || r.waitAck == nil || r.waitAck.Identity != id {
		return // no matching in-flight message; ignore per spec.md §4.2 WAIT
	}
	r.touch()
	msg := r.waitAck
	msg.SetFlag(message.FlagAckReceived)
	n.metrics.MessagesAcked.Inc()
	n.finishMessage(r, msg)
}

// deliverSlot implements spec.md §4.2 "Delivery": mark WAIT, update
// timestamps, take a pool reference, invoke recv or auto-release.
func (n *Node) deliverSlot(c *connection, slot *slotpool.Slot) {
	c.touch()
	if c.remote != nil {
		c.remote.touch()
	}
	c.pool.Ref()

	msg := &slot.Msg
	msg.Peer = c.peer
	msg.RemoteIdentity = c.remoteIdentity

	if n.recvCB != nil {
		n.recvCB(msg)
	} else {
		n.releaseSlot(c, slot, true)
	}
}

// releaseSlot implements the user-facing release path (spec.md §4.1
// "release", §4.2 "Delivery"): clear the slot, drop the pool reference
// taken at delivery, and — if the message had REQ_ACK set — enqueue an
// ack back to the sender.
func (n *Node) releaseSlot(c *connection, slot *slotpool.Slot, sendAck bool) {
	if sendAck && slot.Msg.HasFlag(message.FlagSendAck) && c.remote != nil {
		ack, err := message.NewMessage(message.Ack, nil, nil)
		if err == nil {
			ack.Identity = slot.Msg.Identity
			ack.Peer = c.peer
			c.remote.enqueueControl(ack)
			n.processQueues(c.remote)
		}
	}

	_ = c.pool.Release(slot.ID)
	// This Unref matches the Ref taken in deliverSlot: the pool keeps the
	// connection alive from the host's point of view until release.
	c.pool.Unref()
}

// scheduleDebounceDrain arms the one-shot reconnect-debounce timer
// (spec.md §4.4 "Debounce": 50-550 ms).
func (n *Node) scheduleDebounceDrain() {
	if n.proto.debounceTimer != nil {
		return
	}
	delay := 50*time.Millisecond + time.Duration(rand.Intn(500))*time.Millisecond
	n.proto.debounceTimer = time.AfterFunc(delay, func() {
		n.post(n.drainDebounce)
	})
}

func (n *Node) drainDebounce() {
	n.proto.debounceTimer = nil
	stack := n.proto.reconnectStack
	n.proto.reconnectStack = nil
	n.log.With(map[string]interface{}{"remotes": len(stack)}).Debug("protocol: draining reconnect debounce")
	for _, r := range stack {
		r.connBlocked = false
		n.processQueues(r)
	}
}

// scheduleGC arms the garbage-collection sweep timer with a fuzzed
// interval in [ReuseTime/2, ReuseTime] (spec.md §4.5 "Start").
func (n *Node) scheduleGC() {
	lo := n.cfg.ReuseTime / 2
	jitter := time.Duration(0)
	if n.cfg.ReuseTime > lo {
		jitter = time.Duration(rand.Int63n(int64(n.cfg.ReuseTime - lo)))
	}
	n.proto.gcTimer = time.AfterFunc(lo+jitter, func() {
		n.post(n.gcSweep)
	})
}

// gcSweep implements spec.md §4.5 "Garbage collection".
func (n *Node) gcSweep() {
	n.metrics.GCSweeps.Inc()
	n.log.With(map[string]interface{}{"remotes": len(n.proto.remotes), "oldConns": len(n.proto.oldConns)}).Debug("protocol: gc sweep")

	for c := range n.proto.oldConns {
		if c.idleFor() >= n.cfg.ReuseTime {
			delete(n.proto.oldConns, c)
			n.shutdownConnection(c, cerr.Shutdown)
		}
	}

	for key, r := range n.proto.remotes {
		if r.connBlocked {
			continue
		}
		if r.idleFor() < n.cfg.ReuseTime {
			continue
		}
		r.abortQueues(cerr.Shutdown)
		if r.conn != nil {
			r.connBlocked = true
			n.shutdownConnection(r.conn, cerr.Shutdown)
		}
		delete(n.proto.remotes, key)
	}

	n.metrics.RemotesTracked.Set(float64(len(n.proto.remotes)))

	if !n.closing {
		n.scheduleGC()
	}
}

// closeFreeRemotes implements spec.md §4.5 "Close down". onlyConns=true
// leaves remotes in place (their queues are still aborted with SHUTDOWN);
// the node's own close path passes false.
func (n *Node) closeFreeRemotes(onlyConns bool) {
	for key, r := range n.proto.remotes {
		r.abortQueues(cerr.Shutdown)
		if r.conn != nil {
			n.shutdownConnection(r.conn, cerr.Shutdown)
		}
		if !onlyConns {
			delete(n.proto.remotes, key)
		}
	}
	n.proto.reconnectStack = nil
}

func peerAddrOf(a net.Addr) message.Addr {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return message.Addr{}
	}
	var out message.Addr
	if ip4 := tcp.IP.To4(); ip4 != nil {
		out.Family = message.FamilyV4
		copy(out.IP[:], ip4)
	} else {
		out.Family = message.FamilyV6
		copy(out.IP[:], tcp.IP.To16())
	}
	out.Port = uint16(tcp.Port)
	return out
}
