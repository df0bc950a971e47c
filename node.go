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

// Package chirp is an embeddable point-to-point message-passing library:
// each Node runs a single goroutine that accepts TCP connections and
// dials remote peers on demand, exchanges identity-tagged messages with
// optional application-level acknowledgement, and transparently upgrades
// non-loopback connections to TLS.
//
// The source material's single-threaded event loop (timers, async
// notifications, cross-thread wakeups) is expressed here as one
// goroutine that owns every mutable Remote/Protocol data structure,
// fed by a channel of closures; Send, SendTS, ReleaseMsgSlot and every
// internal I/O completion all hand their work to that goroutine the
// same way, which is why Send and SendTS share one implementation
// (spec.md §9 "Concurrency": "prefer channels over explicit
// mutex+queue... the semantics are identical").
package chirp

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/certs"
	"github.com/hengestone/chirp/chirplog"
	"github.com/hengestone/chirp/config"
	"github.com/hengestone/chirp/message"
	"github.com/hengestone/chirp/metrics"
	"github.com/hengestone/chirp/slotpool"
)

// Version is chirp's library version string (spec.md §6 `chirp_version`).
const Version = "0.1.0"

// RecvFunc is invoked once per delivered message, on the node's loop
// goroutine; the host must eventually call ReleaseMsgSlot unless it
// wants the automatic release-and-ack behavior (leave RecvFunc nil).
type RecvFunc func(msg *message.Message)

// StartFunc/DoneFunc fire exactly once per node lifecycle (spec.md §6).
type StartFunc func(n *Node)
type DoneFunc func(n *Node)

// Node is one running chirp instance (spec.md §3 "Protocol state",
// GLOSSARY "Node"): an event loop, up to two listening sockets, and a
// tree of known remotes.
type Node struct {
	cfg       config.Config
	identity  message.Identity
	tlsConfig *certs.Config

	log     *chirplog.Logger
	recvCB  RecvFunc
	startCB StartFunc
	doneCB  DoneFunc

	metrics *metrics.Collectors

	proto *protocolState

	cmds chan func()
	ctx  context.Context
	stop context.CancelFunc

	publicPort     uint16
	connectedCount int

	closing      bool
	closed       bool
	closingTasks int

	autoStopLoop bool

	wg sync.WaitGroup
}

// New constructs a Node from cfg without starting it; call Run to start
// listening and enter the event loop (spec.md §6 `init`+`run`).
func New(cfg config.Config) (*Node, cerr.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := cfg.Identity
	if id.IsZero() {
		generated, err := message.NewIdentity()
		if err != nil {
			return nil, cerr.InitFail.Error(err)
		}
		id = generated
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:       cfg,
		identity:  id,
		tlsConfig: &cfg.TLS,
		log:       chirplog.Discard(),
		metrics:   metrics.New("chirp"),
		proto:     newProtocolState(),
		cmds:      make(chan func(), 256),
		ctx:       ctx,
		stop:      cancel,
	}
	return n, nil
}

// Run starts the listening sockets and the event-loop goroutine, then
// invokes startCB (spec.md §6 `run`). It returns once the node is
// listening; it does not block for the node's lifetime — call Wait (or
// rely on doneCB) to observe shutdown.
func (n *Node) Run(recv RecvFunc, start StartFunc, done DoneFunc) cerr.Error {
	n.recvCB = recv
	n.startCB = start
	n.doneCB = done

	if err := n.listen(); err != nil {
		return err
	}

	n.scheduleGC()

	n.wg.Add(1)
	go n.loop()

	if n.startCB != nil {
		n.startCB(n)
	}
	return nil
}

// loop is the single goroutine owning every Remote/Protocol/connection
// field not explicitly documented otherwise (spec.md §5 "Scheduling
// model").
func (n *Node) loop() {
	defer n.wg.Done()
	for {
		select {
		case cmd := <-n.cmds:
			cmd()
		case <-n.ctx.Done():
			n.drainPending()
			return
		}
	}
}

func (n *Node) drainPending() {
	for {
		select {
		case cmd := <-n.cmds:
			cmd()
		default:
			return
		}
	}
}

// post hands a closure to the loop goroutine. Safe to call from any
// goroutine, including the loop goroutine itself (re-entrant posts are
// processed on the next iteration, never inline, so ordering stays FIFO).
func (n *Node) post(fn func()) {
	select {
	case n.cmds <- fn:
	case <-n.ctx.Done():
	}
}

// shouldEncrypt implements spec.md §4.4 "TLS": literal loopback peers are
// never encrypted; otherwise TLS applies unless globally disabled.
func (n *Node) shouldEncrypt(peer message.Addr) bool {
	if n.cfg.DisableEncryption {
		return false
	}
	return !isLoopbackAddr(peer)
}

func isLoopbackAddr(a message.Addr) bool {
	switch a.Family {
	case message.FamilyV4:
		return a.IP[0] == 127
	case message.FamilyV6:
		var v6loop [16]byte
		v6loop[15] = 1
		return a.IP == v6loop
	default:
		return false
	}
}

// Send implements spec.md §4.3 "Sending (public)".
func (n *Node) Send(msg *message.Message, cb message.SendFunc) cerr.Code {
	return n.send(msg, cb)
}

// SendTS is the thread-safe variant. Both forward to the same loop
// hand-off (see the package doc comment);
// the name is kept for API parity with spec.md §6.
func (n *Node) SendTS(msg *message.Message, cb message.SendFunc) cerr.Code {
	return n.send(msg, cb)
}

func (n *Node) send(msg *message.Message, cb message.SendFunc) cerr.Code {
	if !msg.MarkUsed() {
		if cb != nil {
			cb(msg, cerr.Used)
		}
		return cerr.Used
	}

	msg.SendCB = cb
	if n.cfg.Synchronous {
		msg.Kind |= message.ReqAck
	}

	queued := make(chan cerr.Code, 1)
	n.post(func() {
		if n.closing || n.closed {
			msg.ClearFlag(message.FlagUsed)
			if cb != nil {
				cb(msg, cerr.Shutdown)
			}
			queued <- cerr.Shutdown
			return
		}
		queued <- n.enqueueSend(msg)
	})
	return <-queued
}

// enqueueSend runs on the loop goroutine: find-or-insert the remote,
// probe if idle, enqueue, and kick process_queues (spec.md §4.3).
func (n *Node) enqueueSend(msg *message.Message) cerr.Code {
	r, ok := n.proto.remotes[msg.Peer]
	if !ok {
		r = newRemote(msg.Peer)
		n.proto.remotes[msg.Peer] = r
	}

	probeThreshold := n.cfg.ReuseTime * 3 / 4
	if r.idleFor() >= probeThreshold {
		if noop, err := message.NewMessage(message.Noop, nil, nil); err == nil {
			noop.Peer = msg.Peer
			noop.MarkUsed()
			r.enqueueControl(noop)
		}
	}

	var wasEmpty bool
	if msg.Kind.Has(message.Ack) || msg.Kind.Has(message.Noop) {
		wasEmpty = r.enqueueControl(msg)
	} else {
		wasEmpty = r.enqueueData(msg)
	}
	r.touch()

	n.processQueues(r)

	if !wasEmpty {
		return cerr.Queued
	}
	return cerr.Success
}

// ReleaseMsgSlot implements spec.md §4.1 "release" from the host side.
func (n *Node) ReleaseMsgSlot(msg *message.Message, cb message.ReleaseFunc) cerr.Code {
	return n.releaseMsgSlot(msg, cb)
}

// ReleaseMsgSlotTs is the thread-safe variant; see Send/SendTS.
func (n *Node) ReleaseMsgSlotTs(msg *message.Message, cb message.ReleaseFunc) cerr.Code {
	return n.releaseMsgSlot(msg, cb)
}

func (n *Node) releaseMsgSlot(msg *message.Message, cb message.ReleaseFunc) cerr.Code {
	if !msg.HasFlag(message.FlagHasSlot) {
		return cerr.ValueError
	}

	done := make(chan cerr.Code, 1)
	n.post(func() {
		c, slot := n.findOwningSlot(msg)
		if c == nil || slot == nil {
			done <- cerr.ValueError
			return
		}
		n.releaseSlot(c, slot, true)
		if cb != nil {
			cb(msg)
		}
		done <- cerr.Success
	})
	return <-done
}

// findOwningSlot locates the connection/slot backing msg.
func (n *Node) findOwningSlot(msg *message.Message) (*connection, *slotpool.Slot) {
	for c := range n.allConnections() {
		if s, ok := c.pool.Find(msg); ok {
			return c, s
		}
	}
	return nil, nil
}

func (n *Node) allConnections() map[*connection]struct{} {
	all := make(map[*connection]struct{})
	for c := range n.proto.handshaking {
		all[c] = struct{}{}
	}
	for c := range n.proto.oldConns {
		all[c] = struct{}{}
	}
	for _, r := range n.proto.remotes {
		if r.conn != nil {
			all[r.conn] = struct{}{}
		}
	}
	return all
}

// CloseTS requests a graceful shutdown (spec.md §6 `close_ts`):
// listeners stop accepting, every remote's queues are aborted with
// SHUTDOWN, every connection is shut down, and doneCB fires once every
// outstanding close has completed (the closing-task semaphore of
// spec.md §5).
func (n *Node) CloseTS() {
	n.post(n.beginClose)
}

func (n *Node) beginClose() {
	if n.closing || n.closed {
		return
	}
	n.closing = true

	for _, ln := range n.proto.listeners {
		_ = ln.Close()
	}
	if n.proto.gcTimer != nil {
		n.proto.gcTimer.Stop()
	}

	conns := n.allConnections()
	n.closingTasks = len(conns)
	n.closeFreeRemotes(false)
	for c := range conns {
		if !c.shuttingDown {
			n.shutdownConnection(c, cerr.Shutdown)
		}
	}
	n.maybeFinishClose()
}

func (n *Node) maybeFinishClose() {
	if !n.closing || n.closingTasks > 0 {
		return
	}
	if n.closed {
		return
	}
	n.closed = true
	if n.doneCB != nil {
		n.doneCB(n)
	}
	n.stop()
}

// Wait blocks until the loop goroutine exits, e.g. after CloseTS.
func (n *Node) Wait() { n.wg.Wait() }

// SetAutoStopLoop sets the node's auto-stop flag. Nothing in this package
// or in cmd/chirpd reads the flag: cmd/chirpd installs its SIGINT/SIGTERM
// handling based on config.Config.DisableSignals alone.
func (n *Node) SetAutoStopLoop() { n.autoStopLoop = true }

// SetRecvCallback installs (or replaces) the receive callback.
func (n *Node) SetRecvCallback(cb RecvFunc) {
	n.post(func() { n.recvCB = cb })
}

// SetPublicPort overrides the port advertised in the handshake record,
// useful behind NAT/port-forwarding.
func (n *Node) SetPublicPort(port uint16) {
	n.post(func() { n.publicPort = port })
}

// SetLogCallback installs the host's log sink (spec.md §6 `log_cb`).
func (n *Node) SetLogCallback(fn chirplog.Func) {
	n.log.SetHook(fn)
}

// GetIdentity returns this node's 16-byte wire identity.
func (n *Node) GetIdentity() message.Identity { return n.identity }

// GetPublicPort returns the port this node listens on (resolved from an
// ephemeral config.Port == 0 once Run has bound the socket).
func (n *Node) GetPublicPort() uint16 { return n.publicPort }

// Metrics exposes this node's Prometheus collectors for a host to
// register on its own registry (SPEC_FULL.md "Metrics").
func (n *Node) Metrics() []prometheus.Collector { return n.metrics.Collect() }
