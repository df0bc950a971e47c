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
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/message"
	"github.com/hengestone/chirp/slotpool"
)

// connection is a single TCP (optionally TLS) stream to one remote
// (spec.md §3 "Connection"). The remote, writer and flag fields are only
// ever touched from the node's loop goroutine; the reader and write
// goroutines use raw, pool (which has its own lock) and done.
// shutdownTasks is updated with atomic operations, and both its increment
// and its decrement run on the loop goroutine.
type connection struct {
	raw net.Conn // the net.Conn actually read/written — TLS-wrapped when encrypted

	remote   *remote
	incoming bool

	encrypted      bool
	peer           message.Addr
	remoteIdentity message.Identity
	publicPort     uint16

	pool   *slotpool.Pool
	writer writerState

	connected    bool
	shuttingDown bool
	stopped      bool // true while the reader is paused on slot exhaustion

	lastUsed time.Time

	shutdownTasks int32 // semaphore: >0 while close callbacks are outstanding

	cancelConnectTimeout func()
	done                 chan struct{} // closed once to stop the reader goroutine
	doneOnce             sync.Once
}

// writerState mirrors spec.md §4.3's writer: a single current message, a
// send-timeout timer, and nothing else — the three-stage wire write
// collapses into one net.Buffers.WriteTo call (spec.md §9 "State
// machines": "preserve that collapse").
type writerState struct {
	current *message.Message
	timer   *time.Timer
}

func (w *writerState) busy() bool { return w.current != nil }

func newConnection(raw net.Conn, incoming, encrypted bool, maxSlots int) (*connection, error) {
	pool, err := slotpool.New(maxSlots)
	if err != nil {
		return nil, err
	}
	return &connection{
		raw:       raw,
		incoming:  incoming,
		encrypted: encrypted,
		pool:      pool,
		lastUsed:  time.Now(),
		done:      make(chan struct{}),
	}, nil
}

func (c *connection) touch() { c.lastUsed = time.Now() }

func (c *connection) idleFor() time.Duration { return time.Since(c.lastUsed) }

func (c *connection) stopReader() {
	c.doneOnce.Do(func() { close(c.done) })
}

// armConnectTimeout bounds the time between a socket becoming connected
// and its handshake record arriving (spec.md §4.4 "connect-timeout
// timer"; §4.5 "Cancellation and timeouts": config.Timeout "bounds
// connect, handshake, or write"). onHandshake cancels it on success;
// shutdownConnection cancels it on teardown.
func (c *connection) armConnectTimeout(n *Node, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		n.post(func() {
			n.metrics.MessagesTimedOut.Inc()
			n.log.With(map[string]interface{}{"peer": c.peer}).Warn("connection: connect/handshake timed out")
			n.shutdownConnection(c, cerr.Timeout)
		})
	})
	var once sync.Once
	c.cancelConnectTimeout = func() { once.Do(func() { timer.Stop() }) }
}

// addShutdownTask / finishShutdownTask implement spec.md §3/§5's
// shutdown-task semaphore: the connection is only freed once every
// outstanding close has completed.
func (c *connection) addShutdownTask() { atomic.AddInt32(&c.shutdownTasks, 1) }

func (c *connection) finishShutdownTask() int32 {
	return atomic.AddInt32(&c.shutdownTasks, -1)
}

// buildTLSConn wraps raw in a TLS client or server connection per
// spec.md §4.4 — loopback peers never reach this path (see
// Node.shouldEncrypt).
func buildTLSConn(raw net.Conn, cfg *tls.Config, client bool) net.Conn {
	if client {
		return tls.Client(raw, cfg)
	}
	return tls.Server(raw, cfg)
}

// shutdownConnection tears a connection down (spec.md §4.4 "Shutdown"). It is
// idempotent: a second call returns IN_PROGRESS and changes nothing.
// Runs on the node's loop goroutine.
func (n *Node) shutdownConnection(c *connection, reason cerr.Code) cerr.Error {
	if c.shuttingDown {
		return cerr.InProgress.Error(nil)
	}
	c.shuttingDown = true

	n.log.With(map[string]interface{}{"peer": c.peer, "reason": reason}).Debug("connection: shutting down")
	n.debounceConnection(c)
	delete(n.proto.handshaking, c)
	delete(n.proto.oldConns, c)

	if c.remote != nil && c.remote.conn == c {
		c.remote.conn = nil
	}

	c.stopReader()

	if w := c.writer.current; w != nil {
		completeSend(w, reason)
		c.writer.current = nil
	}
	if c.writer.timer != nil {
		c.writer.timer.Stop()
	}
	if c.remote != nil && c.remote.waitAck != nil {
		completeSend(c.remote.waitAck, reason)
		c.remote.waitAck = nil
	}
	if c.cancelConnectTimeout != nil {
		c.cancelConnectTimeout()
	}

	c.addShutdownTask()
	go func() {
		_ = c.raw.Close()
		n.post(func() {
			c.finishShutdownTask()
			n.metrics.ConnectionsOpen.Dec()
			if n.closing {
				n.closingTasks--
				n.maybeFinishClose()
			}
		})
	}()

	if c.remote != nil {
		n.processQueues(c.remote)
	}

	return nil
}

// debounceConnection marks conn's remote blocked and schedules it onto
// the reconnect-debounce stack (spec.md §4.4 "Debounce").
func (n *Node) debounceConnection(c *connection) {
	if c.remote == nil {
		return
	}
	r := c.remote
	if r.connBlocked {
		return
	}
	r.connBlocked = true
	n.proto.reconnectStack = append(n.proto.reconnectStack, r)
	n.metrics.ReconnectDebounce.Inc()
	n.log.With(map[string]interface{}{"peer": r.key}).Debug("connection: reconnect debounced")
	n.scheduleDebounceDrain()
}
