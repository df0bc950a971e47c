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
	"time"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/message"
)

// remote is a known peer endpoint, keyed by (family, address, port)
// (spec.md §3 "Remote"). All fields are touched only from the node's loop
// goroutine.
type remote struct {
	key message.Addr

	conn *connection

	control []*message.Message // acks/noops, always dispatched first
	data    []*message.Message

	waitAck *message.Message // single in-flight REQ_ACK message

	serial      uint32
	connBlocked bool
	connecting  bool
	lastUsed    time.Time
}

func newRemote(key message.Addr) *remote {
	return &remote{key: key, lastUsed: time.Now()}
}

func (r *remote) touch() { r.lastUsed = time.Now() }

func (r *remote) idleFor() time.Duration { return time.Since(r.lastUsed) }

// enqueueControl appends an ack/noop to the control queue. Control
// messages bypass the ack-throttle and are always preferred over data
// (spec.md §3, §4.3 step 4).
func (r *remote) enqueueControl(m *message.Message) (wasEmpty bool) {
	wasEmpty = len(r.control) == 0
	r.control = append(r.control, m)
	return wasEmpty
}

// enqueueData appends a data message to the data queue.
func (r *remote) enqueueData(m *message.Message) (wasEmpty bool) {
	wasEmpty = len(r.data) == 0
	r.data = append(r.data, m)
	return wasEmpty
}

func (r *remote) nextSerial() uint32 {
	r.serial++
	return r.serial
}

// abortQueues fails every queued and in-flight message with status,
// invoking each send callback exactly once (spec.md §4.5 "Close down",
// "Garbage collection").
func (r *remote) abortQueues(status cerr.Code) {
	for _, m := range r.control {
		completeSend(m, status)
	}
	for _, m := range r.data {
		completeSend(m, status)
	}
	r.control = nil
	r.data = nil

	if r.waitAck != nil {
		completeSend(r.waitAck, status)
		r.waitAck = nil
	}
}

func completeSend(m *message.Message, status cerr.Code) {
	m.ClearFlag(message.FlagUsed)
	if m.SendCB != nil {
		m.SendCB(m, status)
	}
}

// dispatchResult is the outcome of processQueues (spec.md §4.3
// "process_queues"), mirrored as BUSY/EMPTY/a dequeued message to write.
type dispatchResult uint8

const (
	dispatchBusy dispatchResult = iota
	dispatchEmpty
	dispatchWrite
	dispatchConnect
)

// processQueues implements spec.md §4.3's per-remote dispatcher. It is
// called on every state change that might free a slot for writing: after
// enqueue, after a write finishes, after a connection becomes available.
func (n *Node) processQueues(r *remote) {
	for {
		result, msg := r.step(n.cfg.Synchronous)
		switch result {
		case dispatchEmpty, dispatchBusy:
			return
		case dispatchConnect:
			n.beginConnect(r)
			return
		case dispatchWrite:
			if !n.beginWrite(r, msg) {
				return
			}
			// beginWrite kicked off an async write; the next processQueues
			// call happens when the writer reports completion.
			return
		}
	}
}

// step evaluates one round of spec.md §4.3's numbered dispatch rules
// against the current remote state, without touching the connection.
func (r *remote) step(synchronous bool) (dispatchResult, *message.Message) {
	if r.conn == nil {
		if r.connBlocked || r.connecting {
			return dispatchBusy, nil
		}
		if len(r.control) > 0 || len(r.data) > 0 {
			return dispatchConnect, nil
		}
		return dispatchEmpty, nil
	}
	if !r.conn.connected || r.conn.shuttingDown {
		return dispatchBusy, nil
	}
	if r.conn.writer.busy() {
		return dispatchBusy, nil
	}

	if len(r.control) > 0 {
		m := r.control[0]
		r.control = r.control[1:]
		return dispatchWrite, m
	}

	if len(r.data) > 0 {
		if synchronous && r.waitAck != nil {
			return dispatchBusy, nil
		}
		m := r.data[0]
		r.data = r.data[1:]
		return dispatchWrite, m
	}

	return dispatchEmpty, nil
}
