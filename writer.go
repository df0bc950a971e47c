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
	"time"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/message"
)

// beginWrite implements spec.md §4.3 "Algorithm": stamp the serial, frame
// the message, start the send-timeout, and issue the scatter-gather
// write. The actual syscall happens on its own goroutine so the node's
// loop goroutine is never blocked on I/O; completion is reported back
// through n.post, preserving the "single thread owns connection/remote
// state" model (spec.md §5).
func (n *Node) beginWrite(r *remote, msg *message.Message) bool {
	c := r.conn
	if c == nil || c.writer.busy() {
		return false
	}

	msg.Serial = r.nextSerial()
	bufs := message.Buffers(msg)

	c.writer.current = msg
	c.writer.timer = time.AfterFunc(n.cfg.Timeout, func() {
		n.post(func() { n.onWriteTimeout(c) })
	})

	go func() {
		nb := net.Buffers(bufs)
		_, err := nb.WriteTo(c.raw)
		n.post(func() { n.onWriteDone(c, msg, err) })
	}()

	return true
}

func (n *Node) onWriteTimeout(c *connection) {
	if c.writer.current == nil {
		return // already completed between timer fire and this callback
	}
	n.metrics.MessagesTimedOut.Inc()
	n.log.With(map[string]interface{}{"peer": c.peer}).Warn("writer: send timed out")
	n.shutdownConnection(c, cerr.Timeout)
}

// onWriteDone implements the tail of spec.md §4.3 "Algorithm": on
// success and when ack is not required, synthesize ACK_RECEIVED; set
// WRITE_DONE; stamp timestamps; call finish_message. The ACK_RECEIVED
// synthesis rule follows spec.md §9's resolved Open Question: synthesize
// iff REQ_ACK is not set, regardless of any global synchronous flag.
func (n *Node) onWriteDone(c *connection, msg *message.Message, err error) {
	if c.writer.timer != nil {
		c.writer.timer.Stop()
	}
	c.writer.current = nil

	if err != nil {
		n.log.With(map[string]interface{}{"peer": c.peer, "error": err.Error()}).Warn("writer: write failed")
		n.shutdownConnection(c, cerr.WriteError)
		return
	}

	msg.SetFlag(message.FlagWriteDone)
	if !msg.Kind.Has(message.ReqAck) {
		msg.SetFlag(message.FlagAckReceived)
	} else if c.remote != nil {
		c.remote.waitAck = msg
	}

	c.touch()
	if c.remote != nil {
		c.remote.touch()
	}
	n.metrics.MessagesSent.Inc()

	n.finishMessage(c.remote, msg)
}

// finishMessage implements spec.md §4.3 "finish_message": when both
// WRITE_DONE and ACK_RECEIVED are set, clear USED, fire the send callback
// and clear the remote's waitAck; always re-run process_queues. It does
// not touch the send-timeout, which onWriteDone already stopped when the
// write completed.
func (n *Node) finishMessage(r *remote, msg *message.Message) {
	if msg.HasFlag(message.FlagWriteDone) && msg.HasFlag(message.FlagAckReceived) {
		status := cerr.Success
		msg.ClearFlag(message.FlagUsed)
		if msg.SendCB != nil {
			msg.SendCB(msg, status)
		}
		if r != nil && r.waitAck == msg {
			r.waitAck = nil
		}
	}
	if r != nil {
		n.processQueues(r)
	}
}
