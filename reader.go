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
	"bufio"
	"io"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/message"
	"github.com/hengestone/chirp/slotpool"
)

// startReader launches the per-connection frame reader goroutine
// implementing spec.md §4.2's HANDSHAKE → WAIT → SLOT → HEADER → DATA
// state machine. Go's blocking net.Conn reads let each state be a
// straight-line io.ReadFull instead of the source's partial-read resume
// records (spec.md §9 "State machines" — the sum-type/resume-record
// shape is preserved in spirit: each read either completes a state or
// the goroutine is torn down by done/shutdown; the explicit byte-count
// bookkeeping is unneeded here because io.ReadFull already owns it).
func (n *Node) startReader(c *connection) {
	go func() {
		br := bufio.NewReader(c.raw)

		if !n.readHandshake(c, br) {
			return
		}

		for {
			select {
			case <-c.done:
				return
			default:
			}

			if !n.readFrame(c, br) {
				return
			}
		}
	}()
}

func (n *Node) readHandshake(c *connection, br *bufio.Reader) bool {
	buf := make([]byte, message.HandshakeSize)
	if _, err := io.ReadFull(br, buf); err != nil {
		n.log.With(map[string]interface{}{"stage": "handshake", "error": err.Error()}).Debug("reader: handshake read failed")
		n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
		return false
	}

	port, id, ok := message.DecodeHandshake(buf)
	if !ok {
		n.log.Warn("reader: malformed handshake record")
		n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
		return false
	}

	n.post(func() { n.onHandshake(c, port, id) })
	return true
}

// readFrame reads exactly one WAIT→(SLOT→HEADER→DATA) cycle.
func (n *Node) readFrame(c *connection, br *bufio.Reader) bool {
	hbuf := make([]byte, message.WireHeaderSize)
	if _, err := io.ReadFull(br, hbuf); err != nil {
		n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
		return false
	}

	wh, err := message.DecodeHeader(hbuf)
	if err != nil {
		n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
		return false
	}

	total := uint64(wh.HeaderLen) + uint64(wh.DataLen)
	if total > uint64(n.cfg.MaxMsgSize) {
		n.log.With(map[string]interface{}{"size": total, "max": n.cfg.MaxMsgSize}).Warn("reader: frame exceeds max message size")
		n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
		return false
	}

	isControl := wh.Kind.Has(message.Ack) || wh.Kind.Has(message.Noop)
	if isControl && (wh.HeaderLen != 0 || wh.DataLen != 0 || wh.Kind.Has(message.ReqAck)) {
		n.log.Warn("reader: malformed control frame")
		n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
		return false
	}

	if wh.Kind.Has(message.Noop) {
		n.post(func() { n.onNoop(c) })
		return true
	}
	if wh.Kind.Has(message.Ack) {
		n.post(func() { n.onAck(c, wh.Identity) })
		return true
	}

	slot, ok := n.acquireSlot(c)
	if !ok {
		return false // connection was shut down while waiting for a slot
	}

	slot.Msg.Identity = wh.Identity
	slot.Msg.Serial = wh.Serial
	slot.Msg.Kind = wh.Kind
	if wh.Kind.Has(message.ReqAck) {
		slot.Msg.SetFlag(message.FlagSendAck)
	}

	if wh.HeaderLen > 0 {
		header, err := n.readBody(br, int(wh.HeaderLen), slot.HeaderScratch())
		if err != nil {
			n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
			return false
		}
		slot.Msg.Header = header
	}
	if wh.DataLen > 0 {
		data, err := n.readBody(br, int(wh.DataLen), slot.DataScratch())
		if err != nil {
			n.post(func() { n.shutdownConnection(c, cerr.ProtocolError) })
			return false
		}
		slot.Msg.Data = data
	}

	n.post(func() { n.deliverSlot(c, slot) })
	return true
}

// readBody copies n bytes into scratch if it fits, otherwise allocates
// (spec.md §4.2 HEADER/DATA: "copy into the slot's inline buffer if it
// fits ... otherwise allocate and set FREE_HEADER or FREE_DATA" — the
// Go GC reclaims the allocation, so no explicit free flag bookkeeping is
// needed here).
func (n *Node) readBody(br *bufio.Reader, size int, scratch []byte) ([]byte, error) {
	var buf []byte
	if size <= len(scratch) {
		buf = scratch[:size]
	} else {
		buf = make([]byte, size)
	}
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// acquireSlot blocks the reader goroutine until a slot is available or
// the connection is torn down, implementing spec.md §4.1's backpressure:
// "when the pool is empty the reader stops the read stream; when a slot
// becomes free the reader is restarted".
func (n *Node) acquireSlot(c *connection) (*slotpool.Slot, bool) {
	for {
		if s, ok := c.pool.Acquire(); ok {
			return s, true
		}
		n.metrics.SlotPoolExhausted.Inc()
		n.post(func() {
			c.stopped = true
			n.log.Debug("reader: slot pool exhausted, pausing stream")
		})
		select {
		case <-c.pool.Freed():
			n.post(func() { c.stopped = false })
		case <-c.done:
			return nil, false
		}
	}
}
