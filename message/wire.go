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

package message

import (
	"encoding/binary"
	"errors"
)

// WireHeaderSize is the fixed, 40-byte padded framed header: 16 bytes
// identity, 4 bytes serial, 1 byte type, 2 bytes header_len, 4 bytes
// data_len (27 meaningful bytes), padded to 40 for alignment. Both sides
// of the wire must agree on this constant (spec.md §6, §9 Open Questions).
const WireHeaderSize = 40

const wireHeaderMeaningful = 16 + 4 + 1 + 2 + 4

// ErrShortHeader is returned by DecodeHeader when fewer than
// WireHeaderSize bytes are available.
var ErrShortHeader = errors.New("message: short wire header")

// WireHeader is the decoded fixed-size prologue of a framed message.
type WireHeader struct {
	Identity  Identity
	Serial    uint32
	Kind      Kind
	HeaderLen uint16
	DataLen   uint32
}

// EncodeHeader serializes a WireHeader into the fixed 40-byte wire form,
// network byte order, zero-padded after the 27 meaningful bytes.
func EncodeHeader(h WireHeader) [WireHeaderSize]byte {
	var buf [WireHeaderSize]byte
	copy(buf[0:16], h.Identity[:])
	binary.BigEndian.PutUint32(buf[16:20], h.Serial)
	buf[20] = byte(h.Kind)
	binary.BigEndian.PutUint16(buf[21:23], h.HeaderLen)
	binary.BigEndian.PutUint32(buf[23:27], h.DataLen)
	// buf[27:40] stays zero padding.
	return buf
}

// DecodeHeader parses the fixed-size wire header from buf, which must
// contain at least WireHeaderSize bytes.
func DecodeHeader(buf []byte) (WireHeader, error) {
	var h WireHeader
	if len(buf) < WireHeaderSize {
		return h, ErrShortHeader
	}
	copy(h.Identity[:], buf[0:16])
	h.Serial = binary.BigEndian.Uint32(buf[16:20])
	h.Kind = Kind(buf[20])
	h.HeaderLen = binary.BigEndian.Uint16(buf[21:23])
	h.DataLen = binary.BigEndian.Uint32(buf[23:27])
	return h, nil
}

// HeaderOf builds the WireHeader prologue for an outgoing message, ready
// for EncodeHeader. Serial must already be stamped by the caller (the
// writer bumps remote.Serial immediately before framing — spec.md §4.3).
func HeaderOf(m *Message) WireHeader {
	return WireHeader{
		Identity:  m.Identity,
		Serial:    m.Serial,
		Kind:      m.Kind,
		HeaderLen: m.HeaderLen(),
		DataLen:   m.DataLen(),
	}
}

// Buffers returns the non-empty scatter-gather buffer list for an
// outgoing message: wire header, then header bytes (if any), then data
// bytes (if any) — spec.md §4.3's "three-part buffer list, zero-length
// entries omitted".
func Buffers(m *Message) [][]byte {
	hdr := EncodeHeader(HeaderOf(m))
	bufs := make([][]byte, 0, 3)
	bufs = append(bufs, hdr[:])
	if len(m.Header) > 0 {
		bufs = append(bufs, m.Header)
	}
	if len(m.Data) > 0 {
		bufs = append(bufs, m.Data)
	}
	return bufs
}
