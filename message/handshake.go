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

import "encoding/binary"

// HandshakeSize is the fixed application-level handshake record sent
// immediately after TCP (or TLS) is up: 2 bytes public port, 16 bytes node
// identity (spec.md §4.4, §6). It is orthogonal to the TLS handshake.
const HandshakeSize = 2 + 16

// EncodeHandshake serializes the handshake payload.
func EncodeHandshake(port uint16, id Identity) [HandshakeSize]byte {
	var buf [HandshakeSize]byte
	binary.BigEndian.PutUint16(buf[0:2], port)
	copy(buf[2:], id[:])
	return buf
}

// DecodeHandshake parses the handshake payload. buf must contain exactly
// (or at least) HandshakeSize bytes; a short buffer is a PROTOCOL_ERROR
// at the reader (spec.md §4.2 HANDSHAKE state).
func DecodeHandshake(buf []byte) (port uint16, id Identity, ok bool) {
	if len(buf) < HandshakeSize {
		return 0, id, false
	}
	port = binary.BigEndian.Uint16(buf[0:2])
	copy(id[:], buf[2:HandshakeSize])
	return port, id, true
}
