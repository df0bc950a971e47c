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

// Package message defines chirp's wire carrier: the Message type, its type
// bitset and internal lifecycle flags, and the wire/handshake codecs.
package message

import (
	"sync/atomic"

	"github.com/hengestone/chirp/cerr"
	uuid "github.com/hashicorp/go-uuid"
)

// Identity is the 16-byte opaque identity carried by a message or a node,
// stable across a message's ack round-trip.
type Identity [16]byte

// NewIdentity returns a random Identity, backed by go-uuid (a UUID is
// exactly 16 bytes).
func NewIdentity() (Identity, error) {
	var id Identity
	raw, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return id, err
	}
	copy(id[:], raw)
	return id, nil
}

// IsZero reports whether the identity is the zero value.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// Kind is the message type bitset (spec.md §3/§6).
type Kind uint8

const (
	ReqAck Kind = 1 << iota
	Ack
	Noop
)

func (k Kind) Has(f Kind) bool { return k&f != 0 }

// Flag is the internal lifecycle bitset a Message carries between
// enqueue, dispatch, and release (spec.md §3).
type Flag uint32

const (
	FlagFreeHeader Flag = 1 << iota
	FlagFreeData
	FlagUsed
	FlagAckReceived
	FlagWriteDone
	FlagSendAck
	FlagHasSlot
)

// AddrFamily distinguishes IPv4 from IPv6 peer addresses.
type AddrFamily uint8

const (
	FamilyV4 AddrFamily = iota
	FamilyV6
)

// Addr is the 16-byte peer address carried on a Message/Remote key,
// with an IP-family tag and port (spec.md §3).
type Addr struct {
	Family AddrFamily
	IP     [16]byte
	Port   uint16
}

// Less implements the remote comparison order: family, then address
// bytes, then port (spec.md §3 "Remote").
func (a Addr) Less(b Addr) bool {
	if a.Family != b.Family {
		return a.Family < b.Family
	}
	for i := range a.IP {
		if a.IP[i] != b.IP[i] {
			return a.IP[i] < b.IP[i]
		}
	}
	return a.Port < b.Port
}

// Equal reports whether two addresses compare equal under Less's ordering.
func (a Addr) Equal(b Addr) bool {
	return a.Family == b.Family && a.IP == b.IP && a.Port == b.Port
}

// SendFunc is invoked exactly once per accepted Send, with the final
// status of the message (spec.md §7/§8).
type SendFunc func(msg *Message, status cerr.Code)

// ReleaseFunc is invoked exactly once per slot release, when the host
// opted into the release-callback path.
type ReleaseFunc func(msg *Message)

// Message is chirp's wire carrier (spec.md §3). Its flags field is only
// ever touched from the node's loop goroutine, except FlagUsed, which is
// set with a CAS so Send/SendTS can detect reuse without a race no matter
// which goroutine calls them (see DESIGN.md's Open Question resolution on
// the thread-identity check).
type Message struct {
	Identity Identity
	Serial   uint32
	Kind     Kind

	Header []byte
	Data   []byte

	Peer           Addr
	RemoteIdentity Identity

	UserData interface{}

	SendCB SendFunc

	flags uint32
}

// NewMessage allocates a Message with a fresh random identity.
func NewMessage(kind Kind, header, data []byte) (*Message, error) {
	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	return &Message{Identity: id, Kind: kind, Header: header, Data: data}, nil
}

func (m *Message) HasFlag(f Flag) bool {
	return atomic.LoadUint32(&m.flags)&uint32(f) != 0
}

func (m *Message) SetFlag(f Flag) {
	for {
		old := atomic.LoadUint32(&m.flags)
		if old&uint32(f) != 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&m.flags, old, old|uint32(f)) {
			return
		}
	}
}

func (m *Message) ClearFlag(f Flag) {
	for {
		old := atomic.LoadUint32(&m.flags)
		if old&uint32(f) == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&m.flags, old, old&^uint32(f)) {
			return
		}
	}
}

// MarkUsed atomically sets FlagUsed and reports whether it was the one
// that transitioned it (false means the message was already in use —
// the USED reuse error of spec.md §7/§8).
func (m *Message) MarkUsed() bool {
	for {
		old := atomic.LoadUint32(&m.flags)
		if old&uint32(FlagUsed) != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&m.flags, old, old|uint32(FlagUsed)) {
			return true
		}
	}
}

// Reset clears all flags and buffers, e.g. when a slot is recycled.
func (m *Message) Reset() {
	atomic.StoreUint32(&m.flags, 0)
	m.Identity = Identity{}
	m.Serial = 0
	m.Kind = 0
	m.Header = nil
	m.Data = nil
	m.Peer = Addr{}
	m.RemoteIdentity = Identity{}
	m.UserData = nil
	m.SendCB = nil
}

// HeaderLen and DataLen return the wire lengths, clamped to their wire
// field widths by construction (callers validate against MaxMsgSize
// before Send).
func (m *Message) HeaderLen() uint16 { return uint16(len(m.Header)) }
func (m *Message) DataLen() uint32   { return uint32(len(m.Data)) }
