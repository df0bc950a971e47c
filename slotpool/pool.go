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

// Package slotpool implements chirp's bounded per-connection receive-slot
// pool — the one place a connection's reader exerts backpressure on the
// TCP stream (spec.md §4.1).
package slotpool

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hengestone/chirp/message"
)

// MaxSlots is the hard ceiling on a pool's capacity (spec.md §4.1, §6).
const MaxSlots = 32

// Slot is a fixed-capacity receive cell: a Message plus two inline scratch
// buffers sized for the common case, so most inbound frames need no heap
// allocation for their header/data (spec.md §3 "Slot").
type Slot struct {
	ID   uint8
	Msg  message.Message
	hbuf [32]byte
	dbuf [512]byte

	pool *Pool
	used bool
}

// HeaderScratch returns the inline header scratch buffer.
func (s *Slot) HeaderScratch() []byte { return s.hbuf[:] }

// DataScratch returns the inline data scratch buffer.
func (s *Slot) DataScratch() []byte { return s.dbuf[:] }

// Pool is a bounded, reference-counted array of Slots. The owning
// connection holds one reference for its own lifetime; every Acquire
// implicitly holds a second reference released by the matching Release,
// so the pool outlives the connection whenever a slot is held past
// teardown (spec.md §4.1).
type Pool struct {
	mu    sync.Mutex
	slots []Slot
	free  *bitset.BitSet
	max   uint
	used  uint
	refs  int32

	freed chan struct{}
}

// New allocates a Pool with max slots (1..=32), holding one initial
// reference for the owning connection.
func New(max int) (*Pool, error) {
	if max < 1 || max > MaxSlots {
		return nil, fmt.Errorf("slotpool: max slots must be in 1..=%d, got %d", MaxSlots, max)
	}

	p := &Pool{
		slots: make([]Slot, max),
		free:  bitset.New(uint(max)),
		max:   uint(max),
		refs:  1,
		freed: make(chan struct{}, 1),
	}
	for i := range p.slots {
		p.slots[i].ID = uint8(i)
		p.slots[i].pool = p
		p.free.Set(uint(i))
	}
	return p, nil
}

// Acquire claims the lowest-numbered free slot, zero-initializes its
// message, and stamps FlagHasSlot. It returns ok=false when the pool is
// exhausted (spec.md §4.1, §4.2 SLOT state).
func (p *Pool) Acquire() (slot *Slot, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, found := nextSet(p.free, 0)
	if !found {
		return nil, false
	}

	p.free.Clear(idx)
	p.used++
	p.refs++

	s := &p.slots[idx]
	s.Msg.Reset()
	s.Msg.SetFlag(message.FlagHasSlot)
	s.used = true
	return s, true
}

// Release returns slot to the free set. Releasing an already-free slot is
// a programmer error: it is reported (via the returned error) and
// otherwise ignored without corrupting pool state (spec.md §4.1, §8
// idempotence).
func (p *Pool) Release(id uint8) error {
	p.mu.Lock()
	if int(id) >= len(p.slots) {
		p.mu.Unlock()
		return fmt.Errorf("slotpool: invalid slot id %d", id)
	}

	s := &p.slots[id]
	if !s.used {
		p.mu.Unlock()
		return fmt.Errorf("slotpool: double release of slot %d", id)
	}

	s.used = false
	p.free.Set(uint(id))
	p.used--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}

	p.Unref()
	return nil
}

// Freed returns the channel a reader blocked on an exhausted pool should
// wait on: a release sends a non-blocking signal, waking exactly one
// waiter to retry Acquire (spec.md §4.1 "Rationale" — the reader restarts
// when a slot becomes free).
func (p *Pool) Freed() <-chan struct{} { return p.freed }

// Find locates the Slot whose embedded Message is msg, e.g. to map a
// message the host is holding back to the slot it must be released to
// (spec.md §4.1 "release"). Ok is false if no acquired slot matches.
func (p *Pool) Find(msg *message.Message) (*Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].used && &p.slots[i].Msg == msg {
			return &p.slots[i], true
		}
	}
	return nil, false
}

// IsExhausted reports whether every slot is currently acquired.
func (p *Pool) IsExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used >= p.max
}

// Len returns the pool's capacity.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.max)
}

// Ref takes an additional reference on the pool, e.g. when the reader
// hands a delivered slot to the host so the pool survives connection
// teardown until the host releases it (spec.md §4.2 "Delivery").
func (p *Pool) Ref() {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
}

// Unref drops a reference, freeing the pool once it reaches zero. Free
// is a no-op beyond internal bookkeeping in Go (the backing arrays are
// garbage collected), but the refcount discipline still matters: it is
// what lets a held Slot observably keep the Pool "alive" from the host's
// point of view.
func (p *Pool) Unref() (freed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	return p.refs <= 0
}

func nextSet(b *bitset.BitSet, from uint) (uint, bool) {
	idx, ok := b.NextSet(from)
	return idx, ok
}
