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

// helpers_test.go provides shared node-startup and address helpers for the
// scenario suite, mirroring the teacher's helper_test.go convention of one
// shared file of BDD fixtures per package.
package chirp_test

import (
	"sync"
	"time"

	chirp "github.com/hengestone/chirp"
	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/config"
	"github.com/hengestone/chirp/message"

	. "github.com/onsi/gomega"
)

// v4Addr builds a loopback-or-routable IPv4 message.Addr for test traffic.
func v4Addr(a, b, c, d byte, port uint16) message.Addr {
	var ip [16]byte
	ip[0], ip[1], ip[2], ip[3] = a, b, c, d
	return message.Addr{Family: message.FamilyV4, IP: ip, Port: port}
}

func loopback(port uint16) message.Addr {
	return v4Addr(127, 0, 0, 1, port)
}

// startNode validates cfg, constructs a Node, and runs it with recv, failing
// the spec if either step errors. The caller is responsible for CloseTS.
func startNode(cfg config.Config, recv chirp.RecvFunc) *chirp.Node {
	n, err := chirp.New(cfg)
	Expect(err).To(BeNil())

	runErr := n.Run(recv, nil, nil)
	Expect(runErr).To(BeNil())
	return n
}

func stopNode(n *chirp.Node) {
	if n == nil {
		return
	}
	n.CloseTS()
	n.Wait()
}

// echoRecv replies to every delivered message with its own data on the
// same remote, then releases the slot — the fixture used by the loopback
// round-trip and network-race scenarios.
func echoRecv(n *chirp.Node) chirp.RecvFunc {
	return func(msg *message.Message) {
		reply := &message.Message{
			Identity: msg.Identity,
			Kind:     msg.Kind &^ message.ReqAck,
			Data:     append([]byte(nil), msg.Data...),
			Peer:     msg.Peer,
		}
		_ = n.Send(reply, nil)
		_ = n.ReleaseMsgSlot(msg, nil)
	}
}

// delayedReleaseRecv releases each delivered message only after delay,
// simulating the host doing slow application work before freeing a slot
// (spec.md §8 scenarios 2 and 6).
func delayedReleaseRecv(n *chirp.Node, delay func(), onDeliver func(*message.Message)) chirp.RecvFunc {
	return func(msg *message.Message) {
		if onDeliver != nil {
			onDeliver(msg)
		}
		delay()
		_ = n.ReleaseMsgSlot(msg, nil)
	}
}

// callbackRecorder collects Send/recv callback invocations under a mutex so
// Eventually can poll it from the Ginkgo goroutine without racing the
// node's own loop goroutine.
type callbackRecorder struct {
	mu    sync.Mutex
	codes []cerr.Code
	times []time.Time
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{}
}

func (r *callbackRecorder) record(code cerr.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
	r.times = append(r.times, time.Now())
}

func (r *callbackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

func (r *callbackRecorder) nth(i int) (cerr.Code, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.codes) {
		return 0, time.Time{}, false
	}
	return r.codes[i], r.times[i], true
}

// sendFunc adapts the recorder into a message.SendFunc for Node.Send.
func (r *callbackRecorder) sendFunc(msg *message.Message, status cerr.Code) {
	r.record(status)
}
