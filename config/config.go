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

// Package config holds a chirp node's startup configuration: bind
// addresses, timing, slot-pool sizing, and the optional TLS overlay
// (spec.md §6). It is decoded by viper in cmd/chirpd and constructible
// directly by library callers.
package config

import (
	"time"

	libval "github.com/go-playground/validator/v10"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/certs"
	"github.com/hengestone/chirp/message"
)

// Config is the full set of knobs a chirp node accepts at Init time.
type Config struct {
	// Port is the TCP port to listen on; 0 asks the OS to pick one and
	// chirp reports it back via GetPublicPort (spec.md §6).
	Port uint16 `mapstructure:"port" json:"port" yaml:"port"`

	// BindV4/BindV6 are the interface addresses each listener binds to;
	// the zero value means 0.0.0.0 / :: (spec.md §6). Both listeners are
	// always opened — these fields select the bind address within each
	// family, not whether the family is listened on at all (spec.md §4.5
	// "Start": "bind and listen on v4 and v6 ... both at config.PORT").
	BindV4 [4]byte  `mapstructure:"bindV4" json:"bindV4" yaml:"bindV4"`
	BindV6 [16]byte `mapstructure:"bindV6" json:"bindV6" yaml:"bindV6"`

	// Backlog is the listen() backlog depth (spec.md §6: "< 128").
	Backlog int `mapstructure:"backlog" json:"backlog" yaml:"backlog" validate:"gte=0,lte=127"`

	// Timeout bounds a dial, the wait for the peer's handshake record, and
	// each single write; a stalled handshake or write shuts the connection
	// down with TIMEOUT. It does not bound the wait for an ACK once a
	// REQ_ACK message's write has completed: that message completes when
	// the ACK arrives or when its connection or remote is shut down.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout" validate:"gte=100ms,lte=60s"`

	// ReuseTime is how long an idle remote is kept around before the
	// garbage collector reclaims it; must be at least Timeout so a
	// remote never disappears while a message is still in flight
	// (spec.md §4.5 "Garbage collection").
	ReuseTime time.Duration `mapstructure:"reuseTime" json:"reuseTime" yaml:"reuseTime" validate:"gte=500ms,lte=1h"`

	// Synchronous, when true, forces MaxSlots to 1: the node processes
	// one inbound message at a time end-to-end (spec.md §6).
	Synchronous bool `mapstructure:"synchronous" json:"synchronous" yaml:"synchronous"`

	// MaxSlots bounds the per-connection receive-slot pool (spec.md §4.1).
	MaxSlots int `mapstructure:"maxSlots" json:"maxSlots" yaml:"maxSlots" validate:"gte=1,lte=32"`

	// BufferSize is validated (>= 0) and carried in the config, but the
	// node does not read it: slot scratch buffers have a fixed size and a
	// frame body too large for them gets an allocation of its exact size.
	BufferSize int `mapstructure:"bufferSize" json:"bufferSize" yaml:"bufferSize" validate:"gte=0"`

	// MaxMsgSize rejects inbound frames whose declared header+data
	// length exceeds it with a PROTOCOL_ERROR (spec.md §4.2 HEADER state).
	MaxMsgSize uint32 `mapstructure:"maxMsgSize" json:"maxMsgSize" yaml:"maxMsgSize" validate:"gte=0"`

	// Identity is this node's 16-byte wire identity. Zero means
	// "generate one at Init time" (spec.md §4.4).
	Identity message.Identity `mapstructure:"-" json:"-" yaml:"-"`

	// DisableSignals turns off the teacher-style signal handling a
	// standalone daemon would otherwise install (cmd/chirpd only).
	DisableSignals bool `mapstructure:"disableSignals" json:"disableSignals" yaml:"disableSignals"`

	// DisableEncryption forces every connection to skip the TLS overlay,
	// even for non-loopback peers (spec.md §4.4, for environments that
	// terminate TLS elsewhere).
	DisableEncryption bool `mapstructure:"disableEncryption" json:"disableEncryption" yaml:"disableEncryption"`

	// TLS carries the certificate chain, key, and negotiation policy
	// used whenever a connection is not exempted by loopback bypass or
	// DisableEncryption.
	TLS certs.Config `mapstructure:"tls" json:"tls" yaml:"tls"`
}

// Default returns a Config matching spec.md §6's documented defaults:
// both address families bound to their wildcard address, an 8-slot pool,
// a one second ack timeout, and a five minute remote reuse window.
func Default() Config {
	return Config{
		Backlog:    100,
		Timeout:    time.Second,
		ReuseTime:  5 * time.Minute,
		MaxSlots:   8,
		BufferSize: 4096,
		MaxMsgSize: 16 << 20,
		TLS:        certs.Default(),
	}
}

// Validate checks struct constraints via go-playground/validator, then
// the cross-field invariants validator tags can't express: ReuseTime >=
// Timeout, and Synchronous forcing MaxSlots to 1.
func (c *Config) Validate() cerr.Error {
	out := cerr.ValueError.Error(nil)

	if er := libval.New().Struct(c); er != nil {
		if ve, ok := er.(libval.ValidationErrors); ok {
			for _, e := range ve {
				out = out.Add(e)
			}
		} else {
			out = out.Add(er)
		}
	}

	if c.ReuseTime < c.Timeout {
		out = out.Add(errReuseBeforeTimeout)
	}
	if c.Synchronous && c.MaxSlots != 1 {
		c.MaxSlots = 1
	}

	if len(out.Parents()) > 0 {
		return out
	}
	return nil
}

var errReuseBeforeTimeout = cerr.ValueError.Errorf("reuseTime must be >= timeout")
