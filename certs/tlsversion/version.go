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

// Package tlsversion wraps crypto/tls's version constants with string
// parsing, for use in chirp's optional TLS overlay configuration.
package tlsversion

import (
	"crypto/tls"
	"strings"
)

// Version is a TLS protocol version.
type Version int

const (
	VersionUnknown Version = iota
	VersionTLS12           = Version(tls.VersionTLS12)
	VersionTLS13           = Version(tls.VersionTLS13)
)

// Parse accepts "1.2", "tls1.2", "12" and equivalents, case-insensitively.
// chirp only ever negotiates TLS 1.2 or 1.3 (spec.md's TLS overlay never
// needs legacy versions); anything else yields VersionUnknown.
func Parse(s string) Version {
	s = strings.ToLower(s)
	for _, cut := range []string{"\"", "'", "tls", "ssl", ".", "-", "_", " "} {
		s = strings.ReplaceAll(s, cut, "")
	}
	switch s {
	case "12":
		return VersionTLS12
	case "13":
		return VersionTLS13
	default:
		return VersionUnknown
	}
}

// Uint16 returns the crypto/tls version constant.
func (v Version) Uint16() uint16 { return uint16(v) }

func (v Version) String() string {
	switch v {
	case VersionTLS12:
		return "1.2"
	case VersionTLS13:
		return "1.3"
	default:
		return "unknown"
	}
}
