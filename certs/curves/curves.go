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

// Package curves names the elliptic curves chirp's TLS overlay offers for
// key exchange.
package curves

import (
	"crypto/tls"
	"strings"
)

type Curves tls.CurveID

const (
	Unknown Curves = 0

	X25519 = Curves(tls.X25519)
	P256   = Curves(tls.CurveP256)
	P384   = Curves(tls.CurveP384)
	P521   = Curves(tls.CurveP521)
)

// List returns the supported curves, X25519 first (cheapest, preferred).
func List() []Curves {
	return []Curves{X25519, P256, P384, P521}
}

func Parse(s string) Curves {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X25519":
		return X25519
	case "P256", "P-256", "SECP256R1":
		return P256
	case "P384", "P-384", "SECP384R1":
		return P384
	case "P521", "P-521", "SECP521R1":
		return P521
	default:
		return Unknown
	}
}

func Check(id uint16) bool {
	for _, c := range List() {
		if uint16(c) == id {
			return true
		}
	}
	return false
}

func (c Curves) CurveID() tls.CurveID { return tls.CurveID(c) }
func (c Curves) Uint16() uint16       { return uint16(c) }

func (c Curves) String() string {
	switch c {
	case X25519:
		return "X25519"
	case P256:
		return "P256"
	case P384:
		return "P384"
	case P521:
		return "P521"
	default:
		return "unknown"
	}
}
