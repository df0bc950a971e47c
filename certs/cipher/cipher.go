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

// Package cipher names the TLS 1.2 cipher suites chirp's overlay accepts.
// TLS 1.3 suites are fixed by crypto/tls and never listed explicitly, so
// this package only needs to cover the configurable TLS 1.2 set.
package cipher

import (
	"crypto/tls"
	"strings"
)

// Cipher is a TLS 1.2 cipher suite identifier.
type Cipher uint16

const (
	Unknown Cipher = 0

	ECDHE_RSA_AES128_GCM_SHA256   = Cipher(tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
	ECDHE_ECDSA_AES128_GCM_SHA256 = Cipher(tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256)
	ECDHE_RSA_AES256_GCM_SHA384   = Cipher(tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
	ECDHE_ECDSA_AES256_GCM_SHA384 = Cipher(tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384)
	ECDHE_RSA_CHACHA20_POLY1305   = Cipher(tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305)
	ECDHE_ECDSA_CHACHA20_POLY1305 = Cipher(tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305)
)

// List returns the supported cipher suites, all forward-secret ECDHE
// suites — chirp never offers plain RSA key exchange (spec.md's TLS
// overlay is meant as transparent, not configurable-down-to-insecure).
func List() []Cipher {
	return []Cipher{
		ECDHE_ECDSA_AES128_GCM_SHA256,
		ECDHE_RSA_AES128_GCM_SHA256,
		ECDHE_ECDSA_AES256_GCM_SHA384,
		ECDHE_RSA_AES256_GCM_SHA384,
		ECDHE_ECDSA_CHACHA20_POLY1305,
		ECDHE_RSA_CHACHA20_POLY1305,
	}
}

// Parse accepts names like "ECDHE-RSA-AES128-GCM-SHA256" case-insensitively,
// with '-', '_', '.', and whitespace all treated as separators.
func Parse(s string) Cipher {
	norm := strings.ToUpper(s)
	for _, cut := range []string{"\"", "'", ".", "-", " "} {
		norm = strings.ReplaceAll(norm, cut, "_")
	}
	switch norm {
	case "ECDHE_RSA_AES128_GCM_SHA256", "ECDHE_RSA_WITH_AES_128_GCM_SHA256":
		return ECDHE_RSA_AES128_GCM_SHA256
	case "ECDHE_ECDSA_AES128_GCM_SHA256", "ECDHE_ECDSA_WITH_AES_128_GCM_SHA256":
		return ECDHE_ECDSA_AES128_GCM_SHA256
	case "ECDHE_RSA_AES256_GCM_SHA384", "ECDHE_RSA_WITH_AES_256_GCM_SHA384":
		return ECDHE_RSA_AES256_GCM_SHA384
	case "ECDHE_ECDSA_AES256_GCM_SHA384", "ECDHE_ECDSA_WITH_AES_256_GCM_SHA384":
		return ECDHE_ECDSA_AES256_GCM_SHA384
	case "ECDHE_RSA_CHACHA20_POLY1305":
		return ECDHE_RSA_CHACHA20_POLY1305
	case "ECDHE_ECDSA_CHACHA20_POLY1305":
		return ECDHE_ECDSA_CHACHA20_POLY1305
	default:
		return Unknown
	}
}

// Check reports whether suite is one of the suites List returns.
func Check(suite uint16) bool {
	for _, c := range List() {
		if uint16(c) == suite {
			return true
		}
	}
	return false
}

func (c Cipher) Uint16() uint16 { return uint16(c) }

func (c Cipher) String() string {
	for _, pair := range []struct {
		c Cipher
		s string
	}{
		{ECDHE_RSA_AES128_GCM_SHA256, "ECDHE-RSA-AES128-GCM-SHA256"},
		{ECDHE_ECDSA_AES128_GCM_SHA256, "ECDHE-ECDSA-AES128-GCM-SHA256"},
		{ECDHE_RSA_AES256_GCM_SHA384, "ECDHE-RSA-AES256-GCM-SHA384"},
		{ECDHE_ECDSA_AES256_GCM_SHA384, "ECDHE-ECDSA-AES256-GCM-SHA384"},
		{ECDHE_RSA_CHACHA20_POLY1305, "ECDHE-RSA-CHACHA20-POLY1305"},
		{ECDHE_ECDSA_CHACHA20_POLY1305, "ECDHE-ECDSA-CHACHA20-POLY1305"},
	} {
		if pair.c == c {
			return pair.s
		}
	}
	return "unknown"
}
