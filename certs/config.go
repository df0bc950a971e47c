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

// Package certs builds the optional TLS overlay chirp wraps around its raw
// TCP transport (spec.md §4.4): a chain certificate plus an identity key,
// negotiated with a conservative, forward-secret cipher/curve list.
// Loopback peers bypass TLS entirely; this package never makes that
// decision itself, it only ever hands back a ready *tls.Config to a
// caller that already decided TLS applies.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	libval "github.com/go-playground/validator/v10"

	"github.com/hengestone/chirp/cerr"
	"github.com/hengestone/chirp/certs/cipher"
	"github.com/hengestone/chirp/certs/curves"
	"github.com/hengestone/chirp/certs/tlsversion"
)

// Config describes the TLS material and negotiation policy for one node.
// CertChainPath and KeyPath are mandatory once TLS is enabled; RootCAPath
// is optional and, when empty, falls back to the system trust store.
// DHParamsPath is validated (existence only) but never consulted by Build:
// crypto/tls carries no static-DHE cipher suite, so there is nothing to
// feed the parameters into, but spec.md §7 still requires the path exist
// at init, since a host process may hand these parameters to another TLS
// terminator in front of chirp.
type Config struct {
	CertChainPath string `mapstructure:"certChainPath" json:"certChainPath" yaml:"certChainPath" validate:"required_with=KeyPath"`
	KeyPath       string `mapstructure:"keyPath" json:"keyPath" yaml:"keyPath" validate:"required_with=CertChainPath"`
	RootCAPath    string `mapstructure:"rootCaPath" json:"rootCaPath" yaml:"rootCaPath"`
	DHParamsPath  string `mapstructure:"dhParamsPath" json:"dhParamsPath" yaml:"dhParamsPath"`

	VersionMin tlsversion.Version `mapstructure:"versionMin" json:"versionMin" yaml:"versionMin"`
	VersionMax tlsversion.Version `mapstructure:"versionMax" json:"versionMax" yaml:"versionMax"`

	CipherList []cipher.Cipher `mapstructure:"cipherList" json:"cipherList" yaml:"cipherList"`
	CurveList  []curves.Curves `mapstructure:"curveList" json:"curveList" yaml:"curveList"`

	InsecureSkipVerify bool `mapstructure:"insecureSkipVerify" json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}

// Validate runs struct-tag validation via go-playground/validator, then
// checks that every non-empty PEM path actually exists on disk (spec.md
// §7: "existence is validated at init").
func (c *Config) Validate() cerr.Error {
	out := cerr.TLSError.Error(nil)

	if er := libval.New().Struct(c); er != nil {
		if ve, ok := er.(libval.ValidationErrors); ok {
			for _, e := range ve {
				out = out.Add(e)
			}
		} else {
			out = out.Add(er)
		}
	}

	for _, p := range []string{c.CertChainPath, c.KeyPath, c.RootCAPath, c.DHParamsPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			out = out.Add(err)
		}
	}

	if len(out.Parents()) > 0 {
		return out
	}
	return nil
}

// Default returns a Config with conservative defaults: TLS 1.2 minimum,
// TLS 1.3 maximum, and the full supported cipher/curve lists.
func Default() Config {
	return Config{
		VersionMin: tlsversion.VersionTLS12,
		VersionMax: tlsversion.VersionTLS13,
		CipherList: cipher.List(),
		CurveList:  curves.List(),
	}
}

// Build compiles Config into a *tls.Config ready for use with
// tls.Server/tls.Client on an already-accepted or already-dialed
// net.Conn. It never consults the network — loopback bypass is the
// caller's decision (spec.md §4.4 "TLS negotiation").
func (c *Config) Build() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertChainPath, c.KeyPath)
	if err != nil {
		return nil, cerr.TLSError.Error(err)
	}

	cfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		MinVersion:         versionOrDefault(c.VersionMin, tlsversion.VersionTLS12).Uint16(),
		MaxVersion:         versionOrDefault(c.VersionMax, tlsversion.VersionTLS13).Uint16(),
		CipherSuites:       cipherSuites(c.CipherList),
		CurvePreferences:   curvePreferences(c.CurveList),
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.RootCAPath != "" {
		pem, err := os.ReadFile(c.RootCAPath)
		if err != nil {
			return nil, cerr.TLSError.Error(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, cerr.TLSError.Errorf("root CA PEM could not be parsed")
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}

	return cfg, nil
}

func versionOrDefault(v, def tlsversion.Version) tlsversion.Version {
	if v == tlsversion.VersionUnknown {
		return def
	}
	return v
}

func cipherSuites(list []cipher.Cipher) []uint16 {
	if len(list) == 0 {
		list = cipher.List()
	}
	out := make([]uint16, 0, len(list))
	for _, c := range list {
		out = append(out, c.Uint16())
	}
	return out
}

func curvePreferences(list []curves.Curves) []tls.CurveID {
	if len(list) == 0 {
		list = curves.List()
	}
	out := make([]tls.CurveID, 0, len(list))
	for _, c := range list {
		out = append(out, c.CurveID())
	}
	return out
}

// IsLoopback reports whether host is one of "127.0.0.1", "::1" or
// "localhost". The node's own TLS-bypass check works on peer addresses
// and does not call it.
func IsLoopback(host string) bool {
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}
