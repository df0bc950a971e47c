package certs_test

import (
	"testing"

	"github.com/hengestone/chirp/certs"
)

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":     true,
		"::1":           true,
		"localhost":     true,
		"192.168.1.1":   false,
		"example.com":   false,
	}
	for in, want := range cases {
		if got := certs.IsLoopback(in); got != want {
			t.Errorf("IsLoopback(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidateRequiresKeyAlongsideChain(t *testing.T) {
	c := certs.Default()
	c.CertChainPath = "chain-only.pem"

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error when KeyPath is missing")
	}
}

func TestValidateRejectsMissingPaths(t *testing.T) {
	c := certs.Default()
	c.CertChainPath = "/nonexistent/chain.pem"
	c.KeyPath = "/nonexistent/key.pem"

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for nonexistent cert paths")
	}
}

func TestBuildRejectsMissingFiles(t *testing.T) {
	c := certs.Default()
	c.CertChainPath = "/nonexistent/chain.pem"
	c.KeyPath = "/nonexistent/key.pem"

	if _, err := c.Build(); err == nil {
		t.Fatal("expected Build to reject missing cert/key files")
	}
}
