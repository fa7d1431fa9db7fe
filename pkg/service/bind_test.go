package service

import (
	"errors"
	"testing"

	"github.com/polisai/atomws/pkg/domain"
)

func TestParseBind(t *testing.T) {
	tests := []struct {
		raw     string
		network string
		address string
	}{
		{raw: "*:8080", network: "tcp", address: ":8080"},
		{raw: ":8080", network: "tcp", address: ":8080"},
		{raw: "127.0.0.1:81", network: "tcp", address: "127.0.0.1:81"},
		{raw: "Example.COM:", network: "tcp", address: "Example.COM:80"},
		{raw: "*:", network: "tcp", address: ":80"},
		{raw: "atomws.sock", network: "unix", address: "/tmp/atomws.sock"},
		{raw: "run/../atomws.sock", network: "unix", address: "/tmp/atomws.sock"},
		{raw: "/var/run/atomws.sock", network: "unix", address: "/var/run/atomws.sock"},
	}
	for _, tt := range tests {
		b, err := ParseBind(tt.raw)
		if err != nil {
			t.Fatalf("ParseBind(%q) error = %v", tt.raw, err)
		}
		if b.Network != tt.network || b.Address != tt.address {
			t.Fatalf("ParseBind(%q) = %s, want %s://%s", tt.raw, b, tt.network, tt.address)
		}
	}
}

func TestParseBindErrors(t *testing.T) {
	for _, raw := range []string{"", "  ", "*:70000"} {
		if _, err := ParseBind(raw); !errors.Is(err, domain.ErrInvalidBind) {
			t.Fatalf("ParseBind(%q) error = %v, want ErrInvalidBind", raw, err)
		}
	}
	if _, err := ParseBinds(nil); !errors.Is(err, domain.ErrInvalidBind) {
		t.Fatalf("ParseBinds(nil) error = %v, want ErrInvalidBind", err)
	}
	if _, err := ParseBinds([]string{"*:80", "*:99999"}); domain.ErrorCode(err) != domain.CodeConfiguration {
		t.Fatalf("ParseBinds error code = %q, want %q", domain.ErrorCode(err), domain.CodeConfiguration)
	}
}
