package service

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/polisai/atomws/pkg/domain"
)

const defaultPort = 80

var reBind = regexp.MustCompile(`(?i)^(\*|[a-z0-9.-]*):(\d*)$`)

// Bind is one listening endpoint.
type Bind struct {
	// Network is "tcp" or "unix".
	Network string
	Address string
}

func (b Bind) String() string { return b.Network + "://" + b.Address }

// ParseBind turns "host:port", "*:port", ":port" or a socket path into a Bind.
// An empty or "*" host listens on every interface, an empty port means 80,
// and relative socket paths are placed under /tmp.
func ParseBind(raw string) (Bind, error) {
	item := strings.TrimSpace(raw)
	if item == "" {
		return Bind{}, domain.ConfigError(domain.ErrInvalidBind, "empty bind target")
	}
	parts := reBind.FindStringSubmatch(item)
	if parts == nil {
		path := item
		if !filepath.IsAbs(path) {
			path = filepath.Join("/tmp", path)
		}
		return Bind{Network: "unix", Address: filepath.Clean(path)}, nil
	}

	host := parts[1]
	if host == "*" {
		host = ""
	}
	port := defaultPort
	if parts[2] != "" {
		p, err := strconv.Atoi(parts[2])
		if err != nil || p > 65535 {
			return Bind{}, domain.ConfigError(domain.ErrInvalidBind, "invalid port in bind %q", raw)
		}
		port = p
	}
	return Bind{Network: "tcp", Address: net.JoinHostPort(host, strconv.Itoa(port))}, nil
}

// ParseBinds parses every target, failing on the first invalid one.
func ParseBinds(raw []string) ([]Bind, error) {
	if len(raw) == 0 {
		return nil, domain.ConfigError(domain.ErrInvalidBind, "no bind targets")
	}
	binds := make([]Bind, 0, len(raw))
	for _, item := range raw {
		b, err := ParseBind(item)
		if err != nil {
			return nil, err
		}
		binds = append(binds, b)
	}
	return binds, nil
}

func (b Bind) listen(ctx context.Context) (net.Listener, error) {
	if b.Network == "unix" {
		// A socket left behind by an unclean exit would block the bind.
		if info, err := os.Lstat(b.Address); err == nil && info.Mode()&os.ModeSocket != 0 {
			_ = os.Remove(b.Address)
		}
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, b.Network, b.Address)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", b, err)
	}
	return ln, nil
}
