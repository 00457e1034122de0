// Package resolve picks a usable connection target for the booking site's
// hostname. The site's DNS flaps often enough that a single system lookup is
// not good enough: we fall back to public resolvers and finally to a known
// alternate hostname.
package resolve

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// PublicServers are consulted in order when the system resolver fails.
var PublicServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

type Helper struct {
	// FallbackHost is returned verbatim when every lookup fails.
	FallbackHost string

	// Injectable for tests.
	systemLookup func(ctx context.Context, host string) ([]string, error)
	serverLookup func(ctx context.Context, server, host string) ([]string, error)
}

func New(fallbackHost string) *Helper {
	return &Helper{
		FallbackHost: fallbackHost,
		systemLookup: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
		serverLookup: lookupVia,
	}
}

// Resolve never fails: it returns an IP for host, or FallbackHost as a
// last-resort literal target.
func (h *Helper) Resolve(ctx context.Context, host string) string {
	addrs, err := h.systemLookup(ctx, host)
	if err == nil && len(addrs) > 0 {
		slog.Debug("resolved host via system resolver", "host", host, "addr", addrs[0])
		return addrs[0]
	}
	slog.Warn("system resolver failed, trying public DNS", "host", host, "error", err)

	for _, server := range PublicServers {
		addrs, err := h.serverLookup(ctx, server, host)
		if err == nil && len(addrs) > 0 {
			slog.Debug("resolved host via public DNS", "host", host, "server", server, "addr", addrs[0])
			return addrs[0]
		}
	}

	slog.Warn("all resolvers failed, using fallback host", "host", host, "fallback", h.FallbackHost)
	return h.FallbackHost
}

func lookupVia(ctx context.Context, server, host string) ([]string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, server)
		},
	}
	return r.LookupHost(ctx, host)
}
