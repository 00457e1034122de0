package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errLookup = errors.New("lookup failed")

func TestResolveViaSystemResolver(t *testing.T) {
	h := New("fallback.example.com")
	h.systemLookup = func(_ context.Context, host string) ([]string, error) {
		require.Equal(t, "anc.example.com", host)
		return []string{"192.0.2.10", "192.0.2.11"}, nil
	}
	h.serverLookup = func(context.Context, string, string) ([]string, error) {
		t.Fatal("public DNS must not be consulted when the system resolver works")
		return nil, nil
	}

	require.Equal(t, "192.0.2.10", h.Resolve(context.Background(), "anc.example.com"))
}

func TestResolveFallsBackToPublicDNS(t *testing.T) {
	h := New("fallback.example.com")
	h.systemLookup = func(context.Context, string) ([]string, error) {
		return nil, errLookup
	}

	var servers []string
	h.serverLookup = func(_ context.Context, server, _ string) ([]string, error) {
		servers = append(servers, server)
		if server == "1.1.1.1:53" {
			return []string{"192.0.2.20"}, nil
		}
		return nil, errLookup
	}

	require.Equal(t, "192.0.2.20", h.Resolve(context.Background(), "anc.example.com"))
	// Servers are tried in order.
	require.Equal(t, []string{"8.8.8.8:53", "1.1.1.1:53"}, servers)
}

func TestResolveReturnsFallbackHostWhenAllLookupsFail(t *testing.T) {
	h := New("fallback.example.com")
	h.systemLookup = func(context.Context, string) ([]string, error) {
		return nil, errLookup
	}
	h.serverLookup = func(context.Context, string, string) ([]string, error) {
		return nil, errLookup
	}

	require.Equal(t, "fallback.example.com", h.Resolve(context.Background(), "anc.example.com"))
}

func TestResolveTreatsEmptyAnswerAsFailure(t *testing.T) {
	h := New("fallback.example.com")
	h.systemLookup = func(context.Context, string) ([]string, error) {
		return nil, nil
	}
	h.serverLookup = func(context.Context, string, string) ([]string, error) {
		return []string{}, nil
	}

	require.Equal(t, "fallback.example.com", h.Resolve(context.Background(), "anc.example.com"))
}
