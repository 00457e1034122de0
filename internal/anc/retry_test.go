package anc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, OutcomeSuccess, Classify(200, nil))
	require.Equal(t, OutcomeSuccess, Classify(302, nil))
	require.Equal(t, OutcomeHTTPError, Classify(403, nil))
	require.Equal(t, OutcomeHTTPError, Classify(500, nil))

	require.Equal(t, OutcomeDNSFailure, Classify(0, &net.DNSError{Err: "no such host", Name: "example.com"}))
	// A resolver timeout is still a DNS failure: host substitution, not backoff.
	require.Equal(t, OutcomeDNSFailure, Classify(0, &net.DNSError{Err: "timeout", Name: "example.com", IsTimeout: true}))
	require.Equal(t, OutcomeTimeout, Classify(0, context.DeadlineExceeded))
	require.Equal(t, OutcomeTransportError, Classify(0, errors.New("connection reset")))
}

func TestPolicyDNSFailureSwapsHostOnceWithoutDelay(t *testing.T) {
	p := DefaultPolicy()
	var st State

	act := p.Next(&st, OutcomeDNSFailure, 0)
	require.Equal(t, ActionSwapHost, act.Kind)
	require.Zero(t, act.Delay)
	require.Zero(t, st.Attempt)

	// A second DNS failure falls through to the delay schedule.
	act = p.Next(&st, OutcomeDNSFailure, 0)
	require.Equal(t, ActionRetry, act.Kind)
	require.Equal(t, 5*time.Second, act.Delay)
}

func TestPolicy403ReauthThenAbandon(t *testing.T) {
	p := DefaultPolicy()
	var st State

	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}
	for i, want := range wantDelays {
		act := p.Next(&st, OutcomeHTTPError, 403)
		require.Equal(t, ActionReauth, act.Kind, "attempt %d", i+1)
		require.Equal(t, want, act.Delay, "attempt %d", i+1)
	}

	// 4th consecutive failure: schedule exhausted, request abandoned.
	act := p.Next(&st, OutcomeHTTPError, 403)
	require.Equal(t, ActionGiveUp, act.Kind)
}

func TestPolicyRetryableStatuses(t *testing.T) {
	p := DefaultPolicy()
	for _, status := range []int{500, 502, 503, 504, 408, 404, 429} {
		var st State
		act := p.Next(&st, OutcomeHTTPError, status)
		require.Equal(t, ActionRetry, act.Kind, "status %d", status)
	}
}

func TestPolicyNonRetryableStatusGivesUp(t *testing.T) {
	p := DefaultPolicy()
	var st State
	act := p.Next(&st, OutcomeHTTPError, 401)
	require.Equal(t, ActionGiveUp, act.Kind)
}

func TestPolicyTimeoutUsesSchedule(t *testing.T) {
	p := DefaultPolicy()
	var st State
	for _, want := range p.Delays {
		act := p.Next(&st, OutcomeTimeout, 0)
		require.Equal(t, ActionRetry, act.Kind)
		require.Equal(t, want, act.Delay)
	}
	require.Equal(t, ActionGiveUp, p.Next(&st, OutcomeTimeout, 0).Kind)
}
