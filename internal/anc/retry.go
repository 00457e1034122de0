package anc

import (
	"context"
	"errors"
	"net"
	"time"
)

// Outcome classifies the result of one round trip to the site.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDNSFailure
	OutcomeTimeout
	OutcomeHTTPError
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDNSFailure:
		return "dns_failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeHTTPError:
		return "http_error"
	default:
		return "transport_error"
	}
}

// Classify buckets a transport error or HTTP status. A 2xx/3xx status with no
// error is a success; any 4xx/5xx is an HTTP error and the policy decides
// whether it is worth retrying.
func Classify(status int, err error) Outcome {
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return OutcomeDNSFailure
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return OutcomeTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return OutcomeTimeout
		}
		return OutcomeTransportError
	}
	if status >= 400 {
		return OutcomeHTTPError
	}
	return OutcomeSuccess
}

// Policy is the retry/recovery policy applied to every outbound request.
// The site rate-limits aggressively and invalidates sessions quickly, so the
// strategy is: fix DNS immediately with the pre-resolved IP, refresh the
// session on 403, and otherwise back off on a fixed schedule.
type Policy struct {
	Delays        []time.Duration
	RetryStatuses map[int]bool
}

func DefaultPolicy() Policy {
	return Policy{
		Delays: []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second},
		RetryStatuses: map[int]bool{
			500: true, 502: true, 503: true, 504: true,
			408: true, 404: true, 403: true, 429: true,
		},
	}
}

// State is the per-logical-request retry state.
type State struct {
	Attempt     int
	HostSwapped bool
}

type ActionKind int

const (
	// ActionDone: the request succeeded, return the response.
	ActionDone ActionKind = iota
	// ActionSwapHost: reissue immediately against the pre-resolved IP.
	ActionSwapHost
	// ActionReauth: refresh the session, then wait Delay and reissue.
	ActionReauth
	// ActionRetry: wait Delay and reissue unchanged.
	ActionRetry
	// ActionGiveUp: abandon the request; its result is simply absent.
	ActionGiveUp
)

type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// Next decides what to do after one round trip, mutating st. DNS failures get
// a single immediate host substitution before falling back to the delay
// schedule; 403 triggers a session refresh but still consumes a scheduled
// delay, so a persistently 403ing request is abandoned like any other.
func (p Policy) Next(st *State, outcome Outcome, status int) Action {
	switch outcome {
	case OutcomeSuccess:
		return Action{Kind: ActionDone}
	case OutcomeDNSFailure:
		if !st.HostSwapped {
			st.HostSwapped = true
			return Action{Kind: ActionSwapHost}
		}
	case OutcomeHTTPError:
		if !p.RetryStatuses[status] {
			return Action{Kind: ActionGiveUp}
		}
		if status == 403 {
			return p.schedule(st, ActionReauth)
		}
	}
	return p.schedule(st, ActionRetry)
}

func (p Policy) schedule(st *State, kind ActionKind) Action {
	if st.Attempt >= len(p.Delays) {
		return Action{Kind: ActionGiveUp}
	}
	d := p.Delays[st.Attempt]
	st.Attempt++
	return Action{Kind: kind, Delay: d}
}
