// Package anc is a client for ActiveCommunities-style facility reservation
// sites: session bootstrap + login, facility catalog, and per-facility daily
// availability, with retry/recovery applied to every outbound request.
package anc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/example/courtwatch/internal/metrics"
	"github.com/example/courtwatch/internal/resolve"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// DateFormat is the site's MM/DD/YYYY wire format for calendar dates.
const DateFormat = "01/02/2006"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

// ErrAbandoned marks a request dropped after exhausting the retry schedule.
// Callers log it and carry on; it never fails a whole run.
var ErrAbandoned = errors.New("request abandoned after exhausting retries")

type Options struct {
	BaseURL       string // e.g. https://anc.apm.activecommunities.com
	Org           string // site path segment, e.g. "seattle"
	Login         string
	Password      string
	FacilityTypes []int
	Timeout       time.Duration
	Policy        Policy
	Limiter       *rate.Limiter
	Resolver      *resolve.Helper
	Metrics       *metrics.Collector
}

type Client struct {
	http          *resty.Client
	scheme        string
	canonicalHost string // host[:port] from the base URL
	hostname      string // hostname only, what gets resolved
	port          string
	org           string
	loginName     string
	password      string
	facilityTypes []int
	policy        Policy
	limiter       *rate.Limiter
	resolver      *resolve.Helper
	metrics       *metrics.Collector

	mu           sync.Mutex // guards sess and resolvedHost
	sess         session
	resolvedHost string

	refreshMu sync.Mutex // serializes re-authentication

	// sleep is swappable so tests don't wait out the delay schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(ctx context.Context, opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if base.Hostname() == "" {
		return nil, fmt.Errorf("base URL %q has no host", opts.BaseURL)
	}

	hc := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc.SetCookieJar(jar)
	hc.SetHeader("User-Agent", userAgent)
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}
	// Requests may dial a raw IP while the certificate names the canonical
	// host, so pin the TLS server name and send the canonical Host header.
	if base.Scheme == "https" {
		hc.SetTransport(&http.Transport{
			TLSClientConfig: &tls.Config{ServerName: base.Hostname()},
		})
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = resolve.New(base.Hostname())
	}
	if opts.Policy.Delays == nil {
		opts.Policy = DefaultPolicy()
	}

	c := &Client{
		http:          hc,
		scheme:        base.Scheme,
		canonicalHost: base.Host,
		hostname:      base.Hostname(),
		port:          base.Port(),
		org:           opts.Org,
		loginName:     opts.Login,
		password:      opts.Password,
		facilityTypes: opts.FacilityTypes,
		policy:        opts.Policy,
		limiter:       limiter,
		resolver:      resolver,
		metrics:       opts.Metrics,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	c.resolvedHost = c.withPort(resolver.Resolve(ctx, c.hostname))
	return c, nil
}

// withPort re-attaches a non-default port to a resolved address; the helper
// itself deals in bare hostnames.
func (c *Client) withPort(host string) string {
	if c.port == "" {
		return host
	}
	return net.JoinHostPort(host, c.port)
}

// SessionValid reports whether the client currently holds an authenticated
// session.
func (c *Client) SessionValid() bool {
	return c.currentSession().authenticated
}

// Authenticate establishes a fresh session. The availability phase must not
// start without it.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.authenticate(ctx)
	return err
}

// ListFacilities fetches the first page of the facility catalog for the
// configured facility types. A malformed or empty response yields an empty
// slice, not an error; the run carries on.
func (c *Client) ListFacilities(ctx context.Context) ([]Facility, error) {
	payload := map[string]any{
		"facility_type_ids": c.facilityTypes,
		"page_size":         100,
		"start_index":       0,
	}

	resp, err := c.do(ctx, "facility_catalog", func(ctx context.Context, host string, sess session) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.baseHeaders(sess.token)).
			SetHeader("Content-Type", "application/json;charset=utf-8").
			SetBody(payload).
			Post(c.siteURL(host, "/rest/reservation/resource", "locale=en-US"))
	})
	if err != nil {
		return nil, err
	}

	var fr facilityListResponse
	if err := json.Unmarshal(resp.Body(), &fr); err != nil {
		slog.Error("malformed facility catalog response", "error", err)
		return nil, nil
	}

	out := make([]Facility, 0, len(fr.Body.Items))
	for _, item := range fr.Body.Items {
		f := Facility{
			ID:           string(item.ID),
			Name:         item.Name,
			FacilityType: item.TypeName,
			Address:      item.CenterName,
		}
		if f.Name == "" {
			f.Name = "Unknown"
		}
		if f.FacilityType == "" {
			f.FacilityType = "Unknown"
		}
		if f.Address == "" {
			f.Address = "Unknown"
		}
		out = append(out, f)
	}
	return out, nil
}

// DailyAvailability probes one facility's availability feed for target and
// returns the open windows on that calendar date. Windows reported for any
// other date are discarded.
func (c *Client) DailyAvailability(ctx context.Context, facilityID string, target time.Time) ([]Window, error) {
	dateStr := target.Format(DateFormat)
	query := url.Values{
		"start_date": {dateStr},
		"end_date":   {dateStr},
		"attendee":   {"1"},
		// cache buster, same as the site's own frontend
		"_": {strconv.FormatInt(time.Now().Unix(), 10)},
	}

	resp, err := c.do(ctx, "availability:"+facilityID, func(ctx context.Context, host string, sess session) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.baseHeaders(sess.token)).
			Get(c.siteURL(host, "/rest/reservation/resource/availability/daily/"+facilityID, query.Encode()))
	})
	if err != nil {
		return nil, err
	}

	var ar availabilityResponse
	if err := json.Unmarshal(resp.Body(), &ar); err != nil {
		return nil, fmt.Errorf("availability response for %s: %w", facilityID, err)
	}

	var windows []Window
	for _, day := range ar.Body.Details.DailyDetails {
		date, err := time.Parse(DateFormat, day.Date)
		if err != nil {
			slog.Warn("unparseable date in availability feed",
				"facility_id", facilityID, "date", day.Date)
			continue
		}
		if !sameDate(date, target) {
			continue
		}
		for _, slot := range day.Times {
			if !slot.Available {
				continue
			}
			windows = append(windows, Window{
				Date:      date,
				StartTime: slot.StartTime,
				EndTime:   slot.EndTime,
			})
		}
	}
	return windows, nil
}

type issueFunc func(ctx context.Context, host string, sess session) (*resty.Response, error)

// do runs one logical request under the retry/recovery policy: rate-limit,
// issue, classify, and act. The backoff sleep suspends only this goroutine;
// other facilities' requests keep moving.
func (c *Client) do(ctx context.Context, name string, issue issueFunc) (*resty.Response, error) {
	return c.attempt(ctx, name, true, issue)
}

// doPreauth is do for the bootstrap and sign-in round trips themselves. A 403
// here cannot refresh the session it is trying to establish, so it retries on
// the schedule like any other retryable status.
func (c *Client) doPreauth(ctx context.Context, name string, issue issueFunc) (*resty.Response, error) {
	return c.attempt(ctx, name, false, issue)
}

func (c *Client) attempt(ctx context.Context, name string, reauth bool, issue issueFunc) (*resty.Response, error) {
	var st State
	host := c.currentHost()
	sess := c.currentSession()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := issue(ctx, host, sess)
		status := 0
		if err == nil && resp != nil {
			status = resp.StatusCode()
			c.metrics.RecordHTTPStatus(status)
		}
		outcome := Classify(status, err)

		action := c.policy.Next(&st, outcome, status)
		switch action.Kind {
		case ActionDone:
			return resp, nil

		case ActionSwapHost:
			c.metrics.RecordRetry(outcome.String())
			host = c.reresolve(ctx)
			slog.Warn("dns failure, reissuing against resolved host",
				"request", name, "host", host)
			continue

		case ActionReauth:
			c.metrics.RecordRetry(outcome.String())
			if reauth {
				c.invalidate(sess.gen)
				refreshed, rerr := c.refreshSession(ctx, sess.gen)
				if rerr != nil {
					return nil, rerr
				}
				sess = refreshed
				slog.Warn("session refreshed after 403, retrying",
					"request", name, "delay", action.Delay, "attempt", st.Attempt)
			} else {
				slog.Warn("retrying request",
					"request", name, "outcome", outcome.String(), "status", status,
					"delay", action.Delay, "attempt", st.Attempt)
			}
			if serr := c.sleep(ctx, action.Delay); serr != nil {
				return nil, serr
			}
			continue

		case ActionRetry:
			c.metrics.RecordRetry(outcome.String())
			slog.Warn("retrying request",
				"request", name, "outcome", outcome.String(), "status", status,
				"delay", action.Delay, "attempt", st.Attempt, "error", err)
			if serr := c.sleep(ctx, action.Delay); serr != nil {
				return nil, serr
			}
			continue

		default: // ActionGiveUp
			slog.Error("abandoning request",
				"request", name, "outcome", outcome.String(), "status", status, "error", err)
			return nil, fmt.Errorf("%s: %w", name, ErrAbandoned)
		}
	}
}

func (c *Client) currentHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolvedHost
}

// reresolve consults the resolution helper again after a live DNS failure.
func (c *Client) reresolve(ctx context.Context) string {
	host := c.withPort(c.resolver.Resolve(ctx, c.hostname))
	c.mu.Lock()
	c.resolvedHost = host
	c.mu.Unlock()
	return host
}

func (c *Client) siteURL(host, path, query string) string {
	u := fmt.Sprintf("%s://%s/%s%s", c.scheme, host, c.org, path)
	if query != "" {
		u += "?" + query
	}
	return u
}

func (c *Client) bootstrapURL(host string) string {
	return c.siteURL(host, "/myaccount", "onlineSiteId=0&from_original_cui=true&online=true&locale=en-US")
}

func (c *Client) baseHeaders(csrf string) map[string]string {
	h := map[string]string{
		"Accept":        "*/*",
		"Host":          c.canonicalHost,
		"Connection":    "keep-alive",
		"Cache-Control": "no-cache, no-store, must-revalidate",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
	if csrf != "" {
		h["X-CSRF-Token"] = csrf
		h["X-Requested-With"] = "XMLHttpRequest"
	}
	return h
}
