package anc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

var (
	// ErrTokenMissing means the bootstrap page never yielded a CSRF token.
	ErrTokenMissing = errors.New("csrf token not found on bootstrap page")
	// ErrLoginFailed means the site rejected the configured credentials.
	ErrLoginFailed = errors.New("login failed")
)

// maxBootstrapAttempts bounds the retry-on-missing-token loop. The site
// occasionally serves the bootstrap page without the inline config script;
// retrying the whole bootstrap usually fixes it.
const maxBootstrapAttempts = 5

// session is an immutable authenticated-session value. Re-authentication
// produces a new value with a higher generation; in-flight requests carry the
// generation they were issued under.
type session struct {
	token         string
	gen           uint64
	authenticated bool
}

func (c *Client) currentSession() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// invalidate drops the session, but only if nobody has refreshed it since
// generation gen was issued.
func (c *Client) invalidate(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.gen == gen {
		c.sess.authenticated = false
	}
}

func (c *Client) install(s session) session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.gen = c.sess.gen + 1
	c.sess = s
	return c.sess
}

// refreshSession re-runs the authentication flow unless another caller
// already did: if the current session is authenticated under a newer
// generation than stale, that session is reused. Safe to call concurrently;
// the last successful login wins.
func (c *Client) refreshSession(ctx context.Context, stale uint64) (session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cur := c.currentSession()
	if cur.authenticated && cur.gen > stale {
		return cur, nil
	}

	c.metrics.RecordReauth()
	return c.authenticate(ctx)
}

// authenticate runs the full Unauthenticated → TokenAcquired → Authenticated
// flow and installs the resulting session.
func (c *Client) authenticate(ctx context.Context) (session, error) {
	token, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return session{}, err
	}
	if err := c.login(ctx, token); err != nil {
		return session{}, err
	}
	s := c.install(session{token: token, authenticated: true})
	slog.Info("authenticated against booking site", "session_gen", s.gen)
	return s, nil
}

var csrfTokenRe = regexp.MustCompile(`window\.__csrfToken = "(.*?)";`)

// fetchCSRFToken GETs the bootstrap page and pulls the anti-forgery token out
// of its inline script. Transport failures and bad statuses are recovered by
// the usual policy inside bootstrapOnce; a 200 page without the token is an
// application-level miss, so the whole bootstrap is retried, bounded at
// maxBootstrapAttempts.
func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxBootstrapAttempts; attempt++ {
		token, err := c.bootstrapOnce(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
		slog.Warn("no csrf token on bootstrap page, retrying", "attempt", attempt+1)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	return "", ErrTokenMissing
}

func (c *Client) bootstrapOnce(ctx context.Context) (string, error) {
	resp, err := c.doPreauth(ctx, "bootstrap", func(ctx context.Context, host string, _ session) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.baseHeaders("")).
			Get(c.bootstrapURL(host))
	})
	if err != nil {
		return "", err
	}
	return extractCSRFToken(strings.NewReader(resp.String()))
}

func extractCSRFToken(body *strings.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", err
	}
	var token string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		groups := csrfTokenRe.FindStringSubmatch(s.Text())
		if len(groups) == 2 {
			token = groups[1]
			return false
		}
		return true
	})
	return token, nil
}

// login POSTs the configured credentials plus the CSRF token to the sign-in
// endpoint. A failed login is terminal for the run's availability phase.
func (c *Client) login(ctx context.Context, token string) error {
	payload := map[string]string{
		"login_name":        c.loginName,
		"password":          c.password,
		"signin_source_app": "0",
		"from_original_cui": "true",
		"onlineSiteId":      "0",
	}

	resp, err := c.doPreauth(ctx, "signin", func(ctx context.Context, host string, _ session) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.baseHeaders(token)).
			SetHeader("Content-Type", "application/json;charset=utf-8").
			SetBody(payload).
			Post(c.siteURL(host, "/rest/user/signin", "locale=en-US"))
	})
	if err != nil {
		return fmt.Errorf("signin: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body(), &lr); err != nil {
		return fmt.Errorf("signin response: %w", err)
	}
	if !lr.Body.Result.Success {
		return ErrLoginFailed
	}
	return nil
}
