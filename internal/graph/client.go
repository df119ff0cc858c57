// Package graph is a client for the SPARQL 1.1 Graph Store HTTP
// Protocol. Each entity maps to one named graph; Replace is the remote
// store's atomic drop-and-insert, Capture reads back the current
// statements of a graph so the ingest orchestrator can build a rollback
// image before destructive operations.
package graph

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	contentTypeNQuads  = "application/n-quads"
	acceptNTriples     = "application/n-triples"
	defaultAttempts    = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultCallTimeout = 30 * time.Second
)

// Client talks to one graph store endpoint.
type Client struct {
	http      *resty.Client
	endpoint  string
	graphBase string
	attempts  int
	delay     time.Duration
	log       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the bounded retry schedule for transient errors.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if delay > 0 {
			c.delay = delay
		}
	}
}

// NewClient constructs a Client for the graph store protocol endpoint,
// e.g. http://fuseki:3030/ds/data. graphBase prefixes entity ids to form
// graph names.
func NewClient(endpoint, graphBase string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		http:      resty.New().SetTimeout(defaultCallTimeout),
		endpoint:  strings.TrimRight(endpoint, "/"),
		graphBase: strings.TrimRight(graphBase, "/"),
		attempts:  defaultAttempts,
		delay:     defaultRetryDelay,
		log:       log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GraphName derives the named-graph URI for an entity id.
func (c *Client) GraphName(entityID string) string {
	return c.graphBase + "/" + strings.TrimLeft(entityID, "/")
}

// Exists reports whether the named graph is present.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	var found bool
	err := c.withRetry(ctx, "exists", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("graph", name).
			SetHeader("Accept", acceptNTriples).
			Head(c.endpoint)
		if err != nil {
			return networkError("exists", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			found = false
			return nil
		}
		if err := classify("exists", resp); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Capture reads the current statements of a graph. The second return is
// false when the graph does not exist.
func (c *Client) Capture(ctx context.Context, name string) (string, bool, error) {
	var body string
	var found bool
	err := c.withRetry(ctx, "capture", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("graph", name).
			SetHeader("Accept", acceptNTriples).
			Get(c.endpoint)
		if err != nil {
			return networkError("capture", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			found = false
			body = ""
			return nil
		}
		if err := classify("capture", resp); err != nil {
			return err
		}
		found = true
		body = resp.String()
		return nil
	})
	return body, found, err
}

// Replace atomically swaps the named graph's contents for the given
// statement set in a single remote operation.
func (c *Client) Replace(ctx context.Context, name, statements string) error {
	return c.withRetry(ctx, "replace", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("graph", name).
			SetHeader("Content-Type", contentTypeNQuads).
			SetBody(statements).
			Put(c.endpoint)
		if err != nil {
			return networkError("replace", err)
		}
		return classify("replace", resp)
	})
}

// Delete drops the named graph. Deleting an absent graph is a success.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.withRetry(ctx, "delete", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("graph", name).
			Delete(c.endpoint)
		if err != nil {
			return networkError("delete", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil
		}
		return classify("delete", resp)
	})
}

// Ping probes the endpoint for health checking.
func (c *Client) HealthPing(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("graph", c.graphBase+"/__ping").
		Head(c.endpoint)
	if err != nil {
		return networkError("ping", err)
	}
	// 404 means the store answered; only overload or server faults count
	// as unhealthy.
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return classify("ping", resp)
}

// withRetry runs call, sleeping and retrying on transient errors up to
// the configured attempt budget. A server-supplied Retry-After wins over
// the fixed schedule. Fatal errors are surfaced immediately.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	var last error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		last = err
		if attempt == c.attempts {
			break
		}
		wait := c.delay
		var re *RemoteError
		if asRemote(err, &re) && re.RetryAfter > 0 {
			wait = re.RetryAfter
		}
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).
			Msg("graph store transient error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return last
}

func asRemote(err error, target **RemoteError) bool {
	re, ok := err.(*RemoteError)
	if ok {
		*target = re
	}
	return ok
}

// classify maps a response to an outcome class: nil for success,
// transient for upstream overload, fatal for everything else.
func classify(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
		return &RemoteError{
			Op:         op,
			Status:     code,
			Transient:  true,
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
			Body:       truncate(resp.String()),
		}
	default:
		// Includes 400 (malformed update) and 413 (oversized payload).
		return &RemoteError{Op: op, Status: code, Body: truncate(resp.String())}
	}
}

func networkError(op string, err error) error {
	return &RemoteError{Op: op, Transient: true, Body: err.Error()}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string) string {
	const max = 512
	if len(s) > max {
		return s[:max]
	}
	return s
}
