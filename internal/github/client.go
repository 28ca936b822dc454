// Package github talks to the GitHub REST API: reading files, detecting the
// default branch and publishing commits through the git data API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	awerrs "github.com/jdholdren/awesync/internal/errors"
)

const (
	DefaultBaseURL = "https://api.github.com"

	apiVersion         = "2022-11-28"
	defaultBackoffStep = 500 * time.Millisecond
)

// Sentinels wrapped by the *errors.Error values the client returns.
var (
	ErrNotFound    = errors.New("repository or file not found, or no access")
	ErrForbidden   = errors.New("permission denied")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrConflict    = errors.New("branch moved, resync required")
)

// Client is safe for concurrent use. Rate-limit state belongs to the
// instance.
type Client struct {
	http        *http.Client
	baseURL     string
	backoffStep time.Duration

	mu        sync.Mutex
	rateLimit RateLimit
	rateKnown bool
}

type Option func(*Client)

// WithBaseURL points the client at a different API host, like GitHub
// Enterprise or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithBackoffStep sets the unit of the linear backoff used while detecting
// the default branch.
func WithBackoffStep(d time.Duration) Option {
	return func(c *Client) {
		c.backoffStep = d
	}
}

// New creates a client. An empty token makes unauthenticated requests.
func New(ctx context.Context, token string, opts ...Option) *Client {
	hc := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		hc.Timeout = 30 * time.Second
	}

	c := &Client{
		http:        hc,
		baseURL:     DefaultBaseURL,
		backoffStep: defaultBackoffStep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a JSON request and decodes the response into out, when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		byts, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(byts)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.recordRateLimit(resp.Header)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(method, path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// statusError maps a failed response to an *errors.Error wrapping one of the
// package sentinels where one applies.
func statusError(method, path string, resp *http.Response) error {
	var ghErr struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&ghErr)

	msg := ghErr.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case http.StatusForbidden:
		sentinel = ErrForbidden
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			sentinel = ErrRateLimited
		}
	case http.StatusConflict:
		sentinel = ErrConflict
	}

	if sentinel == nil {
		return awerrs.E(resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, msg))
	}
	return awerrs.E(resp.StatusCode, fmt.Errorf("%s %s: %s: %w", method, path, msg, sentinel))
}

// RateLimit is the core API quota.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Reset     time.Time `json:"reset"`
}

func (c *Client) recordRateLimit(h http.Header) {
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil {
		return
	}
	remaining, _ := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	used, _ := strconv.Atoi(h.Get("X-RateLimit-Used"))
	reset, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimit = RateLimit{
		Limit:     limit,
		Remaining: remaining,
		Used:      used,
		Reset:     time.Unix(reset, 0).UTC(),
	}
	c.rateKnown = true
}

// LastRateLimit returns the quota reported by the most recent response.
func (c *Client) LastRateLimit() (RateLimit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit, c.rateKnown
}

// RateLimit asks the API for the current core quota. The call itself does
// not count against it.
func (c *Client) RateLimit(ctx context.Context) (RateLimit, error) {
	var resp struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Used      int   `json:"used"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.do(ctx, http.MethodGet, "/rate_limit", nil, &resp); err != nil {
		return RateLimit{}, err
	}

	core := resp.Resources.Core
	rl := RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Used:      core.Used,
		Reset:     time.Unix(core.Reset, 0).UTC(),
	}

	c.mu.Lock()
	c.rateLimit, c.rateKnown = rl, true
	c.mu.Unlock()

	return rl, nil
}
