package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dev-sys-do/sealboard/internal/pipeline"
)

const maxErrorBody = 512

// Client reads pipelines from the SealCI controller API.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client for the controller rooted at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse controller endpoint %q", endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("controller endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return nil, errors.Errorf("controller endpoint %q: missing host", endpoint)
	}
	u.RawQuery = ""
	u.Fragment = ""
	c := &Client{
		base:    u,
		http:    http.DefaultClient,
		timeout: 10 * time.Second,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the base URL requests are issued against.
func (c *Client) Endpoint() string {
	return c.base.String()
}

// FetchPipelines issues GET {base}/pipeline?verbose={verbose}. In non-verbose
// mode the controller may omit actions, so the result should not be used to
// derive statuses.
func (c *Client) FetchPipelines(ctx context.Context, verbose bool) ([]pipeline.Pipeline, error) {
	var out []pipeline.Pipeline
	if err := c.get(ctx, "/pipeline", verbose, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchPipeline issues GET {base}/pipeline/{id}?verbose={verbose}.
func (c *Client) FetchPipeline(ctx context.Context, id string, verbose bool) (*pipeline.Pipeline, error) {
	var out *pipeline.Pipeline
	if err := c.get(ctx, "/pipeline/"+url.PathEscape(id), verbose, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) url(path string, verbose bool) string {
	return c.base.String() + path + "?verbose=" + strconv.FormatBool(verbose)
}

// get performs a GET and decodes the JSON body into out, which must be a
// pointer to a slice or a pointer to a pointer. A null body is a shape error.
func (c *Client) get(ctx context.Context, path string, verbose bool, out any) error {
	target := c.url(path, verbose)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &FetchError{Kind: KindTransport, Method: http.MethodGet, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", req.Method).Str("url", target).Msg("controller request failed")
		return &FetchError{Kind: KindTransport, Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("controller request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &FetchError{
			Kind:       KindProtocol,
			Method:     req.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        errors.New(msg),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Kind: KindTransport, Method: req.Method, URL: target, Err: errors.Wrap(err, "read body")}
	}
	if err := decodeStrict(body, out); err != nil {
		return &FetchError{Kind: KindShape, Method: req.Method, URL: target, Err: err}
	}
	return nil
}

// decodeStrict decodes exactly one JSON value and rejects trailing data and
// null bodies.
func decodeStrict(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if dec.More() {
		return errors.New("decode response: trailing data after JSON value")
	}
	return nil
}
