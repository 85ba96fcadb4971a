package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/common"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/dmitrijs2005/readkeeper/internal/netx"
	"github.com/sethvargo/go-retry"
)

// maxBodySize bounds any response body, article content included.
const maxBodySize = 32 << 20

// Options configure HTTPClient. Zero values are replaced by defaults.
type Options struct {
	BaseURL string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// MaxRetryAfter is the longest server-requested delay the client waits
	// for. Longer delays surface as *RateLimitedError immediately.
	MaxRetryAfter time.Duration
	HTTPClient    *http.Client
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.MaxRetryAfter <= 0 {
		o.MaxRetryAfter = 30 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
}

// HTTPClient implements Client over the JSON HTTP API.
type HTTPClient struct {
	base   *url.URL
	opts   Options
	logger logging.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options, l logging.Logger) (*HTTPClient, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", opts.BaseURL)
	}
	opts.applyDefaults()
	return &HTTPClient{
		base:   base,
		opts:   opts,
		logger: l.With("module", "remote_client"),
		now:    time.Now,
	}, nil
}

func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *HTTPClient) backoff() *hintBackoff {
	b := retry.NewExponential(c.opts.BaseDelay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(c.opts.MaxDelay, b)
	return &hintBackoff{next: retry.WithMaxRetries(c.opts.MaxRetries, b)}
}

// hintBackoff waits at least the delay the server last asked for. The hint
// applies to the next wait only.
type hintBackoff struct {
	next retry.Backoff
	hint time.Duration
}

func (b *hintBackoff) Next() (time.Duration, bool) {
	d, stop := b.next.Next()
	if stop {
		return 0, true
	}
	if b.hint > d {
		d = b.hint
	}
	b.hint = 0
	return d, false
}

// once performs a single attempt without interpreting the status.
func (c *HTTPClient) once(ctx context.Context, method string, u *url.URL, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", common.UserAgent+"/"+buildinfo.Version)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.currentToken(); tok != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+tok)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodySize)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// do runs one API call with retries. Transport failures, 5xx and 429 are
// retried; the final response is returned together with its mapped status
// error.
func (c *HTTPClient) do(ctx context.Context, method string, u *url.URL, payload any) (*response, error) {
	if err := checkToken(c.currentToken(), c.now()); err != nil {
		return nil, err
	}

	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var (
		final   *response
		attempt int
	)
	backoff := c.backoff()
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := c.once(ctx, method, u, encoded)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.logger.Debug(ctx, "request failed", "method", method, "path", u.Path, "attempt", attempt, "error", err)
			return retry.RetryableError(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}

		switch {
		case r.status == http.StatusTooManyRequests:
			delay, ok := netx.ParseRetryAfter(r.header.Get("Retry-After"), c.now())
			rl := &RateLimitedError{RetryAfter: delay}
			if ok && delay > c.opts.MaxRetryAfter {
				return rl
			}
			c.logger.Debug(ctx, "rate limited", "path", u.Path, "attempt", attempt, "retry_after", delay)
			if ok {
				backoff.hint = delay
			}
			return retry.RetryableError(rl)
		case r.status >= 500:
			c.logger.Debug(ctx, "server error", "path", u.Path, "attempt", attempt, "status", r.status)
			return retry.RetryableError(fmt.Errorf("%w: %w", ErrUnavailable,
				&netx.StatusError{Code: r.status, Body: netx.ErrorBody(bytes.NewReader(r.body))}))
		}
		final = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, mapStatus(final)
}

func mapStatus(r *response) error {
	switch {
	case r.status >= 200 && r.status < 300:
		return nil
	case r.status == http.StatusUnauthorized, r.status == http.StatusForbidden:
		return ErrUnauthorized
	case r.status == http.StatusNotFound:
		return common.ErrNotFound
	case r.status == http.StatusConflict:
		return ErrConflict
	default:
		return &netx.StatusError{Code: r.status, Body: netx.ErrorBody(bytes.NewReader(r.body))}
	}
}

func (c *HTTPClient) endpoint(query url.Values, elem ...string) *url.URL {
	u := c.base.JoinPath(elem...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *HTTPClient) ListChangedSince(ctx context.Context, cursor string) (*models.ChangeSet, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(q, "api", "v1", "bookmarks", "changes"), nil)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}

	var cs models.ChangeSet
	if err := json.Unmarshal(resp.body, &cs); err != nil {
		return nil, fmt.Errorf("decode changes: %w: %w", ErrBadResponse, err)
	}
	return &cs, nil
}

type contentWire struct {
	BookmarkID     string `json:"bookmark_id"`
	ContentVersion int64  `json:"content_version"`
	ContentType    string `json:"content_type"`
	Body           string `json:"body"`
}

func (c *HTTPClient) FetchContent(ctx context.Context, bookmarkID string) (*models.ContentBlob, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "api", "v1", "bookmarks", url.PathEscape(bookmarkID), "content"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch content of %s: %w", bookmarkID, err)
	}

	var w contentWire
	if err := json.Unmarshal(resp.body, &w); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w: %w", bookmarkID, ErrBadResponse, err)
	}
	if w.BookmarkID == "" {
		w.BookmarkID = bookmarkID
	}
	return &models.ContentBlob{
		BookmarkID:     w.BookmarkID,
		ContentVersion: w.ContentVersion,
		ContentType:    w.ContentType,
		Body:           []byte(w.Body),
	}, nil
}

type pushWire struct {
	ScrollPercent float64   `json:"scroll_percent"`
	ReadAt        time.Time `json:"read_at"`
}

func (c *HTTPClient) PushProgress(ctx context.Context, bookmarkID string, p models.ReadProgress) (*models.PushResult, error) {
	payload := pushWire{ScrollPercent: p.ScrollPercent, ReadAt: p.LastReadAt.UTC()}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "api", "v1", "bookmarks", url.PathEscape(bookmarkID), "progress"), payload)
	switch {
	case err == nil:
		return &models.PushResult{Status: models.PushAck}, nil
	case errors.Is(err, ErrConflict):
		var remote models.RemoteProgress
		if derr := json.Unmarshal(resp.body, &remote); derr != nil {
			return nil, fmt.Errorf("decode conflict of %s: %w: %w", bookmarkID, ErrBadResponse, derr)
		}
		return &models.PushResult{Status: models.PushConflict, Remote: &remote}, nil
	default:
		return nil, fmt.Errorf("push progress of %s: %w", bookmarkID, err)
	}
}

// Ping makes a single attempt so connectivity probes stay fast.
func (c *HTTPClient) Ping(ctx context.Context) error {
	r, err := c.once(ctx, http.MethodGet, c.endpoint(nil, "api", "v1", "ping"), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if r.status >= 500 || r.status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrUnavailable, r.status)
	}
	return mapStatus(r)
}
