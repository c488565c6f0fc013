package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"vishwatch/internal/filter"
	"vishwatch/internal/model"
	"vishwatch/internal/normalize"
)

const (
	DefaultTimeout    = 20 * time.Second
	DefaultSummaryTTL = 10 * time.Minute

	maxBodyBytes = 16 << 20
)

// envelopeKeys are the object keys under which the backend may wrap the call list.
var envelopeKeys = []string{"data", "calls", "results"}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Token      string
	Timezone   string
	SummaryTTL time.Duration
	HTTPClient *http.Client
}

// Client talks to the classification backend. It never caches the call
// collection; only generated summaries are kept for SummaryTTL.
type Client struct {
	baseURL   string
	token     string
	loc       *time.Location
	http      *http.Client
	summaries *cache.Cache
	logger    *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ttl := opts.SummaryTTL
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	loc := time.UTC
	if opts.Timezone != "" {
		if l, err := time.LoadLocation(opts.Timezone); err == nil {
			loc = l
		}
	}
	if logger != nil {
		logger = logger.With("component", "feed")
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		token:     opts.Token,
		loc:       loc,
		http:      hc,
		summaries: cache.New(ttl, 2*ttl),
		logger:    logger,
	}
}

// Location is the zone used for timestamps and date bounds without one.
func (c *Client) Location() *time.Location {
	return c.loc
}

// Fetch retrieves the call collection, oldest first. The filter is sent to the
// backend as query parameters and applied again locally, so backends that
// ignore the parameters yield the same result. On a ProtocolError the returned
// slice is empty, never nil. On a ValidationError the valid calls are returned.
func (c *Client) Fetch(ctx context.Context, spec model.FilterSpec) ([]model.Call, error) {
	body, err := c.do(ctx, http.MethodGet, "/calls"+query(spec), nil)
	if err != nil {
		return []model.Call{}, err
	}
	calls, err := c.decodeCollection(body)
	if err != nil && !IsValidation(err) {
		return []model.Call{}, &ProtocolError{Op: http.MethodGet, URL: c.baseURL + "/calls", Err: err}
	}
	if !spec.IsZero() {
		calls = filter.Apply(calls, spec)
	}
	return calls, err
}

func (c *Client) Get(ctx context.Context, id string) (model.Call, error) {
	path := "/calls/" + url.PathEscape(id)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.Call{}, err
	}
	call, err := c.decodeCall(body, "data", "call")
	if err != nil {
		return model.Call{}, &ProtocolError{Op: http.MethodGet, URL: c.baseURL + path, Err: err}
	}
	if cached, ok := c.summaries.Get(id); ok && call.Summary == "" {
		call.Summary = cached.(string)
	}
	return call, nil
}

// Resolve marks the call as reviewed; the backend moves it to Resolved.
func (c *Client) Resolve(ctx context.Context, id string) (model.Call, error) {
	path := "/calls/" + url.PathEscape(id) + "/resolve"
	body, err := c.do(ctx, http.MethodPut, path, nil)
	if err != nil {
		return model.Call{}, err
	}
	c.summaries.Delete(id)
	call, err := c.decodeCall(body, "call", "data")
	if err != nil {
		return model.Call{}, &ProtocolError{Op: http.MethodPut, URL: c.baseURL + path, Err: err}
	}
	return call, nil
}

// Summarize returns the generated summary for a call, asking the backend only
// when no fresh copy is cached.
func (c *Client) Summarize(ctx context.Context, id string) (string, error) {
	if cached, ok := c.summaries.Get(id); ok {
		return cached.(string), nil
	}
	path := "/summarize/" + url.PathEscape(id)
	body, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Summary *string `json:"summary"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Summary == nil {
		if err == nil {
			err = errors.New("missing summary field")
		}
		return "", &ProtocolError{Op: http.MethodPost, URL: c.baseURL + path, Err: err}
	}
	c.summaries.SetDefault(id, *resp.Summary)
	return *resp.Summary, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	target := c.baseURL + path
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &NetworkError{Op: method, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Op: method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ProtocolError{Op: method, URL: target, StatusCode: resp.StatusCode, Err: ErrNotFound}
	case resp.StatusCode >= 500:
		return nil, &NetworkError{Op: method, URL: target, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	case resp.StatusCode >= 400:
		return nil, &ProtocolError{Op: method, URL: target, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	return body, nil
}

func (c *Client) decodeCollection(body []byte) ([]model.Call, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, key := range envelopeKeys {
			if list, ok := v[key].([]any); ok {
				items = list
				break
			}
		}
		if items == nil {
			return nil, fmt.Errorf("envelope has no call list under %v", envelopeKeys)
		}
	default:
		return nil, fmt.Errorf("expected array or envelope, got %T", raw)
	}

	calls := make([]model.Call, 0, len(items))
	var rejected []Rejection
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			rejected = append(rejected, Rejection{Index: i, Err: fmt.Errorf("entry is %T, not an object", item)})
			continue
		}
		call, err := normalize.Call(obj, c.loc)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			continue
		}
		calls = append(calls, call)
	}
	if len(rejected) > 0 {
		if c.logger != nil {
			c.logger.Warn("dropped invalid calls", "count", len(rejected))
		}
		return calls, &ValidationError{Rejected: rejected}
	}
	return calls, nil
}

func (c *Client) decodeCall(body []byte, wrappers ...string) (model.Call, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return model.Call{}, fmt.Errorf("decode call: %w", err)
	}
	for _, key := range wrappers {
		if inner, ok := obj[key].(map[string]any); ok {
			obj = inner
			break
		}
	}
	return normalize.Call(obj, c.loc)
}

func query(spec model.FilterSpec) string {
	v := url.Values{}
	if s := strings.TrimSpace(spec.Status); s != "" {
		v.Set("status", s)
	}
	if !spec.StartDate.IsZero() {
		v.Set("start_date", spec.StartDate.Format("2006-01-02"))
	}
	if !spec.EndDate.IsZero() {
		v.Set("end_date", spec.EndDate.Format("2006-01-02"))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
