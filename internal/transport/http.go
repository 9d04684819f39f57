package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
)

// HTTPClient implements Server over net/http and coder/websocket. The cookie
// jar is shared between REST calls and socket dials so the session cookie
// set by POST /auth/session authenticates the push channel.
type HTTPClient struct {
	config  Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(config Config) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", config.BaseURL)
	}
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = 10000
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 20
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &HTTPClient{
		config: config,
		base:   base,
		client: &http.Client{
			Timeout: time.Duration(config.TimeoutMs) * time.Millisecond,
			Jar:     jar,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
	}, nil
}

func (c *HTTPClient) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	body, _, err := c.do(ctx, http.MethodGet, path, params, nil)
	return body, err
}

func (c *HTTPClient) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	resp, _, err := c.do(ctx, http.MethodPut, path, nil, body)
	return resp, err
}

func (c *HTTPClient) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	resp, _, err := c.do(ctx, http.MethodPost, path, nil, body)
	return resp, err
}

func (c *HTTPClient) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	resp, _, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return resp, err
}

// GetPage is Get plus the Link header split into next/previous URLs.
func (c *HTTPClient) GetPage(ctx context.Context, path string, params url.Values) (Page, error) {
	body, header, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return Page{}, err
	}
	links := ParseLink(header.Get("Link"))
	return Page{JSON: body, Next: links.Next, Prev: links.Prev}, nil
}

func (c *HTTPClient) resolve(path string, params url.Values) string {
	u := *c.base
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if parsed, err := url.Parse(path); err == nil {
			u = *parsed
		}
	} else {
		u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	target := c.resolve(path, params)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		observ.IncCounter("http_requests_total", map[string]string{"method": method, "outcome": "network"})
		return nil, nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()
	observ.RecordDuration("http_request", time.Since(start), map[string]string{"method": method})

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observ.IncCounter("http_requests_total", map[string]string{"method": method, "outcome": fmt.Sprintf("%dxx", resp.StatusCode/100)})
		herr := newError(resp.StatusCode, data)
		if resp.StatusCode >= http.StatusInternalServerError {
			observ.Log("http_server_error", map[string]any{"method": method, "path": path, "status": resp.StatusCode})
		}
		return nil, resp.Header, herr
	}

	observ.IncCounter("http_requests_total", map[string]string{"method": method, "outcome": "ok"})
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, resp.Header, nil
	}
	if !json.Valid(data) {
		return nil, resp.Header, &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), Err: fmt.Errorf("response is not json")}
	}
	return json.RawMessage(data), resp.Header, nil
}
