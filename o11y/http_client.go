package o11y

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
	Get(string) (*http.Response, error)
}

type wrappedClient struct {
	HTTPClient
	ctx     context.Context
	metrics *Metrics
}

type ClientOption func(*wrappedClient)

// WithClientMetrics records the duration of every outbound request.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *wrappedClient) {
		c.metrics = m
	}
}

// WithClientContext sets the context used by Get, which takes no context of its own.
func WithClientContext(ctx context.Context) ClientOption {
	return func(c *wrappedClient) {
		c.ctx = ctx
	}
}

func WrapClient(c HTTPClient, opts ...ClientOption) HTTPClient {
	w := &wrappedClient{HTTPClient: c}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (c *wrappedClient) Do(req *http.Request) (res *http.Response, err error) {
	ctx, span := Trace(req.Context(), req.URL.Host, WithSpanKind(SpanKindClient))
	start := time.Now()
	defer func() {
		code := "error"
		if err != nil {
			span.RecordError(err)
		} else {
			span.SetMetadata(map[string]any{
				"http.status_code":             res.StatusCode,
				"http.response_content_length": res.ContentLength,
			})
			span.SetStatus(res.StatusCode)
			code = strconv.Itoa(res.StatusCode/100) + "xx"
		}
		span.End()
		c.metrics.OutboundRequest(req.URL.Host, code, time.Since(start).Seconds())
	}()

	span.SetMetadata(map[string]any{
		"http.method":                 req.Method,
		"http.url":                    redactURL(req),
		"http.scheme":                 req.URL.Scheme,
		"http.path":                   req.URL.Path,
		"http.request_content_length": req.ContentLength,
	})

	return c.HTTPClient.Do(req.WithContext(ctx))
}

func (c *wrappedClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if c.ctx != nil {
		req = req.WithContext(c.ctx)
	}

	return c.Do(req)
}

// redactURL drops the query string, which may carry API keys.
func redactURL(req *http.Request) string {
	u := *req.URL
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	u.User = nil
	return u.String()
}
