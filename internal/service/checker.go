package service

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/gifengine/internal/logger"
)

// URLChecker checks whether a URL still resolves.
type URLChecker interface {
	Check(ctx context.Context, url string) bool
}

// HTTPChecker sends HEAD and falls back once to a one-byte ranged GET when
// HEAD fails in transport or is rejected with 405. Any final status below
// 400 counts as alive.
type HTTPChecker struct {
	client *resty.Client
}

func NewHTTPChecker(timeout time.Duration, userAgent string) *HTTPChecker {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &HTTPChecker{client: client}
}

func (c *HTTPChecker) Check(ctx context.Context, url string) bool {
	resp, err := c.client.R().SetContext(ctx).Head(url)
	if err == nil && resp.StatusCode() != http.StatusMethodNotAllowed {
		return resp.StatusCode() < 400
	}
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		logger.CtxDebug(ctx, "HEAD check failed, retrying with GET: url=%s, error=%v", url, err)
	}

	resp, err = c.client.R().
		SetContext(ctx).
		SetHeader("Range", "bytes=0-0").
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		logger.CtxDebug(ctx, "GET check failed: url=%s, error=%v", url, err)
		return false
	}
	if body := resp.RawBody(); body != nil {
		body.Close()
	}
	return resp.StatusCode() < 400
}
