// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 1 << 20
	defaultMaxRedirects = 3
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	MaxRedirects int
	// Transport is shared with other HTTP clients when set.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the hooks observe during one visit.
type fetchState struct {
	result        crawler.FetchResponse
	err           error
	contentLength int64
	oversized     bool
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.Transport == nil {
		cfg.Transport = NewTransport(100, 2)
	}

	// One extra byte lets a response that overruns the cap be told apart
	// from one that exactly fills it.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.DetectCharset(),
		colly.MaxBodySize(cfg.MaxBodyBytes+1),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	})

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	state := &fetchState{}
	start := time.Now()
	collector := f.buildCollector(request, start, state)

	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return crawler.FetchResponse{}, err
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(request crawler.FetchRequest, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponseHeaders(func(r *colly.Response) {
		n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
		if err != nil || n <= int64(f.cfg.MaxBodyBytes) {
			return
		}
		state.contentLength = n
		state.oversized = true
		r.Request.Abort()
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			state.err = &crawler.StatusError{Code: r.StatusCode}
			return
		}
		body := r.Body
		truncated := false
		if len(body) > f.cfg.MaxBodyBytes {
			body = body[:f.cfg.MaxBodyBytes]
			truncated = true
		}
		state.result = crawler.FetchResponse{
			URL:         request.URL,
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Headers:     r.Headers.Clone(),
			Body:        append([]byte(nil), body...),
			Truncated:   truncated,
			ContentType: r.Headers.Get("Content-Type"),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if state.oversized {
			return fmt.Errorf("content-length %d exceeds %d bytes: %w",
				state.contentLength, f.cfg.MaxBodyBytes, crawler.ErrOversizedResponse)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		if err != nil && !errors.Is(err, colly.ErrAbortedAfterHeaders) {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// NewTransport builds the pooled transport shared by page and robots
// fetches. maxConns caps connections overall and maxPerHost per host.
func NewTransport(maxConns, maxPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxPerHost,
		MaxConnsPerHost:       maxPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
