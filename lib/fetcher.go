package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DefaultRatePerSecond defines the default request rate per second when creating a new Fetcher.
const DefaultRatePerSecond = 2

// defaultRetryAfter specifies the default value for Retry-After header in case of too many requests.
const defaultRetryAfter = 60

// defaultMaxElapsedTime specifies the default maximum elapsed time for the exponential backoff.
const defaultMaxElapsedTime = 10 * time.Minute

// defaultMaxInterval defines the default maximum interval for the exponential backoff.
const defaultMaxInterval = 2 * time.Minute

// defaultMaxWorkers defines the default number of concurrent asset resolutions.
const defaultMaxWorkers = 10

// defaultUserAgent is a realistic browser identity. Some asset hosts
// reject requests carrying default library identifiers.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/122.0 Safari/537.36"

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.Code, e.URL)
}

// IsNotFound reports whether err represents an HTTP 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// FetchError represents an error returned when encountering too many requests with a Retry-After value.
type FetchError struct {
	TooManyRequests bool
	RetryAfter      int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("too many requests, retry after %d seconds", e.RetryAfter)
}

// Fetcher represents a URL fetcher with rate limiting and retry mechanisms.
type Fetcher struct {
	Client      *http.Client
	RateLimiter *rate.Limiter
	NewBackoff  func() backoff.BackOff
	UserAgent   string
	MaxWorkers  int
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRatePerSecond sets the request rate per second.
func WithRatePerSecond(ratePerSecond int) FetcherOption {
	return func(f *Fetcher) {
		if ratePerSecond > 0 {
			f.RateLimiter = rate.NewLimiter(rate.Limit(ratePerSecond), f.RateLimiter.Burst())
		}
	}
}

// WithBurst sets the burst size of the rate limiter.
func WithBurst(burst int) FetcherOption {
	return func(f *Fetcher) {
		if burst > 0 {
			f.RateLimiter = rate.NewLimiter(f.RateLimiter.Limit(), burst)
		}
	}
}

// WithProxyURL routes all requests through the given proxy.
func WithProxyURL(proxyURL *url.URL) FetcherOption {
	return func(f *Fetcher) {
		if proxyURL != nil {
			f.Client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
}

// WithBackOffConfig sets the factory producing the retry backoff for
// each request. Backoff instances carry mutable retry state, so they
// cannot be shared between concurrent fetches.
func WithBackOffConfig(newBackoff func() backoff.BackOff) FetcherOption {
	return func(f *Fetcher) {
		if newBackoff != nil {
			f.NewBackoff = newBackoff
		}
	}
}

// WithTimeout sets the per-request timeout of the underlying client.
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.Client.Timeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.UserAgent = ua
		}
	}
}

// WithMaxWorkers sets the number of concurrent asset resolutions.
func WithMaxWorkers(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.MaxWorkers = n
		}
	}
}

// NewFetcher creates a new Fetcher with the given options applied on top of the defaults.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		Client:      &http.Client{},
		RateLimiter: rate.NewLimiter(rate.Limit(DefaultRatePerSecond), 1),
		NewBackoff:  makeDefaultBackoff,
		UserAgent:   defaultUserAgent,
		MaxWorkers:  defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches the given URL and returns the raw HTTP response, retrying
// transient transport failures and rate-limit responses. A 404 or any
// other non-2xx status is permanent and is returned as a *StatusError
// without retrying.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	var res *http.Response
	var nextRetryWait time.Duration

	operation := func() error {
		if nextRetryWait > 0 {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(nextRetryWait):
			}
			nextRetryWait = 0
		}
		if err := f.RateLimiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := f.fetch(ctx, rawURL)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}

	notify := func(err error, d time.Duration) {
		var fe *FetchError
		if errors.As(err, &fe) && fe.TooManyRequests {
			nextRetryWait = time.Duration(fe.RetryAfter) * time.Second
		}
	}

	// Each call retries on its own backoff instance; the retry state is
	// mutable and must not be shared between concurrent fetches.
	if err := backoff.RetryNotify(operation, backoff.WithContext(f.NewBackoff(), ctx), notify); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchURL fetches the specified URL and returns the response body as io.ReadCloser.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	res, err := f.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// fetch performs the actual HTTP GET request. It translates 429 into a
// retryable *FetchError and every other non-2xx status into a *StatusError.
func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusTooManyRequests {
		retryAfter := defaultRetryAfter
		if retryAfterStr := res.Header.Get("Retry-After"); retryAfterStr != "" {
			retryAfter, err = strconv.Atoi(retryAfterStr)
			if err != nil {
				res.Body.Close()
				return nil, fmt.Errorf("invalid Retry-After header: %v", err)
			}
		}
		res.Body.Close()
		return nil, &FetchError{TooManyRequests: true, RetryAfter: retryAfter}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, &StatusError{Code: res.StatusCode, URL: rawURL}
	}

	return res, nil
}

// makeDefaultBackoff creates and returns the default exponential backoff configuration.
func makeDefaultBackoff() backoff.BackOff {
	backOffCfg := backoff.NewExponentialBackOff()
	backOffCfg.MaxElapsedTime = defaultMaxElapsedTime
	backOffCfg.MaxInterval = defaultMaxInterval
	backOffCfg.Multiplier = 2.0

	return backOffCfg
}
