// Package httpclient builds the HTTP clients used by discovery and the
// vulnerability testers.
package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Options configures a client produced by New.
type Options struct {
	Timeout time.Duration

	// ProxyURL routes all traffic through the scanning proxy. Empty means
	// direct connections.
	ProxyURL string

	FollowRedirects bool
	MaxRedirects    int
}

// DefaultOptions returns the options used by the heuristic crawler.
func DefaultOptions() Options {
	return Options{
		Timeout:         5 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    5,
	}
}

// TesterOptions returns the options used by the vulnerability testers.
// Redirects are not followed so that auth comparisons see the original
// response, not a login page both variants land on.
func TesterOptions(proxyURL string, timeout time.Duration) Options {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return Options{
		Timeout:  timeout,
		ProxyURL: proxyURL,
	}
}

// New builds a client from the given options. An unparseable proxy URL is
// reported rather than silently ignored.
func New(opts Options) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}

	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if opts.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
			}
			return nil
		}
	}

	return client, nil
}

// CloseBody drains and closes a response body so the underlying
// connection can be reused.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close HTTP response body: %v\n", err)
	}
}
