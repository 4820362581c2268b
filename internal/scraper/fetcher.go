package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/metrics"
	"github.com/pauljones0/rfd-deal-digest/internal/util"
)

const (
	maxBodyBytes = 10 << 20
	maxRedirects = 10
)

var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// Fetcher downloads the hot deals listing page.
type Fetcher struct {
	httpClient     *http.Client
	allowedDomains []string
}

func NewFetcher(cfg *config.Config) (*Fetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment

	if cfg.ProxyURL != "" {
		parsedURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid PROXY_URL: %w", err)
		}
		switch parsedURL.Scheme {
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if parsedURL.User != nil {
				password, _ := parsedURL.User.Password()
				auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
			}
			dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks5 dialer: %w", err)
			}
			transport.Proxy = nil
			transport.DialContext = socksDialContext(dialer)
		case "http", "https":
			transport.Proxy = http.ProxyURL(parsedURL)
		default:
			return nil, fmt.Errorf("unsupported PROXY_URL scheme %q", parsedURL.Scheme)
		}
		slog.Info("Using outbound proxy", "scheme", parsedURL.Scheme, "host", parsedURL.Host)
	}

	f := &Fetcher{allowedDomains: cfg.AllowedDomains}
	f.httpClient = &http.Client{
		Timeout:       cfg.FetchTimeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f, nil
}

// checkRedirect applies the host allowlist to every hop.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return f.checkHost(req.URL.String())
}

func (f *Fetcher) checkHost(urlStr string) error {
	allowed, err := util.HostAllowed(urlStr, f.allowedDomains)
	if err != nil {
		return &TransportError{Kind: FailureBlocked, URL: urlStr, Err: fmt.Errorf("failed to parse URL: %w", err)}
	}
	if !allowed {
		return &TransportError{Kind: FailureBlocked, URL: urlStr, Err: errors.New("hostname is not in allowlist")}
	}
	return nil
}

// proxyDialError marks a failure to reach the target through the SOCKS proxy.
type proxyDialError struct{ err error }

func (e *proxyDialError) Error() string { return "socks5: " + e.err.Error() }
func (e *proxyDialError) Unwrap() error { return e.err }

func socksDialContext(dialer proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var conn net.Conn
		var err error
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			conn, err = cd.DialContext(ctx, network, addr)
		} else {
			conn, err = dialer.Dial(network, addr)
		}
		if err != nil {
			return nil, &proxyDialError{err: err}
		}
		return conn, nil
	}
}

// Fetch performs a single GET of urlStr and returns the body. Every failure
// is a *TransportError; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (string, error) {
	start := time.Now()
	body, err := f.fetch(ctx, urlStr)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			metrics.FetchFailures.WithLabelValues(string(te.Kind)).Inc()
			slog.Warn("Fetch failed", "url", urlStr, "kind", te.Kind, "error", te.Err, "status", te.StatusCode)
		}
		return "", err
	}
	slog.Debug("Fetched listing page", "url", urlStr, "bytes", len(body), "elapsed", time.Since(start))
	return body, nil
}

func (f *Fetcher) fetch(ctx context.Context, urlStr string) (string, error) {
	if err := f.checkHost(urlStr); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", &TransportError{Kind: FailureUnexpected, URL: urlStr, Err: err}
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	res, err := f.httpClient.Do(req)
	if err != nil {
		var blocked *TransportError
		if errors.As(err, &blocked) {
			return "", blocked
		}
		return "", &TransportError{Kind: classify(err), URL: urlStr, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &TransportError{Kind: FailureStatus, URL: urlStr, StatusCode: res.StatusCode, Err: errors.New(res.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", &TransportError{Kind: FailureRequest, URL: urlStr, Err: fmt.Errorf("reading body: %w", err)}
	}
	return string(data), nil
}

func classify(err error) FailureKind {
	var pde *proxyDialError
	if errors.As(err, &pde) {
		return FailureProxy
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return FailureProxy
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FailureRequest
	}
	return FailureUnexpected
}
