package scraper

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"danmuhub/config"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// HTTPClient is the shared outbound client: proxy-aware, retrying, and
// paced per host so a burst of episode fetches does not hammer one site.
type HTTPClient struct {
	cfg *config.Manager

	mu       sync.Mutex
	client   *http.Client
	builtFor config.ProxySettings
	limiters map[string]*rate.Limiter
}

func NewHTTPClient(cfg *config.Manager) *HTTPClient {
	return &HTTPClient{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

// Do sends the request with per-host pacing and up to three retries on
// transient failures. The caller's context bounds the whole attempt chain.
func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	settings, err := h.cfg.Load()
	if err != nil {
		return nil, err
	}
	client, err := h.clientFor(settings.Proxy)
	if err != nil {
		return nil, err
	}

	target := req.URL
	if settings.Proxy.Mode == "accelerate" && settings.Proxy.AccelerateProxyURL != "" {
		rewritten, err := accelerate(settings.Proxy.AccelerateProxyURL, req.URL)
		if err != nil {
			return nil, err
		}
		target = rewritten
	}

	if err := h.wait(req.Context(), target.Host); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	var resp *http.Response
	err = retry.Do(
		func() error {
			attempt := req.Clone(req.Context())
			attempt.URL = target
			attempt.Host = ""
			r, err := client.Do(attempt)
			if err != nil {
				return err
			}
			if r.StatusCode >= 500 {
				r.Body.Close()
				return fmt.Errorf("server error: %s", r.Status)
			}
			resp = r
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(req.Context()),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJSON fetches a URL and decodes the JSON body into out.
func (h *HTTPClient) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", rawURL, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wait applies the per-host pacer: 4 req/s with a burst of 8.
func (h *HTTPClient) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(4), 8)
		h.limiters[host] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}

// clientFor rebuilds the underlying http.Client when proxy settings change.
func (h *HTTPClient) clientFor(p config.ProxySettings) (*http.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil && h.builtFor == p {
		return h.client, nil
	}

	transport := &http.Transport{
		Proxy:               nil,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if !p.SSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if p.Mode == "http_socks" && p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if u.User != nil {
				pw, _ := u.User.Password()
				auth = &proxy.Auth{User: u.User.Username(), Password: pw}
			}
			dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	h.client = &http.Client{Transport: transport, Timeout: 60 * time.Second}
	h.builtFor = p
	return h.client, nil
}

// accelerate prefixes the original URL onto the accelerate endpoint, the
// mirror-proxy convention where the full target URL becomes the path.
func accelerate(prefix string, target *url.URL) (*url.URL, error) {
	joined := strings.TrimRight(prefix, "/") + "/" + target.String()
	return url.Parse(joined)
}
