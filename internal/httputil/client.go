// Package httputil provides a hardened HTTP client and input sanitization utilities.
package httputil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/121.0"

// maxPageSize bounds HTML documents read for metadata.
const maxPageSize = 10 * 1024 * 1024

// ErrNonPublicAddress is returned when a connection would reach a
// loopback, private, link-local or otherwise non-public address.
var ErrNonPublicAddress = errors.New("refusing to connect to non-public address")

// nonPublicPrefixes are ranges netip has no predicate for.
var nonPublicPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

// DialControl inspects every outbound connection after DNS resolution and
// may refuse it. See net.Dialer.Control.
type DialControl func(network, address string, c syscall.RawConn) error

// PublicOnly is a DialControl that allows only public unicast addresses.
func PublicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNonPublicAddress, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !IsPublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrNonPublicAddress, host)
	}
	return nil
}

// IsPublicAddr reports whether addr is a globally routable unicast address.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() {
		return false
	}
	for _, p := range nonPublicPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// NewClient creates a hardened HTTP client with secure defaults that only
// connects to public addresses.
// There is no overall timeout: media transfers can take minutes and are
// bounded by the caller's context instead.
func NewClient() *http.Client {
	return NewClientWithControl(PublicOnly)
}

// NewClientWithControl is NewClient with a custom dial check. A nil control
// allows every address.
func NewClientWithControl(control DialControl) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if control != nil {
		dialer.Control = control
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConnsPerHost:   5,
		},
	}
}

// GetPage fetches an HTML page and returns a reader over at most 10MB of its body.
// The caller must close the returned body.
func GetPage(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	resp, err := get(ctx, client, url, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxPageSize), resp.Body}, nil
}

// GetStream opens a media URL for reading. The returned size is the
// Content-Length, or -1 if the server did not send one.
func GetStream(ctx context.Context, client *http.Client, url string) (io.ReadCloser, int64, error) {
	resp, err := get(ctx, client, url, "*/*")
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

func get(ctx context.Context, client *http.Client, url, accept string) (*http.Response, error) {
	if err := ValidateMediaURL(url); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	return resp, nil
}
