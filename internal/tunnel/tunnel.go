// Package tunnel establishes the public base URL under which the service is
// reachable. It is opened once at startup and its URL never changes.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"

	"clipdrop/internal/config"
)

// Tunnel is an established public endpoint.
type Tunnel interface {
	// URL is the public base URL, without a trailing slash.
	URL() string

	// Listener accepts connections arriving through the tunnel, or is nil
	// when traffic reaches the local listener directly.
	Listener() net.Listener

	Close() error
}

// Open establishes the tunnel selected by cfg.
func Open(ctx context.Context, cfg *config.Config) (Tunnel, error) {
	switch strings.ToLower(cfg.Tunnel) {
	case config.TunnelNgrok:
		t, err := openNgrok(ctx, cfg.NgrokAuthtoken)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.TunnelNone, "":
		return Static(baseURL(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported tunnel %q", cfg.Tunnel)
	}
}

func baseURL(cfg *config.Config) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	return cfg.LocalURL()
}

// Static returns a Tunnel for a fixed URL, e.g. a reverse proxy configured
// outside this process.
func Static(url string) Tunnel {
	return staticTunnel(strings.TrimRight(url, "/"))
}

type staticTunnel string

func (s staticTunnel) URL() string { return string(s) }

func (s staticTunnel) Listener() net.Listener { return nil }

func (s staticTunnel) Close() error { return nil }

type ngrokTunnel struct {
	tun ngrok.Tunnel
}

// openNgrok starts an ngrok HTTP endpoint. An empty authtoken falls back to
// the NGROK_AUTHTOKEN environment variable.
func openNgrok(ctx context.Context, authtoken string) (*ngrokTunnel, error) {
	opt := ngrok.WithAuthtokenFromEnv()
	if authtoken != "" {
		opt = ngrok.WithAuthtoken(authtoken)
	}

	tun, err := ngrok.Listen(ctx, ngrokconfig.HTTPEndpoint(), opt)
	if err != nil {
		return nil, fmt.Errorf("starting ngrok tunnel: %w", err)
	}
	return &ngrokTunnel{tun: tun}, nil
}

func (n *ngrokTunnel) URL() string {
	return strings.TrimRight(n.tun.URL(), "/")
}

func (n *ngrokTunnel) Listener() net.Listener {
	return n.tun
}

func (n *ngrokTunnel) Close() error {
	return n.tun.Close()
}
