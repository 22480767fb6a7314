package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Dial connects to a ws:// or wss:// URL and returns the split connection.
//
// It opens a TCP connection, performs a TLS handshake for wss://, and then
// runs Client over it. On failure the connection is closed.
//
// Example:
//
//	tx, rx, proto, err := websocket.Dial(ctx, "ws://localhost:8080/ws",
//	    websocket.Config{}, websocket.NewProtocolRegistry("chat.v1"))
func Dial(ctx context.Context, urlStr string, cfg Config, protocols *ProtocolRegistry) (*Transmitter, *Receiver, string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, "", err
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, nil, "", fmt.Errorf("websocket: bad url scheme %q (must be ws or wss)", u.Scheme)
	}

	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, "", err
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", hostPort(u))
	if err != nil {
		return nil, nil, "", fmt.Errorf("dial: %w", err)
	}

	if u.Scheme == "wss" {
		tlsConn, err := tlsHandshake(ctx, netConn, u, cfg.TLSConfig)
		if err != nil {
			_ = netConn.Close()
			return nil, nil, "", err
		}
		netConn = tlsConn
	}

	return Client(ctx, cfg, netConn, req, nil, nil, protocols)
}

func tlsHandshake(ctx context.Context, netConn net.Conn, u *url.URL, cfg *tls.Config) (*tls.Conn, error) {
	var tlsConfig *tls.Config
	if cfg != nil {
		tlsConfig = cfg.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = u.Hostname()
	}

	tlsConn := tls.Client(netConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

// hostPort returns host:port, defaulting the port from the scheme.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "wss" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
