package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Paintersrp/botshell/internal/httpwire"
)

const (
	minDialTimeout = 50 * time.Millisecond

	// StartTimeTimeout bounds the identity marker request.
	StartTimeTimeout = 1800 * time.Millisecond
	// RestartRequestTimeout bounds the graceful restart request.
	RestartRequestTimeout = 2500 * time.Millisecond

	startTimePath = "/api/stat/start-time"
	restartPath   = "/api/stat/restart-core"
)

// Client talks to the supervised backend over raw TCP connections. It is safe
// for concurrent use.
type Client struct {
	endpoint *url.URL
	dialer   func(ctx context.Context, network, address string) (net.Conn, error)
	lookup   func(ctx context.Context, host string) ([]string, error)
}

// NewClient constructs a client for the backend at rawURL after normalizing it.
func NewClient(rawURL string) *Client {
	normalized := NormalizeBackendURL(rawURL)
	endpoint, err := url.Parse(normalized)
	if err != nil {
		endpoint, _ = url.Parse(DefaultBackendURL)
	}
	return &Client{
		endpoint: endpoint,
		dialer:   (&net.Dialer{}).DialContext,
		lookup:   net.DefaultResolver.LookupHost,
	}
}

// URL returns the normalized backend URL.
func (c *Client) URL() string {
	return c.endpoint.String()
}

// Ping reports whether a TCP connection to the backend can be established
// within timeout. Every resolved address is tried in turn.
func (c *Client) Ping(timeout time.Duration) bool {
	host, port, ok := hostPort(c.endpoint)
	if !ok {
		return false
	}
	conn, err := c.dial(host, port, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *Client) dial(host, port string, timeout time.Duration) (net.Conn, error) {
	if timeout < minDialTimeout {
		timeout = minDialTimeout
	}
	lookupCtx, cancel := context.WithTimeout(context.Background(), timeout)
	addrs, err := c.lookup(lookupCtx, host)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	var lastErr error
	for _, addr := range addrs {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		conn, err := c.dialer(ctx, "tcp", joinAddr(addr, port))
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, fmt.Errorf("dial %s: %w", joinAddr(host, port), lastErr)
}

// Request performs a single request against the backend and returns the raw
// response bytes. Only plain http endpoints are supported; any failure yields
// false.
func (c *Client) Request(method, path string, timeout time.Duration, body, token string) ([]byte, bool) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, false
	}
	target := c.endpoint.ResolveReference(ref)
	if target.Scheme != "http" {
		return nil, false
	}
	host, port, ok := hostPort(target)
	if !ok {
		return nil, false
	}
	if timeout < minDialTimeout {
		timeout = minDialTimeout
	}
	conn, err := c.dial(host, port, timeout)
	if err != nil {
		return nil, false
	}
	defer conn.Close()

	requestTarget := target.EscapedPath()
	if target.RawQuery != "" {
		requestTarget += "?" + target.RawQuery
	}
	payload := httpwire.BuildRequest(httpwire.Request{
		Method: strings.ToUpper(method),
		Target: requestTarget,
		Host:   hostHeader(host),
		Body:   body,
		Token:  token,
	})

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, false
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, false
	}
	response, err := io.ReadAll(&deadlineReader{conn: conn, timeout: timeout})
	if err != nil {
		return nil, false
	}
	return response, true
}

// StartTime fetches the backend's start-time identity marker.
func (c *Client) StartTime() (int64, bool) {
	raw, ok := c.Request("GET", startTimePath, StartTimeTimeout, "", "")
	if !ok {
		return 0, false
	}
	payload, ok := httpwire.ParseJSONResponse(raw)
	if !ok {
		return 0, false
	}
	return httpwire.ParseStartTime(payload)
}

// RequestRestart asks the backend to restart itself in place. The returned
// status is only meaningful when ok is true; ok is false when no parsable
// response was received at all.
func (c *Client) RequestRestart(token string) (int, bool) {
	raw, ok := c.Request("POST", restartPath, RestartRequestTimeout, "{}", token)
	if !ok {
		return 0, false
	}
	return httpwire.StatusCode(raw)
}

// deadlineReader refreshes the read deadline before every read so that the
// timeout applies per read rather than to the whole response.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}
