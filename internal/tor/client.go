package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the SOCKS5 probe in CheckConnection.
const checkProxyTimeout = 2 * time.Second

// DefaultProbeTarget is the host:port CheckConnection asks the proxy to reach.
const DefaultProbeTarget = "x.com:443"

// SOCKS5 protocol constants.
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthNoAccept = 0xFF
	socks5CmdConnect   = 0x01
	socks5AddrTypeDom  = 0x03
)

// Client dials through a Tor SOCKS5 proxy.
type Client struct {
	proxyAddress string
	dialer       proxy.Dialer
	timeout      time.Duration
	probeTarget  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProbeTarget sets the host:port used by CheckConnection.
func WithProbeTarget(hostport string) ClientOption {
	return func(c *Client) {
		c.probeTarget = hostport
	}
}

// NewClient creates a Client for the proxy at proxyAddress ("host:port").
// The proxy is not contacted; call CheckConnection for that.
func NewClient(proxyAddress string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port takes no authentication.
	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	c := &Client{
		proxyAddress: proxyAddress,
		dialer:       dialer,
		timeout:      timeout,
		probeTarget:  DefaultProbeTarget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// ProxyAddress returns the proxy address in "host:port" form.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// ProxyURL returns the proxy as a URL Chrome accepts for --proxy-server.
func (c *Client) ProxyURL() string {
	return "socks5://" + c.proxyAddress
}

// CheckConnection performs a SOCKS5 handshake and a CONNECT request
// against the proxy. Any CONNECT reply, including a failure code, counts
// as OK: it shows the proxy processed the request.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		return readFailure(err)
	}
	if authResp[0] != socks5Version || authResp[1] == socks5AuthNoAccept || authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	req, err := connectRequest(c.probeTarget)
	if err != nil {
		return ProxyStatusCannotConnect
	}
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		return readFailure(err)
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func readFailure(err error) ProxyStatus {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}

// connectRequest builds a SOCKS5 CONNECT for a domain name target.
func connectRequest(hostport string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	if len(host) == 0 || len(host) > 255 {
		return nil, fmt.Errorf("invalid probe host %q", host)
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrTypeDom, byte(len(host))}
	req = append(req, host...)
	req = append(req, byte(port>>8), byte(port&0xFF))
	return req, nil
}

// DialContext dials address through the proxy. proxy.Dialer has no
// context support, so a canceled context returns early while the dial may
// still finish in the background.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := c.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewHTTPClient returns an HTTP client that routes every request through
// the proxy. It is shared by the storage fetcher, the Kubo client, the
// round oracle, the keyword source and the peer client.
func (c *Client) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: c.DialContext,
		// Each connection holds a Tor circuit.
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
