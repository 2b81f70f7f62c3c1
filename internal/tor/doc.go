// Package tor routes roundscout's outbound traffic through Tor.
//
// The node can reach the source, storage gateways and peers either
// directly or through a SOCKS5 proxy. Client wraps a proxy that is already
// running; EmbeddedTor starts one with tornago and hands out a Client for
// it. The browser gets the proxy as a Chrome --proxy-server URL and the
// HTTP collaborators get an *http.Client whose transport dials through it.
package tor
