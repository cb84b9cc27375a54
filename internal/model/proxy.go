package model

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyLayout is the textual layout a proxy entry was parsed from.
type ProxyLayout string

const (
	// ProxyLayoutStandard is the `host:port:username:password` layout.
	ProxyLayoutStandard ProxyLayout = "standard"
	// ProxyLayoutSOAX is the `host:port:auth-token:region-tags` layout.
	ProxyLayoutSOAX ProxyLayout = "soax"
)

// UnknownProxyRegion is the region used when the proxy entry doesn't have one.
const UnknownProxyRegion = "unknown"

// ProxyEndpoint is a network egress identity. Shared read-only across tasks.
type ProxyEndpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	Region   string
	Layout   ProxyLayout
}

// Address returns the `host:port` address of the proxy.
func (p ProxyEndpoint) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy as an HTTP proxy URL including the credentials.
func (p ProxyEndpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   p.Address(),
	}
	switch {
	case p.Username != "" && p.Password != "":
		u.User = url.UserPassword(p.Username, p.Password)
	case p.Username != "":
		u.User = url.User(p.Username)
	}

	return u
}

// String returns a printable representation of the proxy without credentials.
func (p ProxyEndpoint) String() string {
	return fmt.Sprintf("%s (%s)", p.Address(), p.Region)
}
