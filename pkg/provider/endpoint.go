package provider

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
)

var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

// sharedPrefixes are non-public ranges that netip does not classify as
// private.
var sharedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// blockedAddr reports whether ip must not be reached by push delivery.
func blockedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, p := range sharedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckEndpoint validates a push delivery URL. Unless allowPrivate is set it
// rejects loopback, private, link-local and unspecified IP literals and
// localhost, .local and .internal names.
func CheckEndpoint(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ivxperr.InvalidParams("delivery endpoint is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ivxperr.InvalidParams("delivery endpoint must use http or https, got %q", u.Scheme)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return ivxperr.InvalidParams("delivery endpoint has no host")
	}
	if allowPrivate {
		return nil
	}
	if host == "localhost" {
		return ivxperr.InvalidParams("delivery endpoint %s targets a local host", host)
	}
	for _, s := range blockedHostSuffixes {
		if strings.HasSuffix(host, s) {
			return ivxperr.InvalidParams("delivery endpoint %s targets an internal name", host)
		}
	}
	if ip, err := netip.ParseAddr(host); err == nil && blockedAddr(ip) {
		return ivxperr.InvalidParams("delivery endpoint %s targets a non-public address", host)
	}
	return nil
}

// dialControl refuses connections to non-public addresses after DNS
// resolution, so a public name cannot resolve to an internal target.
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("unexpected dial address %q", address)
	}
	if blockedAddr(ip) {
		return fmt.Errorf("push delivery to non-public address %s refused", ip)
	}
	return nil
}

// NewPushClient returns the HTTP client used for push delivery. Unless
// allowPrivate is set, every dialed address is checked.
func NewPushClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = dialControl
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
