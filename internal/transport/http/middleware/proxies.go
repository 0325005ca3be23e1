package middleware

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// TrustedProxies is the set of direct peers allowed to speak for the client
// through X-Forwarded-For and X-Forwarded-Proto. The zero value trusts no one.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// TrustProxies configures r to resolve ClientIP only through the given
// proxies and returns the same set for the forwarded-proto check. Entries
// are IPs or CIDRs; an empty list makes ClientIP the socket peer.
func TrustProxies(r *gin.Engine, entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			t.prefixes = append(t.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	list := make([]string, 0, len(t.prefixes))
	for _, p := range t.prefixes {
		list = append(list, p.String())
	}
	// nil disables forwarded headers entirely; gin trusts everyone otherwise.
	if len(list) == 0 {
		list = nil
	}
	if err := r.SetTrustedProxies(list); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	return t, nil
}

// Contains reports whether ip (as returned by gin.Context.RemoteIP) is a
// trusted proxy.
func (t *TrustedProxies) Contains(ip string) bool {
	if t == nil || len(t.prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
