package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"custody/pkg/requestcontext"
)

// HeaderActor names the operator or signer acting in a request. The
// gateway in front of this service authenticates and sets it.
const HeaderActor = "X-Actor"

// ClientMetadata extracts client IP, User-Agent, actor and chi's request ID
// and adds them to the context for use by handlers and services. No proxy is
// trusted, so the client IP is always the connection peer.
// Apply after chi's RequestID middleware.
func ClientMetadata(next http.Handler) http.Handler {
	return WithTrustedProxies(nil)(next)
}

// WithTrustedProxies is ClientMetadata for deployments behind a reverse
// proxy. Forwarding headers are honored only when the connection peer falls
// inside one of the trusted prefixes.
func WithTrustedProxies(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r, trusted), r.Header.Get("User-Agent"))
			if actor := strings.TrimSpace(r.Header.Get(HeaderActor)); actor != "" {
				ctx = requestcontext.WithActor(ctx, actor)
			}
			if reqID := chimw.GetReqID(ctx); reqID != "" {
				ctx = requestcontext.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest returns the originating client address. Public rate
// limits key on this value.
//
// The connection peer is used unless it is a trusted proxy. In that case the
// X-Forwarded-For chain is walked from the right, skipping trusted hops, and
// the first untrusted hop wins; X-Real-IP is the fallback when the chain has
// no usable entry.
func ClientIPFromRequest(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r.RemoteAddr)
	if peer == "" {
		return "unknown"
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// ParseTrustedProxies parses CIDR prefixes or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
