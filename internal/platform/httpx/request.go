// Package httpx holds the framework-neutral request and response shapes consumed by the
// delegation and payment pipelines, plus the net/http adapter and JSON helpers.
package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultMaxBodyBytes bounds how much of a request body FromHTTP buffers.
const DefaultMaxBodyBytes = 1 << 20

// ErrBodyTooLarge is returned by FromHTTP when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Request is a transport-neutral inbound request.
type Request struct {
	URL      string
	Pathname string
	Method   string
	// Headers preserves the original header case; use Header for lookups.
	Headers map[string]string
	Body    []byte
	Query   map[string]string
	IP      string
	// Operation is the protected operation the caller is invoking, when the adapter knows it.
	Operation string
}

// Header returns the value of the named header using a case-insensitive match.
func (r Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// BodyFields decodes the body as a JSON object. Returns nil when the body is empty or not an object.
func (r Request) BodyFields() map[string]json.RawMessage {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return nil
	}
	return fields
}

// Response is a transport-neutral outbound response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// FromHTTP converts r into a neutral Request, buffering the whole body. A body longer than
// maxBody bytes fails with ErrBodyTooLarge. The body is restored on r so the request can still be proxied.
func FromHTTP(r *http.Request, maxBody int64) (Request, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return Request{}, err
		}
		if int64(len(b)) > maxBody {
			return Request{}, ErrBodyTooLarge
		}
		_ = r.Body.Close()
		body = b
		r.Body = io.NopCloser(bytes.NewReader(b))
	}
	headers := make(map[string]string, len(r.Header))
	for k, vals := range r.Header {
		if len(vals) > 0 {
			headers[k] = vals[0]
		}
	}
	query := make(map[string]string)
	for k, vals := range r.URL.Query() {
		if len(vals) > 0 {
			query[k] = vals[0]
		}
	}
	return Request{
		URL:      r.URL.String(),
		Pathname: r.URL.Path,
		Method:   r.Method,
		Headers:  headers,
		Body:     body,
		Query:    query,
		IP:       ClientIP(r),
	}, nil
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are only reflected here
// after RealIP has rewritten RemoteAddr for a trusted proxy.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP headers are believed.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses single IPs and CIDR prefixes.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(entries))
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
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

// Contains reports whether ip is a trusted proxy.
func (t TrustedProxies) Contains(ip string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// RealIP rewrites r.RemoteAddr to the originating client when the socket peer is a trusted proxy.
// X-Forwarded-For is walked from the right, skipping trusted hops; X-Real-IP is the fallback.
// Requests from any other peer keep their socket address.
func RealIP(trusted TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trusted) > 0 && trusted.Contains(ClientIP(r)) {
				if ip := forwardedFor(r, trusted); ip != "" {
					r.RemoteAddr = net.JoinHostPort(ip, "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedFor(r *http.Request, trusted TrustedProxies) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		hops := strings.Split(v, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				return ""
			}
			if !trusted.Contains(hop) || i == 0 {
				return hop
			}
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		if _, err := netip.ParseAddr(v); err == nil {
			return v
		}
	}
	return ""
}
